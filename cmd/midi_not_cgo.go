//go:build !cgo

package cmd

import (
	"errors"

	"gitlab.com/gomidi/midi/v2/drivers"
)

func NewMidiDriver() (drivers.Driver, error) {
	// rtmidi needs cgo, so there is no MIDI without it
	return nil, errors.New("built without cgo, MIDI is not available")
}
