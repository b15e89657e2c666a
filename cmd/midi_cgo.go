//go:build cgo

package cmd

import (
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

func NewMidiDriver() (drivers.Driver, error) {
	return rtmididrv.New()
}
