/*
Package tahti contains the domain types shared by the transport engine and its
collaborators: positions in frames and ticks, the tempo map, transport and
device states, external MIDI clock events and the fixed-capacity ring buffer
used to pass them between threads.

The real-time core lives in package engine. The interfaces defined here
(Device, MIDIDevice, TempoMap) are the narrow contracts through which the
engine talks to audio and MIDI drivers that it does not own.
*/
package tahti

import "fmt"

type (
	// TransportState is the engine's intended transport state. Only the
	// transport state machine mutates it, and only inside the real-time cycle.
	TransportState int

	// DeviceState is the transport state reported by the audio device at the
	// beginning of a cycle.
	DeviceState int
)

const (
	Stopped TransportState = iota
	StartingPlay
	Playing
	LoopArmed   // a loop boundary is within reach, restart frame computed
	LoopPending // the device confirmed the loop, jump happens on next roll
	Syncing
	Precount
	NumTransportStates
)

const (
	DeviceStop DeviceState = iota
	DeviceStartPlay
	DevicePlay
	DeviceLoop1
	DeviceLoop2
	DeviceSync
	DevicePrecount
	NumDeviceStates
)

var transportStateNames = [NumTransportStates]string{
	"stopped", "starting play", "playing", "loop armed", "loop pending", "syncing", "precount",
}

var deviceStateNames = [NumDeviceStates]string{
	"STOP", "START_PLAY", "PLAY", "LOOP1", "LOOP2", "SYNC", "PRECOUNT",
}

func (s TransportState) String() string {
	if s < 0 || s >= NumTransportStates {
		return fmt.Sprintf("TransportState(%d)", int(s))
	}
	return transportStateNames[s]
}

// IsPlaying reports whether the transport is advancing its position. The loop
// states count as playing: audio keeps rolling until the jump is committed.
func (s TransportState) IsPlaying() bool {
	return s == Playing || s == LoopArmed || s == LoopPending
}

func (s DeviceState) String() string {
	if s < 0 || s >= NumDeviceStates {
		return fmt.Sprintf("DeviceState(%d)", int(s))
	}
	return deviceStateNames[s]
}

// Rolling reports whether the device says its transport is running.
func (s DeviceState) Rolling() bool {
	return s == DevicePlay || s == DeviceLoop1 || s == DeviceLoop2
}

// Locating reports whether the device is still moving to a new position or
// waiting for its clients to be ready before rolling.
func (s DeviceState) Locating() bool {
	return s == DeviceStartPlay || s == DeviceSync || s == DevicePrecount
}

// ExtClockEvent is one external MIDI clock pulse (24 per quarter note),
// stamped with the device frame it arrived at and whether the external master
// was playing at that moment.
type ExtClockEvent struct {
	Frame   int64
	Playing bool
}

// ClocksPerQuarterNote is the MIDI clock resolution.
const ClocksPerQuarterNote = 24
