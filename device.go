package tahti

import "gitlab.com/gomidi/midi/v2"

type (
	// Device is the audio driver the engine runs on. The driver owns the
	// transport as seen by the outside world; the engine only asks it to
	// start, stop and locate, and reconciles with what it reports every
	// cycle.
	Device interface {
		Start(priority int) error
		Stop() error
		// Check returns false if the device is temporarily unusable. The
		// engine skips the cycle in that case.
		Check() bool
		State() DeviceState
		StartTransport()
		StopTransport()
		SeekTransport(frame int64)
		// SyncReady tells the device whether the engine is ready to roll
		// from the located position.
		SyncReady(ready bool)
		FramesAtCycleStart() int64
		FramePos() int64
	}

	// TimebaseDevice is implemented by devices that keep a musical timeline
	// of their own. When the device is the timebase master, its tick is used
	// instead of the tempo map after a seek.
	TimebaseDevice interface {
		Device
		TimebaseTick() (tick int64, ok bool)
	}

	// LoopDevice is implemented by devices that can jump from the loop end
	// back to the restart frame without a locate handshake. The device ends
	// a cycle exactly at frame end and continues rolling from restart. It
	// reports DeviceLoop1 while the jump is pending and DeviceLoop2 for the
	// first cycle after it. A stop or locate cancels the jump.
	LoopDevice interface {
		Device
		LoopTransport(end, restart int64)
	}

	// MIDIDevice is a MIDI port driver. The engine never owns the per-device
	// clock history; it only drains or clears it.
	MIDIDevice interface {
		Name() string
		Port() int
		Kind() MIDIDeviceKind
		CollectMidiEvents()
		ExtClockHistory() *RingBuffer[ExtClockEvent]
		HandleSeek()
		HandleStop()
		// PutEvent queues an outgoing event. It must not block.
		PutEvent(ev PlayEvent) bool
	}

	// MIDIDeviceKind tells how a device schedules its output.
	MIDIDeviceKind int

	// PlayEvent is an outgoing MIDI message scheduled at Frame.
	PlayEvent struct {
		Frame int64
		Port  int
		Msg   midi.Message
	}
)

const (
	// EngineScheduled devices get their event queues flushed by the engine
	// on seek and stop.
	EngineScheduled MIDIDeviceKind = iota
	// DriverScheduled devices handle seek and stop inside the driver.
	DriverScheduled
)

// MaxMIDIPorts is the number of MIDI ports the engine addresses.
const MaxMIDIPorts = 200

// MIDIChannels is the number of channels per port.
const MIDIChannels = 16
