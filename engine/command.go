package engine

import (
	"fmt"
	"strings"

	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Command is a request executed on the audio thread between two cycles.
	// The set of commands is closed: every variant is declared in this file.
	Command interface {
		command()
	}

	// AutomationType tells how a track reads and writes its automation.
	AutomationType int

	AddRoute struct {
		Src, Dst string
	}
	RemoveRoute struct {
		Src, Dst string
	}
	RemoveAllRoutes struct {
		Track string // empty: every track
	}
	AddPlugin struct {
		Track  string
		Index  int
		Plugin string
	}
	SetPrefader struct {
		Track string
		On    bool
	}
	SetChannels struct {
		Track    string
		Channels int
	}
	SwapControllerEvents struct {
		Track string
		IDs   [2]int
	}
	ClearControllerEvents struct {
		Track string
		ID    int
	}
	SeekPrevControllerEvent struct {
		Track string
		ID    int
	}
	SeekNextControllerEvent struct {
		Track string
		ID    int
	}
	EraseControllerEvents struct {
		Track    string
		ID       int
		From, To int64 // frames
	}
	AddControllerEvent struct {
		Track string
		ID    int
		Frame int64
		Value float64
	}
	ChangeControllerEvent struct {
		Track           string
		ID              int
		Frame, NewFrame int64
		Value           float64
	}
	SetSolo struct {
		Track string
		On    bool
	}
	SetMute struct {
		Track string
		On    bool
	}
	SetTrackOff struct {
		Track string
		On    bool
	}
	SetSendMetronome struct {
		Track string
		On    bool
	}
	SetAuxSend struct {
		Track string
		Aux   int
		Level float64
	}
	SetAutomationType struct {
		Track string
		Type  AutomationType
	}
	SetRecordFlag struct {
		Track string
		On    bool
	}
	SetRecMonitor struct {
		Track string
		On    bool
	}
	StartMidiLearn  struct{}
	ResetDevices    struct{}
	InitDevices     struct{ Force bool }
	LocalOff        struct{}
	Panic           struct{}
	SetHwCtrlState  struct{ Port, Channel, Ctrl, Value int }
	SetHwCtrlStates struct{ Port, Channel, Ctrl, Value, LastValue int }
	// Seek locates the device transport. The engine follows on the next
	// cycle, like for any other device initiated locate.
	Seek struct {
		Pos tahti.Pos
	}
	PlayMIDIEvent struct {
		Event tahti.PlayEvent
	}
	// ScheduleMIDIEvent plays Msg on Port when the transport reaches Tick.
	ScheduleMIDIEvent struct {
		Port int
		Tick int64
		Msg  midi.Message
	}
	// SetTempo replaces the tempo map. A playing transport keeps its tick
	// and continues from the frame the new map gives it.
	SetTempo struct {
		Changes []tahti.TempoChange
	}
	SetIdle struct {
		Idle bool
	}
	// Wait does nothing. Sending it waits until the audio thread has
	// completed one cycle.
	Wait struct{}
)

const (
	AutomationOff AutomationType = iota
	AutomationRead
	AutomationTouch
	AutomationLatch
	AutomationWrite
)

func (AddRoute) command()                {}
func (RemoveRoute) command()             {}
func (RemoveAllRoutes) command()         {}
func (AddPlugin) command()               {}
func (SetPrefader) command()             {}
func (SetChannels) command()             {}
func (SwapControllerEvents) command()    {}
func (ClearControllerEvents) command()   {}
func (SeekPrevControllerEvent) command() {}
func (SeekNextControllerEvent) command() {}
func (EraseControllerEvents) command()   {}
func (AddControllerEvent) command()      {}
func (ChangeControllerEvent) command()   {}
func (SetSolo) command()                 {}
func (SetMute) command()                 {}
func (SetTrackOff) command()             {}
func (SetSendMetronome) command()        {}
func (SetAuxSend) command()              {}
func (SetAutomationType) command()       {}
func (SetRecordFlag) command()           {}
func (SetRecMonitor) command()           {}
func (StartMidiLearn) command()          {}
func (ResetDevices) command()            {}
func (InitDevices) command()             {}
func (LocalOff) command()                {}
func (Panic) command()                   {}
func (SetHwCtrlState) command()          {}
func (SetHwCtrlStates) command()         {}
func (Seek) command()                    {}
func (PlayMIDIEvent) command()           {}
func (ScheduleMIDIEvent) command()       {}
func (SetTempo) command()                {}
func (SetIdle) command()                 {}
func (Wait) command()                    {}

var automationTypeNames = [...]string{"off", "read", "touch", "latch", "write"}

func (a AutomationType) String() string {
	if a < 0 || int(a) >= len(automationTypeNames) {
		return fmt.Sprintf("AutomationType(%d)", int(a))
	}
	return automationTypeNames[a]
}

// CommandName returns a short name for logging.
func CommandName(c Command) string {
	if c == nil {
		return "nil"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", c), "engine.")
}
