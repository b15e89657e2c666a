package engine

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Port is a numbered MIDI port with the device assigned to it and the
	// last known state of every controller on every channel of the hardware
	// behind it.
	Port struct {
		Num        int
		Device     tahti.MIDIDevice
		SyncOutput bool // send start, continue and stop

		hw          [tahti.MIDIChannels][128]int16
		lastHw      [tahti.MIDIChannels][128]int16
		initialized bool
	}

	// Ports is the MIDI port table. Ports are assigned before the engine
	// starts; afterwards only the audio thread touches controller state.
	Ports struct {
		ports []*Port
		log   logrus.FieldLogger
	}
)

const (
	CtrlSustain      = 64
	CtrlResetAll     = 121
	CtrlLocalControl = 122
	CtrlAllNotesOff  = 123
	CtrlValUnknown   = -1
)

func NewPorts(log logrus.FieldLogger) *Ports {
	return &Ports{ports: make([]*Port, tahti.MaxMIDIPorts), log: componentLogger(log, "ports")}
}

// Assign puts dev on port num, replacing whatever was there.
func (p *Ports) Assign(num int, dev tahti.MIDIDevice, syncOutput bool) (*Port, error) {
	if num < 0 || num >= len(p.ports) {
		return nil, errors.Errorf("MIDI port %d out of range [0,%d)", num, len(p.ports))
	}
	port := &Port{Num: num, Device: dev, SyncOutput: syncOutput}
	port.ResetHwCtrlStates()
	p.ports[num] = port
	return port, nil
}

// Port returns the port num, or nil if nothing is assigned to it.
func (p *Ports) Port(num int) *Port {
	if num < 0 || num >= len(p.ports) {
		return nil
	}
	return p.ports[num]
}

// Devices yields every port that has a device.
func (p *Ports) Devices(yield func(*Port) bool) {
	for _, port := range p.ports {
		if port == nil || port.Device == nil {
			continue
		}
		if !yield(port) {
			return
		}
	}
}

func (p *Port) HwCtrlState(ch, ctrl int) int {
	if !validCtrl(ch, ctrl) {
		return CtrlValUnknown
	}
	return int(p.hw[ch][ctrl])
}

func (p *Port) SetHwCtrlState(ch, ctrl, val int) {
	if validCtrl(ch, ctrl) {
		p.lastHw[ch][ctrl] = p.hw[ch][ctrl]
		p.hw[ch][ctrl] = int16(val)
	}
}

func (p *Port) SetHwCtrlStates(ch, ctrl, val, lastVal int) {
	if validCtrl(ch, ctrl) {
		p.hw[ch][ctrl] = int16(val)
		p.lastHw[ch][ctrl] = int16(lastVal)
	}
}

func (p *Port) LastHwCtrlState(ch, ctrl int) int {
	if !validCtrl(ch, ctrl) {
		return CtrlValUnknown
	}
	return int(p.lastHw[ch][ctrl])
}

func (p *Port) ResetHwCtrlStates() {
	for ch := range p.hw {
		for c := range p.hw[ch] {
			p.hw[ch][c] = CtrlValUnknown
			p.lastHw[ch][c] = CtrlValUnknown
		}
	}
}

// SustainHeld reports whether the sustain pedal is down on ch.
func (p *Port) SustainHeld(ch int) bool {
	return p.HwCtrlState(ch, CtrlSustain) == 127
}

// Send queues msg on the device at frame.
func (p *Port) Send(frame int64, msg midi.Message) bool {
	return p.Device.PutEvent(tahti.PlayEvent{Frame: frame, Port: p.Num, Msg: msg})
}

func validCtrl(ch, ctrl int) bool {
	return ch >= 0 && ch < tahti.MIDIChannels && ctrl >= 0 && ctrl < 128
}

// sendSustain sends value on every channel whose sustain is held. The stored
// state is not changed, so that the pedal can be restored later.
func (p *Ports) sendSustain(value uint8) {
	for port := range p.Devices {
		for ch := 0; ch < tahti.MIDIChannels; ch++ {
			if port.SustainHeld(ch) {
				p.send(port, midi.ControlChange(uint8(ch), CtrlSustain, value))
			}
		}
	}
}

// sendTransport sends start, continue or stop to ports with sync output.
func (p *Ports) sendTransport(msg midi.Message) {
	for port := range p.Devices {
		if port.SyncOutput {
			p.send(port, msg)
		}
	}
}

func (p *Ports) sendPanic() {
	for port := range p.Devices {
		for ch := uint8(0); ch < tahti.MIDIChannels; ch++ {
			p.send(port, midi.ControlChange(ch, CtrlSustain, 0))
			p.send(port, midi.ControlChange(ch, CtrlAllNotesOff, 0))
		}
	}
}

func (p *Ports) localOff() {
	for port := range p.Devices {
		for ch := uint8(0); ch < tahti.MIDIChannels; ch++ {
			p.send(port, midi.ControlChange(ch, CtrlLocalControl, 0))
		}
	}
}

// resetDevices resets every controller on the hardware and forgets its
// state.
func (p *Ports) resetDevices() {
	for port := range p.Devices {
		p.resetPort(port)
	}
}

// initDevices resets ports that have not been initialised yet, or all of
// them with force.
func (p *Ports) initDevices(force bool) {
	for port := range p.Devices {
		if force || !port.initialized {
			p.resetPort(port)
		}
	}
}

func (p *Ports) resetPort(port *Port) {
	for ch := uint8(0); ch < tahti.MIDIChannels; ch++ {
		p.send(port, midi.ControlChange(ch, CtrlResetAll, 0))
	}
	port.ResetHwCtrlStates()
	port.initialized = true
}

func (p *Ports) send(port *Port, msg midi.Message) {
	if !port.Send(0, msg) {
		p.log.WithField("port", port.Num).Warnf("MIDI output full, dropped %v", msg)
	}
}
