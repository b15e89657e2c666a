package gomidi

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type (
	// Device is one engine MIDI port, backed by a driver input, a driver
	// output or both. Input is received on the driver's goroutine: clock
	// pulses go to the clock history, everything else is queued for
	// CollectMidiEvents. Output is written by a goroutine of its own at the
	// frame each event is scheduled for.
	Device struct {
		// Clock returns the current device frame. It stamps clock pulses and
		// schedules output.
		Clock func() int64
		// Record is called on the audio thread for every received message
		// that is not a clock or transport message.
		Record func(msg midi.Message)
		// Transport is called on the driver's goroutine for start, continue
		// and stop messages.
		Transport func(msg midi.Message)

		name       string
		port       int
		sampleRate int
		in         drivers.In
		out        drivers.Out
		stopListen func()
		send       func(midi.Message) error

		history  *tahti.RingBuffer[tahti.ExtClockEvent]
		playing  atomic.Bool
		events   chan midi.Message
		dropped  atomic.Int64
		outq     chan queuedEvent
		epoch    atomic.Int64
		notesOff atomic.Bool
		wake     chan struct{}

		closeOnce sync.Once
		closing   chan struct{}
		finished  chan struct{}
		log       logrus.FieldLogger
	}

	queuedEvent struct {
		ev    tahti.PlayEvent
		epoch int64
	}
)

const (
	eventQueueLength  = 1024
	outputQueueLength = 1024
	allNotesOff       = 123
)

func newDevice(port int, name string, sampleRate int, log logrus.FieldLogger) *Device {
	return &Device{
		name:       name,
		port:       port,
		sampleRate: sampleRate,
		events:     make(chan midi.Message, eventQueueLength),
		outq:       make(chan queuedEvent, outputQueueLength),
		wake:       make(chan struct{}, 1),
		closing:    make(chan struct{}, 1),
		finished:   make(chan struct{}),
		log:        log.WithFields(logrus.Fields{"component": "midi", "port": port}),
	}
}

func (d *Device) Name() string               { return d.name }
func (d *Device) Port() int                  { return d.port }
func (d *Device) Kind() tahti.MIDIDeviceKind { return tahti.EngineScheduled }

// Playing reports whether the last transport message received was a start
// or a continue.
func (d *Device) Playing() bool { return d.playing.Load() }

// Dropped returns the number of received messages lost because the audio
// thread did not collect them in time.
func (d *Device) Dropped() int { return int(d.dropped.Load()) }

func (d *Device) ExtClockHistory() *tahti.RingBuffer[tahti.ExtClockEvent] {
	return d.history
}

func (d *Device) now() int64 {
	if d.Clock == nil {
		return 0
	}
	return d.Clock()
}

// handleMessage is the driver listener.
func (d *Device) handleMessage(msg midi.Message, timestampms int32) {
	if len(msg) == 1 {
		switch msg[0] {
		case 0xF8: // timing clock
			d.history.Put(tahti.ExtClockEvent{Frame: d.now(), Playing: d.playing.Load()})
			return
		case 0xFA, 0xFB: // start, continue
			d.playing.Store(true)
			d.transport(msg)
			return
		case 0xFC: // stop
			d.playing.Store(false)
			d.transport(msg)
			return
		}
	}
	if !engine.TrySend(d.events, slices.Clone(msg)) {
		d.dropped.Add(1)
	}
}

func (d *Device) transport(msg midi.Message) {
	if d.Transport != nil {
		d.Transport(msg)
	}
}

func (d *Device) CollectMidiEvents() {
	for {
		select {
		case msg := <-d.events:
			if d.Record != nil {
				d.Record(msg)
			}
		default:
			return
		}
	}
}

// PutEvent queues ev for output. Events queued before a seek or a stop are
// dropped.
func (d *Device) PutEvent(ev tahti.PlayEvent) bool {
	if d.send == nil {
		return false
	}
	return engine.TrySend(d.outq, queuedEvent{ev: ev, epoch: d.epoch.Load()})
}

func (d *Device) HandleSeek() {
	d.epoch.Add(1)
	engine.TrySend(d.wake, struct{}{})
}

// HandleStop drops the queued output and silences every channel.
func (d *Device) HandleStop() {
	d.notesOff.Store(true)
	d.HandleSeek()
}

func (d *Device) run() {
	defer close(d.finished)
	for {
		select {
		case <-d.closing:
			return
		case <-d.wake:
			d.flushNotes()
		case q := <-d.outq:
			if !d.deliver(q) {
				return
			}
		}
	}
}

// deliver waits until q is due and writes it, unless it went stale in the
// meantime. It returns false if the device was closed.
func (d *Device) deliver(q queuedEvent) bool {
	for {
		if q.epoch != d.epoch.Load() {
			return true
		}
		delay := d.delay(q.ev.Frame)
		if delay <= 0 {
			d.write(q.ev.Msg)
			return true
		}
		t := time.NewTimer(delay)
		select {
		case <-d.closing:
			t.Stop()
			return false
		case <-d.wake:
			t.Stop()
			d.flushNotes()
		case <-t.C:
		}
	}
}

func (d *Device) delay(frame int64) time.Duration {
	if d.sampleRate <= 0 {
		return 0
	}
	return time.Duration(frame-d.now()) * time.Second / time.Duration(d.sampleRate)
}

func (d *Device) flushNotes() {
	if !d.notesOff.Swap(false) {
		return
	}
	for ch := uint8(0); ch < tahti.MIDIChannels; ch++ {
		d.write(midi.ControlChange(ch, allNotesOff, 0))
	}
}

func (d *Device) write(msg midi.Message) {
	if err := d.send(msg); err != nil {
		d.log.WithError(err).Warn("midi send failed")
	}
}

// Close stops listening, stops the output goroutine and closes the ports.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.stopListen != nil {
			d.stopListen()
		}
		if d.send != nil {
			d.closing <- struct{}{}
			<-d.finished
		}
		if d.in != nil {
			err = d.in.Close()
		}
		if d.out != nil {
			if e := d.out.Close(); err == nil {
				err = e
			}
		}
	})
	return err
}
