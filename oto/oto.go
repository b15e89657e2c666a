// Package oto is an audio device for the engine on top of the oto sound
// library. oto pulls audio, so the device has no transport of its own to
// follow: it keeps a software transport that behaves like a JACK transport,
// applying start, stop and locate requests at the start of the next cycle
// and rolling only once the engine reports it is ready. Loop jumps are the
// exception: the device cuts the cycle at the loop end and keeps rolling from
// the restart frame.
package oto

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
)

type (
	// Processor is the cycle callback, normally an *engine.Engine.
	Processor interface {
		Process(frames int)
	}

	// Source has the buffer rendered by the last cycle, normally a
	// *graph.Graph.
	Source interface {
		Output() tahti.AudioBuffer
	}

	Device struct {
		Engine      Processor
		Source      Source
		SampleRate  int
		SegmentSize int
		// BufferSize is the latency oto is asked for; zero picks its
		// default.
		BufferSize time.Duration
		// Offline devices never open the sound card; cycles are run by
		// RunOffline.
		Offline bool

		state      atomic.Int32
		frame      atomic.Int64
		cycleFrame atomic.Int64
		ready      atomic.Bool
		running    atomic.Bool
		roll       atomic.Int32 // pending start or stop
		locate     atomic.Int64 // pending locate, -1 for none
		loopEnd    atomic.Int64 // pending loop jump, -1 for none
		loopTo     atomic.Int64

		mu     sync.Mutex // one cycle at a time
		ctx    *oto.Context
		player *oto.Player
		log    logrus.FieldLogger
	}
)

const (
	rollNone = iota
	rollStart
	rollStop
)

const channels = 2

func NewDevice(sampleRate, segmentSize int, log logrus.FieldLogger) *Device {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Device{SampleRate: sampleRate, SegmentSize: segmentSize, log: log.WithField("component", "oto")}
	d.locate.Store(-1)
	d.loopEnd.Store(-1)
	return d
}

// Start opens the sound card and starts pulling audio. oto has no notion of
// thread priority, so priority is only logged.
func (d *Device) Start(priority int) error {
	if d.Engine == nil {
		return errors.New("device has no engine to process")
	}
	if d.SegmentSize <= 0 {
		return errors.Errorf("segment size %d must be positive", d.SegmentSize)
	}
	d.running.Store(true)
	if d.Offline {
		d.log.Debug("offline device started")
		return nil
	}
	if d.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   d.SampleRate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   d.BufferSize,
		})
		if err != nil {
			d.running.Store(false)
			return errors.Wrap(err, "cannot create oto context")
		}
		<-ready
		d.ctx = ctx
	}
	d.player = d.ctx.NewPlayer(d)
	d.player.Play()
	d.log.WithFields(logrus.Fields{"sampleRate": d.SampleRate, "priority": priority}).Info("audio started")
	return nil
}

func (d *Device) Stop() error {
	d.running.Store(false)
	if d.player == nil {
		return nil
	}
	p := d.player
	d.player = nil
	return errors.Wrap(p.Close(), "cannot close oto player")
}

func (d *Device) Check() bool                  { return d.running.Load() }
func (d *Device) State() tahti.DeviceState     { return tahti.DeviceState(d.state.Load()) }
func (d *Device) StartTransport()              { d.roll.Store(rollStart) }
func (d *Device) StopTransport()               { d.roll.Store(rollStop) }
func (d *Device) SeekTransport(frame int64)    { d.locate.Store(max(frame, 0)) }
func (d *Device) SyncReady(ready bool)         { d.ready.Store(ready) }
func (d *Device) FramesAtCycleStart() int64    { return d.cycleFrame.Load() }
func (d *Device) FramePos() int64              { return d.frame.Load() }
func (d *Device) setState(s tahti.DeviceState) { d.state.Store(int32(s)) }

// LoopTransport jumps back to restart once the transport reaches end. It is
// called by the engine from inside a cycle.
func (d *Device) LoopTransport(end, restart int64) {
	d.loopTo.Store(restart)
	d.loopEnd.Store(end)
	if d.State().Rolling() {
		d.setState(tahti.DeviceLoop1)
	}
}

// applyRequests moves the transport as asked since the last cycle. A locate
// while rolling goes back to the starting state and waits for the engine.
func (d *Device) applyRequests() {
	switch d.roll.Swap(rollNone) {
	case rollStop:
		d.loopEnd.Store(-1)
		d.setState(tahti.DeviceStop)
	case rollStart:
		if d.State() == tahti.DeviceStop {
			d.setState(tahti.DeviceStartPlay)
			d.ready.Store(false)
		}
	}
	if f := d.locate.Swap(-1); f >= 0 {
		d.loopEnd.Store(-1)
		d.frame.Store(f)
		d.ready.Store(false)
		if d.State().Rolling() {
			d.setState(tahti.DeviceStartPlay)
		}
	}
}

// Cycle runs one callback of frames frames.
func (d *Device) Cycle(frames int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyRequests()
	rolling := d.State().Rolling()
	d.Engine.Process(frames)
	d.cycleFrame.Add(int64(frames))
	if rolling {
		d.frame.Add(int64(frames))
	}
	if d.State() == tahti.DeviceLoop2 {
		d.setState(tahti.DevicePlay)
	}
	if end := d.loopEnd.Load(); end >= 0 && d.State().Rolling() && d.frame.Load() >= end {
		d.frame.Store(d.loopTo.Load())
		d.loopEnd.Store(-1)
		d.setState(tahti.DeviceLoop2)
	}
	if d.State() == tahti.DeviceStartPlay && d.ready.Load() {
		d.setState(tahti.DevicePlay)
	}
}

// chunk is the length of the next cycle: at most a segment, and never past a
// pending loop end.
func (d *Device) chunk(frames int) int {
	n := min(frames, d.SegmentSize)
	if end := d.loopEnd.Load(); end >= 0 && d.State().Rolling() {
		if left := end - d.frame.Load(); left > 0 {
			n = int(min(int64(n), left))
		}
	}
	return n
}

// Read implements io.Reader for the oto player: it runs as many cycles as it
// takes to fill p with float32 stereo frames.
func (d *Device) Read(p []byte) (int, error) {
	frames := len(p) / (4 * channels)
	n := 0
	for frames > 0 {
		f := d.chunk(frames)
		d.Cycle(f)
		var out tahti.AudioBuffer
		if d.Source != nil {
			out = d.Source.Output()
		}
		n += encodeFloat32LE(p[n:], out, f)
		frames -= f
	}
	return n, nil
}

// RunOffline runs cycles as fast as possible, calling each after every cycle,
// until done returns true or ctx is cancelled.
func (d *Device) RunOffline(ctx context.Context, done func() bool, each func()) error {
	if !d.Offline {
		return errors.New("device is not offline")
	}
	for !done() {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "offline run interrupted")
		}
		if !d.running.Load() {
			return errors.New("device is not running")
		}
		d.Cycle(d.chunk(d.SegmentSize))
		if each != nil {
			each()
		}
	}
	return nil
}
