/*
Package engine is the real-time transport core: it owns the song position,
drives every audio callback, keeps the engine's transport in step with the
audio device's transport and with an external MIDI clock, handles loop
restarts and takes, and relays commands from other goroutines to the audio
thread without ever blocking it.

An Engine bundles the collaborators (device, song, graph, prefetcher, MIDI
ports) together with the components that run on the audio thread. The
device driver calls Engine.Process once per buffer; everything else talks to
the audio thread through Engine.Send.
*/
package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
)

type (
	// Engine is the engine context object. The exported component fields are
	// set by New and must not be replaced afterwards.
	Engine struct {
		Config   Config
		Log      logrus.FieldLogger
		Device   tahti.Device
		Song     Song
		Graph    Graph
		Prefetch Prefetcher
		Ports    *Ports
		Relay    *Relay

		Clock     *PositionClock
		ExtClock  *ClockReconciler
		Loop      *LoopController
		Rec       *RecordingCoordinator
		Transport *Transport
	}

	// Collaborators are the parts of an Engine that live outside this
	// package. Prefetch, Ports and Log are optional.
	Collaborators struct {
		Device   tahti.Device
		Song     Song
		Graph    Graph
		Prefetch Prefetcher
		Ports    *Ports
		Log      logrus.FieldLogger
	}

	// Status is a snapshot of the transport that can be taken from any
	// goroutine.
	Status struct {
		State     tahti.TransportState
		Frame     int64
		Tick      int64
		Recording bool
		Bouncing  bool
		Idle      bool
	}
)

func New(cfg Config, c Collaborators) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if c.Device == nil {
		return nil, ErrNoDevice
	}
	if c.Song == nil || c.Graph == nil {
		return nil, errors.New("engine needs a song and a graph")
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	if c.Prefetch == nil {
		c.Prefetch = NullPrefetcher{}
	}
	if c.Ports == nil {
		c.Ports = NewPorts(c.Log)
	}
	signalCapacity := cfg.SignalCapacity
	if signalCapacity <= 0 {
		signalCapacity = defaultSignalCapacity
	}
	relay, err := NewRelay(cfg.RelayTimeout, signalCapacity)
	if err != nil {
		return nil, errors.Wrap(err, "creating relay")
	}
	e := &Engine{
		Config:   cfg,
		Log:      c.Log,
		Device:   c.Device,
		Song:     c.Song,
		Graph:    c.Graph,
		Prefetch: c.Prefetch,
		Ports:    c.Ports,
		Relay:    relay,
	}
	e.Clock = newPositionClock(e)
	e.ExtClock = newClockReconciler(e)
	e.Loop = newLoopController(e)
	e.Rec = newRecordingCoordinator(e)
	e.Transport = newTransport(e)
	e.Transport.SetFreewheel(cfg.Freewheel)
	return e, nil
}

// Start starts the device, stops its transport and locates it to the song
// cursor. The engine follows the locate on its first cycles.
func (e *Engine) Start() error {
	e.Transport.reset()
	e.Clock.reset(tahti.FramePos(0))
	e.ExtClock.reset()
	e.Relay.setRunning(true)
	if err := e.Device.Start(e.Config.RealTimePriority); err != nil {
		e.Relay.setRunning(false)
		return errors.Wrap(err, "starting audio device")
	}
	e.Device.StopTransport()
	e.Device.SeekTransport(e.Song.Cursor().Frame(e.Song.TempoMap()))
	e.Log.WithField("component", "engine").Info("engine started")
	return nil
}

// Stop stops the device. Commands are refused afterwards.
func (e *Engine) Stop() error {
	e.Relay.setRunning(false)
	return errors.Wrap(e.Device.Stop(), "stopping audio device")
}

// Shutdown is called when the device goes away on its own.
func (e *Engine) Shutdown() {
	e.Relay.setRunning(false)
	e.Log.WithField("component", "engine").Warn("audio device shut down")
	e.Transport.signal(SignalShutdown)
}

// Process is the audio callback.
func (e *Engine) Process(frames int) { e.Transport.Process(frames) }

// Send executes c on the audio thread and waits for it to finish.
func (e *Engine) Send(ctx context.Context, c Command) error {
	_, err := e.Relay.Send(ctx, c)
	return err
}

func (e *Engine) Status() Status {
	return Status{
		State:     e.Transport.State(),
		Frame:     e.Clock.CurFramePos(),
		Tick:      e.Clock.TickPos(),
		Recording: e.Rec.IsRecording(),
		Bouncing:  e.Transport.Bouncing(),
		Idle:      e.Transport.Idle(),
	}
}

// Play asks the device to start its transport.
func (e *Engine) Play() { e.Device.StartTransport() }

// Halt asks the device to stop its transport.
func (e *Engine) Halt() { e.Device.StopTransport() }

// Locate asks the device to move its transport to p.
func (e *Engine) Locate(p tahti.Pos) { e.Device.SeekTransport(p.Frame(e.Song.TempoMap())) }

// Bounce starts rendering from the left marker to the right marker into the
// song's bounce output.
func (e *Engine) Bounce() error {
	if e.Song.Bounce() == nil {
		return errors.New("no bounce output")
	}
	e.Transport.bouncing.Store(true)
	e.Device.SeekTransport(e.Song.LeftMarker().Frame(e.Song.TempoMap()))
	e.Device.StartTransport()
	return nil
}

// RecordStop commits the last take; see RecordingCoordinator.RecordStop.
func (e *Engine) RecordStop(restart bool, ops *UndoLog) error {
	return e.Rec.RecordStop(restart, ops)
}
