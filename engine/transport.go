package engine

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// Transport is the per-cycle driver run on the audio thread. Every cycle
	// it executes at most one pending command, reconciles its own state with
	// the state reported by the device, advances the position and hands the
	// cycle to the graph.
	//
	// The transport state is the only state machine; recording, bouncing,
	// freewheeling and idling are independent flags.
	Transport struct {
		e   *Engine
		log logrus.FieldLogger

		state     tahti.TransportState
		stateView atomic.Int32

		idle      atomic.Bool
		bouncing  atomic.Bool
		freewheel atomic.Bool

		clickTick int64
	}

	// action is what the reconciliation table tells the transport to do.
	action int
)

const (
	actNone action = iota
	actConfirmLoop
	actSync
	actStartFromLocate
	actLoopRestart
	actStopRolling
	actAbortStart
	actStartRolling
	actUnexpected
)

func newTransport(e *Engine) *Transport {
	return &Transport{e: e, log: componentLogger(e.Log, "transport")}
}

// State returns the transport state. Safe from any goroutine.
func (t *Transport) State() tahti.TransportState {
	return tahti.TransportState(t.stateView.Load())
}

func (t *Transport) Idle() bool      { return t.idle.Load() }
func (t *Transport) Bouncing() bool  { return t.bouncing.Load() }
func (t *Transport) Freewheel() bool { return t.freewheel.Load() }

// SetFreewheel turns freewheel mode on or off. In freewheel the prefetcher
// is not asked to refill and locates are reported synced at once.
func (t *Transport) SetFreewheel(v bool) { t.freewheel.Store(v) }

// Process runs one audio callback of frames frames. A device that fails its
// check skips the cycle entirely.
func (t *Transport) Process(frames int) {
	if !t.e.Device.Check() {
		return
	}
	t.RunCycle(t.e.Device.State(), frames)
}

// RunCycle runs one cycle given the state the device reported.
func (t *Transport) RunCycle(observed tahti.DeviceState, frames int) {
	e := t.e
	t.processCommand()
	if t.idle.Load() {
		e.Graph.Silence(frames)
		return
	}
	c := e.Clock
	c.markCycle()
	t.reconcile(observed, e.Device.FramePos())
	e.ExtClock.Ingest()

	tm := e.Song.TempoMap()
	cycle := Cycle{Frames: frames, Tick: c.curTick, NextTick: c.curTick, Click: -1}
	if t.state.IsPlaying() {
		if !t.Freewheel() {
			e.Prefetch.Tick(e.Rec.IsRecording() || t.bouncing.Load(), true)
		}
		if t.bouncing.Load() && !c.pos.Less(e.Song.RightMarker(), tm) {
			t.bouncing.Store(false)
			t.signal(SignalBounceEnd)
			e.ExtClock.endCycle(true)
			return
		}
		if c.curTick >= e.Song.Len() && !(e.Song.Record() || t.bouncing.Load() || e.Song.Loop()) {
			t.log.WithField("tick", c.curTick).Debug("end of song")
			e.Device.StopTransport()
			e.ExtClock.endCycle(true)
			return
		}
		if t.state == tahti.Playing && e.Song.Loop() && !t.bouncing.Load() && !e.Config.ExtSync {
			e.Loop.Check(frames)
		}
		if e.Config.ExtSync {
			c.nextTick = c.curTick + e.ExtClock.Advance()
		} else {
			c.nextTick = c.pos.AddFrames(int64(frames), tm).Tick(tm)
		}
		cycle.Playing = true
		cycle.Recording = e.Rec.IsRecording()
		cycle.NextTick = c.nextTick
	}
	cycle.Frame = c.pos.Frame(tm)
	if cycle.Playing {
		cycle.Click = t.click(cycle, tm)
	}
	e.Graph.Process(cycle)
	if t.state.IsPlaying() {
		c.advance(frames)
	}
	e.ExtClock.endCycle(t.state.IsPlaying())
}

// Sync is the device locate handshake: it follows the device to frame and
// reports whether the engine is ready to roll from there.
func (t *Transport) Sync(observed tahti.DeviceState, frame int64) bool {
	e := t.e
	if t.state == tahti.LoopArmed {
		t.setState(tahti.LoopPending)
		return true
	}
	done := true
	if t.state != tahti.StartingPlay {
		e.Clock.Seek(tahti.FramePos(frame))
		if !t.Freewheel() {
			done = e.Prefetch.SeekDone()
		}
		if observed.Locating() {
			t.setState(tahti.StartingPlay)
		}
		return done
	}
	if frame != e.Clock.pos.Frame(e.Song.TempoMap()) {
		e.Clock.Seek(tahti.FramePos(frame))
	}
	return e.Prefetch.SeekDone()
}

// transition is the reconciliation table. The first matching row wins.
func transition(intended tahti.TransportState, observed tahti.DeviceState, frameMismatch bool) action {
	rolling, locating := observed.Rolling(), observed.Locating()
	stopped := observed == tahti.DeviceStop
	switch {
	case intended == tahti.LoopArmed && observed == tahti.DeviceLoop2:
		return actLoopRestart
	case intended == tahti.LoopArmed && (rolling || locating):
		return actConfirmLoop
	case intended == tahti.StartingPlay && locating && frameMismatch:
		return actSync
	case (intended == tahti.Stopped || intended == tahti.Playing) && locating:
		return actSync
	case intended == tahti.Stopped && stopped && frameMismatch:
		return actSync
	case intended == tahti.StartingPlay && rolling:
		return actStartFromLocate
	case intended == tahti.LoopPending && observed == tahti.DeviceLoop1:
		return actNone
	case intended == tahti.LoopPending && rolling:
		return actLoopRestart
	case intended.IsPlaying() && stopped:
		return actStopRolling
	case intended == tahti.StartingPlay && stopped:
		return actAbortStart
	case intended == tahti.Stopped && rolling:
		return actStartRolling
	case intended == tahti.Playing && rolling,
		intended == tahti.StartingPlay && locating,
		intended == tahti.LoopPending && locating,
		intended == tahti.Stopped && stopped:
		return actNone
	}
	return actUnexpected
}

func (t *Transport) reconcile(observed tahti.DeviceState, frame int64) {
	e := t.e
	mismatch := frame != e.Clock.pos.Frame(e.Song.TempoMap())
	switch transition(t.state, observed, mismatch) {
	case actConfirmLoop:
		t.setState(tahti.LoopPending)
		e.Device.SyncReady(true)
	case actSync:
		e.Device.SyncReady(t.Sync(observed, frame))
	case actStartFromLocate:
		e.Loop.count = 0
		e.Graph.ReenableControllers()
		t.startRolling()
		if t.bouncing.Load() {
			t.signal(SignalBounceStart)
		}
	case actLoopRestart:
		t.setState(tahti.LoopPending)
		e.Loop.count++
		e.Clock.Seek(tahti.FramePos(e.Loop.window.Restart))
		t.startRolling()
	case actStopRolling:
		t.stopRolling()
	case actAbortStart:
		t.setState(tahti.Stopped)
		if t.bouncing.Load() {
			e.Device.StartTransport()
		} else {
			t.signal(SignalAbortStart)
		}
	case actStartRolling:
		e.Loop.count = 0
		e.Graph.ReenableControllers()
		t.startRolling()
	case actUnexpected:
		t.log.WithFields(logrus.Fields{
			"intended": t.state,
			"observed": observed,
		}).Warn("unexpected transport state transition")
	}
}

func (t *Transport) startRolling() {
	e := t.e
	t.log.WithFields(logrus.Fields{
		"loop": e.Loop.count,
		"tick": e.Clock.curTick,
	}).Debug("start rolling")
	e.Rec.captureStart()
	if e.Song.Record() {
		e.Rec.recording.Store(true)
		for _, w := range e.Song.WaveTracks() {
			w.ResetMeter()
		}
	}
	t.setState(tahti.Playing)
	t.signal(SignalPlay)
	if !e.Config.ExtSync {
		if e.Clock.curTick != 0 {
			e.Ports.sendTransport(midi.Continue())
		} else {
			e.Ports.sendTransport(midi.Start())
		}
	}
	t.clickTick = nextBeat(e.Clock.curTick, int64(e.Config.Division))
	e.Ports.sendSustain(127)
}

func (t *Transport) stopRolling() {
	e := t.e
	t.log.WithField("state", t.state).Debug("stop rolling")
	t.setState(tahti.Stopped)
	e.ExtClock.extPlaying = false
	for port := range e.Ports.Devices {
		if port.Device.Kind() == tahti.EngineScheduled {
			port.Device.HandleStop()
		}
	}
	if !e.Config.ExtSync {
		e.Ports.sendTransport(midi.Stop())
	}
	if !t.Freewheel() {
		e.Prefetch.Tick(e.Rec.IsRecording(), false)
	}
	e.Graph.ResetMeters()
	for _, w := range e.Song.WaveTracks() {
		w.ResetMeter()
	}
	if t.bouncing.Load() {
		t.bouncing.Store(false)
		t.signal(SignalBounceAbort)
	}
	e.Rec.recording.Store(false)
	e.Rec.captureEnd()
	t.signal(SignalStop)
}

// click returns the frame offset of the metronome click in this cycle, or -1.
func (t *Transport) click(c Cycle, tm tahti.TempoMap) int {
	if t.clickTick < c.Tick || t.clickTick >= c.NextTick {
		return -1
	}
	off := tm.TickToFrame(t.clickTick) - c.Frame
	t.clickTick += int64(t.e.Config.Division)
	return int(max(0, min(off, int64(c.Frames-1))))
}

func nextBeat(tick, ticksPerBeat int64) int64 {
	if ticksPerBeat <= 0 {
		return tick
	}
	return (tick + ticksPerBeat - 1) / ticksPerBeat * ticksPerBeat
}

func (t *Transport) processCommand() {
	e := t.e
	q, ok := e.Relay.poll()
	if !ok {
		return
	}
	t.execute(q.cmd)
	if !e.Relay.ack(q.serial) {
		t.log.WithField("serial", q.serial).Warn("acknowledgement dropped")
	}
}

func (t *Transport) execute(cmd Command) {
	e := t.e
	switch c := cmd.(type) {
	case Wait:
	case SetIdle:
		t.idle.Store(c.Idle)
	case Seek:
		e.Device.SeekTransport(c.Pos.Frame(e.Song.TempoMap()))
	case PlayMIDIEvent:
		t.putEvent(c.Event)
	case ScheduleMIDIEvent:
		t.putEvent(tahti.PlayEvent{Frame: e.Clock.MIDIQueueTimestamp(c.Tick), Port: c.Port, Msg: c.Msg})
	case SetTempo:
		e.Song.SetTempo(c.Changes...)
		e.Clock.ReSync()
	case SetHwCtrlState:
		if port := e.Ports.Port(c.Port); port != nil {
			port.SetHwCtrlState(c.Channel, c.Ctrl, c.Value)
		}
	case SetHwCtrlStates:
		if port := e.Ports.Port(c.Port); port != nil {
			port.SetHwCtrlStates(c.Channel, c.Ctrl, c.Value, c.LastValue)
		}
	case Panic:
		e.Ports.sendPanic()
	case LocalOff:
		e.Ports.localOff()
	case ResetDevices:
		e.Ports.resetDevices()
	case InitDevices:
		e.Ports.initDevices(c.Force)
	case SetRecordFlag:
		// the recorder reads the song's flags; the graph keeps its own for
		// monitoring
		if err := e.Song.SetTrackRecord(c.Track, c.On); err != nil {
			t.log.WithError(err).WithField("track", c.Track).Warn("cannot set record flag")
		}
		if err := e.Graph.Execute(cmd); err != nil {
			t.log.WithError(err).WithField("command", CommandName(cmd)).Debug("graph has no such track")
		}
	default:
		if err := e.Graph.Execute(cmd); err != nil {
			t.log.WithError(err).WithField("command", CommandName(cmd)).Warn("command failed")
		}
	}
}

func (t *Transport) putEvent(ev tahti.PlayEvent) {
	port := t.e.Ports.Port(ev.Port)
	if port == nil || port.Device == nil {
		t.log.WithField("port", ev.Port).Warn("no device on MIDI port")
		return
	}
	if !port.Device.PutEvent(ev) {
		t.log.WithField("port", ev.Port).Warn("MIDI output full")
	}
}

func (t *Transport) setState(s tahti.TransportState) {
	t.state = s
	t.stateView.Store(int32(s))
}

func (t *Transport) signal(s Signal) {
	if !t.e.Relay.Signal(s) {
		t.log.WithField("signal", s).Warn("signal dropped")
	}
}

func (t *Transport) reset() {
	t.setState(tahti.Stopped)
	t.e.Loop.count = 0
	t.bouncing.Store(false)
}
