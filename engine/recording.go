package engine

import (
	"bytes"
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// RecordSession is the extent of a take, both on the song timeline and on
	// the externally synced tick timeline.
	RecordSession struct {
		StartPos, EndPos         tahti.Pos
		StartExtTick, EndExtTick int64
	}

	// CapturedEvent is a MIDI message recorded on a track during a take.
	CapturedEvent struct {
		Tick int64
		Msg  midi.Message
	}

	// RecordedEvent is a resolved event: a note with its length, or any other
	// message with Len 0.
	RecordedEvent struct {
		Tick int64
		Len  int64
		Msg  midi.Message
	}

	// RecordingCoordinator tracks takes and turns them into song edits when
	// recording stops.
	RecordingCoordinator struct {
		e   *Engine
		log logrus.FieldLogger

		recording atomic.Bool
		session   atomic.Pointer[RecordSession]
	}
)

func newRecordingCoordinator(e *Engine) *RecordingCoordinator {
	r := &RecordingCoordinator{e: e, log: componentLogger(e.Log, "recording")}
	r.session.Store(&RecordSession{})
	return r
}

func (r *RecordingCoordinator) IsRecording() bool { return r.recording.Load() }

// Session returns the current or last take.
func (r *RecordingCoordinator) Session() RecordSession { return *r.session.Load() }

// TakeTick returns the current position relative to the take start, in the
// tick base the take is anchored in. It stamps captured MIDI events on the
// audio thread.
func (r *RecordingCoordinator) TakeTick() int64 {
	s := r.session.Load()
	c := r.e.Clock
	if r.e.Config.ExtSync {
		return c.curTick - s.StartExtTick
	}
	tm := r.e.Song.TempoMap()
	return c.pos.Tick(tm) - s.StartPos.Tick(tm)
}

// captureStart marks the take start. Loop passes after the first do not move
// it.
func (r *RecordingCoordinator) captureStart() {
	if r.e.Loop.count != 0 {
		return
	}
	c := r.e.Clock
	r.session.Store(&RecordSession{StartPos: c.pos, StartExtTick: c.curTick})
}

func (r *RecordingCoordinator) captureEnd() {
	c := r.e.Clock
	s := *r.session.Load()
	s.EndPos = c.pos
	s.EndExtTick = c.curTick
	r.session.Store(&s)
}

// RecordStop commits the take. Wave tracks armed for recording get the
// region from the take start to the take end, or to the current position
// when restart is set. MIDI tracks get their captured events resolved and
// anchored at the take start tick. An armed bounce output is detached. The
// operations are appended to ops; if ops is nil they are applied to the song
// directly. Not for the audio thread.
func (r *RecordingCoordinator) RecordStop(restart bool, ops *UndoLog) error {
	e := r.e
	song := e.Song
	tm := song.TempoMap()
	s := r.Session()
	r.log.WithFields(logrus.Fields{
		"start":   s.StartPos.Frame(tm),
		"restart": restart,
	}).Debug("record stop")

	local := ops == nil
	if local {
		ops = &UndoLog{}
	}
	end := s.EndPos
	if restart {
		end = tahti.FramePos(e.Clock.posFrame.Load())
	}
	for _, t := range song.WaveTracks() {
		if !t.RecordFlag() {
			continue
		}
		ops.Add(AddRecordedWave{Track: t.Name(), Start: s.StartPos, End: end})
		if !restart {
			ops.Add(SetTrackRecord{Track: t.Name(), On: false, NonUndoable: true})
		}
	}
	startTick := s.StartPos.Tick(tm)
	if e.Config.ExtSync {
		startTick = s.StartExtTick
	}
	for _, t := range song.MidiTracks() {
		if events := BuildEventList(t.Captured()); len(events) > 0 {
			ops.Add(AddRecordedEvents{Track: t.Name(), StartTick: startTick, Events: events})
		}
		t.ClearCaptured()
	}
	var errs []error
	if b := song.Bounce(); b != nil && b.RecordFlag() {
		song.SetBounce(nil)
		if err := b.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing bounce output %s", b.Name()))
		}
		ops.Add(SetTrackRecord{Track: b.Name(), On: false, NonUndoable: true})
	}
	if local {
		if err := song.Apply(ops); err != nil {
			errs = append(errs, errors.Wrap(err, "applying recorded take"))
		}
	}
	if !restart {
		song.SetRecord(false)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// WriteTick writes one more buffer of the bounce output and of every armed
// wave track. It runs on the prefetch goroutine.
func (r *RecordingCoordinator) WriteTick() {
	song := r.e.Song
	if b := song.Bounce(); b != nil && b.RecordFlag() {
		if err := b.Record(); err != nil {
			r.log.WithError(err).WithField("output", b.Name()).Error("bounce write failed")
		}
	}
	for _, t := range song.WaveTracks() {
		if !t.RecordFlag() {
			continue
		}
		if err := t.Record(); err != nil {
			r.log.WithError(err).WithField("track", t.Name()).Error("record write failed")
		}
	}
}

// BuildEventList resolves a take into an ordered event list: note-ons are
// paired with the next matching note-off to get their length, note-offs are
// dropped, and events duplicated on the same tick by loop recording are
// removed. A note left hanging lasts until the last captured tick.
func BuildEventList(captured []CapturedEvent) []RecordedEvent {
	if len(captured) == 0 {
		return nil
	}
	evs := slices.Clone(captured)
	slices.SortStableFunc(evs, func(a, b CapturedEvent) int { return cmp.Compare(a.Tick, b.Tick) })
	last := evs[len(evs)-1].Tick
	used := make([]bool, len(evs))
	out := make([]RecordedEvent, 0, len(evs))
	for i, ev := range evs {
		if used[i] || len(ev.Msg) == 0 {
			continue
		}
		on, ch, key := noteOn(ev.Msg)
		if !on {
			if isOff, _, _ := noteOff(ev.Msg); isOff {
				continue // unmatched
			}
			if !duplicate(out, ev) {
				out = append(out, RecordedEvent{Tick: ev.Tick, Msg: ev.Msg})
			}
			continue
		}
		length := last - ev.Tick
		for j := i + 1; j < len(evs); j++ {
			if off, c, k := noteOff(evs[j].Msg); off && !used[j] && c == ch && k == key {
				used[j] = true
				length = evs[j].Tick - ev.Tick
				break
			}
		}
		if duplicate(out, ev) {
			continue
		}
		out = append(out, RecordedEvent{Tick: ev.Tick, Len: max(length, 1), Msg: ev.Msg})
	}
	return out
}

func noteOn(m midi.Message) (ok bool, ch, key uint8) {
	var vel uint8
	if m.GetNoteOn(&ch, &key, &vel) && vel > 0 {
		return true, ch, key
	}
	return false, 0, 0
}

func noteOff(m midi.Message) (ok bool, ch, key uint8) {
	var vel uint8
	if m.GetNoteOff(&ch, &key, &vel) {
		return true, ch, key
	}
	if m.GetNoteOn(&ch, &key, &vel) && vel == 0 {
		return true, ch, key
	}
	return false, 0, 0
}

func duplicate(out []RecordedEvent, ev CapturedEvent) bool {
	for k := len(out) - 1; k >= 0 && out[k].Tick == ev.Tick; k-- {
		if bytes.Equal(out[k].Msg, ev.Msg) {
			return true
		}
	}
	return false
}
