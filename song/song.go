/*
Package song is the composition the engine plays and records into: the tempo
map, the markers, the wave and MIDI tracks and the bounce outputs. Song
implements engine.Song; the fields the audio thread reads are atomics, while
track contents are changed only by Apply, Undo and Redo on the owner's
goroutine.
*/
package song

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

type Song struct {
	tempo  atomic.Pointer[tahti.TempoList]
	length atomic.Int64
	loop   atomic.Bool
	record atomic.Bool
	left   atomic.Pointer[tahti.Pos]
	right  atomic.Pointer[tahti.Pos]
	cursor atomic.Pointer[tahti.Pos]
	bounce atomic.Pointer[bounceRef]

	waves   []*WaveTrack
	midis   []*MidiTrack
	outputs []*BounceFile

	// interface views of the tracks, built once so the audio thread does
	// not allocate
	waveViews []engine.WaveTrack
	midiViews []engine.MidiTrack

	mu        sync.Mutex
	undoStack []snapshot
	redoStack []snapshot

	log logrus.FieldLogger
}

type bounceRef struct{ b engine.BounceOutput }

// ErrUnknownTrack is returned when an operation names a track the song does
// not have.
var ErrUnknownTrack = errors.New("unknown track")

const maxUndo = 256

func New(sampleRate, division int, log logrus.FieldLogger) *Song {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Song{log: log.WithField("component", "song")}
	s.tempo.Store(tahti.NewTempoList(sampleRate, division))
	s.length.Store(1 << 40)
	for _, p := range []*atomic.Pointer[tahti.Pos]{&s.left, &s.right, &s.cursor} {
		p.Store(&tahti.Pos{})
	}
	return s
}

func (s *Song) TempoMap() tahti.TempoMap   { return s.tempo.Load() }
func (s *Song) Tempo() *tahti.TempoList    { return s.tempo.Load() }
func (s *Song) Len() int64                 { return s.length.Load() }
func (s *Song) SetLen(ticks int64)         { s.length.Store(ticks) }
func (s *Song) Loop() bool                 { return s.loop.Load() }
func (s *Song) SetLoop(on bool)            { s.loop.Store(on) }
func (s *Song) Record() bool               { return s.record.Load() }
func (s *Song) SetRecord(on bool)          { s.record.Store(on) }
func (s *Song) LeftMarker() tahti.Pos      { return *s.left.Load() }
func (s *Song) RightMarker() tahti.Pos     { return *s.right.Load() }
func (s *Song) Cursor() tahti.Pos          { return *s.cursor.Load() }
func (s *Song) SetLeftMarker(p tahti.Pos)  { s.left.Store(&p) }
func (s *Song) SetRightMarker(p tahti.Pos) { s.right.Store(&p) }
func (s *Song) SetCursor(p tahti.Pos)      { s.cursor.Store(&p) }

func (s *Song) WaveTracks() []engine.WaveTrack { return s.waveViews }
func (s *Song) MidiTracks() []engine.MidiTrack { return s.midiViews }

func (s *Song) Bounce() engine.BounceOutput {
	if r := s.bounce.Load(); r != nil {
		return r.b
	}
	return nil
}

func (s *Song) SetBounce(b engine.BounceOutput) {
	if b == nil {
		s.bounce.Store(nil)
		return
	}
	s.bounce.Store(&bounceRef{b})
}

// SetTempo replaces the tempo map. Readers holding the old map keep a
// consistent view of it.
func (s *Song) SetTempo(changes ...tahti.TempoChange) {
	old := s.Tempo()
	s.tempo.Store(tahti.NewTempoList(old.SampleRate, old.Division, changes...))
}

// AddWaveTrack adds a wave track. Not safe while the engine is running.
func (s *Song) AddWaveTrack(name string, channels int) *WaveTrack {
	t := newWaveTrack(name, channels)
	s.waves = append(s.waves, t)
	s.waveViews = append(s.waveViews, t)
	return t
}

// AddMidiTrack adds a MIDI track. Not safe while the engine is running.
func (s *Song) AddMidiTrack(name string) *MidiTrack {
	t := newMidiTrack(name)
	s.midis = append(s.midis, t)
	s.midiViews = append(s.midiViews, t)
	return t
}

// AddOutput registers a bounce output so that record flag operations can
// find it. Not safe while the engine is running.
func (s *Song) AddOutput(b *BounceFile) { s.outputs = append(s.outputs, b) }

func (s *Song) WaveTrack(name string) *WaveTrack {
	for _, t := range s.waves {
		if t.name == name {
			return t
		}
	}
	return nil
}

func (s *Song) MidiTrack(name string) *MidiTrack {
	for _, t := range s.midis {
		if t.name == name {
			return t
		}
	}
	return nil
}

// Apply commits the operations of a take as one undo step. Operations marked
// non-undoable are applied but are not part of the step; a log with nothing
// but those leaves the undo history as it was.
func (s *Song) Apply(ops *engine.UndoLog) error {
	if ops == nil || ops.Len() == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ops.Undoable() {
		s.undoStack = pushSnapshot(s.undoStack, s.snapshot())
		s.redoStack = s.redoStack[:0]
	}
	for _, op := range ops.Ops {
		if err := s.apply(op); err != nil {
			return err
		}
	}
	return nil
}

// SetTrackRecord arms or disarms the wave track, MIDI track or output called
// name. The flags are atomic and the track lists do not change while the
// engine runs, so the audio thread may call this.
func (s *Song) SetTrackRecord(name string, on bool) error {
	if t := s.WaveTrack(name); t != nil {
		t.SetRecordFlag(on)
		return nil
	}
	if t := s.MidiTrack(name); t != nil {
		t.SetRecordFlag(on)
		return nil
	}
	for _, b := range s.outputs {
		if b.Name() == name {
			b.SetRecordFlag(on)
			return nil
		}
	}
	return errors.Wrapf(ErrUnknownTrack, "%q", name)
}

func (s *Song) apply(op engine.UndoOp) error {
	switch o := op.(type) {
	case engine.AddRecordedWave:
		t := s.WaveTrack(o.Track)
		if t == nil {
			return errors.Wrapf(ErrUnknownTrack, "wave track %q", o.Track)
		}
		tm := s.Tempo()
		start, end := o.Start.Frame(tm), o.End.Frame(tm)
		if end <= start {
			s.log.WithField("track", o.Track).Warn("empty take ignored")
			return nil
		}
		t.parts = append(t.parts, t.takePart(start, end))
	case engine.AddRecordedEvents:
		t := s.MidiTrack(o.Track)
		if t == nil {
			return errors.Wrapf(ErrUnknownTrack, "midi track %q", o.Track)
		}
		t.insert(o.StartTick, o.Events)
	case engine.SetTrackRecord:
		return s.SetTrackRecord(o.Track, o.On)
	default:
		return errors.Errorf("song cannot apply %T", op)
	}
	return nil
}
