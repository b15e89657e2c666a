package tahti

import (
	"math"
	"sort"
)

type (
	// TempoChange sets the tempo, in microseconds per quarter note, from Tick
	// onwards.
	TempoChange struct {
		Tick  int64 `yaml:",omitempty"`
		Tempo int   // microseconds per quarter note
	}

	// TempoList is a piecewise constant tempo map. The zero value is not
	// usable; create one with NewTempoList.
	TempoList struct {
		SampleRate int
		Division   int // ticks per quarter note
		changes    []tempoSegment
	}

	tempoSegment struct {
		tick  int64
		frame int64
		tempo int
	}
)

// DefaultTempo is 120 BPM.
const DefaultTempo = 500000

func NewTempoList(sampleRate, division int, changes ...TempoChange) *TempoList {
	t := &TempoList{SampleRate: sampleRate, Division: division}
	t.Set(changes...)
	return t
}

// Set replaces all tempo changes. A change at tick 0 is added with the
// default tempo if none is given.
func (t *TempoList) Set(changes ...TempoChange) {
	c := make([]TempoChange, len(changes))
	copy(c, changes)
	sort.SliceStable(c, func(i, j int) bool { return c[i].Tick < c[j].Tick })
	if len(c) == 0 || c[0].Tick > 0 {
		c = append([]TempoChange{{Tick: 0, Tempo: DefaultTempo}}, c...)
	}
	t.changes = t.changes[:0]
	var frame int64
	for i, ch := range c {
		if ch.Tempo <= 0 {
			ch.Tempo = DefaultTempo
		}
		if i > 0 {
			prev := t.changes[len(t.changes)-1]
			if prev.tick == ch.Tick {
				t.changes[len(t.changes)-1].tempo = ch.Tempo
				continue
			}
			frame = prev.frame + t.ticksToFrames(ch.Tick-prev.tick, prev.tempo)
		}
		t.changes = append(t.changes, tempoSegment{tick: ch.Tick, frame: frame, tempo: ch.Tempo})
	}
}

// Changes returns the tempo changes, the first one always at tick 0.
func (t *TempoList) Changes() []TempoChange {
	c := make([]TempoChange, len(t.changes))
	for i, s := range t.changes {
		c[i] = TempoChange{Tick: s.tick, Tempo: s.tempo}
	}
	return c
}

// Tempo returns the tempo in microseconds per quarter note at tick.
func (t *TempoList) Tempo(tick int64) int {
	return t.segmentByTick(tick).tempo
}

// BPM returns the tempo at tick as beats per minute.
func (t *TempoList) BPM(tick int64) float64 {
	return 60e6 / float64(t.Tempo(tick))
}

func (t *TempoList) TickToFrame(tick int64) int64 {
	s := t.segmentByTick(tick)
	return s.frame + t.ticksToFrames(tick-s.tick, s.tempo)
}

func (t *TempoList) FrameToTick(frame int64) int64 {
	i := sort.Search(len(t.changes), func(i int) bool { return t.changes[i].frame > frame }) - 1
	if i < 0 {
		i = 0
	}
	s := t.changes[i]
	return s.tick + t.framesToTicks(frame-s.frame, s.tempo)
}

func (t *TempoList) segmentByTick(tick int64) tempoSegment {
	i := sort.Search(len(t.changes), func(i int) bool { return t.changes[i].tick > tick }) - 1
	if i < 0 {
		i = 0
	}
	return t.changes[i]
}

func (t *TempoList) ticksToFrames(ticks int64, tempo int) int64 {
	f := float64(ticks) * float64(tempo) * float64(t.SampleRate) / (float64(t.Division) * 1e6)
	return int64(math.Round(f))
}

func (t *TempoList) framesToTicks(frames int64, tempo int) int64 {
	f := float64(frames) * float64(t.Division) * 1e6 / (float64(tempo) * float64(t.SampleRate))
	return int64(math.Floor(f + 1e-9))
}
