package song

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/viterin/vek/vek32"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
	"gitlab.com/gomidi/midi/v2"
)

type (
	// WaveTrack is an audio track. While armed and recording, it captures
	// the rendered output through the graph; Record moves the captured
	// buffers into the take, and a finished take becomes a Part.
	WaveTrack struct {
		name     string
		channels int
		record   atomic.Bool
		peak     atomic.Uint32 // float32 bits
		queue    *captureQueue

		mu    sync.Mutex
		take  []float32 // interleaved stereo
		parts []Part
	}

	// Part is a recorded region of a wave track.
	Part struct {
		Start   int64     // frames
		End     int64     // frames
		File    string    `yaml:",omitempty"`
		Samples []float32 `yaml:"-"` // interleaved stereo
	}

	// MidiTrack captures MIDI events during takes and keeps the recorded
	// events.
	MidiTrack struct {
		name     string
		record   atomic.Bool
		captured *tahti.RingBuffer[engine.CapturedEvent]
		taken    []engine.CapturedEvent
		events   []Event
	}

	// Event is a recorded MIDI event. Notes have a length; everything else
	// has Len 0.
	Event struct {
		Tick int64
		Len  int64
		Msg  midi.Message
	}
)

const midiCaptureCapacity = 4096

func newWaveTrack(name string, channels int) *WaveTrack {
	return &WaveTrack{name: name, channels: channels, queue: newCaptureQueue()}
}

func (t *WaveTrack) Name() string          { return t.name }
func (t *WaveTrack) Channels() int         { return t.channels }
func (t *WaveTrack) RecordFlag() bool      { return t.record.Load() }
func (t *WaveTrack) SetRecordFlag(on bool) { t.record.Store(on) }
func (t *WaveTrack) ResetMeter()           { t.peak.Store(0) }

// Peak returns the highest absolute value recorded since the last
// ResetMeter.
func (t *WaveTrack) Peak() float32 { return math.Float32frombits(t.peak.Load()) }

// Parts returns the recorded parts. Owner goroutine only.
func (t *WaveTrack) Parts() []Part { return t.parts }

// Capture implements graph.Tap.
func (t *WaveTrack) Capture(c engine.Cycle, out tahti.AudioBuffer) {
	if !c.Recording || !t.record.Load() {
		return
	}
	t.queue.push(out)
}

// Record moves what the audio thread has captured into the take.
func (t *WaveTrack) Record() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue.drain(func(buf []float32) {
		if len(buf) == 0 {
			return
		}
		p := vek32.Max(vek32.Abs(buf))
		if p > t.Peak() {
			t.peak.Store(math.Float32bits(p))
		}
		t.take = append(t.take, buf...)
	})
	return nil
}

// Dropped returns the number of buffers lost because the writer fell
// behind.
func (t *WaveTrack) Dropped() int { return t.queue.Dropped() }

// takePart ends the take and returns the part covering start to end. The
// take may hold less audio than the part spans.
func (t *WaveTrack) takePart(start, end int64) Part {
	t.Record()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := min(int(end-start)*2, len(t.take))
	p := Part{Start: start, End: end, Samples: slices.Clone(t.take[:n])}
	t.take = t.take[:0]
	return p
}

func newMidiTrack(name string) *MidiTrack {
	return &MidiTrack{name: name, captured: tahti.NewRingBuffer[engine.CapturedEvent](midiCaptureCapacity)}
}

func (t *MidiTrack) Name() string          { return t.name }
func (t *MidiTrack) RecordFlag() bool      { return t.record.Load() }
func (t *MidiTrack) SetRecordFlag(on bool) { t.record.Store(on) }

// Events returns the recorded events. Owner goroutine only.
func (t *MidiTrack) Events() []Event { return t.events }

// Capture records msg at tick, relative to the take start, if the track is
// armed. Called on the audio thread; it returns false if the message was not
// kept.
func (t *MidiTrack) Capture(tick int64, msg midi.Message) bool {
	if !t.record.Load() {
		return false
	}
	return t.captured.Put(engine.CapturedEvent{Tick: tick, Msg: msg})
}

func (t *MidiTrack) Captured() []engine.CapturedEvent {
	for {
		ev, ok := t.captured.Get()
		if !ok {
			return t.taken
		}
		t.taken = append(t.taken, ev)
	}
}

func (t *MidiTrack) ClearCaptured() {
	t.captured.ClearRead()
	t.taken = t.taken[:0]
}

func (t *MidiTrack) insert(startTick int64, events []engine.RecordedEvent) {
	for _, ev := range events {
		t.events = append(t.events, Event{Tick: startTick + ev.Tick, Len: ev.Len, Msg: ev.Msg})
	}
	slices.SortStableFunc(t.events, func(a, b Event) int { return cmp.Compare(a.Tick, b.Tick) })
}
