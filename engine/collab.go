package engine

import (
	"github.com/vsariola/tahti"
)

type (
	// Song is the composition as the audio thread sees it. Reads happen on
	// the audio thread; writes happen only through commands or through Apply
	// on the owner's goroutine.
	Song interface {
		TempoMap() tahti.TempoMap
		// SetTempo replaces the tempo map; called on the audio thread.
		SetTempo(changes ...tahti.TempoChange)
		Len() int64 // ticks
		Loop() bool
		LeftMarker() tahti.Pos  // loop start, bounce start
		RightMarker() tahti.Pos // loop end, bounce end
		Cursor() tahti.Pos
		Record() bool
		SetRecord(on bool)
		// SetTrackRecord arms or disarms the named track or output. Called
		// on the audio thread, so it must not block.
		SetTrackRecord(track string, on bool) error
		WaveTracks() []WaveTrack
		MidiTracks() []MidiTrack
		Bounce() BounceOutput
		SetBounce(b BounceOutput)
		// Apply commits the operations of a finished take.
		Apply(ops *UndoLog) error
	}

	WaveTrack interface {
		Name() string
		RecordFlag() bool
		ResetMeter()
		// Record writes what was captured since the last call to the
		// track's take. Called from the prefetch goroutine.
		Record() error
	}

	MidiTrack interface {
		Name() string
		// Captured returns the events recorded during the take. The audio
		// thread stops appending once the transport has stopped.
		Captured() []CapturedEvent
		ClearCaptured()
	}

	// BounceOutput is an output whose mix is being written to a file.
	BounceOutput interface {
		Name() string
		RecordFlag() bool
		Record() error
		Close() error
	}

	// Graph renders the tracks. It is called on the audio thread only.
	Graph interface {
		Execute(c Command) error
		Process(c Cycle)
		Silence(frames int)
		ResetMeters()
		// ReenableControllers re-arms automation that was overridden by
		// touch while stopped.
		ReenableControllers()
	}

	// Prefetcher keeps disk buffers ahead of the play position.
	Prefetcher interface {
		// Seek refills the buffers from frame. With wait, it returns only
		// after the refill is done.
		Seek(frame int64, force, wait bool)
		SeekDone() bool
		Tick(recording, playing bool)
	}

	// Cycle describes one audio callback to the graph.
	Cycle struct {
		Frame     int64 // song frame at the start of the cycle
		Frames    int
		Tick      int64
		NextTick  int64
		Playing   bool
		Recording bool
		Click     int // frame offset of a metronome click in this cycle, -1 for none
	}
)

// NullPrefetcher is a Prefetcher for songs that have nothing to stream.
type NullPrefetcher struct{}

func (NullPrefetcher) Seek(frame int64, force, wait bool) {}
func (NullPrefetcher) SeekDone() bool                     { return true }
func (NullPrefetcher) Tick(recording, playing bool)       {}
