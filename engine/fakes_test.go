package engine_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

// fakeDevice behaves like a JACK transport: a locate while rolling goes
// through the starting state and only rolls again once the engine has
// reported it is ready. A loop jump splits the cycle at the loop end.
type fakeDevice struct {
	state      tahti.DeviceState
	frame      int64
	cycleFrame int64
	ready      bool
	broken     bool

	loopEnd, loopRestart int64
	looping              bool

	seeks     []int64
	starts    int
	stops     int
	syncReady []bool
}

func (d *fakeDevice) Start(priority int) error  { return nil }
func (d *fakeDevice) Stop() error               { return nil }
func (d *fakeDevice) Check() bool               { return !d.broken }
func (d *fakeDevice) State() tahti.DeviceState  { return d.state }
func (d *fakeDevice) FramesAtCycleStart() int64 { return d.cycleFrame }
func (d *fakeDevice) FramePos() int64           { return d.frame }

func (d *fakeDevice) StartTransport() {
	d.starts++
	if d.state == tahti.DeviceStop {
		d.state = tahti.DeviceStartPlay
		d.ready = false
	}
}

func (d *fakeDevice) StopTransport() {
	d.stops++
	d.state = tahti.DeviceStop
	d.looping = false
}

func (d *fakeDevice) SeekTransport(frame int64) {
	d.seeks = append(d.seeks, frame)
	d.frame = frame
	d.ready = false
	d.looping = false
	if d.state.Rolling() {
		d.state = tahti.DeviceStartPlay
	}
}

func (d *fakeDevice) SyncReady(ready bool) {
	d.syncReady = append(d.syncReady, ready)
	d.ready = ready
}

func (d *fakeDevice) LoopTransport(end, restart int64) {
	d.loopEnd, d.loopRestart = end, restart
	d.looping = true
	if d.state.Rolling() {
		d.state = tahti.DeviceLoop1
	}
}

// cycle runs one callback of frames, in two parts if a loop jump falls
// inside it.
func (d *fakeDevice) cycle(e *engine.Engine, frames int) {
	for frames > 0 {
		n := frames
		if d.looping && d.state.Rolling() && d.loopEnd > d.frame {
			n = int(min(int64(n), d.loopEnd-d.frame))
		}
		d.process(e, n)
		frames -= n
	}
}

// process runs one engine cycle. The position moves only if the device was
// rolling for the whole cycle.
func (d *fakeDevice) process(e *engine.Engine, frames int) {
	rolling := d.state.Rolling()
	e.Process(frames)
	d.cycleFrame += int64(frames)
	if rolling && d.state.Rolling() {
		d.frame += int64(frames)
	}
	if d.state == tahti.DeviceLoop2 {
		d.state = tahti.DevicePlay
	}
	if d.looping && d.state.Rolling() && d.frame >= d.loopEnd {
		d.frame = d.loopRestart
		d.looping = false
		d.state = tahti.DeviceLoop2
	}
	if d.state == tahti.DeviceStartPlay && d.ready {
		d.state = tahti.DevicePlay
	}
}

// seekOnlyDevice hides LoopTransport, so loops go through a plain locate.
type seekOnlyDevice struct{ tahti.Device }

type fakeMIDIDevice struct {
	port    int
	kind    tahti.MIDIDeviceKind
	clock   *tahti.RingBuffer[tahti.ExtClockEvent]
	events  []tahti.PlayEvent
	seeks   int
	stops   int
	collect int
}

func newFakeMIDIDevice(port, clockCapacity int) *fakeMIDIDevice {
	return &fakeMIDIDevice{port: port, clock: tahti.NewRingBuffer[tahti.ExtClockEvent](clockCapacity)}
}

func (m *fakeMIDIDevice) Name() string                                            { return "fake" }
func (m *fakeMIDIDevice) Port() int                                               { return m.port }
func (m *fakeMIDIDevice) Kind() tahti.MIDIDeviceKind                              { return m.kind }
func (m *fakeMIDIDevice) CollectMidiEvents()                                      { m.collect++ }
func (m *fakeMIDIDevice) ExtClockHistory() *tahti.RingBuffer[tahti.ExtClockEvent] { return m.clock }
func (m *fakeMIDIDevice) HandleSeek()                                             { m.seeks++ }
func (m *fakeMIDIDevice) HandleStop()                                             { m.stops++ }
func (m *fakeMIDIDevice) PutEvent(ev tahti.PlayEvent) bool {
	m.events = append(m.events, ev)
	return true
}

type fakeWaveTrack struct {
	name    string
	armed   bool
	resets  int
	records int
}

func (w *fakeWaveTrack) Name() string     { return w.name }
func (w *fakeWaveTrack) RecordFlag() bool { return w.armed }
func (w *fakeWaveTrack) ResetMeter()      { w.resets++ }
func (w *fakeWaveTrack) Record() error    { w.records++; return nil }

type fakeMidiTrack struct {
	name     string
	captured []engine.CapturedEvent
}

func (m *fakeMidiTrack) Name() string                     { return m.name }
func (m *fakeMidiTrack) Captured() []engine.CapturedEvent { return m.captured }
func (m *fakeMidiTrack) ClearCaptured()                   { m.captured = nil }

type fakeBounce struct {
	closed bool
}

func (b *fakeBounce) Name() string     { return "master" }
func (b *fakeBounce) RecordFlag() bool { return !b.closed }
func (b *fakeBounce) Record() error    { return nil }
func (b *fakeBounce) Close() error     { b.closed = true; return nil }

type fakeSong struct {
	tempo       *tahti.TempoList
	length      int64
	loop        bool
	left, right tahti.Pos
	cursor      tahti.Pos
	record      bool
	waves       []engine.WaveTrack
	midis       []engine.MidiTrack
	bounce      engine.BounceOutput
	applied     []*engine.UndoLog
}

func (s *fakeSong) TempoMap() tahti.TempoMap        { return s.tempo }
func (s *fakeSong) SetTempo(c ...tahti.TempoChange) { s.tempo.Set(c...) }
func (s *fakeSong) Len() int64                      { return s.length }
func (s *fakeSong) Loop() bool                      { return s.loop }
func (s *fakeSong) LeftMarker() tahti.Pos           { return s.left }
func (s *fakeSong) RightMarker() tahti.Pos          { return s.right }
func (s *fakeSong) Cursor() tahti.Pos               { return s.cursor }
func (s *fakeSong) Record() bool                    { return s.record }
func (s *fakeSong) SetRecord(on bool)               { s.record = on }
func (s *fakeSong) WaveTracks() []engine.WaveTrack  { return s.waves }
func (s *fakeSong) MidiTracks() []engine.MidiTrack  { return s.midis }
func (s *fakeSong) Bounce() engine.BounceOutput     { return s.bounce }
func (s *fakeSong) SetBounce(b engine.BounceOutput) { s.bounce = b }
func (s *fakeSong) Apply(ops *engine.UndoLog) error { s.applied = append(s.applied, ops); return nil }

func (s *fakeSong) SetTrackRecord(track string, on bool) error {
	for _, w := range s.waves {
		if f, ok := w.(*fakeWaveTrack); ok && f.name == track {
			f.armed = on
			return nil
		}
	}
	return errors.Errorf("no track %q", track)
}

type fakeGraph struct {
	mu        sync.Mutex
	executed  []engine.Command
	cycles    []engine.Cycle
	silenced  int
	reenabled int
	meters    int
}

func (g *fakeGraph) Execute(c engine.Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed = append(g.executed, c)
	return nil
}

func (g *fakeGraph) Process(c engine.Cycle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cycles = append(g.cycles, c)
}

func (g *fakeGraph) Silence(frames int)   { g.silenced++ }
func (g *fakeGraph) ResetMeters()         { g.meters++ }
func (g *fakeGraph) ReenableControllers() { g.reenabled++ }

func (g *fakeGraph) lastCycle(t *testing.T) engine.Cycle {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.cycles) == 0 {
		t.Fatalf("graph was never processed")
	}
	return g.cycles[len(g.cycles)-1]
}

type testRig struct {
	e     *engine.Engine
	dev   *fakeDevice
	song  *fakeSong
	graph *fakeGraph
}

const testFrames = 512

func newTestRig(t *testing.T, mod func(*engine.Config)) *testRig {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.SampleRate = 48000
	cfg.SegmentSize = testFrames
	cfg.RelayTimeout = time.Second
	if mod != nil {
		mod(&cfg)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := &testRig{
		dev:   &fakeDevice{},
		song:  &fakeSong{tempo: tahti.NewTempoList(cfg.SampleRate, cfg.Division), length: 1 << 40},
		graph: &fakeGraph{},
	}
	e, err := engine.New(cfg, engine.Collaborators{Device: r.dev, Song: r.song, Graph: r.graph, Log: log})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.e = e
	return r
}

func (r *testRig) cycle() { r.dev.cycle(r.e, testFrames) }

// locate moves the stopped device to frame and lets the engine follow.
func (r *testRig) locate(t *testing.T, frame int64) {
	t.Helper()
	r.dev.state = tahti.DeviceStop
	r.dev.frame = frame
	r.cycle()
	if got := r.e.Clock.Pos().Frame(r.song.tempo); got != frame {
		t.Fatalf("engine did not follow locate: at %v, expected %v", got, frame)
	}
}

// signals returns all signals sent so far.
func (r *testRig) signals() []engine.Signal {
	var ret []engine.Signal
	for {
		select {
		case s := <-r.e.Relay.Signals():
			ret = append(ret, s)
		default:
			return ret
		}
	}
}
