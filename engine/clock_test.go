package engine_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
	"gitlab.com/gomidi/midi/v2"
)

func TestSeekIsIdempotent(t *testing.T) {
	r := newTestRig(t, nil)
	engineDev := newFakeMIDIDevice(0, 16)
	driverDev := newFakeMIDIDevice(1, 16)
	driverDev.kind = tahti.DriverScheduled
	r.e.Ports.Assign(0, engineDev, false)
	r.e.Ports.Assign(1, driverDev, false)
	if !r.e.Clock.Seek(tahti.FramePos(1000)) {
		t.Fatalf("first seek reported no move")
	}
	if r.e.Clock.Seek(tahti.FramePos(1000)) {
		t.Fatalf("second seek to the same frame reported a move")
	}
	// tick 16 is frame 1000 at 62.5 frames per tick
	if r.e.Clock.Seek(tahti.TickPos(16)) {
		t.Fatalf("seek to the same position in ticks reported a move")
	}
	signals := r.signals()
	if len(signals) != 1 || signals[0] != engine.SignalSeek {
		t.Fatalf("signals were %q, expected one seek", signals)
	}
	if engineDev.seeks != 1 || driverDev.seeks != 0 {
		t.Fatalf("device seeks were %v and %v, expected 1 and 0", engineDev.seeks, driverDev.seeks)
	}
	if tick := r.e.Clock.TickPos(); tick != 16 {
		t.Fatalf("published tick was %v, expected 16", tick)
	}
}

func TestSeekTakesTimebaseTick(t *testing.T) {
	r := newTestRig(t, nil)
	tb := &timebaseDevice{fakeDevice: r.dev, tick: 777}
	e, err := engine.New(r.e.Config, engine.Collaborators{Device: tb, Song: r.song, Graph: r.graph, Log: r.e.Log})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	e.Clock.Seek(tahti.FramePos(5000))
	if tick := e.Clock.Tick(); tick != 777 {
		t.Fatalf("tick was %v, expected the timebase tick 777", tick)
	}
}

type timebaseDevice struct {
	*fakeDevice
	tick int64
}

func (d *timebaseDevice) TimebaseTick() (int64, bool) { return d.tick, true }

func TestMIDIQueueTimestamp(t *testing.T) {
	r := newTestRig(t, nil)
	r.dev.cycleFrame = 10000
	r.locate(t, 1000)
	// locate ran one cycle: the cycle started at device frame 10000
	if got := r.e.Clock.MIDIQueueTimestamp(32); got != 10000+1000 {
		t.Fatalf("timestamp was %v, expected %v", got, 11000)
	}
	if got := r.e.Clock.MIDIQueueTimestamp(0); got != 10000 {
		t.Fatalf("timestamp of a past tick was %v, expected %v", got, 10000)
	}
}

func TestMIDIQueueTimestampExtSync(t *testing.T) {
	r := newTestRig(t, func(c *engine.Config) {
		c.ExtSync = true
		c.Division = 96
	})
	dev := newFakeMIDIDevice(0, 64)
	r.e.Ports.Assign(0, dev, false)
	for i := 0; i < 4; i++ {
		dev.clock.Put(tahti.ExtClockEvent{Frame: 20000 + int64(i)*500, Playing: true})
	}
	// the external master is playing but the transport is not: the pulses
	// are kept for the tick conversion
	r.cycle()
	cases := []struct{ tick, want int64 }{
		{0, 20000 + testFrames},
		{4, 20500 + testFrames},
		{9, 21000 + testFrames},
		{1000, 21500 + testFrames},
	}
	for _, c := range cases {
		if got := r.e.Clock.MIDIQueueTimestamp(c.tick); got != c.want {
			t.Fatalf("timestamp of tick %v was %v, expected %v", c.tick, got, c.want)
		}
	}
}

func TestMIDIQueueTimestampWithoutPulses(t *testing.T) {
	r := newTestRig(t, func(c *engine.Config) { c.ExtSync = true })
	r.dev.cycleFrame = 30000
	r.cycle()
	got := r.e.Clock.MIDIQueueTimestamp(96)
	if lo, hi := int64(30000+testFrames), int64(30000+2*testFrames); got < lo || got >= hi {
		t.Fatalf("timestamp was %v, expected one cycle from now in [%v,%v)", got, lo, hi)
	}
}

func TestScheduleMIDIEvent(t *testing.T) {
	r := newTestRig(t, nil)
	dev := newFakeMIDIDevice(0, 16)
	if _, err := r.e.Ports.Assign(0, dev, false); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	r.dev.cycleFrame = 10000
	r.locate(t, 1000)
	stop := runAudio(r)
	err := r.e.Send(context.Background(), engine.ScheduleMIDIEvent{Tick: 32, Msg: midi.NoteOn(0, 60, 100)})
	stop()
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(dev.events) != 1 {
		t.Fatalf("got %v MIDI events, expected 1", len(dev.events))
	}
	// tick 32 is frame 2000, 1000 frames after the position; the cycle it
	// was queued in started at device frame 10000 or one cycle later
	if ev := dev.events[0]; ev.Frame < 11000 || ev.Frame > 11000+testFrames || !bytes.Equal(ev.Msg, midi.NoteOn(0, 60, 100)) {
		t.Fatalf("event was %+v, expected the note at device frame 11000", ev)
	}
}

func TestSetTempoCommandResyncs(t *testing.T) {
	r := newTestRig(t, nil)
	r.dev.state = tahti.DevicePlay
	r.cycle()
	send := func(c engine.Command) {
		t.Helper()
		stop := runAudio(r)
		err := r.e.Send(context.Background(), c)
		stop()
		if err != nil {
			t.Fatalf("Send %v failed: %v", engine.CommandName(c), err)
		}
	}
	// idle cycles leave the position alone
	send(engine.SetIdle{Idle: true})
	tick := r.e.Clock.Tick()
	send(engine.SetTempo{Changes: []tahti.TempoChange{{Tempo: 250000}}})
	if tempo := r.song.tempo.Tempo(0); tempo != 250000 {
		t.Fatalf("tempo was %v, expected 250000", tempo)
	}
	if p := r.e.Clock.Pos(); p != tahti.TickPos(tick) {
		t.Fatalf("position after the tempo change was %+v, expected tick %v", p, tick)
	}
}

func TestFramesSinceCycleStartIsClamped(t *testing.T) {
	r := newTestRig(t, nil)
	r.cycle()
	time.Sleep(50 * time.Millisecond)
	if f := r.e.Clock.FramesSinceCycleStart(); f != testFrames-1 {
		t.Fatalf("frames since cycle start was %v, expected %v", f, testFrames-1)
	}
	if f := r.e.Clock.CurFrame(); f < r.e.Clock.SyncFrame() {
		t.Fatalf("current frame %v is before the cycle start %v", f, r.e.Clock.SyncFrame())
	}
}

func TestReSyncAfterTempoChange(t *testing.T) {
	r := newTestRig(t, nil)
	r.e.Clock.ReSync()
	if p := r.e.Clock.Pos(); p != tahti.FramePos(0) {
		t.Fatalf("ReSync moved a stopped transport to %+v", p)
	}
	r.dev.state = tahti.DevicePlay
	r.cycle()
	if tick := r.e.Clock.Tick(); tick != 8 {
		t.Fatalf("tick was %v, expected 8", tick)
	}
	// twice as fast: 31.25 frames per tick
	r.song.tempo.Set(tahti.TempoChange{Tempo: 250000})
	r.e.Clock.ReSync()
	if p := r.e.Clock.Pos(); p != tahti.TickPos(8) {
		t.Fatalf("position after ReSync was %+v, expected tick 8", p)
	}
	if f := r.e.Clock.Pos().Frame(r.song.tempo); f != 250 {
		t.Fatalf("frame after ReSync was %v, expected 250", f)
	}
	if f := r.e.Clock.CurFramePos(); f < 250 || f >= 250+testFrames {
		t.Fatalf("estimated frame %v is outside the current cycle", f)
	}
}

type countingPrefetcher struct{ seeks int }

func (p *countingPrefetcher) Seek(frame int64, force, wait bool) { p.seeks++ }
func (p *countingPrefetcher) SeekDone() bool                     { return false }
func (p *countingPrefetcher) Tick(recording, playing bool)       {}

func TestFreewheelSkipsPrefetch(t *testing.T) {
	r := newTestRig(t, nil)
	p := &countingPrefetcher{}
	e, err := engine.New(r.e.Config, engine.Collaborators{Device: r.dev, Song: r.song, Graph: r.graph, Prefetch: p, Log: r.e.Log})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.dev.frame = 1000
	r.dev.cycle(e, testFrames)
	if p.seeks != 1 {
		t.Fatalf("prefetcher got %v seeks, expected 1", p.seeks)
	}
	if ready := r.dev.syncReady[len(r.dev.syncReady)-1]; ready {
		t.Fatalf("engine reported ready before the prefetcher was done")
	}
	e.Transport.SetFreewheel(true)
	r.dev.frame = 2000
	r.dev.cycle(e, testFrames)
	if p.seeks != 1 {
		t.Fatalf("prefetcher was asked to seek in freewheel")
	}
	if ready := r.dev.syncReady[len(r.dev.syncReady)-1]; !ready {
		t.Fatalf("engine did not report ready in freewheel")
	}
	if f := e.Clock.Pos().Frame(r.song.tempo); f != 2000 {
		t.Fatalf("engine at %v, expected 2000", f)
	}
}
