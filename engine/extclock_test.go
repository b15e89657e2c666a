package engine_test

import (
	"testing"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

func extSyncRig(t *testing.T) (*testRig, *fakeMIDIDevice) {
	t.Helper()
	r := newTestRig(t, func(c *engine.Config) { c.ExtSync = true })
	dev := newFakeMIDIDevice(0, tahti.ClockHistoryCapacity+5)
	if _, err := r.e.Ports.Assign(0, dev, false); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	return r, dev
}

func TestClockHistoryOverflow(t *testing.T) {
	r, dev := extSyncRig(t)
	for i := 0; i < tahti.ClockHistoryCapacity+5; i++ {
		dev.clock.Put(tahti.ExtClockEvent{Frame: int64(i), Playing: true})
	}
	r.cycle()
	if n := r.e.ExtClock.Overflows(); n != 5 {
		t.Fatalf("overflows were %v, expected 5", n)
	}
	if n := r.e.ExtClock.Len(); n != tahti.ClockHistoryCapacity {
		t.Fatalf("history length was %v, expected %v", n, tahti.ClockHistoryCapacity)
	}
	if dev.clock.Size(false) != 0 {
		t.Fatalf("device history was not drained")
	}
	// the oldest pulses are the ones kept
	if f, ok := r.e.ExtClock.TickToFrame(0); !ok || f != 0 {
		t.Fatalf("first kept pulse was at frame %v, expected 0", f)
	}
}

func TestClockHistoryKeptBeforeStart(t *testing.T) {
	r, dev := extSyncRig(t)
	for i := 0; i < 3; i++ {
		dev.clock.Put(tahti.ExtClockEvent{Frame: int64(i), Playing: true})
	}
	r.cycle()
	r.cycle()
	if n := r.e.ExtClock.Len(); n != 3 {
		t.Fatalf("history length was %v before the transport started, expected 3", n)
	}
	if !r.e.ExtClock.ExtPlaying() {
		t.Fatalf("external master was not seen playing")
	}
	// once rolling, the kept pulses all count towards the first advance
	r.dev.state = tahti.DevicePlay
	r.cycle()
	if tick := r.e.Clock.Tick(); tick != 3*384/24 {
		t.Fatalf("tick was %v, expected %v", tick, 3*384/24)
	}
	if n := r.e.ExtClock.Len(); n != 0 {
		t.Fatalf("history length was %v after a playing cycle, expected 0", n)
	}
}

func TestClockHistoryClearedWhenNotSynced(t *testing.T) {
	r := newTestRig(t, nil)
	dev := newFakeMIDIDevice(0, 16)
	r.e.Ports.Assign(0, dev, false)
	dev.clock.Put(tahti.ExtClockEvent{Playing: true})
	r.cycle()
	if n := r.e.ExtClock.Len(); n != 0 {
		t.Fatalf("history length was %v without external sync, expected 0", n)
	}
}

func TestOtherPortsHistoryDiscarded(t *testing.T) {
	r, _ := extSyncRig(t)
	other := newFakeMIDIDevice(5, 16)
	r.e.Ports.Assign(5, other, false)
	other.clock.Put(tahti.ExtClockEvent{Playing: true})
	other.clock.Put(tahti.ExtClockEvent{Playing: true})
	r.cycle()
	if other.clock.Size(false) != 0 {
		t.Fatalf("history of a port other than the sync input was kept")
	}
	if n := r.e.ExtClock.Len(); n != 0 {
		t.Fatalf("pulses from port 5 reached the history")
	}
	if other.collect != 1 {
		t.Fatalf("port 5 collected its input %v times, expected 1", other.collect)
	}
}

func TestExtClockStopOnStopRolling(t *testing.T) {
	r, dev := extSyncRig(t)
	dev.clock.Put(tahti.ExtClockEvent{Playing: true})
	r.dev.state = tahti.DevicePlay
	r.cycle()
	r.e.Halt()
	r.cycle()
	if r.e.ExtClock.ExtPlaying() {
		t.Fatalf("external playing flag survived a stop")
	}
}

func TestClockHistoryClearedAtEndOfSong(t *testing.T) {
	r, dev := extSyncRig(t)
	r.song.length = 16
	dev.clock.Put(tahti.ExtClockEvent{Frame: 0, Playing: true})
	r.dev.state = tahti.DevicePlay
	r.cycle()
	if tick := r.e.Clock.Tick(); tick != 16 {
		t.Fatalf("tick was %v, expected 16", tick)
	}
	for i := 1; i <= 2; i++ {
		dev.clock.Put(tahti.ExtClockEvent{Frame: int64(i * 100), Playing: true})
	}
	stops := r.dev.stops
	r.cycle()
	if r.dev.stops != stops+1 {
		t.Fatalf("device transport was not stopped at the end of the song")
	}
	// the device may roll one more cycle before it stops: these pulses must
	// not be counted again then
	if n := r.e.ExtClock.Len(); n != 0 {
		t.Fatalf("history kept %v pulses after the end of the song", n)
	}
}
