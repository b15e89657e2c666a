package engine_test

import (
	"testing"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

func TestFindLoopWindow(t *testing.T) {
	const start, end, frames = 48000, 96000, 512
	for _, tc := range []struct {
		cur       int64
		armed     bool
		overshoot int64
	}{
		{cur: 90000, armed: false},
		{cur: end - 3*frames - frames, armed: false},
		{cur: end - 3*frames - frames + 1, armed: true, overshoot: frames - 1},
		{cur: end - 3*frames, armed: true, overshoot: 0},
		{cur: 95800, armed: true, overshoot: -1336},
	} {
		w, ok := engine.FindLoopWindow(start, end, tc.cur, frames)
		if ok != tc.armed {
			t.Fatalf("at %v: armed %v, expected %v", tc.cur, ok, tc.armed)
		}
		if !ok {
			continue
		}
		if w.Overshoot != tc.overshoot {
			t.Fatalf("at %v: overshoot %v, expected %v", tc.cur, w.Overshoot, tc.overshoot)
		}
		if end-w.Restart != end-start {
			t.Fatalf("at %v: restart %v does not keep the loop length", tc.cur, w.Restart)
		}
	}
}

func loopRig(t *testing.T, start, end int64) *testRig {
	t.Helper()
	r := newTestRig(t, nil)
	r.song.loop = true
	r.song.left = tahti.FramePos(start)
	r.song.right = tahti.FramePos(end)
	return r
}

func TestLoopPassLength(t *testing.T) {
	const start, end = 48000, 96000
	r := loopRig(t, start, end)
	r.locate(t, start)
	r.dev.state = tahti.DevicePlay
	for i := 0; r.e.Loop.Count() < 3; i++ {
		if i > 1000 {
			t.Fatalf("loop restarted only %v times", r.e.Loop.Count())
		}
		r.cycle()
	}
	var passes []int64
	var played, prevEnd int64
	for _, c := range r.graph.cycles {
		if !c.Playing {
			continue
		}
		if c.Frame == start && played > 0 {
			if prevEnd != end {
				t.Fatalf("pass %d ended at %v, expected the loop end %v", len(passes), prevEnd, end)
			}
			passes = append(passes, played)
			played = 0
		}
		played += int64(c.Frames)
		prevEnd = c.Frame + int64(c.Frames)
	}
	if len(passes) != 3 {
		t.Fatalf("got %v complete passes, expected 3", len(passes))
	}
	for i, p := range passes {
		if p != end-start {
			t.Fatalf("pass %d played %v frames, expected %v", i, p, end-start)
		}
	}
}

func TestLoopOnDeviceWithoutLoopSupport(t *testing.T) {
	r := loopRig(t, 48000, 96000)
	e, err := engine.New(r.e.Config, engine.Collaborators{Device: seekOnlyDevice{r.dev}, Song: r.song, Graph: r.graph, Log: r.e.Log})
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.e = e
	r.locate(t, 95800)
	r.dev.state = tahti.DevicePlay
	r.cycle()
	if s := r.e.Transport.State(); s != tahti.LoopArmed {
		t.Fatalf("transport state was %v, expected %v", s, tahti.LoopArmed)
	}
	if last := r.dev.seeks[len(r.dev.seeks)-1]; last != 48000 {
		t.Fatalf("device was located to %v, expected 48000", last)
	}
	r.cycle()
	if s := r.e.Transport.State(); s != tahti.LoopPending {
		t.Fatalf("transport state was %v, expected %v", s, tahti.LoopPending)
	}
	r.cycle()
	if s := r.e.Transport.State(); s != tahti.Playing {
		t.Fatalf("transport state was %v, expected %v", s, tahti.Playing)
	}
	if c := r.e.Loop.Count(); c != 1 {
		t.Fatalf("loop count was %v, expected 1", c)
	}
	if f := r.e.Clock.Pos().Frame(r.song.tempo); f != 48000+testFrames {
		t.Fatalf("position was %v, expected %v", f, 48000+testFrames)
	}
}
