package engine

import (
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
)

// LoopLookahead is how many cycles before the loop end the device is told
// about the jump back to the loop start.
const LoopLookahead = 3

type (
	// LoopWindow is derived each cycle the loop end comes within reach.
	LoopWindow struct {
		Start, End int64 // frames
		Restart    int64
		// Overshoot is how far the lookahead falls short of the loop end,
		// before clamping. Negative when the end is already inside the
		// lookahead.
		Overshoot int64
	}

	// LoopController arms the jump back to the loop start and counts passes.
	LoopController struct {
		e   *Engine
		log logrus.FieldLogger

		window LoopWindow
		count  int
	}
)

func newLoopController(e *Engine) *LoopController {
	return &LoopController{e: e, log: componentLogger(e.Log, "loop")}
}

// FindLoopWindow checks whether the loop end [start, end) falls within the
// lookahead from cur with cycles of frames. The restart frame is the loop
// start minus the overshoot. A negative overshoot is clamped to zero, and so
// is a positive one, as it would restart before the loop start; every pass
// therefore has length end-start.
func FindLoopWindow(start, end, cur int64, frames int) (LoopWindow, bool) {
	b := int64(frames)
	n := end - cur - LoopLookahead*b
	if n >= b {
		return LoopWindow{}, false
	}
	return LoopWindow{Start: start, End: end, Restart: start, Overshoot: n}, true
}

// Check arms the loop if its end is within reach: it releases held sustain
// pedals and asks the device to jump to the restart frame. A LoopDevice jumps
// exactly at the loop end; any other device is located at once and the pass
// ends at the next cycle boundary. The transport becomes LoopArmed.
func (l *LoopController) Check(frames int) bool {
	e := l.e
	tm := e.Song.TempoMap()
	cur := e.Clock.pos.Frame(tm)
	start, end := e.Song.LeftMarker().Frame(tm), e.Song.RightMarker().Frame(tm)
	if end <= start {
		return false
	}
	w, ok := FindLoopWindow(start, end, cur, frames)
	if !ok {
		return false
	}
	l.window = w
	e.Transport.setState(tahti.LoopArmed)
	e.Ports.sendSustain(0)
	l.log.WithFields(logrus.Fields{
		"frame":     cur,
		"restart":   w.Restart,
		"overshoot": w.Overshoot,
	}).Debug("loop armed")
	if d, ok := e.Device.(tahti.LoopDevice); ok {
		d.LoopTransport(w.End, w.Restart)
	} else {
		e.Device.SeekTransport(w.Restart)
	}
	return true
}

// Window returns the last armed loop window.
func (l *LoopController) Window() LoopWindow { return l.window }

// Count returns how many times the loop has restarted in this take.
func (l *LoopController) Count() int { return l.count }
