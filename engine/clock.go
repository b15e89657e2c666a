package engine

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
)

// PositionClock is the transport position. Only the audio thread moves it;
// the frame and tick are mirrored into atomics so other goroutines can
// estimate where playback is right now.
type PositionClock struct {
	e   *Engine
	log logrus.FieldLogger

	pos      tahti.Pos
	curTick  int64
	nextTick int64

	posFrame  atomic.Int64
	tickView  atomic.Int64
	syncFrame atomic.Int64 // device frame at the start of the current cycle
	syncTime  atomic.Int64 // wall clock at the start of the current cycle, ns

	now func() time.Time
}

func newPositionClock(e *Engine) *PositionClock {
	return &PositionClock{e: e, log: componentLogger(e.Log, "clock"), now: time.Now}
}

// Pos returns the position. Audio thread only.
func (c *PositionClock) Pos() tahti.Pos { return c.pos }

// Tick returns the current tick. Under external sync it is advanced by clock
// pulses, not derived from the position. Audio thread only.
func (c *PositionClock) Tick() int64 { return c.curTick }

// TickPos returns the current tick from any goroutine.
func (c *PositionClock) TickPos() int64 { return c.tickView.Load() }

func (c *PositionClock) SyncFrame() int64 { return c.syncFrame.Load() }

// Seek moves the position to p. Seeking to where we already are does
// nothing and returns false.
func (c *PositionClock) Seek(p tahti.Pos) bool {
	e := c.e
	tm := e.Song.TempoMap()
	if c.pos.Equal(p, tm) {
		c.log.WithField("frame", p.Frame(tm)).Debug("seek: already there")
		return false
	}
	c.pos = p
	c.syncFrame.Store(e.Device.FramesAtCycleStart())
	c.curTick = p.Tick(tm)
	if tb, ok := e.Device.(tahti.TimebaseDevice); ok && !e.Config.ExtSync {
		if tick, ok := tb.TimebaseTick(); ok {
			c.curTick = tick
		}
	}
	c.publish(tm)
	for port := range e.Ports.Devices {
		if port.Device.Kind() == tahti.EngineScheduled {
			port.Device.HandleSeek()
		}
	}
	if !e.Transport.Freewheel() {
		e.Prefetch.Seek(p.Frame(tm), true, e.Transport.state == tahti.LoopPending)
	}
	e.Transport.signal(SignalSeek)
	return true
}

// ReSync re-anchors the position on the current tick, after the tempo map
// has changed under a playing transport.
func (c *PositionClock) ReSync() {
	if !c.e.Transport.state.IsPlaying() || !c.e.Device.Check() {
		return
	}
	tm := c.e.Song.TempoMap()
	c.pos = tahti.TickPos(c.curTick)
	c.publish(tm)
	c.markCycle()
}

// FramesSinceCycleStart estimates how far the device is into the current
// cycle. It never reaches the next cycle.
func (c *PositionClock) FramesSinceCycleStart() int64 {
	elapsed := c.now().UnixNano() - c.syncTime.Load()
	f := int64(math.Round(float64(elapsed) * float64(c.e.Config.SampleRate) / 1e9))
	return max(0, min(f, int64(c.e.Config.SegmentSize-1)))
}

// CurFramePos estimates the song frame being heard.
func (c *PositionClock) CurFramePos() int64 {
	f := c.posFrame.Load()
	if c.e.Transport.State().IsPlaying() {
		f += c.FramesSinceCycleStart()
	}
	return f
}

// CurFrame estimates the device frame. It always increases, so it is
// suitable for timestamps.
func (c *PositionClock) CurFrame() int64 {
	return c.syncFrame.Load() + c.FramesSinceCycleStart()
}

// MIDIQueueTimestamp converts tick to the device frame at which an event on
// that tick should be played. Under external sync the tempo map is not
// authoritative and the clock history is used instead; with no pulses in it
// the event is played one cycle from now.
func (c *PositionClock) MIDIQueueTimestamp(tick int64) int64 {
	e := c.e
	if e.Config.ExtSync {
		cur := c.tickView.Load()
		if tick < cur {
			tick = cur
		}
		frame, ok := e.ExtClock.TickToFrame(tick - cur)
		if !ok {
			frame = c.CurFrame()
		}
		return frame + int64(e.Config.SegmentSize)
	}
	fr := e.Song.TempoMap().TickToFrame(tick)
	return max(0, fr-c.posFrame.Load()) + c.syncFrame.Load()
}

func (c *PositionClock) markCycle() {
	c.syncFrame.Store(c.e.Device.FramesAtCycleStart())
	c.syncTime.Store(c.now().UnixNano())
}

func (c *PositionClock) advance(frames int) {
	tm := c.e.Song.TempoMap()
	c.pos = c.pos.AddFrames(int64(frames), tm)
	c.curTick = c.nextTick
	c.publish(tm)
}

func (c *PositionClock) reset(p tahti.Pos) {
	tm := c.e.Song.TempoMap()
	c.pos = p
	c.curTick = p.Tick(tm)
	c.nextTick = c.curTick
	c.publish(tm)
}

func (c *PositionClock) publish(tm tahti.TempoMap) {
	c.posFrame.Store(c.pos.Frame(tm))
	c.tickView.Store(c.curTick)
}
