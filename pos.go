package tahti

type (
	// TempoMap converts between musical ticks and audio frames.
	TempoMap interface {
		TickToFrame(tick int64) int64
		FrameToTick(frame int64) int64
	}

	// PosUnit tells in which coordinate a Pos stores its value.
	PosUnit int

	// Pos is a position in the composition, stored either as a frame or as a
	// tick. Conversions go through a TempoMap, so a Pos stays correct when the
	// tempo map changes under a tick-based position.
	Pos struct {
		Unit  PosUnit
		Value int64
	}
)

const (
	Frames PosUnit = iota
	Ticks
)

func FramePos(frame int64) Pos { return Pos{Unit: Frames, Value: frame} }
func TickPos(tick int64) Pos   { return Pos{Unit: Ticks, Value: tick} }

// Frame returns the position in frames.
func (p Pos) Frame(m TempoMap) int64 {
	if p.Unit == Frames {
		return p.Value
	}
	return m.TickToFrame(p.Value)
}

// Tick returns the position in ticks.
func (p Pos) Tick(m TempoMap) int64 {
	if p.Unit == Ticks {
		return p.Value
	}
	return m.FrameToTick(p.Value)
}

// AddFrames returns a frame-based position frames after p.
func (p Pos) AddFrames(frames int64, m TempoMap) Pos {
	return FramePos(p.Frame(m) + frames)
}

// Equal compares two positions by their underlying frame.
func (p Pos) Equal(q Pos, m TempoMap) bool {
	if p.Unit == q.Unit {
		return p.Value == q.Value
	}
	return p.Frame(m) == q.Frame(m)
}

// Less reports whether p is before q.
func (p Pos) Less(q Pos, m TempoMap) bool {
	return p.Frame(m) < q.Frame(m)
}
