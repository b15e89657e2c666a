package engine

import "github.com/vsariola/tahti"

type (
	// UndoOp is one reversible song edit produced when a take is finished.
	UndoOp interface {
		undoOp()
	}

	AddRecordedWave struct {
		Track      string
		Start, End tahti.Pos
	}

	AddRecordedEvents struct {
		Track     string
		StartTick int64
		Events    []RecordedEvent
	}

	SetTrackRecord struct {
		Track       string
		On          bool
		NonUndoable bool
	}

	// UndoLog is an ordered group of operations, applied atomically by the
	// song.
	UndoLog struct {
		Ops []UndoOp
	}
)

func (AddRecordedWave) undoOp()   {}
func (AddRecordedEvents) undoOp() {}
func (SetTrackRecord) undoOp()    {}

func (u *UndoLog) Add(op UndoOp) { u.Ops = append(u.Ops, op) }
func (u *UndoLog) Len() int      { return len(u.Ops) }

// Undoable reports whether applying the log leaves anything to undo.
func (u *UndoLog) Undoable() bool {
	for _, op := range u.Ops {
		if r, ok := op.(SetTrackRecord); ok && r.NonUndoable {
			continue
		}
		return true
	}
	return false
}
