package song

import "slices"

// snapshot is the undoable part of the song: what takes add to the tracks.
// Record flags are not part of the history.
type snapshot struct {
	parts  [][]Part
	events [][]Event
}

func (s *Song) snapshot() snapshot {
	var r snapshot
	for _, t := range s.waves {
		r.parts = append(r.parts, slices.Clone(t.parts))
	}
	for _, t := range s.midis {
		r.events = append(r.events, slices.Clone(t.events))
	}
	return r
}

func (s *Song) restore(r snapshot) {
	for i, t := range s.waves {
		t.parts = r.parts[i]
	}
	for i, t := range s.midis {
		t.events = r.events[i]
	}
}

func pushSnapshot(stack []snapshot, r snapshot) []snapshot {
	stack = append(stack, r)
	if len(stack) > maxUndo {
		copy(stack, stack[len(stack)-maxUndo:])
		stack = stack[:maxUndo]
	}
	return stack
}

func (s *Song) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack) > 0
}

func (s *Song) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redoStack) > 0
}

// Undo reverts the last applied take. It returns false if there is nothing
// to undo.
func (s *Song) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undoStack) == 0 {
		return false
	}
	s.redoStack = pushSnapshot(s.redoStack, s.snapshot())
	s.restore(s.undoStack[len(s.undoStack)-1])
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	return true
}

func (s *Song) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.redoStack) == 0 {
		return false
	}
	s.undoStack = pushSnapshot(s.undoStack, s.snapshot())
	s.restore(s.redoStack[len(s.redoStack)-1])
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	return true
}
