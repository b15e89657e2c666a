package graph

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
	"github.com/vsariola/tahti/engine"
)

type (
	// Controller is an automated track parameter.
	Controller struct {
		ID     int
		Events []ControllerEvent // sorted by frame
		// Overridden is set when the user has touched the parameter while
		// its automation was in touch or latch mode.
		Overridden bool
	}

	ControllerEvent struct {
		Frame int64
		Value float64
	}
)

func (c *Controller) add(frame int64, value float64) {
	i, found := slices.BinarySearchFunc(c.Events, frame, func(e ControllerEvent, f int64) int { return cmp.Compare(e.Frame, f) })
	if found {
		c.Events[i].Value = value
		return
	}
	c.Events = slices.Insert(c.Events, i, ControllerEvent{Frame: frame, Value: value})
}

func (c *Controller) remove(frame int64) bool {
	n := len(c.Events)
	c.Events = slices.DeleteFunc(c.Events, func(e ControllerEvent) bool { return e.Frame == frame })
	return len(c.Events) != n
}

// Prev returns the frame of the last event before frame.
func (c *Controller) Prev(frame int64) (int64, bool) {
	for i := len(c.Events) - 1; i >= 0; i-- {
		if c.Events[i].Frame < frame {
			return c.Events[i].Frame, true
		}
	}
	return 0, false
}

// Next returns the frame of the first event after frame.
func (c *Controller) Next(frame int64) (int64, bool) {
	for _, e := range c.Events {
		if e.Frame > frame {
			return e.Frame, true
		}
	}
	return 0, false
}

func (t *Track) controller(id int) *Controller {
	c, ok := t.Controllers[id]
	if !ok {
		c = &Controller{ID: id}
		t.Controllers[id] = c
	}
	return c
}

func (t *Track) executeController(cmd engine.Command) error {
	switch c := cmd.(type) {
	case engine.AddControllerEvent:
		ctl := t.controller(c.ID)
		ctl.add(c.Frame, c.Value)
		if t.Automation == engine.AutomationTouch || t.Automation == engine.AutomationLatch {
			ctl.Overridden = true
		}
	case engine.ChangeControllerEvent:
		ctl := t.controller(c.ID)
		if !ctl.remove(c.Frame) {
			return errors.Errorf("track %q controller %d: no event at frame %d", t.Name, c.ID, c.Frame)
		}
		ctl.add(c.NewFrame, c.Value)
	case engine.EraseControllerEvents:
		ctl := t.controller(c.ID)
		ctl.Events = slices.DeleteFunc(ctl.Events, func(e ControllerEvent) bool { return e.Frame >= c.From && e.Frame < c.To })
	case engine.ClearControllerEvents:
		t.controller(c.ID).Events = nil
	case engine.SwapControllerEvents:
		a, b := t.controller(c.IDs[0]), t.controller(c.IDs[1])
		a.Events, b.Events = b.Events, a.Events
	default:
		return errors.Errorf("graph cannot execute %s", engine.CommandName(cmd))
	}
	return nil
}
