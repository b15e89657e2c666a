package engine

import (
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
)

// ClockReconciler merges the external MIDI clock pulses received on the sync
// input port into one history per cycle and turns them into a tick advance.
type ClockReconciler struct {
	e   *Engine
	log logrus.FieldLogger

	history    *tahti.RingBuffer[tahti.ExtClockEvent]
	extPlaying bool
}

func newClockReconciler(e *Engine) *ClockReconciler {
	return &ClockReconciler{
		e:       e,
		log:     componentLogger(e.Log, "extclock"),
		history: tahti.NewRingBuffer[tahti.ExtClockEvent](tahti.ClockHistoryCapacity),
	}
}

// Ingest lets every device collect its input, drains the clock history of
// the device on the sync input port and discards the history of all others.
// Pulses that do not fit are dropped and logged once per cycle.
func (r *ClockReconciler) Ingest() {
	dropped := 0
	for port := range r.e.Ports.Devices {
		dev := port.Device
		dev.CollectMidiEvents()
		src := dev.ExtClockHistory()
		if src == nil {
			continue
		}
		if port.Num != r.e.Config.SyncInPort {
			src.ClearRead()
			continue
		}
		n := src.Size(false)
		for i := 0; i < n; i++ {
			ev, ok := src.Get()
			if !ok {
				break
			}
			r.extPlaying = ev.Playing
			if !r.history.Put(ev) {
				dropped++
			}
		}
	}
	if dropped > 0 {
		r.log.WithFields(logrus.Fields{
			"dropped":  dropped,
			"capacity": r.history.Cap(),
		}).Warn("external clock history overrun")
	}
}

// Advance returns the ticks to advance this cycle: division/24 for every
// pulse received while the external master was playing.
func (r *ClockReconciler) Advance() int64 {
	div := int64(r.e.Config.Division / tahti.ClocksPerQuarterNote)
	var playing int64
	for i := 0; i < r.history.Size(false); i++ {
		if ev, _ := r.history.Peek(i); ev.Playing {
			playing++
		}
	}
	return playing * div
}

// TickToFrame returns the device frame of the pulse offset ticks after the
// current tick. Offsets past the last pulse map to the last pulse. ok is
// false if there is no pulse at all.
func (r *ClockReconciler) TickToFrame(offset int64) (frame int64, ok bool) {
	n := r.history.Size(false)
	if n == 0 {
		return 0, false
	}
	div := int64(r.e.Config.Division / tahti.ClocksPerQuarterNote)
	if div <= 0 {
		return 0, false
	}
	i := int(min(max(offset/div, 0), int64(n-1)))
	ev, _ := r.history.Peek(i)
	return ev.Frame, true
}

// Len returns the number of pulses in the history.
func (r *ClockReconciler) Len() int { return r.history.Size(false) }

// Overflows returns how many pulses have been dropped since start.
func (r *ClockReconciler) Overflows() int { return r.history.Overflows() }

// ExtPlaying reports whether the external master was playing at the last
// received pulse.
func (r *ClockReconciler) ExtPlaying() bool { return r.extPlaying }

// endCycle clears the history, except while an external start has been
// received but the transport is not rolling yet: the tick does not advance
// then, so the pulses are kept until it does.
func (r *ClockReconciler) endCycle(playing bool) {
	if !r.e.Config.ExtSync || !r.extPlaying || playing {
		r.history.ClearRead()
	}
}

func (r *ClockReconciler) reset() {
	r.history.Reset()
	r.extPlaying = false
}
