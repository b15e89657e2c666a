package engine

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type (
	// Prefetch is a Prefetcher with its own goroutine. Seeks refill through
	// Fill; ticks while recording call the writer given to Run, which moves
	// captured audio to disk off the audio thread.
	//
	// For closing, Prefetch has the same Close/Finished pair the rest of the
	// goroutines use: Close has a capacity of 1 so a close request never
	// blocks, and Finished is closed once Run has returned.
	Prefetch struct {
		Fill func(frame int64, force bool) error

		// SeekTimeout bounds how long a waiting seek blocks the caller.
		SeekTimeout time.Duration

		msgs     chan prefetchMsg
		seekAck  chan uint64
		serial   uint64 // of the last waiting seek
		seekDone atomic.Bool
		log      logrus.FieldLogger

		Close    chan struct{}
		Finished chan struct{}
	}

	prefetchMsg struct {
		seek      bool
		serial    uint64
		frame     int64
		force     bool
		wait      bool
		recording bool
	}
)

const (
	defaultSeekTimeout = time.Second
	prefetchQueue      = 64
)

func NewPrefetch(log logrus.FieldLogger) *Prefetch {
	p := &Prefetch{
		SeekTimeout: defaultSeekTimeout,
		msgs:        make(chan prefetchMsg, prefetchQueue),
		seekAck:     make(chan uint64, prefetchQueue),
		log:         componentLogger(log, "prefetch"),
		Close:       make(chan struct{}, 1),
		Finished:    make(chan struct{}),
	}
	p.seekDone.Store(true)
	return p
}

// Seek asks for a refill from frame. With wait it blocks until the refill is
// done, or for at most SeekTimeout. Seek is called from one goroutine only.
func (p *Prefetch) Seek(frame int64, force, wait bool) {
	p.seekDone.Store(false)
	m := prefetchMsg{seek: true, frame: frame, force: force, wait: wait}
	if wait {
		p.serial++
		m.serial = p.serial
	}
	if !TrySend(p.msgs, m) {
		p.log.WithField("frame", frame).Warn("prefetch queue full, seek dropped")
		p.seekDone.Store(true)
		return
	}
	if !wait {
		return
	}
	// acknowledgements of earlier waits that timed out may still arrive
	deadline := time.Now().Add(p.SeekTimeout)
	for {
		serial, ok := TimeoutReceive(p.seekAck, time.Until(deadline))
		if !ok {
			p.log.WithField("frame", frame).Warn("prefetch seek timed out")
			return
		}
		if serial == m.serial {
			return
		}
	}
}

func (p *Prefetch) SeekDone() bool { return p.seekDone.Load() }

func (p *Prefetch) Tick(recording, playing bool) {
	if !recording {
		return
	}
	if !TrySend(p.msgs, prefetchMsg{recording: true}) {
		p.log.Warn("prefetch queue full, write tick dropped")
	}
}

// Run serves requests until Close. write is called on every recording tick.
func (p *Prefetch) Run(write func()) {
	defer close(p.Finished)
	for {
		select {
		case <-p.Close:
			return
		case m := <-p.msgs:
			if m.seek {
				if p.Fill != nil {
					if err := p.Fill(m.frame, m.force); err != nil {
						p.log.WithError(err).WithField("frame", m.frame).Error("prefetch fill failed")
					}
				}
				p.seekDone.Store(true)
				if m.wait {
					TrySend(p.seekAck, m.serial)
				}
				continue
			}
			if m.recording && write != nil {
				write()
			}
		}
	}
}
