package song

import (
	"sync"
	"sync/atomic"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

// captureQueue hands rendered buffers from the audio thread to the goroutine
// that writes them. Buffers are recycled through a pool; a full queue drops
// the buffer instead of blocking.
type captureQueue struct {
	bufs    chan *[]float32
	pool    sync.Pool
	dropped atomic.Int64
}

const captureQueueLength = 256

func newCaptureQueue() *captureQueue {
	return &captureQueue{
		bufs: make(chan *[]float32, captureQueueLength),
		pool: sync.Pool{New: func() any { return new([]float32) }},
	}
}

func (q *captureQueue) push(out tahti.AudioBuffer) {
	p := q.pool.Get().(*[]float32)
	*p = out.Interleave((*p)[:0])
	if !engine.TrySend(q.bufs, p) {
		q.dropped.Add(1)
		q.pool.Put(p)
	}
}

// drain calls f for every queued buffer. f must not keep the buffer.
func (q *captureQueue) drain(f func([]float32)) {
	for {
		select {
		case p := <-q.bufs:
			f(*p)
			q.pool.Put(p)
		default:
			return
		}
	}
}

func (q *captureQueue) Dropped() int { return int(q.dropped.Load()) }
