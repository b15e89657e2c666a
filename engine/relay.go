package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type (
	// Relay is the only way other goroutines talk to the audio thread. It has
	// two parts:
	//
	// Commands travel through a single slot. Send puts a command with a fresh
	// serial number into the slot and blocks until the audio thread writes the
	// same serial number back. Only one command is in flight engine-wide, so
	// commands are executed strictly in submission order, one per cycle. A
	// sender that gives up (timeout or cancelled context) leaves its command
	// in the slot; it is still executed, and its acknowledgement is discarded
	// by the next sender.
	//
	// Signals travel the other way: the audio thread pushes one byte
	// transport notifications, dropping them when the receiver is not keeping
	// up.
	//
	// The audio thread side (poll, ack, Signal) never blocks.
	Relay struct {
		requests chan request
		acks     chan uint64
		signals  chan Signal

		serial  atomic.Uint64
		running atomic.Bool
		mu      sync.Mutex

		timeout time.Duration
	}

	request struct {
		serial uint64
		cmd    Command
	}
)

const defaultSignalCapacity = 256

func NewRelay(timeout time.Duration, signalCapacity int) (*Relay, error) {
	if signalCapacity < 1 {
		return nil, errors.Errorf("signal channel capacity must be positive, got %d", signalCapacity)
	}
	if timeout <= 0 {
		return nil, errors.Errorf("relay timeout must be positive, got %v", timeout)
	}
	return &Relay{
		requests: make(chan request, 1),
		acks:     make(chan uint64, 2), // one stale + one current
		signals:  make(chan Signal, signalCapacity),
		timeout:  timeout,
	}, nil
}

// Send hands c to the audio thread and waits for its acknowledgement. It
// returns the serial number the command was sent with.
func (r *Relay) Send(ctx context.Context, c Command) (uint64, error) {
	if !r.running.Load() {
		return 0, ErrNotRunning
	}
	r.mu.Lock()
	defer r.mu.Unlock()
drain:
	for {
		select {
		case <-r.acks:
		default:
			break drain
		}
	}
	serial := r.serial.Add(1)
	if !TrySend(r.requests, request{serial: serial, cmd: c}) {
		return 0, ErrRelayBusy
	}
	timeout := time.After(r.timeout)
	for {
		select {
		case s := <-r.acks:
			if s == serial {
				return serial, nil
			}
		case <-ctx.Done():
			return serial, errors.Wrapf(ctx.Err(), "waiting for %s", CommandName(c))
		case <-timeout:
			return serial, errors.Wrapf(ErrTimeout, "waiting for %s", CommandName(c))
		}
	}
}

// Signals returns the channel the audio thread notifies transport changes to.
func (r *Relay) Signals() <-chan Signal { return r.signals }

// Signal sends s without blocking. It returns false if the signal was dropped.
func (r *Relay) Signal(s Signal) bool { return TrySend(r.signals, s) }

// Running reports whether the audio thread is consuming commands.
func (r *Relay) Running() bool { return r.running.Load() }

func (r *Relay) setRunning(v bool) { r.running.Store(v) }

func (r *Relay) poll() (request, bool) {
	select {
	case q := <-r.requests:
		return q, true
	default:
		return request{}, false
	}
}

func (r *Relay) ack(serial uint64) bool { return TrySend(r.acks, serial) }

// TrySend sends v unless c is full. It never blocks; it returns false if v
// was dropped.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive waits at most t for a value from c. ok is false on timeout
// or when c is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
