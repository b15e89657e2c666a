package engine

import "github.com/pkg/errors"

var (
	ErrNotRunning = errors.New("engine is not running")
	ErrRelayBusy  = errors.New("a command is already in flight")
	ErrTimeout    = errors.New("timed out waiting for the audio thread")
	ErrNoDevice   = errors.New("no audio device")
)
