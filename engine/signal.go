package engine

import "fmt"

// Signal is a one byte transport notification sent to the user interface.
// Signals are best effort: the receiver is expected to re-read the transport
// state whenever it gets one, so a lost signal only delays an update.
type Signal byte

const (
	SignalPlay        Signal = '1'
	SignalStop        Signal = '0'
	SignalSeek        Signal = 'G'
	SignalAbortStart  Signal = '3' // the device gave up starting
	SignalBounceStart Signal = 'f'
	SignalBounceEnd   Signal = 'F'
	SignalBounceAbort Signal = 'A'
	SignalShutdown    Signal = 'S'
)

func (s Signal) String() string {
	switch s {
	case SignalPlay:
		return "play"
	case SignalStop:
		return "stop"
	case SignalSeek:
		return "seek"
	case SignalAbortStart:
		return "abort start"
	case SignalBounceStart:
		return "bounce start"
	case SignalBounceEnd:
		return "bounce end"
	case SignalBounceAbort:
		return "bounce abort"
	case SignalShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("Signal(%q)", byte(s))
}
