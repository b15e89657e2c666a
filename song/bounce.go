package song

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

// BounceFile is a bounce output that collects the mix while the transport
// plays and writes it when closed: headerless samples if the path ends in
// .raw, a wave file otherwise.
type BounceFile struct {
	name   string
	path   string
	format tahti.AudioFormat
	armed  atomic.Bool
	closed atomic.Bool
	queue  *captureQueue

	mu   sync.Mutex
	data []float32
}

func NewBounceFile(name, path string, format tahti.AudioFormat) *BounceFile {
	format.Channels = 2
	b := &BounceFile{name: name, path: path, format: format, queue: newCaptureQueue()}
	b.armed.Store(true)
	return b
}

func (b *BounceFile) Name() string          { return b.name }
func (b *BounceFile) Path() string          { return b.path }
func (b *BounceFile) RecordFlag() bool      { return b.armed.Load() && !b.closed.Load() }
func (b *BounceFile) SetRecordFlag(on bool) { b.armed.Store(on) }
func (b *BounceFile) Dropped() int          { return b.queue.Dropped() }

// Frames returns the number of frames collected so far.
func (b *BounceFile) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) / 2
}

// Capture implements graph.Tap.
func (b *BounceFile) Capture(c engine.Cycle, out tahti.AudioBuffer) {
	if !c.Playing || !b.RecordFlag() {
		return
	}
	b.queue.push(out)
}

func (b *BounceFile) Record() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue.drain(func(buf []float32) { b.data = append(b.data, buf...) })
	return nil
}

// Close collects what is left and writes the file. Closing twice does
// nothing.
func (b *BounceFile) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.Record()
	b.mu.Lock()
	defer b.mu.Unlock()
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(b.path), ".raw") {
		data, err = tahti.Raw(b.data, b.format.PCM16)
	} else {
		data, err = tahti.Wav(b.data, b.format)
	}
	if err != nil {
		return errors.Wrapf(err, "encoding %s", b.path)
	}
	if err := os.WriteFile(b.path, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", b.path)
	}
	return nil
}
