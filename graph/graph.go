/*
Package graph is the track processing graph the engine renders every cycle.
It keeps the routing, plugin, automation and track flag state changed by
engine commands, renders the metronome click and keeps peak meters of the
output. Taps get a look at every rendered buffer; recording tracks and
bounce outputs use them to capture audio.
*/
package graph

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

type (
	// Graph implements engine.Graph. All methods except the meter and track
	// accessors are called on the audio thread only.
	Graph struct {
		// Locate, if set, is called with the frame of the event found by
		// SeekPrevControllerEvent and SeekNextControllerEvent.
		Locate func(frame int64)

		sampleRate int
		tracks     []*Track
		routes     []Route
		taps       []Tap
		metronome  bool
		pos        int64

		out   tahti.AudioBuffer
		tmp   []float32
		click clickState

		peaks [2]atomic.Uint32 // float32 bits
		log   logrus.FieldLogger
	}

	// Track is the per-track state the graph keeps.
	Track struct {
		Name          string
		Channels      int
		Prefader      bool
		Solo          bool
		Mute          bool
		Off           bool
		SendMetronome bool
		RecordFlag    bool
		RecMonitor    bool
		Automation    engine.AutomationType
		Plugins       []string
		AuxSends      map[int]float64
		Controllers   map[int]*Controller
	}

	// Route connects the output of one track to the input of another.
	Route struct {
		Src, Dst string
	}

	// Tap sees every buffer rendered by the graph, on the audio thread. It
	// must not block.
	Tap interface {
		Capture(c engine.Cycle, out tahti.AudioBuffer)
	}

	clickState struct {
		phase     float64
		remaining int
	}
)

// ErrUnknownTrack is returned for commands naming a track the graph does not
// have.
var ErrUnknownTrack = errors.New("unknown track")

const (
	clickFrequency = 1760 // Hz
	clickLength    = 0.03 // seconds
	clickGain      = 0.5
)

func New(sampleRate int, log logrus.FieldLogger) *Graph {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Graph{sampleRate: sampleRate, metronome: true, log: log.WithField("component", "graph")}
}

// AddTrack adds a track with default settings. Not safe while the engine is
// running.
func (g *Graph) AddTrack(name string) *Track {
	t := &Track{
		Name:        name,
		Channels:    2,
		Automation:  engine.AutomationRead,
		AuxSends:    map[int]float64{},
		Controllers: map[int]*Controller{},
	}
	g.tracks = append(g.tracks, t)
	return t
}

// AddTap adds a tap. Not safe while the engine is running.
func (g *Graph) AddTap(t Tap) { g.taps = append(g.taps, t) }

// SetMetronome turns the click on or off. Not safe while the engine is
// running; send SetSendMetronome instead.
func (g *Graph) SetMetronome(on bool) { g.metronome = on }

// Track returns the named track or nil.
func (g *Graph) Track(name string) *Track {
	for _, t := range g.tracks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (g *Graph) Routes() []Route { return g.routes }

// Output returns the buffer rendered in the last cycle.
func (g *Graph) Output() tahti.AudioBuffer { return g.out }

// Peak returns the highest absolute sample value of a channel since the last
// ResetMeters. Safe from any goroutine.
func (g *Graph) Peak(ch int) float32 {
	return math.Float32frombits(g.peaks[ch].Load())
}

func (g *Graph) Process(c engine.Cycle) {
	g.pos = c.Frame
	g.out = g.out.Resize(c.Frames)
	g.out.Clear()
	if c.Playing && c.Click >= 0 && g.clickEnabled() {
		g.click.remaining = int(clickLength * float64(g.sampleRate))
		g.click.phase = 0
		g.renderClick(g.out[c.Click:])
	} else if g.click.remaining > 0 {
		g.renderClick(g.out)
	}
	g.meter()
	for _, t := range g.taps {
		t.Capture(c, g.out)
	}
}

func (g *Graph) Silence(frames int) {
	g.out = g.out.Resize(frames)
	g.out.Clear()
	g.click.remaining = 0
}

func (g *Graph) ResetMeters() {
	for i := range g.peaks {
		g.peaks[i].Store(0)
	}
}

// ReenableControllers gives touched controllers back to their automation.
func (g *Graph) ReenableControllers() {
	for _, t := range g.tracks {
		for _, c := range t.Controllers {
			c.Overridden = false
		}
	}
}

func (g *Graph) clickEnabled() bool {
	if !g.metronome {
		return false
	}
	for _, t := range g.tracks {
		if t.SendMetronome {
			return true
		}
	}
	return len(g.tracks) == 0
}

func (g *Graph) renderClick(out tahti.AudioBuffer) {
	n := min(len(out), g.click.remaining)
	step := 2 * math.Pi * clickFrequency / float64(g.sampleRate)
	total := clickLength * float64(g.sampleRate)
	for i := 0; i < n; i++ {
		env := float64(g.click.remaining-i) / total
		v := float32(clickGain * env * math.Sin(g.click.phase))
		out[i][0] += v
		out[i][1] += v
		g.click.phase += step
	}
	g.click.remaining -= n
}

func (g *Graph) meter() {
	if len(g.out) == 0 {
		return
	}
	if cap(g.tmp) < len(g.out) {
		g.tmp = make([]float32, len(g.out))
	}
	for ch := range 2 {
		o := g.out.Channel(ch, g.tmp)
		vek32.Abs_Inplace(o)
		p := vek32.Max(o)
		if p > g.Peak(ch) {
			g.peaks[ch].Store(math.Float32bits(p))
		}
	}
}

func (g *Graph) track(name string) (*Track, error) {
	if t := g.Track(name); t != nil {
		return t, nil
	}
	return nil, errors.Wrapf(ErrUnknownTrack, "%q", name)
}

// Execute applies a command to the graph.
func (g *Graph) Execute(cmd engine.Command) error {
	switch c := cmd.(type) {
	case engine.AddRoute:
		if _, err := g.track(c.Src); err != nil {
			return err
		}
		if _, err := g.track(c.Dst); err != nil {
			return err
		}
		r := Route{Src: c.Src, Dst: c.Dst}
		if !slices.Contains(g.routes, r) {
			g.routes = append(g.routes, r)
		}
	case engine.RemoveRoute:
		g.routes = slices.DeleteFunc(g.routes, func(r Route) bool { return r.Src == c.Src && r.Dst == c.Dst })
	case engine.RemoveAllRoutes:
		g.routes = slices.DeleteFunc(g.routes, func(r Route) bool {
			return c.Track == "" || r.Src == c.Track || r.Dst == c.Track
		})
	case engine.StartMidiLearn:
		g.log.Debug("midi learn armed")
	default:
		return g.executeTrack(cmd)
	}
	return nil
}

func (g *Graph) executeTrack(cmd engine.Command) error {
	name, ok := trackOf(cmd)
	if !ok {
		return errors.Errorf("graph cannot execute %s", engine.CommandName(cmd))
	}
	t, err := g.track(name)
	if err != nil {
		return err
	}
	switch c := cmd.(type) {
	case engine.AddPlugin:
		idx := min(max(c.Index, 0), len(t.Plugins))
		t.Plugins = slices.Insert(t.Plugins, idx, c.Plugin)
	case engine.SetPrefader:
		t.Prefader = c.On
	case engine.SetChannels:
		if c.Channels < 1 || c.Channels > 2 {
			return errors.Errorf("track %q: %d channels not supported", name, c.Channels)
		}
		t.Channels = c.Channels
	case engine.SetSolo:
		t.Solo = c.On
	case engine.SetMute:
		t.Mute = c.On
	case engine.SetTrackOff:
		t.Off = c.On
	case engine.SetSendMetronome:
		t.SendMetronome = c.On
	case engine.SetAuxSend:
		t.AuxSends[c.Aux] = c.Level
	case engine.SetAutomationType:
		t.Automation = c.Type
	case engine.SetRecordFlag:
		t.RecordFlag = c.On
	case engine.SetRecMonitor:
		t.RecMonitor = c.On
	case engine.SeekPrevControllerEvent:
		if f, ok := t.controller(c.ID).Prev(g.pos); ok && g.Locate != nil {
			g.Locate(f)
		}
	case engine.SeekNextControllerEvent:
		if f, ok := t.controller(c.ID).Next(g.pos); ok && g.Locate != nil {
			g.Locate(f)
		}
	default:
		return t.executeController(cmd)
	}
	return nil
}

func trackOf(cmd engine.Command) (string, bool) {
	switch c := cmd.(type) {
	case engine.AddPlugin:
		return c.Track, true
	case engine.SetPrefader:
		return c.Track, true
	case engine.SetChannels:
		return c.Track, true
	case engine.SetSolo:
		return c.Track, true
	case engine.SetMute:
		return c.Track, true
	case engine.SetTrackOff:
		return c.Track, true
	case engine.SetSendMetronome:
		return c.Track, true
	case engine.SetAuxSend:
		return c.Track, true
	case engine.SetAutomationType:
		return c.Track, true
	case engine.SetRecordFlag:
		return c.Track, true
	case engine.SetRecMonitor:
		return c.Track, true
	case engine.SwapControllerEvents:
		return c.Track, true
	case engine.ClearControllerEvents:
		return c.Track, true
	case engine.SeekPrevControllerEvent:
		return c.Track, true
	case engine.SeekNextControllerEvent:
		return c.Track, true
	case engine.EraseControllerEvents:
		return c.Track, true
	case engine.AddControllerEvent:
		return c.Track, true
	case engine.ChangeControllerEvent:
		return c.Track, true
	}
	return "", false
}
