package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/cmd"
	"github.com/vsariola/tahti/engine"
	"github.com/vsariola/tahti/gomidi"
	"github.com/vsariola/tahti/graph"
	"github.com/vsariola/tahti/oto"
	"github.com/vsariola/tahti/rpc"
	"github.com/vsariola/tahti/song"
	"github.com/vsariola/tahti/version"
	"gitlab.com/gomidi/midi/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	configPath = flag.StringP("config", "c", "", "read engine settings from `file` on top of the defaults")
	songPath   = flag.StringP("song", "s", "", "load the song from `file`; recorded takes are saved back to it")
	midiInput  = flag.String("midi-input", "", "open the first MIDI input whose name starts with this prefix on port 0")
	midiOutput = flag.String("midi-output", "", "open the first MIDI output whose name starts with this prefix on port 0")
	bounceOut  = flag.StringP("bounce", "b", "", "render from the left to the right marker into wave `file` and exit")
	pcm        = flag.Bool("pcm", false, "write 16-bit PCM instead of 32-bit float when bouncing")
	loop       = flag.BoolP("loop", "l", false, "loop between the left and right markers")
	record     = flag.BoolP("record", "r", false, "record armed tracks while playing")
	play       = flag.BoolP("play", "p", false, "start playing right away")
	extSync    = flag.Bool("ext-sync", false, "follow the MIDI clock on the sync input port")
	rpcAddr    = flag.String("rpc", "", "serve remote transport control on `address`, e.g. localhost:31337")
	logLevel   = flag.String("log-level", "", "override the configured log level")
	versionArg = flag.BoolP("version", "v", false, "print version and exit")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if *versionArg {
		fmt.Println(version.VersionOrHash)
		os.Exit(0)
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tahti-transport: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "could not load config")
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *extSync {
		cfg.ExtSync = true
	}
	if *midiInput != "" || *midiOutput != "" {
		cfg.MIDIPorts = append(cfg.MIDIPorts, engine.PortConfig{Port: 0, Input: *midiInput, Output: *midiOutput, SyncOutput: *midiOutput != ""})
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}
	log, err := engine.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	s, err := loadSong(cfg, log)
	if err != nil {
		return err
	}
	if *loop {
		s.SetLoop(true)
	}
	if *record {
		s.SetRecord(true)
	}

	g := graph.New(cfg.SampleRate, log)
	for _, name := range waveTrackNames(s) {
		t := s.WaveTrack(name)
		g.AddTrack(name).Channels = t.Channels()
		g.AddTap(t)
	}
	for _, t := range s.MidiTracks() {
		g.AddTrack(t.Name())
	}
	var bounce *song.BounceFile
	if *bounceOut != "" {
		bounce = song.NewBounceFile("bounce", *bounceOut, tahti.AudioFormat{SampleRate: cfg.SampleRate, PCM16: *pcm})
		s.AddOutput(bounce)
		s.SetBounce(bounce)
		g.AddTap(bounce)
	}

	dev := oto.NewDevice(cfg.SampleRate, cfg.SegmentSize, log)
	dev.Offline = bounce != nil
	dev.Source = g
	prefetch := engine.NewPrefetch(log)
	ports := engine.NewPorts(log)
	e, err := engine.New(cfg, engine.Collaborators{
		Device:   dev,
		Song:     s,
		Graph:    g,
		Prefetch: prefetch,
		Ports:    ports,
		Log:      log,
	})
	if err != nil {
		return errors.Wrap(err, "could not create engine")
	}
	dev.Engine = e
	g.Locate = func(frame int64) { e.Locate(tahti.FramePos(frame)) }
	go prefetch.Run(e.Rec.WriteTick)
	defer func() {
		prefetch.Close <- struct{}{}
		<-prefetch.Finished
	}()

	midiContext := openMIDI(cfg, e, s, ports, log)
	defer midiContext.Close()

	if *rpcAddr != "" {
		srv, err := rpc.Listen(*rpcAddr, e, log)
		if err != nil {
			return errors.Wrap(err, "could not start rpc server")
		}
		defer srv.Close()
		log.WithField("address", srv.Addr()).Info("rpc server listening")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go printSignals(ctx, e, log)

	if err := e.Start(); err != nil {
		return err
	}
	defer e.Stop()

	if bounce != nil {
		return runBounce(ctx, e, dev, bounce, log)
	}
	if *play {
		e.Play()
	}
	<-ctx.Done()
	e.Halt()
	waitStopped(e, time.Second)
	if e.Rec.IsRecording() || s.Record() {
		if err := e.RecordStop(false, nil); err != nil {
			log.WithError(err).Error("could not commit the take")
		}
	}
	if *songPath != "" && s.CanUndo() {
		if err := s.Save(*songPath); err != nil {
			return errors.Wrap(err, "could not save song")
		}
		log.WithField("song", *songPath).Info("song saved")
	}
	return nil
}

// waitStopped gives the audio thread time to act on a stop request.
func waitStopped(e *engine.Engine, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for e.Status().State != tahti.Stopped && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func loadSong(cfg engine.Config, log logrus.FieldLogger) (*song.Song, error) {
	if *songPath == "" {
		return song.New(cfg.SampleRate, cfg.Division, log), nil
	}
	s, err := song.Load(*songPath, cfg.SampleRate, log)
	if os.IsNotExist(errors.Cause(err)) {
		log.WithField("song", *songPath).Info("song does not exist yet, starting empty")
		return song.New(cfg.SampleRate, cfg.Division, log), nil
	}
	return s, errors.Wrap(err, "could not load song")
}

func waveTrackNames(s *song.Song) []string {
	var names []string
	for _, t := range s.WaveTracks() {
		names = append(names, t.Name())
	}
	return names
}

// openMIDI opens the configured MIDI ports. A port that cannot be opened is
// logged and skipped; the transport runs without it.
func openMIDI(cfg engine.Config, e *engine.Engine, s *song.Song, ports *engine.Ports, log logrus.FieldLogger) *gomidi.Context {
	driver, err := cmd.NewMidiDriver()
	if err != nil && len(cfg.MIDIPorts) > 0 {
		log.WithError(err).Warn("MIDI is not available")
	}
	c := gomidi.NewContext(driver, cfg.SampleRate, log)
	var tracks []*song.MidiTrack
	for _, t := range s.MidiTracks() {
		tracks = append(tracks, s.MidiTrack(t.Name()))
	}
	for _, pc := range cfg.MIDIPorts {
		d, err := c.OpenBy(pc.Port, pc.Input, pc.Output)
		if err != nil {
			log.WithError(err).WithField("port", pc.Port).Warn("could not open MIDI port")
			continue
		}
		d.Clock = e.Clock.CurFrame
		d.Record = func(msg midi.Message) {
			if !e.Rec.IsRecording() {
				return
			}
			tick := e.Rec.TakeTick()
			for _, t := range tracks {
				t.Capture(tick, msg)
			}
		}
		if cfg.ExtSync && pc.Port == cfg.SyncInPort {
			d.Transport = func(msg midi.Message) { followTransport(e, msg) }
		}
		if _, err := ports.Assign(pc.Port, d, pc.SyncOutput); err != nil {
			log.WithError(err).Warn("could not assign MIDI port")
		}
	}
	return c
}

// followTransport starts and stops the transport from the external master.
func followTransport(e *engine.Engine, msg midi.Message) {
	switch msg[0] {
	case 0xFA:
		e.Locate(tahti.FramePos(0))
		e.Play()
	case 0xFB:
		e.Play()
	case 0xFC:
		e.Halt()
	}
}

func printSignals(ctx context.Context, e *engine.Engine, log logrus.FieldLogger) {
	title := cases.Title(language.English)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-e.Relay.Signals():
			st := e.Status()
			log.WithFields(logrus.Fields{
				"state": title.String(st.State.String()),
				"frame": st.Frame,
				"tick":  st.Tick,
			}).Info(sig.String())
		}
	}
}

// runBounce renders the song offline until the bounce ends and writes the
// file.
func runBounce(ctx context.Context, e *engine.Engine, dev *oto.Device, b *song.BounceFile, log logrus.FieldLogger) error {
	if err := e.Bounce(); err != nil {
		return err
	}
	done := func() bool { return !e.Status().Bouncing }
	if err := dev.RunOffline(ctx, done, e.Rec.WriteTick); err != nil {
		b.Close()
		return err
	}
	e.Halt()
	dev.Cycle(dev.SegmentSize)
	if err := e.RecordStop(false, nil); err != nil {
		return errors.Wrap(err, "could not finish the bounce")
	}
	if err := b.Close(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"file": b.Path(), "frames": b.Frames(), "dropped": b.Dropped()}).Info("bounce written")
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "tahti-transport runs the transport of a song on the sound card or renders it offline.\nUsage: %s [flags]\n", os.Args[0])
	flag.PrintDefaults()
}
