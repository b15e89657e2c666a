package song

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
	"gopkg.in/yaml.v3"
)

type (
	// File is the on-disk form of a song. Positions are in ticks.
	File struct {
		Division   int                 `yaml:",omitempty"`
		Tempo      []tahti.TempoChange `yaml:",omitempty"`
		Length     int64               `yaml:",omitempty"`
		Loop       bool                `yaml:",omitempty"`
		Left       int64               `yaml:",omitempty"`
		Right      int64               `yaml:",omitempty"`
		Cursor     int64               `yaml:",omitempty"`
		WaveTracks []WaveTrackFile     `yaml:",omitempty"`
		MidiTracks []MidiTrackFile     `yaml:",omitempty"`
	}

	WaveTrackFile struct {
		Name     string
		Channels int    `yaml:",omitempty"`
		Record   bool   `yaml:",omitempty"`
		Parts    []Part `yaml:",omitempty"`
	}

	MidiTrackFile struct {
		Name   string
		Record bool        `yaml:",omitempty"`
		Events []EventFile `yaml:",omitempty"`
	}

	EventFile struct {
		Tick int64
		Len  int64 `yaml:",omitempty"`
		Msg  []int `yaml:",flow"`
	}
)

const defaultDivision = 384

// Read parses a song file.
func Read(data []byte, sampleRate int, log logrus.FieldLogger) (*Song, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing song")
	}
	return f.Song(sampleRate, log)
}

func Load(path string, sampleRate int, log logrus.FieldLogger) (*Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading song")
	}
	s, err := Read(data, sampleRate, log)
	return s, errors.Wrapf(err, "loading %s", path)
}

// Song builds a song from the file.
func (f *File) Song(sampleRate int, log logrus.FieldLogger) (*Song, error) {
	division := f.Division
	if division == 0 {
		division = defaultDivision
	}
	if division < 0 {
		return nil, errors.Errorf("division %d must be positive", division)
	}
	s := New(sampleRate, division, log)
	s.Tempo().Set(f.Tempo...)
	if f.Length > 0 {
		s.SetLen(f.Length)
	}
	s.SetLoop(f.Loop)
	s.SetLeftMarker(tahti.TickPos(f.Left))
	s.SetRightMarker(tahti.TickPos(f.Right))
	s.SetCursor(tahti.TickPos(f.Cursor))
	names := map[string]bool{}
	for _, w := range f.WaveTracks {
		if err := checkName(names, w.Name); err != nil {
			return nil, err
		}
		ch := w.Channels
		if ch == 0 {
			ch = 2
		}
		t := s.AddWaveTrack(w.Name, ch)
		t.SetRecordFlag(w.Record)
		t.parts = w.Parts
	}
	for _, m := range f.MidiTracks {
		if err := checkName(names, m.Name); err != nil {
			return nil, err
		}
		t := s.AddMidiTrack(m.Name)
		t.SetRecordFlag(m.Record)
		for _, e := range m.Events {
			msg := make(midi.Message, len(e.Msg))
			for i, b := range e.Msg {
				if b < 0 || b > 0xff {
					return nil, errors.Errorf("track %q: byte %d out of range", m.Name, b)
				}
				msg[i] = byte(b)
			}
			t.events = append(t.events, Event{Tick: e.Tick, Len: e.Len, Msg: msg})
		}
	}
	return s, nil
}

func checkName(names map[string]bool, name string) error {
	if name == "" {
		return errors.New("track without a name")
	}
	if names[name] {
		return errors.Errorf("duplicate track %q", name)
	}
	names[name] = true
	return nil
}

// File returns the on-disk form of the song. Recorded audio is not part of
// it; see Save.
func (s *Song) File() File {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm := s.Tempo()
	f := File{
		Division: tm.Division,
		Tempo:    tm.Changes(),
		Length:   s.Len(),
		Loop:     s.Loop(),
		Left:     s.LeftMarker().Tick(tm),
		Right:    s.RightMarker().Tick(tm),
		Cursor:   s.Cursor().Tick(tm),
	}
	for _, t := range s.waves {
		f.WaveTracks = append(f.WaveTracks, WaveTrackFile{Name: t.name, Channels: t.channels, Record: t.RecordFlag(), Parts: t.parts})
	}
	for _, t := range s.midis {
		m := MidiTrackFile{Name: t.name, Record: t.RecordFlag()}
		for _, e := range t.events {
			ev := EventFile{Tick: e.Tick, Len: e.Len}
			for _, b := range e.Msg {
				ev.Msg = append(ev.Msg, int(b))
			}
			m.Events = append(m.Events, ev)
		}
		f.MidiTracks = append(f.MidiTracks, m)
	}
	return f
}

func (s *Song) Marshal() ([]byte, error) {
	f := s.File()
	return yaml.Marshal(&f)
}

// Save writes the song to path. Recorded parts that have not been saved yet
// are written as wave files next to it.
func (s *Song) Save(path string) error {
	if err := s.saveParts(path); err != nil {
		return err
	}
	data, err := s.Marshal()
	if err != nil {
		return errors.Wrap(err, "encoding song")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "writing %s", path)
}

func (s *Song) saveParts(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	format := tahti.AudioFormat{SampleRate: s.Tempo().SampleRate, Channels: 2}
	for _, t := range s.waves {
		for i := range t.parts {
			p := &t.parts[i]
			if p.File != "" || len(p.Samples) == 0 {
				continue
			}
			name := fmt.Sprintf("%s-%s-%d.wav", base, t.name, i+1)
			wav, err := tahti.Wav(p.Samples, format)
			if err != nil {
				return errors.Wrapf(err, "encoding part %d of %s", i+1, t.name)
			}
			if err := os.WriteFile(filepath.Join(dir, name), wav, 0644); err != nil {
				return errors.Wrapf(err, "writing part %d of %s", i+1, t.name)
			}
			p.File = name
		}
	}
	return nil
}
