package engine

import (
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	yaml3 "gopkg.in/yaml.v3"
)

type (
	Config struct {
		SampleRate       int           `yaml:"sampleRate"`
		SegmentSize      int           `yaml:"segmentSize"` // frames per cycle
		Division         int           `yaml:"division"`    // ticks per quarter note
		ExtSync          bool          `yaml:"extSync"`
		SyncInPort       int           `yaml:"syncInPort"`
		RealTimePriority int           `yaml:"realTimePriority"`
		Freewheel        bool          `yaml:"freewheel"`
		LogLevel         string        `yaml:"logLevel"`
		RelayTimeout     time.Duration `yaml:"relayTimeout"`
		SignalCapacity   int           `yaml:"signalCapacity"`
		MIDIPorts        []PortConfig  `yaml:"midiPorts"`
	}

	// PortConfig binds a MIDI port number to driver port names.
	PortConfig struct {
		Port       int    `yaml:"port"`
		Input      string `yaml:"input,omitempty"`
		Output     string `yaml:"output,omitempty"`
		SyncOutput bool   `yaml:"syncOutput,omitempty"` // send start/continue/stop
	}
)

//go:embed config.yml
var defaultConfigYaml []byte

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	var c Config
	if err := yaml.UnmarshalStrict(defaultConfigYaml, &c); err != nil {
		panic(errors.Wrap(err, "failed to unmarshal default config"))
	}
	return c
}

// ReadCustomConfigYml decodes filename from the user's tahti config
// directory into target, which must be a pointer.
func ReadCustomConfigYml(filename string, target any) (exists bool, err error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return false, err
	}
	return readConfigFile(filepath.Join(configDir, "tahti", filename), target)
}

func readConfigFile(path string, target any) (exists bool, err error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return true, errors.Wrapf(yaml3.Unmarshal(bytes, target), "parsing %s", path)
}

// LoadConfig starts from the defaults, applies the user config file if there
// is one, then path if it is not empty. A missing user file is not an error; a
// missing explicit path is.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if exists, err := ReadCustomConfigYml("config.yml", &c); exists && err != nil {
		return c, err
	}
	if path != "" {
		if _, err := readConfigFile(path, &c); err != nil {
			return c, errors.Wrap(err, "reading config")
		}
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.Errorf("sample rate must be positive, got %d", c.SampleRate)
	case c.SegmentSize <= 0:
		return errors.Errorf("segment size must be positive, got %d", c.SegmentSize)
	case c.Division <= 0 || c.Division%24 != 0:
		return errors.Errorf("division must be a positive multiple of 24, got %d", c.Division)
	case c.SyncInPort < 0:
		return errors.Errorf("sync input port must not be negative, got %d", c.SyncInPort)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return errors.Wrap(err, "log level")
		}
	}
	seen := map[int]bool{}
	for _, p := range c.MIDIPorts {
		if p.Port < 0 {
			return errors.Errorf("MIDI port must not be negative, got %d", p.Port)
		}
		if seen[p.Port] {
			return errors.Errorf("MIDI port %d configured twice", p.Port)
		}
		seen[p.Port] = true
	}
	return nil
}
