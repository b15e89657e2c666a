// Package gomidi connects the engine's MIDI ports to the gomidi drivers.
package gomidi

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

type Context struct {
	driver     drivers.Driver
	sampleRate int
	devices    []*Device
	log        logrus.FieldLogger
}

var ErrNoDriver = errors.New("no MIDI driver available")

// NewContext wraps driver, which may be nil when no MIDI driver could be
// opened; every open then fails with ErrNoDriver.
func NewContext(driver drivers.Driver, sampleRate int, log logrus.FieldLogger) *Context {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Context{driver: driver, sampleRate: sampleRate, log: log}
}

func (c *Context) Inputs(yield func(drivers.In) bool) {
	if c.driver == nil {
		return
	}
	ins, err := c.driver.Ins()
	if err != nil {
		c.log.WithError(err).Warn("listing midi inputs failed")
		return
	}
	for _, in := range ins {
		if !yield(in) {
			return
		}
	}
}

func (c *Context) Outputs(yield func(drivers.Out) bool) {
	if c.driver == nil {
		return
	}
	outs, err := c.driver.Outs()
	if err != nil {
		c.log.WithError(err).Warn("listing midi outputs failed")
		return
	}
	for _, out := range outs {
		if !yield(out) {
			return
		}
	}
}

// OpenBy opens engine port num on the first input whose name starts with
// inPrefix and the first output whose name starts with outPrefix. An empty
// prefix leaves that direction unused.
func (c *Context) OpenBy(num int, inPrefix, outPrefix string) (*Device, error) {
	if c.driver == nil {
		return nil, ErrNoDriver
	}
	if inPrefix == "" && outPrefix == "" {
		return nil, errors.New("no MIDI input or output given")
	}
	if num < 0 || num >= tahti.MaxMIDIPorts {
		return nil, errors.Errorf("port %d out of range", num)
	}
	var names []string
	d := newDevice(num, "", c.sampleRate, c.log)
	if inPrefix != "" {
		in, ok := findBy(c.Inputs, inPrefix)
		if !ok {
			return nil, errors.Errorf("could not find a MIDI input starting with %q", inPrefix)
		}
		if err := d.listen(in); err != nil {
			return nil, err
		}
		names = append(names, in.String())
	}
	if outPrefix != "" {
		out, ok := findBy(c.Outputs, outPrefix)
		if !ok {
			d.Close()
			return nil, errors.Errorf("could not find a MIDI output starting with %q", outPrefix)
		}
		if err := d.openOutput(out); err != nil {
			d.Close()
			return nil, err
		}
		names = append(names, out.String())
	}
	d.name = strings.Join(names, " / ")
	c.devices = append(c.devices, d)
	c.log.WithFields(logrus.Fields{"port": num, "device": d.name}).Info("midi port opened")
	return d, nil
}

func findBy[T interface{ String() string }](ports func(func(T) bool), prefix string) (T, bool) {
	for p := range ports {
		if strings.HasPrefix(p.String(), prefix) {
			return p, true
		}
	}
	var zero T
	return zero, false
}

func (d *Device) listen(in drivers.In) error {
	if err := in.Open(); err != nil {
		return errors.Wrapf(err, "opening MIDI input %s failed", in)
	}
	d.in = in
	d.history = tahti.NewRingBuffer[tahti.ExtClockEvent](tahti.ClockHistoryCapacity)
	stop, err := midi.ListenTo(in, d.handleMessage, midi.UseTimeCode())
	if err != nil {
		in.Close()
		d.in = nil
		return errors.Wrapf(err, "listening to MIDI input %s failed", in)
	}
	d.stopListen = stop
	return nil
}

func (d *Device) openOutput(out drivers.Out) error {
	if err := out.Open(); err != nil {
		return errors.Wrapf(err, "opening MIDI output %s failed", out)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		out.Close()
		return errors.Wrapf(err, "sending to MIDI output %s failed", out)
	}
	d.out = out
	d.send = send
	go d.run()
	return nil
}

// Close closes every opened device and the driver.
func (c *Context) Close() error {
	var err error
	for _, d := range c.devices {
		if e := d.Close(); err == nil {
			err = e
		}
	}
	c.devices = nil
	if c.driver != nil {
		if e := c.driver.Close(); err == nil {
			err = e
		}
	}
	return errors.Wrap(err, "closing MIDI")
}
