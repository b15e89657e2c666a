// Package rpc is remote control of the transport over net/rpc: play, stop,
// locate, tempo, a few track and MIDI commands and the transport status.
package rpc

import (
	"context"
	"net"
	"net/http"
	"net/rpc"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
)

type (
	// Controller is what the server drives, normally an *engine.Engine.
	Controller interface {
		Play()
		Halt()
		Locate(p tahti.Pos)
		Send(ctx context.Context, c engine.Command) error
		Status() engine.Status
	}

	// Transport is the service registered with the RPC server.
	Transport struct {
		c   Controller
		log logrus.FieldLogger
	}

	LocateArgs struct {
		Value int64
		Ticks bool // Value is a tick instead of a frame
	}

	TrackArgs struct {
		Track string
		On    bool
	}

	MIDIArgs struct {
		Port int
		Tick int64
		Msg  []byte
	}

	Server struct {
		listener net.Listener
		done     chan struct{}
	}

	Client struct {
		c *rpc.Client
	}
)

const serviceName = "Transport"

// Play starts the transport. net/rpc needs an argument; it is ignored.
func (t *Transport) Play(_ int, reply *engine.Status) error {
	t.log.Debug("play")
	t.c.Play()
	*reply = t.c.Status()
	return nil
}

func (t *Transport) Stop(_ int, reply *engine.Status) error {
	t.log.Debug("stop")
	t.c.Halt()
	*reply = t.c.Status()
	return nil
}

func (t *Transport) Locate(args LocateArgs, reply *engine.Status) error {
	if args.Value < 0 {
		return errors.Errorf("cannot locate to %d", args.Value)
	}
	p := tahti.FramePos(args.Value)
	if args.Ticks {
		p = tahti.TickPos(args.Value)
	}
	t.log.WithField("pos", p).Debug("locate")
	t.c.Locate(p)
	*reply = t.c.Status()
	return nil
}

func (t *Transport) Status(_ int, reply *engine.Status) error {
	*reply = t.c.Status()
	return nil
}

func (t *Transport) SetMute(args TrackArgs, reply *int) error {
	return t.send(engine.SetMute{Track: args.Track, On: args.On})
}

func (t *Transport) SetSolo(args TrackArgs, reply *int) error {
	return t.send(engine.SetSolo{Track: args.Track, On: args.On})
}

func (t *Transport) SetRecordFlag(args TrackArgs, reply *int) error {
	return t.send(engine.SetRecordFlag{Track: args.Track, On: args.On})
}

func (t *Transport) Panic(_ int, reply *int) error {
	return t.send(engine.Panic{})
}

func (t *Transport) SetTempo(changes []tahti.TempoChange, reply *int) error {
	for _, c := range changes {
		if c.Tick < 0 || c.Tempo <= 0 {
			return errors.Errorf("invalid tempo change %+v", c)
		}
	}
	return t.send(engine.SetTempo{Changes: changes})
}

// SendMIDI plays a message on a port when the transport reaches a tick.
func (t *Transport) SendMIDI(args MIDIArgs, reply *int) error {
	if len(args.Msg) == 0 {
		return errors.New("empty MIDI message")
	}
	return t.send(engine.ScheduleMIDIEvent{Port: args.Port, Tick: args.Tick, Msg: args.Msg})
}

func (t *Transport) send(c engine.Command) error {
	t.log.WithField("command", engine.CommandName(c)).Debug("send")
	return errors.Wrap(t.c.Send(context.Background(), c), engine.CommandName(c))
}

// Listen serves c on addr until Close.
func Listen(addr string, c Controller, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	srv := rpc.NewServer()
	if err := srv.RegisterName(serviceName, &Transport{c: c, log: log.WithField("component", "rpc")}); err != nil {
		return nil, errors.Wrap(err, "registering rpc service")
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "net.Listen failed")
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, srv)
	s := &Server{listener: l, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		http.Serve(l, mux)
	}()
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) Close() error {
	err := s.listener.Close()
	<-s.done
	return err
}

func Dial(addr string) (*Client, error) {
	c, err := rpc.DialHTTP("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "rpc.DialHTTP failed")
	}
	return &Client{c: c}, nil
}

func (c *Client) status(method string, args any) (engine.Status, error) {
	var st engine.Status
	err := c.c.Call(serviceName+"."+method, args, &st)
	return st, err
}

func (c *Client) Play() (engine.Status, error)   { return c.status("Play", 0) }
func (c *Client) Stop() (engine.Status, error)   { return c.status("Stop", 0) }
func (c *Client) Status() (engine.Status, error) { return c.status("Status", 0) }

func (c *Client) Locate(p tahti.Pos) (engine.Status, error) {
	return c.status("Locate", LocateArgs{Value: p.Value, Ticks: p.Unit == tahti.Ticks})
}

func (c *Client) track(method, track string, on bool) error {
	var reply int
	return c.c.Call(serviceName+"."+method, TrackArgs{Track: track, On: on}, &reply)
}

func (c *Client) SetMute(track string, on bool) error       { return c.track("SetMute", track, on) }
func (c *Client) SetSolo(track string, on bool) error       { return c.track("SetSolo", track, on) }
func (c *Client) SetRecordFlag(track string, on bool) error { return c.track("SetRecordFlag", track, on) }

func (c *Client) Panic() error {
	var reply int
	return c.c.Call(serviceName+".Panic", 0, &reply)
}

func (c *Client) SetTempo(changes ...tahti.TempoChange) error {
	var reply int
	return c.c.Call(serviceName+".SetTempo", changes, &reply)
}

func (c *Client) SendMIDI(port int, tick int64, msg []byte) error {
	var reply int
	return c.c.Call(serviceName+".SendMIDI", MIDIArgs{Port: port, Tick: tick, Msg: msg}, &reply)
}

func (c *Client) Close() error { return c.c.Close() }
