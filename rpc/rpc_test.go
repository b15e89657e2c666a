package rpc_test

import (
	"bytes"
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/vsariola/tahti"
	"github.com/vsariola/tahti/engine"
	"github.com/vsariola/tahti/rpc"
)

type controller struct {
	mu       sync.Mutex
	state    tahti.TransportState
	located  []tahti.Pos
	commands []engine.Command
	fail     error
}

func (c *controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = tahti.Playing
}

func (c *controller) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = tahti.Stopped
}

func (c *controller) Locate(p tahti.Pos) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.located = append(c.located, p)
}

func (c *controller) Send(ctx context.Context, cmd engine.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.commands = append(c.commands, cmd)
	return nil
}

func (c *controller) Status() engine.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return engine.Status{State: c.state, Frame: 1234}
}

func serve(t *testing.T, c rpc.Controller) *rpc.Client {
	t.Helper()
	srv, err := rpc.Listen("127.0.0.1:0", c, nil)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	client, err := rpc.Dial(srv.Addr().String())
	if err != nil {
		srv.Close()
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return client
}

func TestPlayStop(t *testing.T) {
	c := &controller{}
	client := serve(t, c)
	st, err := client.Play()
	if err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if st.State != tahti.Playing || st.Frame != 1234 {
		t.Fatalf("status after play was %+v", st)
	}
	st, err = client.Stop()
	if err != nil || st.State != tahti.Stopped {
		t.Fatalf("Stop returned %+v, %v", st, err)
	}
	if st, err := client.Status(); err != nil || st.Frame != 1234 {
		t.Fatalf("Status returned %+v, %v", st, err)
	}
}

func TestLocate(t *testing.T) {
	c := &controller{}
	client := serve(t, c)
	if _, err := client.Locate(tahti.TickPos(96)); err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if _, err := client.Locate(tahti.FramePos(48000)); err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if _, err := client.Locate(tahti.FramePos(-1)); err == nil {
		t.Fatalf("locating to a negative frame succeeded")
	}
	want := []tahti.Pos{tahti.TickPos(96), tahti.FramePos(48000)}
	if len(c.located) != 2 || c.located[0] != want[0] || c.located[1] != want[1] {
		t.Fatalf("located to %v, expected %v", c.located, want)
	}
}

func TestTrackCommands(t *testing.T) {
	c := &controller{}
	client := serve(t, c)
	if err := client.SetMute("drums", true); err != nil {
		t.Fatalf("SetMute failed: %v", err)
	}
	if err := client.SetSolo("bass", true); err != nil {
		t.Fatalf("SetSolo failed: %v", err)
	}
	if err := client.SetRecordFlag("vox", true); err != nil {
		t.Fatalf("SetRecordFlag failed: %v", err)
	}
	if err := client.Panic(); err != nil {
		t.Fatalf("Panic failed: %v", err)
	}
	want := []engine.Command{
		engine.SetMute{Track: "drums", On: true},
		engine.SetSolo{Track: "bass", On: true},
		engine.SetRecordFlag{Track: "vox", On: true},
		engine.Panic{},
	}
	if len(c.commands) != len(want) {
		t.Fatalf("got %v commands, expected %v", len(c.commands), len(want))
	}
	for i := range want {
		if c.commands[i] != want[i] {
			t.Fatalf("command %d was %#v, expected %#v", i, c.commands[i], want[i])
		}
	}
}

func TestTempoAndMIDI(t *testing.T) {
	c := &controller{}
	client := serve(t, c)
	changes := []tahti.TempoChange{{Tick: 0, Tempo: 500000}, {Tick: 768, Tempo: 250000}}
	if err := client.SetTempo(changes...); err != nil {
		t.Fatalf("SetTempo failed: %v", err)
	}
	if err := client.SetTempo(tahti.TempoChange{Tempo: 0}); err == nil {
		t.Fatalf("SetTempo accepted a zero tempo")
	}
	if err := client.SendMIDI(2, 96, []byte{0x90, 60, 100}); err != nil {
		t.Fatalf("SendMIDI failed: %v", err)
	}
	if err := client.SendMIDI(2, 96, nil); err == nil {
		t.Fatalf("SendMIDI accepted an empty message")
	}
	if len(c.commands) != 2 {
		t.Fatalf("got %v commands, expected 2", len(c.commands))
	}
	if got, ok := c.commands[0].(engine.SetTempo); !ok || !reflect.DeepEqual(got.Changes, changes) {
		t.Fatalf("first command was %#v", c.commands[0])
	}
	got, ok := c.commands[1].(engine.ScheduleMIDIEvent)
	if !ok || got.Port != 2 || got.Tick != 96 || !bytes.Equal(got.Msg, []byte{0x90, 60, 100}) {
		t.Fatalf("second command was %#v", c.commands[1])
	}
}

func TestSendError(t *testing.T) {
	c := &controller{fail: engine.ErrRelayBusy}
	client := serve(t, c)
	err := client.SetMute("drums", true)
	if err == nil || !strings.Contains(err.Error(), engine.ErrRelayBusy.Error()) {
		t.Fatalf("SetMute returned %v, expected the relay error", err)
	}
}
