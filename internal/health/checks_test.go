package health

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/ambient/internal/ambient"
	"github.com/MrWong99/ambient/internal/resilience"
	sttmock "github.com/MrWong99/ambient/pkg/provider/stt/mock"
)

func TestListenerCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state   ambient.State
		wantErr string
	}{
		{ambient.State{Kind: ambient.StateListening}, ""},
		{ambient.State{Kind: ambient.StateCommand}, ""},
		{ambient.State{Kind: ambient.StateIdle}, "not listening (idle)"},
		{ambient.State{Kind: ambient.StateStarting}, "not listening (starting)"},
		{ambient.State{Kind: ambient.StateError, Message: "speech engine session closed unexpectedly"}, "speech engine session closed unexpectedly"},
	}
	for _, tt := range tests {
		c := ListenerCheck(func() ambient.State { return tt.state })
		err := c.Check(context.Background())
		switch {
		case tt.wantErr == "" && err != nil:
			t.Errorf("%v: unexpected error %v", tt.state, err)
		case tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr):
			t.Errorf("%v: err = %v, want %q", tt.state, err, tt.wantErr)
		}
	}
}

func TestEnginesCheck(t *testing.T) {
	t.Parallel()

	open := resilience.EntryStatus{Name: "a", State: resilience.StateOpen}
	closed := resilience.EntryStatus{Name: "b", State: resilience.StateClosed}

	check := func(entries ...resilience.EntryStatus) error {
		return EnginesCheck(func() []resilience.EntryStatus { return entries }).Check(context.Background())
	}
	if err := check(open, closed); err != nil {
		t.Errorf("one healthy engine: %v", err)
	}
	if err := check(open, open); err == nil || !strings.Contains(err.Error(), "all 2") {
		t.Errorf("all open: err = %v", err)
	}
	if err := check(); err == nil {
		t.Error("no engines: expected error")
	}
}

func TestPingCheck(t *testing.T) {
	t.Parallel()

	if err := PingCheck("x", func() any { return struct{}{} }).Check(context.Background()); err != nil {
		t.Errorf("non-pinger: %v", err)
	}
	down := &sttmock.Transcriber{PingErr: errors.New("401")}
	c := PingCheck("whisper", func() any { return down })
	if c.Name != "whisper" {
		t.Errorf("Name = %q", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
