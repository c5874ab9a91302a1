package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/ambient/internal/ambient"
	"github.com/MrWong99/ambient/internal/resilience"
	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// ListenerCheck passes while the provider is listening or capturing a command.
func ListenerCheck(state func() ambient.State) Checker {
	return Checker{
		Name: "listener",
		Check: func(context.Context) error {
			s := state()
			if s.Active() {
				return nil
			}
			if s.Kind == ambient.StateError {
				return errors.New(s.Message)
			}
			return fmt.Errorf("not listening (%s)", s.Kind)
		},
	}
}

// EnginesCheck fails once every engine in a fallback group has an open
// circuit breaker.
func EnginesCheck(status func() []resilience.EntryStatus) Checker {
	return Checker{
		Name: "engines",
		Check: func(context.Context) error {
			entries := status()
			for _, e := range entries {
				if e.State != resilience.StateOpen {
					return nil
				}
			}
			if len(entries) == 0 {
				return errors.New("no engines configured")
			}
			return fmt.Errorf("all %d engine circuits open", len(entries))
		},
	}
}

// PingCheck pings the engine returned by engine if it implements
// [stt.Pinger] and passes otherwise. The engine is looked up per check so a
// reload that swaps engines is picked up.
func PingCheck(name string, engine func() any) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			p, ok := engine().(stt.Pinger)
			if !ok {
				return nil
			}
			return p.Ping(ctx)
		},
	}
}
