package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// StreamFallback implements [stt.Provider] with failover across several
// streaming engines. Failover happens only when opening a session; a session
// that is lost later is reported to the caller through its event channel.
type StreamFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*StreamFallback)(nil)

// NewStreamFallback creates a [StreamFallback] with primary as the preferred engine.
func NewStreamFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *StreamFallback {
	return &StreamFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional streaming engine.
func (f *StreamFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports each engine's breaker state.
func (f *StreamFallback) Status() []EntryStatus { return f.group.Status() }

// StartStream opens a session against the first healthy engine.
func (f *StreamFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Close closes every engine that holds resources.
func (f *StreamFallback) Close() error {
	return closeAll(f.group)
}

func closeAll[T any](fg *FallbackGroup[T]) error {
	var errs []error
	fg.Each(func(_ string, v T) {
		if c, ok := any(v).(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
