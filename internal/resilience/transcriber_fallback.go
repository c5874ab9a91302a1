package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// several batch engines. Each engine has its own circuit breaker, so a local
// model that keeps failing stops receiving chunks until its reset timeout.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var (
	_ stt.Transcriber    = (*TranscriberFallback)(nil)
	_ stt.Pinger         = (*TranscriberFallback)(nil)
	_ stt.MemoryReporter = (*TranscriberFallback)(nil)
)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred engine.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional batch engine.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Status reports each engine's breaker state.
func (f *TranscriberFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe sends req to the first healthy engine.
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, req)
	})
}

// Ping succeeds if at least one engine is reachable. Engines without a ping
// check count as reachable.
func (f *TranscriberFallback) Ping(ctx context.Context) error {
	var errs []error
	reachable := false
	f.group.Each(func(name string, t stt.Transcriber) {
		if reachable {
			return
		}
		p, ok := t.(stt.Pinger)
		if !ok {
			reachable = true
			return
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		reachable = true
	})
	if reachable {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// MemoryEstimate sums the resident size of every engine that reports one.
func (f *TranscriberFallback) MemoryEstimate() int64 {
	var total int64
	f.group.Each(func(_ string, t stt.Transcriber) {
		if m, ok := t.(stt.MemoryReporter); ok {
			total += m.MemoryEstimate()
		}
	})
	return total
}

// Close closes every engine that holds resources.
func (f *TranscriberFallback) Close() error {
	return closeAll(f.group)
}
