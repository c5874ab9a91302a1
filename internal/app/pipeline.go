package app

import (
	"errors"
	"fmt"
	"os"

	"github.com/MrWong99/ambient/internal/ambient"
	"github.com/MrWong99/ambient/internal/config"
	"github.com/MrWong99/ambient/pkg/audio"
	"github.com/MrWong99/ambient/pkg/audio/miniaudio"
)

// pipeline is one configured chain: capture feeding either the recorder
// (batch) or the resampler (streaming), feeding the provider. It is rebuilt
// whenever a reload changes the phrases, engines, or audio settings.
type pipeline struct {
	mode      config.Mode
	provider  ambient.Provider
	capture   *audio.Capture
	recorder  *audio.Recorder
	resampler *audio.Resampler

	// ownsDir is set when the recorder created its own temp directory.
	ownsDir bool
}

// newPipeline builds, but does not start, the chain for cfg.
func (a *App) newPipeline(cfg *config.Config, engines *Engines) (*pipeline, error) {
	p := &pipeline{mode: cfg.Ambient.EffectiveMode()}
	provOpts := []ambient.Option{
		ambient.WithLogger(a.log),
		ambient.WithMetrics(a.metrics),
	}

	var onFrame func(audio.Frame)
	switch p.mode {
	case config.ModeStreaming:
		if engines == nil || engines.Stream == nil {
			return nil, errors.New("streaming mode requires a streaming engine")
		}
		sp, err := ambient.NewStreaming(engines.Stream, append(provOpts, ambient.WithEngineName(engines.StreamName))...)
		if err != nil {
			return nil, err
		}
		p.provider = sp
		p.resampler = audio.NewResampler(func(pkt audio.Packet) {
			a.metrics.PacketsEmitted.Add(a.ctx, 1)
			if err := sp.Ingest(a.ctx, pkt); err != nil && a.ctx.Err() == nil {
				a.log.Warn("app: ingest packet", "err", err)
			}
		})
		onFrame = p.resampler.Write

	default:
		if engines == nil || engines.Transcriber == nil {
			return nil, errors.New("batch mode requires a transcriber")
		}
		bp, err := ambient.NewBatch(engines.Transcriber, append(provOpts, ambient.WithEngineName(engines.TranscriberName))...)
		if err != nil {
			return nil, err
		}
		p.provider = bp
		rc := cfg.Recorder
		rec, err := audio.NewRecorder(audio.RecorderConfig{
			Dir:            rc.Dir,
			ChunkDuration:  rc.ChunkDuration,
			BufferDuration: rc.BufferDuration,
			MinDuration:    rc.MinDuration,
			MinFrames:      rc.MinFrames,
			OnChunk: func(c audio.Chunk) {
				a.metrics.ChunksFinalized.Add(a.ctx, 1)
				if err := bp.Ingest(a.ctx, c); err != nil && a.ctx.Err() == nil {
					a.log.Warn("app: ingest chunk", "chunk", c.ID, "err", err)
				}
			},
			OnDiscard: func(reason string) {
				a.metrics.RecordChunkDiscarded(a.ctx, reason)
				a.log.Debug("app: chunk discarded", "reason", reason)
			},
		})
		if err != nil {
			_ = bp.Close()
			return nil, err
		}
		p.recorder = rec
		p.ownsDir = rc.Dir == ""
		onFrame = func(f audio.Frame) {
			if err := rec.Write(f); err != nil {
				a.log.Warn("app: record frame", "err", err)
			}
		}
	}

	src := a.source
	if src == nil {
		src = deviceSource(cfg.Capture)
	}
	cc := cfg.Capture
	capture, err := audio.NewCapture(audio.CaptureConfig{
		Source:      src,
		QueueFrames: cc.QueueFrames,
		MaxRestarts: cc.MaxRestarts,
		Backoff:     cc.RestartBackoff,
		OnFrame:     onFrame,
		OnRestart: func(f audio.Format) {
			a.metrics.CaptureRestarts.Add(a.ctx, 1)
			a.log.Info("app: capture restarted", "format", f.String())
		},
		OnError: a.captureFailed,
	})
	if err != nil {
		_ = p.close()
		return nil, err
	}
	p.capture = capture
	return p, nil
}

// deviceSource opens the default microphone with the configured format hints.
func deviceSource(c config.CaptureConfig) audio.Source {
	var opts []miniaudio.Option
	if c.SampleRate > 0 {
		opts = append(opts, miniaudio.WithSampleRate(c.SampleRate))
	}
	if c.Channels > 0 {
		opts = append(opts, miniaudio.WithChannels(c.Channels))
	}
	if c.FrameMs > 0 {
		opts = append(opts, miniaudio.WithPeriod(c.FrameMs))
	}
	return miniaudio.New(opts...)
}

// startPipeline connects the provider, then opens the recorder and the
// device. A provider that fails to connect is left in its error state; a
// device that fails to open halts the whole chain.
func (a *App) startPipeline(p *pipeline, phrases ambient.Config) error {
	if err := p.provider.Start(a.ctx, phrases); err != nil {
		return fmt.Errorf("start provider: %w", err)
	}
	if p.recorder != nil {
		p.recorder.Start()
	}
	if err := p.capture.Start(a.ctx); err != nil {
		_ = p.halt()
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// halt stops the chain front to back. The resampler's remainder is flushed
// while the provider still listens, so the last words before a stop reach the
// engine. The recorder stops after the provider so that no chunk is
// transcribed once the provider went idle. The pipeline can be started again.
func (p *pipeline) halt() error {
	var errs []error
	if p.capture != nil {
		errs = append(errs, p.capture.Stop())
	}
	if p.resampler != nil {
		p.resampler.Flush()
	}
	if p.provider != nil {
		errs = append(errs, p.provider.Stop())
	}
	if p.recorder != nil {
		errs = append(errs, p.recorder.Stop())
	}
	if p.resampler != nil {
		p.resampler.Reset()
	}
	return errors.Join(errs...)
}

// close halts the chain for good and closes the provider's event channel.
func (p *pipeline) close() error {
	errs := []error{p.halt()}
	if p.provider != nil {
		errs = append(errs, p.provider.Close())
	}
	if p.recorder != nil && p.ownsDir {
		errs = append(errs, os.RemoveAll(p.recorder.Dir()))
	}
	return errors.Join(errs...)
}
