package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/runnerr0/refyn/internal/feedback"
	"github.com/runnerr0/refyn/internal/prefs"
	"github.com/runnerr0/refyn/internal/vision"
)

// ApplyVision folds descriptors for a tracked output into the model, as a
// like when isLiked and a dislike otherwise. It returns the applied deltas.
func (e *Engine) ApplyVision(outputID string, isLiked bool, d vision.Descriptors) (prefs.Deltas, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if outputID != "" {
		if _, ok := e.reg.Get(outputID); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, outputID)
		}
	}
	return e.applyVision(d, isLiked), nil
}

func (e *Engine) applyVision(d vision.Descriptors, isLiked bool) prefs.Deltas {
	deltas := e.adapter.ToScores(d, isLiked)
	if deltas.Len() == 0 {
		return deltas
	}
	e.model.Merge(deltas)
	e.mirrorDeltas(deltas, e.clock.Now())
	return deltas
}

// analyze asks the vision service about a liked or disliked output in the
// background. Must be called with the lock held.
func (e *Engine) analyze(ev feedback.Event) {
	if e.analyzer == nil || !e.cfg.Vision.Enabled {
		return
	}
	if ev.Kind != feedback.KindLike && ev.Kind != feedback.KindDislike {
		return
	}
	out, ok := e.reg.Get(ev.OutputID)
	if !ok || out.MediaURL == "" {
		return
	}

	req := vision.Request{
		MediaURL:   out.MediaURL,
		PlatformID: out.PlatformID,
		OutputID:   out.OutputID,
		PromptText: out.PromptText,
	}
	isLiked := ev.Kind == feedback.KindLike

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		d, err := e.analyzer.Analyze(e.ctx, req)
		if err != nil {
			e.log.Warn("vision analysis failed", zap.String("output_id", req.OutputID), zap.Error(err))
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		deltas := e.applyVision(d, isLiked)
		e.log.Debug("vision descriptors applied", zap.String("output_id", req.OutputID), zap.Int("keywords", deltas.Len()))
	}()
}
