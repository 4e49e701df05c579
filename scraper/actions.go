package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
)

// SettleStep is one post-navigation step that coaxes lazy-loaded product
// grids into the DOM. A step either scrolls to a fraction of the document
// height or waits.
type SettleStep struct {
	ScrollTo float64 // 0..1 of document height; ignored when Wait > 0
	Wait     time.Duration
}

// DefaultSettle scrolls halfway, waits, scrolls to the bottom, waits.
func DefaultSettle() []SettleStep {
	return []SettleStep{
		{ScrollTo: 0.5},
		{Wait: 1500 * time.Millisecond},
		{ScrollTo: 1},
		{Wait: 1500 * time.Millisecond},
	}
}

// runSettle executes steps in order. It stops at the first failure or
// when ctx ends.
func runSettle(ctx context.Context, p *rod.Page, steps []SettleStep) error {
	for i, step := range steps {
		if err := runStep(ctx, p, step); err != nil {
			return fmt.Errorf("settle step %d: %w", i, err)
		}
	}
	return nil
}

func runStep(ctx context.Context, p *rod.Page, step SettleStep) error {
	if step.Wait > 0 {
		t := time.NewTimer(step.Wait)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := p.Eval(`(f) => window.scrollTo(0, Math.floor(document.body.scrollHeight * f))`, step.ScrollTo)
	return err
}
