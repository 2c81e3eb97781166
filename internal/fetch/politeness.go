package fetch

import (
	"context"
	"math/rand"
	"time"
)

// Delay picks a random politeness delay in [minMs, maxMs] milliseconds.
// The randomization is a rate perturbation to reduce detection risk, not a
// correctness requirement.
func Delay(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	ms := minMs + rand.Intn(maxMs-minMs+1)
	return time.Duration(ms) * time.Millisecond
}

// Sleep blocks for a random duration in [minMs, maxMs] milliseconds or until
// the context finishes.
func Sleep(ctx context.Context, minMs, maxMs int) {
	d := Delay(minMs, maxMs)
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
