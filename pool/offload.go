package pool

import (
	"context"
	"time"

	"github.com/scanline-labs/houbridge/execute"
)

// Offload runs a single blocking operation on the controller's bounded
// worker pool and returns a channel that delivers the result once.
// Callers that must stay responsive read the channel when convenient.
// At most MaxConcurrency offloaded calls run at once; excess calls
// queue on the pool until a slot frees or ctx is cancelled.
func (c *Controller) Offload(ctx context.Context, name string, timeout time.Duration, op execute.Operation) <-chan execute.Result {
	out := make(chan execute.Result, 1)

	go func() {
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			out <- execute.Result{
				OperationName: name,
				Kind:          execute.KindTimeout,
				TimedOut:      true,
				Err:           ctx.Err(),
			}
			return
		}
		defer func() { <-c.sem }()

		out <- c.runner.Run(ctx, op, timeout, name)
	}()

	return out
}
