package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
	"github.com/DhyeyTeraiya/new--sub004/pkg/runtime"
)

// BroadcastResult records one target's outcome of a broadcast.
type BroadcastResult struct {
	Target  runtime.Address
	Success bool
	// Reply is set when the target answered, even with a failure.
	Reply *protocol.Response
	// Err describes delivery problems: no receiver, timeout, backlog.
	Err string
}

// Broadcast sends the same correlated request to every target and waits
// until each has settled. One target failing, timing out, or being gone
// never affects the others; the caller gets one result per target, in
// target order.
func (m *Messenger) Broadcast(ctx context.Context, targets []runtime.Address, typ string, payload any) []BroadcastResult {
	results := make([]BroadcastResult, len(targets))
	if len(targets) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target runtime.Address) {
			defer wg.Done()
			resp, err := m.Request(ctx, target, typ, payload)
			switch {
			case err != nil:
				results[i] = BroadcastResult{Target: target, Err: err.Error()}
			case !resp.Success:
				results[i] = BroadcastResult{Target: target, Reply: &resp, Err: resp.Error}
			default:
				results[i] = BroadcastResult{Target: target, Success: true, Reply: &resp}
			}
		}(i, target)
	}
	wg.Wait()

	delivered := 0
	for _, r := range results {
		if r.Success {
			delivered++
		}
	}
	m.logger.Debug("broadcast settled",
		slog.String("type", typ),
		slog.Int("targets", len(targets)),
		slog.Int("delivered", delivered),
	)
	return results
}
