package runtime

import (
	"context"
	"time"

	"github.com/aretw0/toolgate/pkg/domain"
)

// ToolEvent describes one handler invocation.
type ToolEvent struct {
	ToolID    string
	Turn      int
	Timestamp time.Time
	Response  *domain.ToolResponse // nil on start
}

// Hooks are optional callbacks around handler invocation.
// They run synchronously on the calling goroutine and must not block.
type Hooks struct {
	OnToolStart func(context.Context, ToolEvent)
	OnToolEnd   func(context.Context, ToolEvent)
}

func (h Hooks) start(ctx context.Context, ev ToolEvent) {
	if h.OnToolStart != nil {
		h.OnToolStart(ctx, ev)
	}
}

func (h Hooks) end(ctx context.Context, ev ToolEvent) {
	if h.OnToolEnd != nil {
		h.OnToolEnd(ctx, ev)
	}
}
