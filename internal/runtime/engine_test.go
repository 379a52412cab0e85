package runtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/toolgate/internal/runtime"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/aretw0/toolgate/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const querySchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["q"],
	"properties": {"q": {"type": "string"}, "limit": {"type": "integer"}}
}`

func record(id string) domain.ToolRecord {
	return domain.ToolRecord{
		ToolMetadata: domain.ToolMetadata{
			ToolID:          id,
			Version:         "2.1.0",
			Category:        domain.CategoryUtility,
			SideEffects:     domain.SideEffectsNone,
			Idempotent:      true,
			AllowedModes:    []string{"interactive"},
			LatencyBudgetMs: 500,
		},
		JSONSchema: json.RawMessage(querySchema),
		Summary:    id + ".",
		HandlerRef: "test." + id,
	}
}

func newEngine(t *testing.T, handlers map[string]domain.Handler, opts ...runtime.Option) *runtime.Engine {
	t.Helper()
	cat := registry.Catalog{}
	a := &domain.Artifact{Version: "1.feedface", BuildTimestamp: time.Now()}
	for id, h := range handlers {
		cat["test."+id] = h
		a.Tools = append(a.Tools, record(id))
	}
	reg := registry.New(cat)
	require.NoError(t, reg.LoadArtifact(context.Background(), a))
	_, err := reg.Lock()
	require.NoError(t, err)
	return runtime.NewEngine(reg, opts...)
}

func call(args map[string]any) runtime.CallContext {
	return runtime.CallContext{Args: args, Session: state.New(nil).View(), Turn: 1}
}

func TestExecuteTool_NotFound(t *testing.T) {
	e := newEngine(t, map[string]domain.Handler{})

	resp := e.ExecuteTool(context.Background(), "nope", call(nil))
	require.False(t, resp.OK)
	assert.Equal(t, domain.KindNotFound, resp.Error.Type)
	assert.False(t, resp.Error.Retryable)
	assert.False(t, resp.Error.PartialSideEffects)
	assert.Equal(t, "nope", resp.Meta.ToolID)
	assert.Equal(t, "1.feedface", resp.Meta.RegistryVersion)
}

func TestExecuteTool_ValidationNeverReachesHandler(t *testing.T) {
	called := false
	e := newEngine(t, map[string]domain.Handler{
		"search": func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
			called = true
			return domain.Success(nil), nil
		},
	})

	resp := e.ExecuteTool(context.Background(), "search", call(map[string]any{"limit": "three", "extra": 1}))
	require.False(t, resp.OK)
	assert.False(t, called)
	assert.Equal(t, domain.KindValidation, resp.Error.Type)
	assert.False(t, resp.Error.Retryable)

	fields, ok := resp.Error.Details["fields"].(map[string][]string)
	require.True(t, ok)
	assert.Contains(t, fields, "q")
	assert.Contains(t, fields, "limit")
	assert.Contains(t, fields, "extra")
}

func TestExecuteTool_ScopedContext(t *testing.T) {
	var got *domain.ExecContext
	e := newEngine(t, map[string]domain.Handler{
		"search": func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
			got = ec
			ec.Capabilities["confirmed"] = false
			return domain.Success("ok"), nil
		},
	})

	caps := domain.Capabilities{domain.CapabilityConfirmed: true}
	cc := call(map[string]any{"q": "x"})
	cc.Capabilities = caps
	cc.Turn = 4

	resp := e.ExecuteTool(context.Background(), "search", cc)
	require.True(t, resp.OK)
	require.NotNil(t, got)
	assert.Equal(t, "x", got.Args["q"])
	assert.Equal(t, "search", got.Tool.ToolID)
	assert.Equal(t, 4, got.Turn)
	assert.True(t, got.Session.Active())
	assert.True(t, caps.Has(domain.CapabilityConfirmed), "handlers get a copy of the flags")
}

func TestExecuteTool_Normalization(t *testing.T) {
	tests := []struct {
		name    string
		handler domain.Handler
		ctx     func() context.Context
		check   func(t *testing.T, resp *domain.ToolResponse)
	}{
		{
			name: "malformed response",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				return &domain.ToolResponse{OK: false}, nil
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindInternal, resp.Error.Type)
				assert.False(t, resp.Error.Retryable)
			},
		},
		{
			name: "nil response",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				return nil, nil
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindInternal, resp.Error.Type)
			},
		},
		{
			name: "typed error keeps flags",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				te := domain.NewError(domain.KindConflict, "version mismatch")
				te.Retryable = true
				te.IdempotencyRequired = true
				return nil, te
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindConflict, resp.Error.Type)
				assert.True(t, resp.Error.Retryable)
				assert.True(t, resp.Error.IdempotencyRequired)
				assert.False(t, resp.Error.PartialSideEffects)
			},
		},
		{
			name: "wrapped typed error",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				return nil, errors.Join(errors.New("db"), domain.NewError(domain.KindRateLimit, "slow down"))
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindRateLimit, resp.Error.Type)
				assert.True(t, resp.Error.Retryable)
			},
		},
		{
			name: "unexpected error",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				return nil, errors.New("boom")
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindInternal, resp.Error.Type)
				assert.False(t, resp.Error.Retryable)
				assert.True(t, resp.Error.PartialSideEffects)
			},
		},
		{
			name: "panic",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				panic("nil map")
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindInternal, resp.Error.Type)
				assert.True(t, resp.Error.PartialSideEffects)
			},
		},
		{
			name: "abandoned",
			handler: func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			check: func(t *testing.T, resp *domain.ToolResponse) {
				assert.Equal(t, domain.KindTransient, resp.Error.Type)
				assert.False(t, resp.Error.Retryable)
				assert.True(t, resp.Error.PartialSideEffects)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, map[string]domain.Handler{"search": tt.handler})
			ctx := context.Background()
			if tt.ctx != nil {
				ctx = tt.ctx()
			}
			resp := e.ExecuteTool(ctx, "search", call(map[string]any{"q": "x"}))
			require.False(t, resp.OK)
			require.NoError(t, resp.Validate())
			tt.check(t, resp)
			assert.Equal(t, "search", resp.Meta.ToolID)
		})
	}
}

func TestExecuteTool_MetaAlwaysOverwritten(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		now = now.Add(25 * time.Millisecond)
		return now
	}
	e := newEngine(t, map[string]domain.Handler{
		"search": func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
			resp := domain.Success("ok")
			resp.Meta = domain.Meta{ToolID: "forged", ToolVersion: "9.9.9", Reused: true, Attempts: 7}
			return resp, nil
		},
	}, runtime.WithClock(clock))

	resp := e.ExecuteTool(context.Background(), "search", call(map[string]any{"q": "x"}))
	require.True(t, resp.OK)
	assert.Equal(t, domain.Meta{
		ToolID:                "search",
		ToolVersion:           "2.1.0",
		RegistryVersion:       "1.feedface",
		DurationMs:            25,
		ResponseSchemaVersion: domain.ResponseSchemaVersion,
	}, resp.Meta)
}

func TestExecuteTool_Hooks(t *testing.T) {
	var events []string
	hooks := runtime.Hooks{
		OnToolStart: func(ctx context.Context, ev runtime.ToolEvent) {
			events = append(events, "start:"+ev.ToolID)
		},
		OnToolEnd: func(ctx context.Context, ev runtime.ToolEvent) {
			require.NotNil(t, ev.Response)
			events = append(events, "end:"+ev.ToolID)
		},
	}
	e := newEngine(t, map[string]domain.Handler{
		"search": func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
			return domain.Success("ok"), nil
		},
	}, runtime.WithHooks(hooks))

	e.ExecuteTool(context.Background(), "search", call(map[string]any{"q": "x"}))
	e.ExecuteTool(context.Background(), "search", call(map[string]any{}))
	assert.Equal(t, []string{"start:search", "end:search"}, events, "hooks only fire around handler invocation")
}
