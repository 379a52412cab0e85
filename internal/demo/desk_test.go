package demo_test

import (
	"context"
	"testing"

	"github.com/aretw0/toolgate/internal/compiler"
	"github.com/aretw0/toolgate/internal/demo"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exec(args map[string]any, caps domain.Capabilities) *domain.ExecContext {
	return &domain.ExecContext{Args: args, Session: state.New(nil).View(), Capabilities: caps, Turn: 1}
}

func TestExampleDefinitionsCompile(t *testing.T) {
	a, err := compiler.New(demo.NewDesk().Catalog()).Compile(context.Background(), "../../examples/tools")
	require.NoError(t, err)

	var ids []string
	for _, rec := range a.Tools {
		ids = append(ids, rec.ToolID)
	}
	assert.Equal(t, []string{"create_ticket", "end_session", "search_docs"}, ids)
}

func TestSearchDocs(t *testing.T) {
	d := demo.NewDesk()

	resp, err := d.SearchDocs(context.Background(), exec(map[string]any{"query": "billing address"}, nil))
	require.NoError(t, err)
	results := resp.Data.(map[string]any)["results"].([]map[string]any)
	require.NotEmpty(t, results)
	assert.Equal(t, "kb-1", results[0]["id"])

	resp, err = d.SearchDocs(context.Background(), exec(map[string]any{"query": "password", "tags": []any{"shipping"}}, nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Data.(map[string]any)["results"])
}

func TestCreateTicket_Conflict(t *testing.T) {
	d := demo.NewDesk()
	args := map[string]any{"subject": "Broken login", "priority": "urgent"}

	resp, err := d.CreateTicket(context.Background(), exec(args, nil))
	require.NoError(t, err)
	assert.True(t, resp.OK)

	_, err = d.CreateTicket(context.Background(), exec(args, nil))
	var te *domain.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.KindConflict, te.Type)
	assert.Len(t, d.Tickets(), 1)
}

func TestEndSession_Intents(t *testing.T) {
	resp, err := demo.EndSession(context.Background(), exec(map[string]any{"farewell": "Bye!"}, domain.Capabilities{domain.CapabilityTranscript: true}))
	require.NoError(t, err)
	assert.Equal(t, []domain.Intent{
		domain.EndSession(domain.AfterCurrentTurn),
		domain.SetPendingMessage("Bye!"),
	}, resp.Intents)
}
