// Package demo holds the handlers behind the example tool definitions in
// examples/tools. They back the CLI's serve command and the end-to-end tests.
package demo

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/registry"
	"github.com/google/uuid"
)

// Article is one help-center entry.
type Article struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// Ticket is a support ticket opened by create_ticket.
type Ticket struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Priority string `json:"priority"`
	Email    string `json:"email,omitempty"`
}

// Desk is an in-memory help desk.
type Desk struct {
	mu       sync.Mutex
	articles []Article
	tickets  []Ticket
}

// DefaultArticles seeds a Desk.
var DefaultArticles = []Article{
	{ID: "kb-1", Title: "Updating your billing address", Body: "Open account settings and edit the billing address under payment methods.", Tags: []string{"billing", "account"}},
	{ID: "kb-2", Title: "Requesting a refund", Body: "Refunds for annual plans are prorated. Contact billing within 30 days.", Tags: []string{"billing"}},
	{ID: "kb-3", Title: "Tracking a shipment", Body: "Use the tracking link in your order confirmation email.", Tags: []string{"shipping"}},
	{ID: "kb-4", Title: "Resetting your password", Body: "Use the forgot password link on the sign in page of your account.", Tags: []string{"account"}},
}

// NewDesk creates a Desk holding articles.
func NewDesk(articles ...Article) *Desk {
	if len(articles) == 0 {
		articles = DefaultArticles
	}
	return &Desk{articles: slices.Clone(articles)}
}

// Catalog exposes the desk handlers under the references used by examples/tools.
func (d *Desk) Catalog() registry.Catalog {
	return registry.Catalog{
		"search_docs":    d.SearchDocs,
		"tickets.create": d.CreateTicket,
		"end_session":    EndSession,
	}
}

// Tickets returns the tickets opened so far.
func (d *Desk) Tickets() []Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.tickets)
}

type hit struct {
	Article
	score int
}

// SearchDocs ranks articles by the number of query words they contain.
func (d *Desk) SearchDocs(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
	query, _ := ec.Args["query"].(string)
	words := strings.Fields(strings.ToLower(query))
	limit := 3
	if n, ok := number(ec.Args["limit"]); ok {
		limit = n
	}
	var tags []string
	if raw, ok := ec.Args["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	d.mu.Lock()
	var hits []hit
	for _, a := range d.articles {
		if len(tags) > 0 && !slices.ContainsFunc(a.Tags, func(t string) bool { return slices.Contains(tags, t) }) {
			continue
		}
		text := strings.ToLower(a.Title + " " + a.Body)
		score := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{Article: a, score: score})
		}
	}
	d.mu.Unlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	results := make([]map[string]any, 0, limit)
	for i := 0; i < len(hits) && i < limit; i++ {
		results = append(results, map[string]any{
			"id":      hits[i].ID,
			"title":   hits[i].Title,
			"snippet": hits[i].Body,
		})
	}
	return domain.Success(map[string]any{"results": results}), nil
}

// CreateTicket opens a ticket. The dispatcher has already required confirmation.
func (d *Desk) CreateTicket(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t := Ticket{
		ID:       uuid.NewString(),
		Subject:  ec.Args["subject"].(string),
		Priority: ec.Args["priority"].(string),
	}
	if contact, ok := ec.Args["contact"].(map[string]any); ok {
		t.Email, _ = contact["email"].(string)
	}

	d.mu.Lock()
	for _, existing := range d.tickets {
		if strings.EqualFold(existing.Subject, t.Subject) {
			d.mu.Unlock()
			return nil, domain.NewError(domain.KindConflict, "a ticket with subject %q is already open as %s", t.Subject, existing.ID).
				WithDetail("ticketId", existing.ID)
		}
	}
	d.tickets = append(d.tickets, t)
	d.mu.Unlock()

	return domain.Success(map[string]any{"ticketId": t.ID, "priority": t.Priority}), nil
}

// EndSession asks the orchestrator to close the conversation.
func EndSession(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
	after, _ := ec.Args["after"].(string)
	if after == "" {
		after = domain.AfterCurrentTurn
	}
	intents := []domain.Intent{domain.EndSession(after)}
	if farewell, _ := ec.Args["farewell"].(string); farewell != "" {
		intents = append(intents, domain.SetPendingMessage(farewell))
	}
	if !ec.Capabilities.Has(domain.CapabilityTranscript) {
		intents = append(intents, domain.SuppressTranscript(true))
	}
	return domain.Success(map[string]any{"ending": after}, intents...), nil
}

func number(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
