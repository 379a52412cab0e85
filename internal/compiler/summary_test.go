package compiler

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExtractSummary(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"plain", "Looks up orders.", "Looks up orders."},
		{"skips headings", "# Title\n## Sub\n\nFinds **open** orders.\nMore.", "Finds open orders."},
		{"front matter", "---\nowner: team\n---\nCancels an order.", "Cancels an order."},
		{"emphasis and code", "Use `order_id` from _recent_ results, see [docs](http://x).", "Use order_id from recent results, see docs."},
		{"snake case survives", "Reads the order_status field.", "Reads the order_status field."},
		{"list marker", "- Lists invoices", "Lists invoices"},
		{"collapses spaces", "  Lots   of\tspace ", "Lots of space"},
		{"headings only", "# A\n\n## B\n", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSummary(tt.doc))
		})
	}
}

func TestExtractSummary_Capped(t *testing.T) {
	got := ExtractSummary(strings.Repeat("é", 400))
	assert.Equal(t, MaxSummaryRunes, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}
