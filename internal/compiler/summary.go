package compiler

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxSummaryRunes caps the one-line summary injected into prompts.
const MaxSummaryRunes = 160

var emphasis = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1"},
	{regexp.MustCompile(`__([^_]+)__`), "$1"},
	{regexp.MustCompile(`\*([^*]+)\*`), "$1"},
	{regexp.MustCompile(`(^|[^\w])_([^_]+)_([^\w]|$)`), "${1}${2}${3}"},
	{regexp.MustCompile("`([^`]+)`"), "$1"},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`), "$1"},
}

// ExtractSummary returns the first line of prose in a markdown document:
// headings, front matter, quotes and list markers are skipped or stripped,
// emphasis is removed and the result is capped at MaxSummaryRunes.
func ExtractSummary(doc string) string {
	lines := strings.Split(strings.ReplaceAll(doc, "\r\n", "\n"), "\n")
	inFrontMatter := false
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if i == 0 && line == "---" {
			inFrontMatter = true
			continue
		}
		if inFrontMatter {
			if line == "---" {
				inFrontMatter = false
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "<!--") || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimLeft(line, "> ")
		for _, marker := range []string{"- ", "* ", "+ "} {
			line = strings.TrimPrefix(line, marker)
		}
		for _, e := range emphasis {
			line = e.re.ReplaceAllString(line, e.repl)
		}
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		return truncate(line, MaxSummaryRunes)
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
