package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/corey/refscan/internal/adapters/socket"
	"github.com/corey/refscan/internal/domain/scanner"
	"github.com/corey/refscan/internal/ports"
)

// ANSI color codes for terminal output.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorCyan    = "\033[36m"
	colorMagenta = "\033[35m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorGray    = "\033[90m"
)

// paint wraps s in color when colors are enabled.
func paint(color, s string) string {
	if !colorEnabled() {
		return s
	}
	return color + s + colorReset
}

// formatMatches formats match records for terminal display.
//
//	⚡ 4 matches │ 85µs
//	  75-82    co-3456  → _id=2 contract_number  #is_body
//	  40-51    AUF2023-00l  ~1 → _id=5 order_number "AUF2023-001"
func formatMatches(result *socket.MatchResult, text string) string {
	var sb strings.Builder
	header := fmt.Sprintf("⚡ %d matches", result.Count)
	if result.Catalog != "" {
		header += " │ " + result.Catalog
	}
	sb.WriteString(paint(colorBold, header))
	if result.Elapsed != "" {
		sb.WriteString(" │ " + result.Elapsed)
	}
	sb.WriteString("\n")
	for _, m := range result.Matches {
		sb.WriteString(formatRecord(m, text))
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatMessage renders subject records against the subject and body
// records against the body.
func formatMessage(result *socket.MatchResult, subject, body string) string {
	var sb strings.Builder
	sb.WriteString(paint(colorBold, fmt.Sprintf("⚡ %d matches", result.Count)))
	if result.Elapsed != "" {
		sb.WriteString(" │ " + result.Elapsed)
	}
	sb.WriteString("\n")
	for _, m := range result.Matches {
		text := body
		if m.Context[scanner.TagSubject] {
			text = subject
		}
		sb.WriteString(formatRecord(m, text))
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatRecord(m ports.MatchRecord, text string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %-8s ", fmt.Sprintf("%d-%d", m.StartIndex, m.EndIndex)))
	sb.WriteString(paint(colorCyan, m.Span(text)))
	if m.Fuzzy {
		sb.WriteString(paint(colorYellow, fmt.Sprintf("  ~%d", m.Distance)))
	}
	sb.WriteString(paint(colorGray, fmt.Sprintf(" → _id=%s %s", m.EntityID, m.FieldName)))
	if m.Fuzzy {
		sb.WriteString(paint(colorGray, fmt.Sprintf(" %q", m.Value)))
	}
	if len(m.Context) > 0 {
		tags := make([]string, 0, len(m.Context))
		for tag, on := range m.Context {
			if on {
				tags = append(tags, "#"+tag)
			}
		}
		if len(tags) > 0 {
			slices.Sort(tags)
			sb.WriteString("  " + paint(colorGreen, strings.Join(tags, " ")))
		}
	}
	return sb.String()
}

// formatCatalogs formats a CatalogsResult for terminal display. File
// sources are shown relative to root.
func formatCatalogs(result *socket.CatalogsResult, root string) string {
	var sb strings.Builder
	sb.WriteString(paint(colorBold, fmt.Sprintf("⚡ %d catalogs", result.Count)))
	sb.WriteString("\n")
	for _, c := range result.Catalogs {
		source := c.Source
		if rel, err := filepath.Rel(root, source); err == nil && filepath.IsAbs(source) && !strings.HasPrefix(rel, "..") {
			source = rel
		}
		sb.WriteString(fmt.Sprintf("  %s  %d patterns │ %d values  %s\n",
			paint(colorCyan, c.Name), c.Patterns, c.Values, paint(colorMagenta, source)))
	}
	return sb.String()
}

// formatHealth formats a HealthResult for terminal display.
func formatHealth(h *socket.HealthResult) string {
	var sb strings.Builder
	sb.WriteString(paint(colorBold, "⚡ refscan daemon") + "\n")
	sb.WriteString(fmt.Sprintf("  Status:    %s\n", paint(colorGreen, h.Status)))
	sb.WriteString(fmt.Sprintf("  Catalogs:  %d (%d values)\n", h.Catalogs, h.Values))
	sb.WriteString(fmt.Sprintf("  Scans:     %d (%d matches, %d fuzzy)\n", h.Scans, h.Matches, h.FuzzyMatches))
	sb.WriteString(fmt.Sprintf("  Cache:     %d hits, %d misses\n", h.CacheHits, h.CacheMisses))
	sb.WriteString(fmt.Sprintf("  Uptime:    %s\n", h.Uptime))
	return sb.String()
}

func printMatches(w io.Writer, result *socket.MatchResult, text string, asJSON bool) error {
	if asJSON {
		return writeJSON(w, result.Matches)
	}
	_, err := fmt.Fprint(w, formatMatches(result, text))
	return err
}

func printMessage(w io.Writer, result *socket.MatchResult, subject, body string, asJSON bool) error {
	if asJSON {
		return writeJSON(w, result.Matches)
	}
	_, err := fmt.Fprint(w, formatMessage(result, subject, body))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
