package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kalambet/rehearse/internal/interview"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// scoreColor grades a 0-100 score.
func scoreColor(score float64) string {
	switch {
	case score >= 75:
		return colorGreen
	case score >= 50:
		return colorYellow
	}
	return colorRed
}

func formatScore(score float64) string {
	return colorize(scoreColor(score), fmt.Sprintf("%3.0f", score))
}

// writeAssessment renders an assessment as a report.
func writeAssessment(w io.Writer, a interview.Assessment) {
	fmt.Fprintf(w, "%s %s / 100\n", colorize(colorBold, "Overall:"), formatScore(a.Overall))
	if a.Degraded {
		fmt.Fprintf(w, "%s\n", colorize(colorYellow, "Scored without the rating model: "+a.FallbackReason))
	}

	for _, c := range interview.Categories {
		cs, ok := a.Categories[c]
		if !ok || cs.Average == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s %s\n", colorize(colorBold, string(c)), formatScore(*cs.Average))
		dims := make([]string, 0, len(cs.Dimensions))
		for d := range cs.Dimensions {
			dims = append(dims, d)
		}
		sort.Strings(dims)
		for _, d := range dims {
			score := "n/a"
			if v := cs.Dimensions[d]; v != nil {
				score = formatScore(*v)
			}
			fmt.Fprintf(w, "  %-22s %s\n", strings.ReplaceAll(d, "_", " "), score)
		}
	}

	fb := a.Feedback
	writeList(w, "Strengths", fb.Strengths)
	writeList(w, "Areas to improve", fb.Weaknesses)
	writeList(w, "Next steps", fb.NextSteps)
	writeList(w, "Topics to study", fb.RecommendedTopics)
	if fb.Narrative != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Summary"), fb.Narrative)
	}
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", colorize(colorBold, title))
	for _, it := range items {
		fmt.Fprintf(w, "  • %s\n", it)
	}
}
