package output

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/hpcops/amiereport/cli/internal/aggregator"
)

const (
	compactThreshold = 80 // Terminal width below which compact mode kicks in
	defaultWidth     = 120
)

// TableOptions controls table display behavior
type TableOptions struct {
	ForceCompact bool
}

// getTerminalWidth returns the current terminal width
func getTerminalWidth() int {
	// Check COLUMNS env var first
	if cols := os.Getenv("COLUMNS"); cols != "" {
		var width int
		if _, err := fmt.Sscanf(cols, "%d", &width); err == nil && width > 0 {
			return width
		}
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	return defaultWidth
}

// shouldUseCompact determines if compact mode should be used
func shouldUseCompact(opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return getTerminalWidth() < compactThreshold
}

// FormatNumber formats a number with thousand separators
func FormatNumber(n int64) string {
	if n == 0 {
		return "0"
	}

	str := fmt.Sprintf("%d", n)
	negative := n < 0
	if negative {
		str = str[1:]
	}

	result := ""
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}

	if negative {
		return "-" + result
	}
	return result
}

// FormatCharge formats a charge in allocation units
func FormatCharge(charge float64) string {
	return fmt.Sprintf("%.2f SU", charge)
}

// FormatHours formats node-hours
func FormatHours(hours float64) string {
	return fmt.Sprintf("%.1f", hours)
}

// PrintTable prints summaries as a formatted table
func PrintTable(results []aggregator.Summary, title string, showTotal bool) {
	PrintTableWithOptions(results, title, showTotal, TableOptions{})
}

// PrintTableWithOptions prints table with display options
func PrintTableWithOptions(results []aggregator.Summary, title string, showTotal bool, opts TableOptions) {
	if len(results) == 0 {
		fmt.Println("No usage records found.")
		return
	}

	compact := shouldUseCompact(opts)

	// Calculate key column width
	keyWidth := len(title)
	for _, r := range results {
		if len(r.Key) > keyWidth {
			keyWidth = len(r.Key)
		}
	}
	if keyWidth < 10 {
		keyWidth = 10
	}
	// Cap key width in compact mode
	if compact && keyWidth > 16 {
		keyWidth = 16
	}

	fmt.Println()

	if compact {
		// Compact: Key, Jobs, Charge
		fmt.Printf("%-*s  %8s  %14s\n", keyWidth, title, "Jobs", "Charge")
		fmt.Println(strings.Repeat("─", keyWidth+2+8+2+14))

		for _, r := range results {
			key := r.Key
			if len(key) > keyWidth {
				key = key[:keyWidth]
			}
			fmt.Printf("%-*s  %8s  %14s\n",
				keyWidth, key,
				FormatNumber(int64(r.Jobs)),
				FormatCharge(r.Charge))
		}

		if showTotal && len(results) > 1 {
			fmt.Println(strings.Repeat("─", keyWidth+2+8+2+14))

			total := aggregator.CalculateTotal(results)
			fmt.Printf("%-*s  %8s  %14s\n",
				keyWidth, "Total",
				FormatNumber(int64(total.Jobs)),
				FormatCharge(total.Charge))
		}

		fmt.Println()
		fmt.Println("(Compact mode - expand terminal for full view)")
	} else {
		// Full: Key, Jobs, Node Hours, Charge
		fmt.Printf("%-*s  %8s  %12s  %14s\n", keyWidth, title, "Jobs", "Node Hours", "Charge")
		fmt.Println(strings.Repeat("─", keyWidth+2+8+2+12+2+14))

		for _, r := range results {
			fmt.Printf("%-*s  %8s  %12s  %14s\n",
				keyWidth, r.Key,
				FormatNumber(int64(r.Jobs)),
				FormatHours(r.NodeHours),
				FormatCharge(r.Charge))
		}

		if showTotal && len(results) > 1 {
			fmt.Println(strings.Repeat("─", keyWidth+2+8+2+12+2+14))

			total := aggregator.CalculateTotal(results)
			fmt.Printf("%-*s  %8s  %12s  %14s\n",
				keyWidth, "Total",
				FormatNumber(int64(total.Jobs)),
				FormatHours(total.NodeHours),
				FormatCharge(total.Charge))
		}

		fmt.Println()
	}
}

// PrintTableWithQueues prints the table followed by the queues that
// contributed to it
func PrintTableWithQueues(results []aggregator.Summary, title string, opts TableOptions) {
	PrintTableWithOptions(results, title, true, opts)

	queues := make(map[string]bool)
	for _, r := range results {
		for _, q := range r.Queues {
			queues[q] = true
		}
	}

	if len(queues) > 0 {
		var names []string
		for q := range queues {
			names = append(names, q)
		}
		sort.Strings(names)

		fmt.Println("Queues charged:")
		for _, q := range names {
			fmt.Printf("  - %s\n", q)
		}
		fmt.Println()
	}
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Results []JSONResult `json:"results"`
	Total   JSONResult   `json:"total"`
}

// JSONResult represents a single summary in JSON format
type JSONResult struct {
	Key       string   `json:"key"`
	Jobs      int      `json:"jobs"`
	NodeHours float64  `json:"node_hours"`
	Charge    float64  `json:"charge"`
	Queues    []string `json:"queues,omitempty"`
}

// PrintJSON outputs summaries as JSON
func PrintJSON(results []aggregator.Summary) {
	output := JSONOutput{
		Results: make([]JSONResult, len(results)),
	}

	for i, r := range results {
		output.Results[i] = JSONResult{
			Key:       r.Key,
			Jobs:      r.Jobs,
			NodeHours: r.NodeHours,
			Charge:    r.Charge,
			Queues:    r.Queues,
		}
	}

	total := aggregator.CalculateTotal(results)
	output.Total = JSONResult{
		Key:       "total",
		Jobs:      total.Jobs,
		NodeHours: total.NodeHours,
		Charge:    total.Charge,
		Queues:    total.Queues,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}
