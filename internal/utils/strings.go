// Package utils holds small parsing helpers shared by config and handlers.
package utils

import "strings"

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// ParseSymbols parses a comma-separated symbol list into upper-case tickers,
// keeping first-seen order and dropping duplicates.
func ParseSymbols(s string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, v := range ParseCSV(s) {
		sym := strings.ToUpper(v)
		if seen[sym] {
			continue
		}
		seen[sym] = true
		result = append(result, sym)
	}
	return result
}
