package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "whitespace only", input: "   ", expected: nil},
		{name: "only commas", input: ",,,", expected: nil},
		{name: "single value", input: "http://localhost:3000", expected: []string{"http://localhost:3000"}},
		{name: "trims", input: " a , b ,c ", expected: []string{"a", "b", "c"}},
		{name: "drops empty items", input: "a,,b, ,", expected: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCSV(tt.input))
		})
	}
}

func TestParseCSV_PreservesInput(t *testing.T) {
	input := "AAPL, MSFT"
	originalInput := input

	_ = ParseCSV(input)

	assert.Equal(t, originalInput, input, "input should not be modified")
}

func TestParseSymbols(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "upper-cases", input: "aapl,msft", expected: []string{"AAPL", "MSFT"}},
		{name: "dedupes case-insensitively", input: "aapl, AAPL ,Aapl", expected: []string{"AAPL"}},
		{name: "keeps order", input: "nvda,aapl,nvda,msft", expected: []string{"NVDA", "AAPL", "MSFT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSymbols(tt.input))
		})
	}
}
