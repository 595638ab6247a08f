package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases and strips punctuation",
			input:    "Smith Family Photographs, 1920",
			expected: "smith family photographs 1920",
		},
		{
			name:     "collapses whitespace runs",
			input:    "  Annual   Report\t1998  ",
			expected: "annual report 1998",
		},
		{
			name:     "punctuation becomes a single separator",
			input:    "St. John's - Church",
			expected: "st john s church",
		},
		{
			name:     "keeps unicode letters",
			input:    "Über die Alpen: Reisetagebuch",
			expected: "über die alpen reisetagebuch",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "only punctuation",
			input:    "---...///",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Text(tt.input))
		})
	}
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "acc2021034", Identifier("ACC-2021/034"))
	assert.Equal(t, "acc2021034", Identifier("acc 2021.034"))
	assert.Equal(t, "", Identifier("--//--"))
}

func TestTextEqualAfterNormalization(t *testing.T) {
	a := Text("Smith Family Photographs, 1920")
	b := Text("smith family PHOTOGRAPHS 1920!!!")
	assert.Equal(t, a, b)
}
