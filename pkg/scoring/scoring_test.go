package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExactMatch(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 1.0, s.ExactMatch("ACC-2021", "acc-2021", false))
	assert.Equal(t, 0.0, s.ExactMatch("ACC-2021", "acc-2021", true))
	assert.Equal(t, 1.0, s.ExactMatch("", "", false))
}

func TestJaroWinkler(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
		delta    float64
	}{
		{name: "identical", a: "martha", b: "martha", expected: 1.0, delta: 0},
		{name: "classic transposition pair", a: "martha", b: "marhta", expected: 0.961, delta: 0.001},
		{name: "both empty", a: "", b: "", expected: 1.0, delta: 0},
		{name: "one empty", a: "martha", b: "", expected: 0.0, delta: 0},
		{name: "no similarity", a: "abc", b: "xyz", expected: 0.0, delta: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, s.JaroWinkler(tt.a, tt.b), tt.delta)
		})
	}
}

func TestJaroWinklerSymmetry(t *testing.T) {
	s := NewScorer()

	pairs := [][2]string{
		{"annual report 1998", "annual report 1999"},
		{"smith family photographs", "smith family photos"},
		{"dwayne", "duane"},
	}
	for _, p := range pairs {
		assert.InDelta(t, s.JaroWinkler(p[0], p[1]), s.JaroWinkler(p[1], p[0]), 1e-12)
	}
}

func TestJaroWinklerBounds(t *testing.T) {
	s := NewScorer()

	pairs := [][2]string{
		{"a", "ab"},
		{"correspondence", "corespondence"},
		{"xy", "yx"},
		{"aaaa", "aaab"},
	}
	for _, p := range pairs {
		score := s.JaroWinkler(p[0], p[1])
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestLevenshtein(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 3, s.LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 0, s.LevenshteinDistance("same", "same"))
	assert.Equal(t, 4, s.LevenshteinDistance("", "abcd"))

	// similarity = 1 - distance/maxLen
	assert.InDelta(t, 1.0-3.0/7.0, s.Levenshtein("kitten", "sitting"), 1e-12)
	assert.Equal(t, 1.0, s.Levenshtein("", ""))
	assert.Equal(t, 0.0, s.Levenshtein("", "abcd"))
}

func TestSoundex(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		input    string
		expected string
	}{
		{input: "Robert", expected: "R163"},
		{input: "Rupert", expected: "R163"},
		{input: "Smith", expected: "S530"},
		{input: "Smyth", expected: "S530"},
		{input: "Lee", expected: "L000"},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, s.Soundex(tt.input), "input %q", tt.input)
	}

	assert.Equal(t, 1.0, s.SoundexMatch("Smith", "Smyth"))
	assert.Equal(t, 0.0, s.SoundexMatch("Smith", "Jones"))
}

func TestDatesOverlap(t *testing.T) {
	s := NewScorer()

	d := func(y int) *time.Time {
		t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &t
	}

	tests := []struct {
		name     string
		aStart   *time.Time
		aEnd     *time.Time
		bStart   *time.Time
		bEnd     *time.Time
		expected bool
	}{
		{name: "clear overlap", aStart: d(1920), aEnd: d(1930), bStart: d(1925), bEnd: d(1940), expected: true},
		{name: "disjoint", aStart: d(1920), aEnd: d(1930), bStart: d(1950), bEnd: d(1960), expected: false},
		{name: "touching bounds count", aStart: d(1920), aEnd: d(1930), bStart: d(1930), bEnd: d(1940), expected: true},
		{name: "open start treated as earliest", aStart: nil, aEnd: d(1930), bStart: d(1800), bEnd: d(1810), expected: true},
		{name: "open end treated as latest", aStart: d(1920), aEnd: nil, bStart: d(2000), bEnd: d(2010), expected: true},
		{name: "dateless side never overlaps", aStart: d(1920), aEnd: d(1930), bStart: nil, bEnd: nil, expected: false},
		{name: "both sides dateless never overlap", aStart: nil, aEnd: nil, bStart: nil, bEnd: nil, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.DatesOverlap(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
		})
	}
}

func TestWeightedScore(t *testing.T) {
	s := NewScorer()

	scores := map[string]float64{"title": 1.0, "identifier": 0.5}
	weights := map[string]float64{"title": 0.4, "identifier": 0.3}

	// (1.0*0.4 + 0.5*0.3) / 0.7
	assert.InDelta(t, 0.55/0.7, s.WeightedScore(scores, weights), 1e-12)
	assert.Equal(t, 0.0, s.WeightedScore(nil, weights))

	// Unlisted fields default to weight 1.0
	assert.InDelta(t, 0.75, s.WeightedScore(map[string]float64{"a": 1.0, "b": 0.5}, nil), 1e-12)
}
