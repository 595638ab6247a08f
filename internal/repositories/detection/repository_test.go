package detection_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahg-archives/bramble/internal/repositories/detection"
)

func TestCanonicalPair(t *testing.T) {
	tests := []struct {
		name  string
		a     int
		b     int
		wantA int
		wantB int
	}{
		{name: "already ordered", a: 3, b: 9, wantA: 3, wantB: 9},
		{name: "reversed", a: 9, b: 3, wantA: 3, wantB: 9},
		{name: "equal", a: 5, b: 5, wantA: 5, wantB: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := detection.CanonicalPair(tt.a, tt.b)
			assert.Equal(t, tt.wantA, a)
			assert.Equal(t, tt.wantB, b)
		})
	}
}
