package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil stays nil", input: nil, want: nil},
		{name: "empty stays empty", input: []string{}, want: []string{}},
		{
			name:  "scope list with padding and repeats",
			input: []string{" governance:export ", "attestation:sign", "governance:export"},
			want:  []string{"governance:export", "attestation:sign"},
		},
		{
			name:  "blank entries dropped",
			input: []string{"privacy-act-1988", "", "   ", "APP"},
			want:  []string{"privacy-act-1988", "APP"},
		},
		{
			name:  "first occurrence wins the ordering",
			input: []string{"b", "a", "b", "c", "a"},
			want:  []string{"b", "a", "c"},
		},
		{
			name:  "case differences are distinct elements",
			input: []string{"APP", "app"},
			want:  []string{"APP", "app"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeAndTrim(tt.input))
		})
	}
}
