package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "postgres://replica1:5432/gk", []string{"postgres://replica1:5432/gk"}},
		{
			"multiple with whitespace",
			"postgres://r1:5432/gk, postgres://r2:5432/gk ,postgres://r3:5432/gk",
			[]string{"postgres://r1:5432/gk", "postgres://r2:5432/gk", "postgres://r3:5432/gk"},
		},
		{"trailing comma", "postgres://r1:5432/gk,", []string{"postgres://r1:5432/gk"}},
		{"only commas", ",,", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseReplicaURLs(tt.input))
		})
	}
}
