package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	token, hash, prefix, err := GenerateToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(token, TokenPrefix))
	assert.NoError(t, ValidateTokenFormat(token))
	assert.Equal(t, HashToken(token), hash)
	assert.Equal(t, token[:len(TokenPrefix)+8], prefix)
	assert.NotContains(t, hash, TokenPrefix, "hash must not reveal the token")

	second, _, _, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, second)
}

func TestValidateTokenFormat(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", "gk_dGVzdHRva2VuMTIzNDU2Nzg5MA", false},
		{"missing prefix", "dGVzdHRva2Vu", true},
		{"prefix only", "gk_", true},
		{"bad encoding", "gk_!!!invalid!!!", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenFormat(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("gk_abc"), HashToken("gk_abc"))
	assert.NotEqual(t, HashToken("gk_abc"), HashToken("gk_abd"))
	assert.Len(t, HashToken("gk_abc"), 64)
}
