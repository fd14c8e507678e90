package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestIssueAndParse(t *testing.T) {
	tok, err := IssueToken(secret, "acct-1", "admin", time.Hour)
	require.NoError(t, err)

	id, role, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", id)
	assert.Equal(t, "admin", role)
}

func TestParseRejects(t *testing.T) {
	tok, err := IssueToken(secret, "acct-1", "", time.Hour)
	require.NoError(t, err)
	_, _, err = ParseToken([]byte("other"), tok)
	assert.Error(t, err)

	expired, err := IssueToken(secret, "acct-1", "", -time.Minute)
	require.NoError(t, err)
	_, _, err = ParseToken(secret, expired)
	assert.Error(t, err)

	_, err = IssueToken(secret, "", "", time.Hour)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("")
	assert.Error(t, err)
	_, err = BearerToken("Basic abc")
	assert.Error(t, err)
	_, err = BearerToken("Bearer ")
	assert.Error(t, err)
}
