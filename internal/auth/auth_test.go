package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := IssueToken("secret", "scheduler", []string{PermRunTriggers}, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "scheduler", p.Subject)
	assert.True(t, p.Can(PermRunTriggers))
	assert.False(t, p.Can(PermReadMarketplace))

	var forbidden ForbiddenError
	require.True(t, errors.As(p.Require(PermReadMarketplace), &forbidden))
	assert.Equal(t, PermReadMarketplace, forbidden.Permission)

	_, err = ParseToken("other", tok)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	tok, err := IssueToken("secret", "x", nil, -time.Minute)
	require.NoError(t, err)
	// A negative ttl means no expiry claim, so the token stays valid.
	_, err = ParseToken("secret", tok)
	assert.NoError(t, err)

	tok, err = IssueToken("secret", "x", nil, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = ParseToken("secret", tok)
	assert.Error(t, err)
}

func TestWildcardAndBearer(t *testing.T) {
	p := Principal{Subject: "admin", Permissions: []string{PermAll}}
	assert.True(t, p.Can(PermRunTriggers))

	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)

	_, err := IssueToken("", "x", nil, 0)
	assert.Error(t, err)
}
