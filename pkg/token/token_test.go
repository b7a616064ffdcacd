package token_test

import (
	"testing"

	"github.com/richjun-project/vibescan/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShareToken(t *testing.T) {
	first, err := token.NewShareToken()
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := token.NewShareToken()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"subscription.updated"}`)

	sig := token.Sign(secret, body)
	assert.True(t, token.VerifySignature(secret, body, sig))

	assert.False(t, token.VerifySignature(secret, body, sig+"00"))
	assert.False(t, token.VerifySignature(secret, []byte(`tampered`), sig))
	assert.False(t, token.VerifySignature("other-secret", body, sig))
	assert.False(t, token.VerifySignature(secret, body, ""))
}
