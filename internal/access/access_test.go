package access

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "sk-0123456789abcdef0123456789abcdef"

func TestAuthorize_BearerKey(t *testing.T) {
	a := NewAuthenticator(testKey, true)

	require.NoError(t, a.Authorize("Bearer "+testKey, false))
	require.NoError(t, a.Authorize("bearer "+testKey, false))
	// A raw key without the Bearer prefix also works.
	require.NoError(t, a.Authorize(testKey, false))
}

func TestAuthorize_WrongKey(t *testing.T) {
	a := NewAuthenticator(testKey, true)

	require.ErrorIs(t, a.Authorize("Bearer sk-ffffffffffffffffffffffffffffffff", false), ErrInvalidKey)
	require.ErrorIs(t, a.Authorize("Bearer "+testKey+"0", false), ErrInvalidKey)
	require.ErrorIs(t, a.Authorize("Bearer sk-", false), ErrInvalidKey)
}

func TestAuthorize_MissingHeader(t *testing.T) {
	a := NewAuthenticator(testKey, true)
	require.ErrorIs(t, a.Authorize("", false), ErrMissingKey)
	require.ErrorIs(t, a.Authorize("", true), ErrMissingKey)
}

func TestAuthorize_BrowserOptionalMode(t *testing.T) {
	a := NewAuthenticator(testKey, false)

	// Absent header passes only on optional-auth endpoints.
	require.NoError(t, a.Authorize("", true))
	require.ErrorIs(t, a.Authorize("", false), ErrMissingKey)

	// A present but wrong key still fails even on optional endpoints.
	require.ErrorIs(t, a.Authorize("Bearer sk-ffffffffffffffffffffffffffffffff", true), ErrInvalidKey)

	// A present valid key passes everywhere.
	require.NoError(t, a.Authorize("Bearer "+testKey, true))
	require.NoError(t, a.Authorize("Bearer "+testKey, false))
}
