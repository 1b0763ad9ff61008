package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseRoundTrip(t *testing.T) {
	token, exp, err := Issue("u1", "u1@example.com", "U One", RoleAdmin, "geoattend", "key", time.Minute)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := Parse(token, "key", "geoattend")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, "u1@example.com", claims.Email)
}

func TestParseRejectsWrongKey(t *testing.T) {
	token, _, err := Issue("u1", "", "", RoleAttendee, "geoattend", "key", time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, "other-key", "geoattend")
	assert.Error(t, err)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token, _, err := Issue("u1", "", "", RoleAttendee, "someone-else", "key", time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, "key", "geoattend")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	token, _, err := Issue("u1", "", "", RoleAttendee, "geoattend", "key", -time.Minute)
	require.NoError(t, err)

	_, err = Parse(token, "key", "geoattend")
	assert.Error(t, err)
}
