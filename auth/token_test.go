package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)

	token, exp, err := iss.Issue("abc", "school", "abc", "Hill School")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := iss.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.Subject)
	assert.Equal(t, "school", claims.Role)
	assert.Equal(t, "abc", claims.SchoolID)
	assert.Equal(t, "Hill School", claims.Name)
}

func TestParseRejects(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	token, _, err := iss.Issue("abc", "donor", "", "")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewIssuer("other", time.Hour).Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewIssuer("secret", time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Parse(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := iss.Parse("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing role", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "abc", "exp": time.Now().Add(time.Hour).Unix()})
		s, err := raw.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = iss.Parse(s)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
