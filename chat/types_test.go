package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Voice ")
	require.NoError(t, err)
	assert.Equal(t, ModeVoice, m)

	_, err = ParseMode("video")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestRejectionErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("upload: %w", &RejectionError{Status: 400, Message: "No image provided"})
	assert.True(t, errors.Is(err, ErrServerRejection))

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "No image provided", rej.Message)
}

func TestSessionValid(t *testing.T) {
	assert.False(t, Session{}.Valid())
	assert.False(t, Session{Token: "  "}.Valid())
	assert.True(t, Session{Token: "abc"}.Valid())
	assert.Equal(t, "You", Session{}.DisplayName())
	assert.Equal(t, "mina", Session{User: User{Username: "mina"}}.DisplayName())
}
