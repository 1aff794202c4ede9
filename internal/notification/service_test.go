package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmail_Disabled(t *testing.T) {
	s := NewService(Config{})
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.SendEmail(context.Background(), "a@example.com", "hi", "body"), ErrDisabled)
}

func TestSendEmail_UnknownProvider(t *testing.T) {
	s := NewService(Config{Provider: "pigeon"})
	assert.True(t, s.Enabled())
	assert.ErrorContains(t, s.SendEmail(context.Background(), "a@example.com", "hi", "body"), "unknown provider")
}

func TestSendEmail_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewService(Config{Provider: "smtp", Host: "localhost", Port: 1})
	assert.ErrorIs(t, s.SendEmail(ctx, "a@example.com", "hi", "body"), context.Canceled)
}

func TestMessageHeaders(t *testing.T) {
	s := NewService(Config{FromAddress: "bills@example.com", FromName: "meterbill"})
	msg := string(s.message("a@example.com", "March statement", "<p>hi</p>"))

	head, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, head, "From: meterbill <bills@example.com>\r\n")
	assert.Contains(t, head, "To: a@example.com\r\n")
	assert.Contains(t, head, "Subject: March statement\r\n")
	assert.Contains(t, head, "Content-Type: text/html")
	assert.Equal(t, "<p>hi</p>\r\n", body)
}
