package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert() JobAlert {
	return JobAlert{
		JobName:   "monthly_statements",
		Total:     3,
		Succeeded: 2,
		Failed:    1,
		Duration:  1500 * time.Millisecond,
		Failures:  []Failure{{Subject: "alice", Error: "smtp: connection refused"}},
		Timestamp: time.Date(2024, 4, 1, 6, 0, 0, 0, time.UTC),
	}
}

func TestSend_Generic(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a := NewAlerter(Config{WebhookURL: srv.URL})
	require.NoError(t, a.Send(context.Background(), sampleAlert()))

	assert.Equal(t, "job_failure", got["alert_type"])
	assert.Equal(t, "monthly_statements", got["job_name"])
	assert.EqualValues(t, 1, got["failed_count"])
	assert.EqualValues(t, 1500, got["duration_ms"])
	failures := got["failures"].([]interface{})
	require.Len(t, failures, 1)
	assert.Equal(t, "alice", failures[0].(map[string]interface{})["subject"])
}

func TestSend_SkipsWhenDisabledOrBelowThreshold(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	require.NoError(t, NewAlerter(Config{}).Send(context.Background(), sampleAlert()))
	require.NoError(t, NewAlerter(Config{WebhookURL: srv.URL, MinFailures: 2}).Send(context.Background(), sampleAlert()))
	assert.Zero(t, calls)
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewAlerter(Config{WebhookURL: srv.URL}).Send(context.Background(), sampleAlert())
	assert.ErrorContains(t, err, "status 502")
}

func TestDetectType(t *testing.T) {
	assert.Equal(t, "slack", NewAlerter(Config{WebhookURL: "https://hooks.slack.com/services/x"}).cfg.WebhookType)
	assert.Equal(t, "discord", NewAlerter(Config{WebhookURL: "https://discord.com/api/webhooks/x"}).cfg.WebhookType)
	assert.Equal(t, "generic", NewAlerter(Config{WebhookURL: "https://example.com/hook"}).cfg.WebhookType)
	assert.Equal(t, "slack", NewAlerter(Config{WebhookURL: "https://example.com", WebhookType: "slack"}).cfg.WebhookType)
}

func TestPayloadShapes(t *testing.T) {
	b, err := slackPayload(sampleAlert())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"blocks"`)
	assert.Contains(t, string(b), "*alice*")

	b, err = discordPayload(sampleAlert())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"embeds"`)
	assert.Contains(t, string(b), "**alice**")
}
