package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds alerting configuration.
type Config struct {
	// WebhookURL is a Slack, Discord or generic JSON endpoint. Empty disables alerts.
	WebhookURL string
	// WebhookType is "slack", "discord" or "generic". Empty detects it from the URL.
	WebhookType string
	// MinFailures is the threshold before an alert is sent.
	MinFailures int
	Timeout     time.Duration
}

// Alerter posts job failure alerts to a webhook.
type Alerter struct {
	cfg    Config
	client *http.Client
}

func NewAlerter(cfg Config) *Alerter {
	if cfg.WebhookType == "" || cfg.WebhookType == "auto" {
		cfg.WebhookType = detectType(cfg.WebhookURL)
	}
	if cfg.MinFailures <= 0 {
		cfg.MinFailures = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Alerter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func detectType(url string) string {
	switch {
	case strings.Contains(url, "slack.com"):
		return "slack"
	case strings.Contains(url, "discord.com"):
		return "discord"
	default:
		return "generic"
	}
}

// Enabled reports whether a webhook is configured.
func (a *Alerter) Enabled() bool { return a.cfg.WebhookURL != "" }

// JobAlert summarises one run of a background job.
type JobAlert struct {
	JobName   string
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Failures  []Failure
	Timestamp time.Time
}

// Failure is one item of a job run that failed, such as a user statement.
type Failure struct {
	Subject string `json:"subject"`
	Error   string `json:"error"`
}

// Send posts alert to the webhook. It is a no-op when alerts are disabled
// or the failure count is below the threshold.
func (a *Alerter) Send(ctx context.Context, alert JobAlert) error {
	if !a.Enabled() {
		log.Debug().Str("job", alert.JobName).Msg("alerting: disabled, skipping")
		return nil
	}
	if alert.Failed < a.cfg.MinFailures {
		log.Debug().Int("failed", alert.Failed).Int("threshold", a.cfg.MinFailures).Msg("alerting: below threshold, skipping")
		return nil
	}

	var (
		payload []byte
		err     error
	)
	switch a.cfg.WebhookType {
	case "slack":
		payload, err = slackPayload(alert)
	case "discord":
		payload, err = discordPayload(alert)
	default:
		payload, err = genericPayload(alert)
	}
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	log.Info().Str("job", alert.JobName).Int("failed", alert.Failed).Msg("alerting: alert sent")
	return nil
}

func failureList(alert JobAlert, bold string) string {
	var b strings.Builder
	for _, f := range alert.Failures {
		fmt.Fprintf(&b, "• %s%s%s: %s\n", bold, f.Subject, bold, f.Error)
	}
	return b.String()
}

func slackPayload(alert JobAlert) ([]byte, error) {
	emoji := ":warning:"
	if alert.Failed == alert.Total {
		emoji = ":x:"
	}
	return json.Marshal(map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Job Alert: %s", emoji, alert.JobName),
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Status:*\n%d/%d failed", alert.Failed, alert.Total)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", alert.Duration.Round(time.Millisecond))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Succeeded:*\n%d", alert.Succeeded)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Timestamp:*\n%s", alert.Timestamp.Format(time.RFC3339))},
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": "*Failures:*\n" + failureList(alert, "*"),
				},
			},
		},
	})
}

func discordPayload(alert JobAlert) ([]byte, error) {
	color := 16776960 // yellow
	if alert.Failed == alert.Total {
		color = 16711680 // red
	}
	return json.Marshal(map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       "Job Alert: " + alert.JobName,
				"description": fmt.Sprintf("%d/%d failed", alert.Failed, alert.Total),
				"color":       color,
				"fields": []map[string]interface{}{
					{"name": "Succeeded", "value": fmt.Sprintf("%d", alert.Succeeded), "inline": true},
					{"name": "Failed", "value": fmt.Sprintf("%d", alert.Failed), "inline": true},
					{"name": "Duration", "value": alert.Duration.Round(time.Millisecond).String(), "inline": true},
					{"name": "Failures", "value": failureList(alert, "**"), "inline": false},
				},
				"timestamp": alert.Timestamp.Format(time.RFC3339),
			},
		},
	})
}

func genericPayload(alert JobAlert) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"alert_type":      "job_failure",
		"job_name":        alert.JobName,
		"total_count":     alert.Total,
		"succeeded_count": alert.Succeeded,
		"failed_count":    alert.Failed,
		"duration_ms":     alert.Duration.Milliseconds(),
		"timestamp":       alert.Timestamp.Format(time.RFC3339),
		"failures":        alert.Failures,
	})
}
