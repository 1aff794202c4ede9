// Package ingest turns meter telemetry received over MQTT into readings.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bher20/meterbill/internal/billing"
	"github.com/bher20/meterbill/internal/metrics"
	"github.com/bher20/meterbill/internal/storage"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMessage = errors.New("invalid reading message")
	ErrUnknownMeter   = errors.New("unknown meter")
)

// Message is the JSON payload published by meters. SerialNumber is used when MeterID is zero.
type Message struct {
	MeterID      uint            `json:"meter_id"`
	SerialNumber string          `json:"serial_number"`
	Value        decimal.Decimal `json:"value"`
	ReadingDate  string          `json:"reading_date"`
}

// Handler validates messages and records them through the billing service.
type Handler struct {
	st      storage.Storage
	billing *billing.Service
}

func NewHandler(st storage.Storage, svc *billing.Service) *Handler {
	return &Handler{st: st, billing: svc}
}

// Handle stores the reading carried by payload and runs the charge accumulator on it.
func (h *Handler) Handle(ctx context.Context, payload []byte) (*storage.Reading, billing.Outcome, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Value.IsNegative() {
		return nil, "", fmt.Errorf("%w: negative value", ErrInvalidMessage)
	}
	day, err := time.Parse("2006-01-02", msg.ReadingDate)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading_date: %v", ErrInvalidMessage, err)
	}

	m, err := h.resolveMeter(ctx, msg)
	if err != nil {
		return nil, "", err
	}

	r := &storage.Reading{MeterID: m.ID, Value: msg.Value.Round(3), ReadingDate: day}
	outcome, err := h.billing.CreateReading(ctx, r)
	if err != nil {
		return nil, "", err
	}
	return r, outcome, nil
}

func (h *Handler) resolveMeter(ctx context.Context, msg Message) (*storage.Meter, error) {
	if msg.MeterID != 0 {
		m, err := h.st.GetMeter(ctx, msg.MeterID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownMeter, msg.MeterID)
		}
		return m, nil
	}
	if msg.SerialNumber == "" {
		return nil, fmt.Errorf("%w: meter_id or serial_number required", ErrInvalidMessage)
	}
	meters, err := h.st.ListMeters(ctx, storage.MeterFilter{})
	if err != nil {
		return nil, err
	}
	for i := range meters {
		if meters[i].SerialNumber == msg.SerialNumber && meters[i].IsActive {
			return &meters[i], nil
		}
	}
	return nil, fmt.Errorf("%w: serial %q", ErrUnknownMeter, msg.SerialNumber)
}

// Config selects the broker and topic.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

// Subscriber feeds MQTT messages into a Handler.
type Subscriber struct {
	cfg     Config
	handler *Handler
	timeout time.Duration
}

func NewSubscriber(cfg Config, h *Handler) *Subscriber {
	return &Subscriber{cfg: cfg, handler: h, timeout: 10 * time.Second}
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	defer client.Disconnect(250)

	if token := client.Subscribe(s.cfg.Topic, 1, s.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.cfg.Topic, token.Error())
	}
	log.Info().Str("broker", s.cfg.Broker).Str("topic", s.cfg.Topic).Msg("ingest subscribed")

	<-ctx.Done()
	log.Info().Msg("ingest stopping")
	return nil
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	r, outcome, err := s.handler.Handle(ctx, msg.Payload())
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownMeter):
		metrics.IngestMessagesTotal.WithLabelValues("rejected").Inc()
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropping reading message")
	case err != nil:
		metrics.IngestMessagesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("topic", msg.Topic()).Msg("reading message failed")
	default:
		metrics.IngestMessagesTotal.WithLabelValues("accepted").Inc()
		log.Debug().
			Uint("meter_id", r.MeterID).
			Uint("reading_id", r.ID).
			Str("outcome", string(outcome)).
			Msg("reading ingested")
	}
}
