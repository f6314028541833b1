package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/longform/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

const EventTypeStatusChanged = "longform.project_status_changed"

// ProjectStatusChanged is the payload published for every persisted status write.
type ProjectStatusChanged struct {
	EventID      uuid.UUID            `json:"event_id"`
	EventType    string               `json:"event_type"`
	ProjectID    uuid.UUID            `json:"project_id"`
	From         models.ProjectStatus `json:"from"`
	To           models.ProjectStatus `json:"to"`
	Progress     int                  `json:"progress"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

func NewProjectStatusChanged(change models.StatusChange) ProjectStatusChanged {
	occurred := change.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return ProjectStatusChanged{
		EventID:      uuid.New(),
		EventType:    EventTypeStatusChanged,
		ProjectID:    change.ProjectID,
		From:         change.From,
		To:           change.To,
		Progress:     change.Progress,
		ErrorMessage: change.ErrorMessage,
		OccurredAt:   occurred,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// KafkaEmitter publishes status changes keyed by project id, so one
// project's events stay ordered within a partition.
type KafkaEmitter struct {
	writer       messageWriter
	writeTimeout time.Duration
	logger       zerolog.Logger
}

func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers list is empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is empty")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		WriteTimeout: cfg.WriteTimeout,
	}

	return newKafkaEmitter(writer, cfg.WriteTimeout, cfg.Logger), nil
}

func newKafkaEmitter(w messageWriter, writeTimeout time.Duration, logger zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		writer:       w,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "events").Logger(),
	}
}

func (e *KafkaEmitter) Emit(ctx context.Context, change models.StatusChange) error {
	event := NewProjectStatusChanged(change)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	err = e.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.ProjectID.String()),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}

	e.logger.Debug().
		Str("project_id", event.ProjectID.String()).
		Str("to", string(event.To)).
		Msg("status event published")
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}

// Nop discards events when no broker is configured.
type Nop struct{}

func (Nop) Emit(context.Context, models.StatusChange) error { return nil }
