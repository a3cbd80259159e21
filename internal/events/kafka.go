package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/paycore/internal/clock"
	"github.com/smallbiznis/paycore/internal/config"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	"github.com/smallbiznis/paycore/pkg/log/ctxlogger"
	"github.com/smallbiznis/paycore/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Config  config.Config
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type KafkaPublisher struct {
	writer             Writer
	log                *zap.Logger
	genID              *snowflake.Node
	clock              clock.Clock
	metrics            *obsmetrics.Metrics
	notificationsTopic string
	domainTopic        string
}

// NewPublisher returns a Kafka publisher, or a logging no-op when no brokers
// are configured.
func NewPublisher(p Params) Publisher {
	log := p.Log.Named("events.publisher")
	if len(p.Config.KafkaBrokers) == 0 {
		log.Info("kafka brokers not configured; events are logged only")
		return NewNoopPublisher(log)
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.Config.KafkaBrokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: !p.Config.IsProduction(),
	}
	pub := NewKafkaPublisher(w, log, p.GenID, p.Clock, p.Metrics, p.Config.KafkaNotificationsTopic, p.Config.KafkaDomainEventsTopic)
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return w.Close()
		},
	})
	return pub
}

// NewKafkaPublisher wires a publisher over any Writer, which lets tests inject a fake.
func NewKafkaPublisher(w Writer, log *zap.Logger, genID *snowflake.Node, clk clock.Clock, metrics *obsmetrics.Metrics, notificationsTopic, domainTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer:             w,
		log:                log,
		genID:              genID,
		clock:              clk,
		metrics:            metrics,
		notificationsTopic: notificationsTopic,
		domainTopic:        domainTopic,
	}
}

func (p *KafkaPublisher) Notify(ctx context.Context, ev Event) error {
	return p.publish(ctx, p.notificationsTopic, ev)
}

func (p *KafkaPublisher) Emit(ctx context.Context, ev Event) error {
	return p.publish(ctx, p.domainTopic, ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, topic string, ev Event) error {
	if strings.TrimSpace(ev.Type) == "" || strings.TrimSpace(topic) == "" {
		return ErrInvalidEvent
	}
	now := p.clock.Now().UTC()
	if ev.ID == "" {
		ev.ID = p.genID.Generate().String()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(ev.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	correlation.InjectIntoHeaders(ctx, &msg, now)

	log := ctxlogger.WithContext(ctxlogger.ContextWithEventSubject(ctx, ev.Type), p.log)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordNotification(ctx, topic, "error")
		log.Warn("kafka publish failed", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.metrics.RecordNotification(ctx, topic, "published")
	log.Debug("event published", zap.String("topic", topic), zap.String("event_id", ev.ID))
	return nil
}

type noopPublisher struct {
	log *zap.Logger
}

func NewNoopPublisher(log *zap.Logger) Publisher {
	return &noopPublisher{log: log}
}

func (n *noopPublisher) Notify(ctx context.Context, ev Event) error {
	n.log.Debug("notification dropped", zap.String("type", ev.Type), zap.String("key", ev.Key))
	return nil
}

func (n *noopPublisher) Emit(ctx context.Context, ev Event) error {
	n.log.Debug("domain event dropped", zap.String("type", ev.Type), zap.String("key", ev.Key))
	return nil
}
