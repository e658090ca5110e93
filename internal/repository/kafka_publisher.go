package repository

import (
	"context"

	"BasalGCT/internal/domain/models"
	domrepo "BasalGCT/internal/domain/repository"
)

// topicPublisher is the slice of pkg/kafka.Producer the publisher needs.
type topicPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher writes results and alerts as JSON keyed by symbol, so a symbol's
// messages stay on one partition.
type KafkaPublisher struct {
	p            topicPublisher
	resultsTopic string
	alertsTopic  string
}

func NewKafkaPublisher(p topicPublisher, resultsTopic, alertsTopic string) *KafkaPublisher {
	return &KafkaPublisher{p: p, resultsTopic: resultsTopic, alertsTopic: alertsTopic}
}

func (k *KafkaPublisher) PublishResult(ctx context.Context, r *models.EnhancedCoherenceResult) error {
	return k.p.Publish(ctx, k.resultsTopic, []byte(r.Symbol), r)
}

func (k *KafkaPublisher) PublishAlert(ctx context.Context, a models.Alert) error {
	return k.p.Publish(ctx, k.alertsTopic, []byte(a.Symbol), a)
}

func (k *KafkaPublisher) Close() error { return k.p.Close() }

var _ domrepo.Publisher = (*KafkaPublisher)(nil)
