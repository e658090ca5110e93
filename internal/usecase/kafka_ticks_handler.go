package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"BasalGCT/internal/domain/models"
	domrepo "BasalGCT/internal/domain/repository"
	pkgkafka "BasalGCT/pkg/kafka"
)

// PointProcessor is what the ticks handler feeds.
type PointProcessor interface {
	Process(ctx context.Context, p models.MarketDataPoint) (*models.EnhancedCoherenceResult, error)
}

// KafkaTicksHandler consumes market ticks and runs them through the processor.
type KafkaTicksHandler struct {
	topic   string
	proc    PointProcessor
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, proc PointProcessor, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// tick accepts both a full data point {symbol, price, volume, timestamp, sentiment}
// and the compact feed shape {s, p, v, t} with t in unix milliseconds.
type tick struct {
	Symbol    string          `json:"symbol"`
	Price     float64         `json:"price"`
	Volume    float64         `json:"volume"`
	Timestamp json.RawMessage `json:"timestamp"`
	Sentiment *float64        `json:"sentiment"`

	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"`
}

// Handle decodes one tick. Malformed payloads are permanent failures and skip retries.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	pt, err := decodeTick(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return backoff.Permanent(err)
	}
	if !pt.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(pt.Timestamp).Seconds())
	}

	// Sink errors come back with a result and do not fail the message.
	res, err := h.proc.Process(ctx, pt)
	if err != nil && res == nil {
		return backoff.Permanent(err)
	}
	return nil
}

func decodeTick(b []byte) (models.MarketDataPoint, error) {
	var t tick
	if err := json.Unmarshal(b, &t); err != nil {
		return models.MarketDataPoint{}, fmt.Errorf("decode tick: %w", err)
	}

	if t.Symbol == "" && t.S != "" {
		return models.MarketDataPoint{
			Symbol:    t.S,
			Price:     t.P,
			Volume:    int64(t.V + 0.5),
			Timestamp: unixAuto(t.T),
		}, nil
	}
	if t.Symbol == "" {
		return models.MarketDataPoint{}, fmt.Errorf("decode tick: missing symbol")
	}

	pt := models.MarketDataPoint{
		Symbol:    t.Symbol,
		Price:     t.Price,
		Volume:    int64(t.Volume + 0.5),
		Sentiment: t.Sentiment,
	}
	if len(t.Timestamp) > 0 && string(t.Timestamp) != "null" {
		ts, err := parseTimestamp(t.Timestamp)
		if err != nil {
			return models.MarketDataPoint{}, err
		}
		pt.Timestamp = ts
	} else {
		pt.Timestamp = time.Now().UTC()
	}
	return pt, nil
}

// parseTimestamp takes RFC3339 strings or unix seconds/milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("decode tick timestamp: %w", err)
		}
		return ts, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, fmt.Errorf("decode tick timestamp: %w", err)
	}
	return unixAuto(n), nil
}

func unixAuto(n int64) time.Time {
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
