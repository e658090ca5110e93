package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BasalGCT/pkg/logger"
)

func init() {
	SetMetricsRegisterer(prometheus.NewRegistry())
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []kafka.Message
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{queue: make(chan kafka.Message, len(msgs)+1)}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                            { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func testConsumer(dlq bool) *Consumer {
	cfg := &ConsumerConfig{
		WorkerCount: 2,
		BufferSize:  4,
		RetryMax:    2,
		BackoffMin:  time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		Logger:      logger.Nop(),
	}
	if dlq {
		cfg.DLQTopic = "ticks.dlq"
	}
	c := newConsumer(cfg)
	if dlq {
		c.dlq = &fakeWriter{}
	}
	return c
}

func TestPublishEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "gzip")

	require.NoError(t, p.Publish(context.Background(), "results", []byte("AAPL"), map[string]float64{"psi": 0.5}))
	require.NoError(t, p.PublishBatch(context.Background(), "results", []Message{
		{Key: []byte("a"), Value: "raw"},
		{Key: []byte("b"), Value: []byte("bytes")},
	}))
	require.NoError(t, p.PublishBatch(context.Background(), "results", nil))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "results", w.msgs[0].Topic)
	assert.Equal(t, []byte("AAPL"), w.msgs[0].Key)
	var decoded map[string]float64
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, 0.5, decoded["psi"])
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, "bytes", string(w.msgs[2].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := newProducer(w, "gzip")

	err := p.Publish(context.Background(), "alerts", nil, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alerts")

	err = p.Publish(context.Background(), "alerts", nil, func() {})
	assert.ErrorContains(t, err, "marshal value")
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer()
	assert.Error(t, err)
}

func TestHandleCommitsOnSuccess(t *testing.T) {
	c := testConsumer(false)
	r := newFakeReader()
	c.readers["ticks"] = r

	var got []byte
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func(b []byte) error { got = b; return nil }})

	c.handle(kafka.Message{Topic: "ticks", Value: []byte("payload")})
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, 1, r.commits())
}

func TestHandleRetriesThenDLQ(t *testing.T) {
	c := testConsumer(true)
	r := newFakeReader()
	c.readers["ticks"] = r

	attempts := 0
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func([]byte) error {
		attempts++
		return errors.New("store down")
	}})

	var hookErrs int
	c.WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { hookErrs++ }})

	c.handle(kafka.Message{Topic: "ticks", Key: []byte("AAPL"), Value: []byte("bad")})

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, hookErrs)
	dlq := c.dlq.(*fakeWriter)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "ticks.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, "ticks", string(dlq.msgs[0].Headers[0].Value))
	assert.Equal(t, 1, r.commits())
}

func TestHandleWithoutDLQDoesNotCommitFailures(t *testing.T) {
	c := testConsumer(false)
	r := newFakeReader()
	c.readers["ticks"] = r
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func([]byte) error { panic("boom") }})

	require.NotPanics(t, func() { c.handle(kafka.Message{Topic: "ticks"}) })
	assert.Equal(t, 0, r.commits())
}

func TestBeforeHookErrorSkipsRetries(t *testing.T) {
	c := testConsumer(false)
	c.readers["ticks"] = newFakeReader()
	calls := 0
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func([]byte) error { calls++; return nil }})
	c.WithConsumerHook(HookFuncs{Before: func(ctx context.Context, _ string, km kafka.Message, b []byte) (context.Context, kafka.Message, []byte, error) {
		return ctx, km, b, &HookError{Code: "ERR_VALIDATION"}
	}})

	c.handle(kafka.Message{Topic: "ticks"})
	assert.Zero(t, calls)
}

func TestStartStop(t *testing.T) {
	c := testConsumer(false)
	r := newFakeReader(
		kafka.Message{Topic: "ticks", Partition: 0, Value: []byte("1")},
		kafka.Message{Topic: "ticks", Partition: 1, Value: []byte("2")},
	)
	c.newReader = func(string) messageReader { return r }

	var mu sync.Mutex
	var seen []string
	c.RegisterHandler(funcHandler{topic: "ticks", fn: func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(b))
		return nil
	}})

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool { return r.commits() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.True(t, r.closed)
	mu.Lock()
	assert.ElementsMatch(t, []string{"1", "2"}, seen)
	mu.Unlock()
}

func TestHookChain(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, b []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, km, append(b, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) { order = append(order, "after:"+name) },
		}
	}
	panicky := HookFuncs{After: func(context.Context, string, kafka.Message, []byte, error) { panic("x") }}
	chain := NewHookChain(mk("a"), nil, panicky, mk("b"))

	ctx, km, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte(">"))
	require.NoError(t, err)
	assert.Equal(t, ">ab", string(data))
	assert.NotPanics(t, func() { chain.AfterHandle(ctx, "t", km, data, nil) })
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)

	broken := NewHookChain(HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("bad hook")
	}})
	_, _, _, err = broken.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestTracingHook(t *testing.T) {
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := TracingHook().BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	_, ok := ctx.Value(CtxStartTime).(time.Time)
	assert.True(t, ok)
}
