package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher mirrors appended entries to an external stream for downstream
// consumers. The hash chain remains the source of truth: publishing is
// best-effort and must never block or fail an append.
type Publisher interface {
	Publish(entry Entry)
}

// StreamPublisher buffers entries and batches them into Kafka. Entries are
// keyed by chain so per-chain ordering survives partitioning.
type StreamPublisher struct {
	client  *kgo.Client
	topic   string
	buffer  *ringBuffer
	sampler *Sampler
	logger  *slog.Logger
	metrics *Metrics

	bufferCapacity int
	flushInterval  time.Duration
	batchSize      int
}

type PublisherOption func(*StreamPublisher)

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *StreamPublisher) { p.logger = logger }
}

func WithPublisherMetrics(m *Metrics) PublisherOption {
	return func(p *StreamPublisher) { p.metrics = m }
}

// WithSampler thins operations-category entries before buffering.
func WithSampler(s *Sampler) PublisherOption {
	return func(p *StreamPublisher) { p.sampler = s }
}

func WithBufferCapacity(n int) PublisherOption {
	return func(p *StreamPublisher) { p.bufferCapacity = n }
}

func WithFlushInterval(d time.Duration) PublisherOption {
	return func(p *StreamPublisher) { p.flushInterval = d }
}

func NewStreamPublisher(client *kgo.Client, topic string, opts ...PublisherOption) *StreamPublisher {
	p := &StreamPublisher{
		client:         client,
		topic:          topic,
		bufferCapacity: 4096,
		flushInterval:  time.Second,
		batchSize:      256,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.buffer = newRingBuffer(p.bufferCapacity)
	return p
}

// Publish enqueues an entry for the next flush. Never blocks; when the
// buffer is full the oldest unpublished entry is dropped.
func (p *StreamPublisher) Publish(entry Entry) {
	if entry.Category == CategoryOperations && p.sampler != nil && !p.sampler.Keep(entry.EventType) {
		if p.metrics != nil {
			p.metrics.StreamSampled.Inc()
		}
		return
	}
	p.buffer.Enqueue(entry)
}

// Run drives the flush loop until the context is cancelled, then drains
// whatever is still buffered.
func (p *StreamPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.flush(drainCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *StreamPublisher) flush(ctx context.Context) {
	for {
		batch := p.buffer.DequeueBatch(p.batchSize)
		if len(batch) == 0 {
			return
		}

		records := make([]*kgo.Record, 0, len(batch))
		for _, entry := range batch {
			payload, err := json.Marshal(entry)
			if err != nil {
				if p.logger != nil {
					p.logger.ErrorContext(ctx, "marshal audit entry for stream",
						"chain", entry.ChainID, "sequence", entry.Sequence, "error", err)
				}
				continue
			}
			records = append(records, &kgo.Record{
				Topic: p.topic,
				Key:   []byte(entry.ChainID),
				Value: payload,
			})
		}
		if len(records) == 0 {
			continue
		}

		if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
			if p.metrics != nil {
				p.metrics.StreamFailures.Add(float64(len(records)))
			}
			if p.logger != nil {
				p.logger.ErrorContext(ctx, "audit stream produce failed",
					"records", len(records), "error", err)
			}
			return
		}
		if p.metrics != nil {
			p.metrics.StreamPublished.Add(float64(len(records)))
		}
	}
}

// Close drains the buffer and releases the Kafka client.
func (p *StreamPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.flush(ctx)
	p.client.Close()
}
