package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
)

const (
	// maxStoredErrors is the maximum number of errors to keep in memory
	// This prevents unbounded memory growth during long-running operations
	maxStoredErrors = 100
)

// Producer sends broadcast events to Kafka using asynchronous producer
type Producer struct {
	producer  sarama.AsyncProducer
	topic     string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	closed    bool
	closeMu   sync.Mutex
	errors    []error
	errorsMu  sync.Mutex
}

// ProducerConfig holds configuration for Kafka producer
type ProducerConfig struct {
	Brokers         []string
	Topic           string
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	MaxMessageBytes int // Max message size in bytes (default: 1MB)
	MaxRetries      int // Max retries for failed sends (default: 5)
}

// NewProducer creates a new Kafka producer with async producer configuration
//
// Configuration highlights:
// - Asynchronous producer for high throughput
// - Snappy compression for bandwidth optimization
// - Idempotent mode for at-least-once delivery with deduplication
// - Hash partitioner based on campaign_id for ordering guarantees
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers specified")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1000000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.GetDefaultMetrics()
	}

	config := sarama.NewConfig()

	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Compression: Snappy (good balance between speed and compression ratio)
	config.Producer.Compression = sarama.CompressionSnappy

	// Idempotent mode: ensures at-least-once delivery with automatic deduplication
	config.Producer.Idempotent = true
	config.Producer.RequiredAcks = sarama.WaitForAll // Required for idempotent producer
	config.Net.MaxOpenRequests = 1                   // Required for idempotent producer
	config.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	config.Producer.Retry.Max = cfg.MaxRetries

	// Partitioner: hash by campaign_id for event ordering per campaign
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.ClientID = "bump-service-producer"
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := &Producer{
		producer: producer,
		topic:    cfg.Topic,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		errors:   make([]error, 0),
	}

	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()

	cfg.Logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Int("max_message_bytes", cfg.MaxMessageBytes).
		Int("max_retries", cfg.MaxRetries).
		Msg("Kafka producer initialized successfully")

	return p, nil
}

// PublishBroadcast sends a broadcast event to Kafka asynchronously
//
// Uses campaign_id as the partition key to ensure event ordering per campaign.
// Returns error if validation fails, context is cancelled, or encoding fails.
// Actual Kafka send errors are handled asynchronously via error channel.
func (p *Producer) PublishBroadcast(ctx context.Context, event domain.BroadcastEvent) error {
	if event.CampaignID <= 0 {
		return fmt.Errorf("campaign_id is required")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled before sending: %w", ctx.Err())
	default:
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(strconv.FormatInt(event.CampaignID, 10)),
		Value:     sarama.ByteEncoder(value),
		Timestamp: event.Timestamp,
	}

	select {
	case p.producer.Input() <- msg:
		p.logger.Debug().
			Int64("campaign_id", event.CampaignID).
			Str("status", event.Status).
			Str("group", event.Group).
			Msg("Broadcast event queued for sending to Kafka")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while sending message: %w", ctx.Err())
	}
}

func (p *Producer) handleSuccesses() {
	defer p.wg.Done()

	for msg := range p.producer.Successes() {
		p.metrics.RecordKafkaMessage()
		p.logger.Debug().
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Message sent to Kafka successfully")
	}

	p.logger.Info().Msg("Success handler stopped")
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for producerErr := range p.producer.Errors() {
		p.metrics.RecordKafkaError("produce")
		p.logger.Error().
			Err(producerErr.Err).
			Str("topic", producerErr.Msg.Topic).
			Interface("key", producerErr.Msg.Key).
			Msg("Failed to send message to Kafka")

		p.errorsMu.Lock()
		if len(p.errors) < maxStoredErrors {
			p.errors = append(p.errors, producerErr.Err)
		} else if len(p.errors) == maxStoredErrors {
			p.logger.Warn().
				Int("max_errors", maxStoredErrors).
				Msg("Maximum stored errors limit reached, subsequent errors will be dropped")
			p.errors = append(p.errors, fmt.Errorf("max errors limit reached, subsequent errors dropped"))
		}
		p.errorsMu.Unlock()
	}

	p.logger.Info().Msg("Error handler stopped")
}

// IsHealthy returns true if the producer is healthy and can send messages
func (p *Producer) IsHealthy() bool {
	if p.producer == nil {
		return false
	}

	p.closeMu.Lock()
	isClosed := p.closed
	p.closeMu.Unlock()

	if isClosed {
		return false
	}

	p.errorsMu.Lock()
	errorCount := len(p.errors)
	p.errorsMu.Unlock()

	return errorCount < maxStoredErrors
}

// Close gracefully shuts down the Kafka producer with a default 10-second timeout
//
// Close is idempotent - can be called multiple times safely.
func (p *Producer) Close() error {
	return p.CloseWithTimeout(10 * time.Second)
}

// CloseWithTimeout gracefully shuts down the Kafka producer with a custom timeout
//
// The producer flushes pending messages before closing. If the timeout is
// reached before handlers finish, an error is returned.
func (p *Producer) CloseWithTimeout(timeout time.Duration) error {
	p.closeOnce.Do(func() {
		p.logger.Info().
			Dur("timeout", timeout).
			Msg("Closing Kafka producer")

		p.closeMu.Lock()
		p.closed = true
		p.closeMu.Unlock()

		var errs []error

		if err := p.producer.Close(); err != nil {
			p.logger.Error().Err(err).Msg("Error closing Kafka producer")
			errs = append(errs, fmt.Errorf("producer close failed: %w", err))
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Debug().Msg("All handler goroutines finished")
		case <-time.After(timeout):
			p.logger.Error().
				Dur("timeout", timeout).
				Msg("Timeout waiting for handlers to finish")
			errs = append(errs, fmt.Errorf("close timeout after %s: handlers did not finish in time", timeout))
		}

		p.errorsMu.Lock()
		errorCount := len(p.errors)
		p.errorsMu.Unlock()

		if errorCount > 0 {
			p.logger.Warn().
				Int("error_count", errorCount).
				Msg("Kafka producer closed with errors")
			errs = append(errs, fmt.Errorf("producer had %d send errors during operation", errorCount))
		}

		p.closeMu.Lock()
		if len(errs) > 0 {
			errMsg := "close errors:"
			for i, err := range errs {
				errMsg += fmt.Sprintf(" [%d] %v;", i+1, err)
			}
			p.closeErr = fmt.Errorf("%s", errMsg)
			p.logger.Error().Err(p.closeErr).Msg("Kafka producer closed with errors")
		} else {
			p.logger.Info().Msg("Kafka producer closed successfully")
		}
		p.closeMu.Unlock()
	})

	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closeErr
}

// NopProducer is used when Kafka publishing is disabled (no brokers configured)
type NopProducer struct{}

// PublishBroadcast discards the event
func (NopProducer) PublishBroadcast(ctx context.Context, event domain.BroadcastEvent) error {
	return nil
}

// IsHealthy always reports healthy
func (NopProducer) IsHealthy() bool { return true }

// Close is a no-op
func (NopProducer) Close() error { return nil }
