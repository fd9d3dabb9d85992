// Package alertqueue publishes alert changes onto a Redis list for
// downstream consumers.
package alertqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// Config configures the Redis queue writer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	MaxLen       int64
	Timeout      time.Duration
	BlockTimeout time.Duration
}

// Message is one queued change batch.
type Message struct {
	PublishedAt time.Time      `json:"published_at"`
	Created     []models.Alert `json:"created"`
	Reopened    []models.Alert `json:"reopened"`
	Resolved    []models.Alert `json:"resolved"`
}

// Writer pushes change batches onto a Redis list.
type Writer struct {
	client       *redis.Client
	key          string
	maxLen       int64
	timeout      time.Duration
	blockTimeout time.Duration
	now          func() time.Time
}

// NewWriter creates a Redis queue writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis queue key is required")
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	logger.Infof("Redis queue notifier initialized: %s/%s", cfg.Addr, cfg.Key)
	return &Writer{
		client:       client,
		key:          cfg.Key,
		maxLen:       cfg.MaxLen,
		timeout:      cfg.Timeout,
		blockTimeout: cfg.BlockTimeout,
		now:          time.Now,
	}, nil
}

// WriteChanges pushes one message. The list keeps the newest MaxLen entries.
func (w *Writer) WriteChanges(created, reopened, resolved []models.Alert) error {
	if len(created) == 0 && len(reopened) == 0 && len(resolved) == 0 {
		return nil
	}
	msg := Message{
		PublishedAt: w.now().UTC(),
		Created:     orEmpty(created),
		Reopened:    orEmpty(reopened),
		Resolved:    orEmpty(resolved),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert changes: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	_, err = w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, w.key, body)
		pipe.LTrim(ctx, w.key, -w.maxLen, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis queue push failed: %w", err)
	}
	return nil
}

// Pop is the consumer side of the queue: downstream readers build a Writer
// on the same Addr and Key and call Pop in a loop. It removes the oldest
// message, waiting up to BlockTimeout, and returns nil when the queue stayed
// empty.
func (w *Writer) Pop(ctx context.Context) (*Message, error) {
	res, err := w.client.BLPop(ctx, w.blockTimeout, w.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode queued changes: %w", err)
	}
	return &msg, nil
}

func orEmpty(alerts []models.Alert) []models.Alert {
	if alerts == nil {
		return []models.Alert{}
	}
	return alerts
}

// Close closes the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
