// Package publish fans upload progress snapshots out to interested sinks.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyallcooper/kitaabse/internal/types"
)

// ChannelPrefix prefixes the Redis channel of each upload run
const ChannelPrefix = "progress:"

// Sink receives every snapshot of an upload run
type Sink interface {
	Publish(ctx context.Context, runID string, p types.UploadProgress) error
}

// Func adapts a function to Sink
type Func func(ctx context.Context, runID string, p types.UploadProgress) error

func (f Func) Publish(ctx context.Context, runID string, p types.UploadProgress) error {
	return f(ctx, runID, p)
}

// Multi publishes to every sink, joining their errors
type Multi []Sink

func (m Multi) Publish(ctx context.Context, runID string, p types.UploadProgress) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, runID, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunStore is the persistence DBSink writes to; *db.DB satisfies it
type RunStore interface {
	UpdateUploadRunProgress(id string, p types.UploadProgress) error
}

// DBSink records the latest snapshot on the upload_runs row
type DBSink struct {
	Store RunStore
}

func (s DBSink) Publish(_ context.Context, runID string, p types.UploadProgress) error {
	if err := s.Store.UpdateUploadRunProgress(runID, p); err != nil {
		return fmt.Errorf("failed to store progress for %s: %w", runID, err)
	}
	return nil
}

// publisher is the subset of *redis.Client RedisSink uses
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes snapshots as JSON to progress:{runID}
type RedisSink struct {
	client publisher
	closer func() error
}

// NewRedisSink connects to the Redis server at url (redis://host:port/db)
func NewRedisSink(url string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisSink{client: client, closer: client.Close}, nil
}

// Ping checks the connection
func (s *RedisSink) Ping(ctx context.Context) error {
	if c, ok := s.client.(*redis.Client); ok {
		return c.Ping(ctx).Err()
	}
	return nil
}

func (s *RedisSink) Publish(ctx context.Context, runID string, p types.UploadProgress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	if err := s.client.Publish(ctx, ChannelPrefix+runID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress for %s: %w", runID, err)
	}
	return nil
}

// Close releases the Redis connection
func (s *RedisSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
