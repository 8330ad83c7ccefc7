package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenPrefix = "mypub:seen:"
	// SeenTTL is how long a processed activity id is remembered.
	SeenTTL = 10 * time.Minute
)

// SeenStore remembers ids of inbound activities that were processed, so that
// retransmissions are not applied twice.
type SeenStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSeenStore(rdb *redis.Client) *SeenStore {
	return &SeenStore{rdb, SeenTTL}
}

// Seen reports whether activityID was marked within the ttl.
func (s *SeenStore) Seen(ctx context.Context, activityID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "SeenStore.Seen")
	defer span.End()

	n, err := s.rdb.Exists(ctx, seenPrefix+activityID).Result()
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	return n > 0, nil
}

// Mark records activityID as processed.
func (s *SeenStore) Mark(ctx context.Context, activityID string) error {
	ctx, span := tracer.Start(ctx, "SeenStore.Mark")
	defer span.End()

	err := s.rdb.Set(ctx, seenPrefix+activityID, time.Now().Unix(), s.ttl).Err()
	if err != nil {
		span.RecordError(err)
	}
	return err
}
