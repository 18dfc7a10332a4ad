// Package orphan keeps identity accounts that lost their profile counterpart
// discoverable. Entries never expire; retryable ones (failed identity-side
// deletes) are drained by the sweep job, the rest wait for an operator.
package orphan

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"registrar/internal/model"
)

var ErrNotConfigured = errors.New("redis not configured")

const journalKey = "registrar:orphans"

type Journal struct {
	rdb *redis.Client
}

func NewJournal(rdb *redis.Client) *Journal {
	return &Journal{rdb: rdb}
}

func (j *Journal) Record(ctx context.Context, orphan model.Orphan) error {
	if j.rdb == nil {
		return ErrNotConfigured
	}
	data, err := json.Marshal(orphan)
	if err != nil {
		return err
	}
	return j.rdb.HSet(ctx, journalKey, orphan.AccountID, data).Err()
}

func (j *Journal) List(ctx context.Context) ([]model.Orphan, error) {
	if j.rdb == nil {
		return nil, ErrNotConfigured
	}
	entries, err := j.rdb.HGetAll(ctx, journalKey).Result()
	if err != nil {
		return nil, err
	}
	orphans := make([]model.Orphan, 0, len(entries))
	for _, raw := range entries {
		var orphan model.Orphan
		if err := json.Unmarshal([]byte(raw), &orphan); err != nil {
			return nil, err
		}
		orphans = append(orphans, orphan)
	}
	return orphans, nil
}

func (j *Journal) Remove(ctx context.Context, accountID string) error {
	if j.rdb == nil {
		return ErrNotConfigured
	}
	return j.rdb.HDel(ctx, journalKey, accountID).Err()
}
