// Package intake holds candidate records that have arrived but are not yet
// committed to the candidate store.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"ats_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ErrNotQueued is returned when a record is not (or no longer) in the queue.
var ErrNotQueued = errors.New("record not queued")

// Record is an incoming candidate awaiting promotion.
type Record struct {
	ID          uuid.UUID                 `json:"id"`
	Name        string                    `json:"name"`
	ProfileLink string                    `json:"profileLink,omitempty"`
	Experience  []domain.ExperienceRecord `json:"experience,omitempty"`
	EnqueuedAt  time.Time                 `json:"enqueuedAt"`
}

func (r Record) identity() domain.CandidateIdentity {
	return domain.CandidateIdentity{ID: r.ID, Name: r.Name, ProfileLink: r.ProfileLink}
}

// Queue is the in-flight intake queue.
type Queue interface {
	Enqueue(ctx context.Context, record Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	// Claim removes the record and returns it; only one caller can claim a record.
	Claim(ctx context.Context, id uuid.UUID) (Record, error)
	// ListQueued returns queued identities oldest first, by enqueue time then id.
	ListQueued(ctx context.Context) ([]domain.CandidateIdentity, error)
}

// RedisQueue stores records as JSON values of one Redis hash keyed by record id.
type RedisQueue struct {
	client *goredis.Client
	key    string
}

func NewRedisQueue(client *goredis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, record Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode intake record: %w", err)
	}
	return q.client.HSet(ctx, q.key, record.ID.String(), payload).Err()
}

func (q *RedisQueue) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	raw, err := q.client.HGet(ctx, q.key, id.String()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Record{}, ErrNotQueued
	}
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("decode intake record %s: %w", id, err)
	}
	return record, nil
}

func (q *RedisQueue) Claim(ctx context.Context, id uuid.UUID) (Record, error) {
	record, err := q.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	removed, err := q.client.HDel(ctx, q.key, id.String()).Result()
	if err != nil {
		return Record{}, err
	}
	if removed == 0 {
		return Record{}, ErrNotQueued
	}
	return record, nil
}

// ListQueued returns the identities of all queued records. Values that no
// longer decode are skipped.
func (q *RedisQueue) ListQueued(ctx context.Context) ([]domain.CandidateIdentity, error) {
	all, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(all))
	for _, raw := range all {
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return identitiesInOrder(records), nil
}

// MemoryQueue is the process-local Queue used when no Redis is configured.
type MemoryQueue struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{records: make(map[uuid.UUID]Record)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, record Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records[record.ID] = record
	return nil
}

func (q *MemoryQueue) Get(_ context.Context, id uuid.UUID) (Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.records[id]
	if !ok {
		return Record{}, ErrNotQueued
	}
	return record, nil
}

func (q *MemoryQueue) Claim(_ context.Context, id uuid.UUID) (Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	record, ok := q.records[id]
	if !ok {
		return Record{}, ErrNotQueued
	}
	delete(q.records, id)
	return record, nil
}

func (q *MemoryQueue) ListQueued(_ context.Context) ([]domain.CandidateIdentity, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	records := make([]Record, 0, len(q.records))
	for _, record := range q.records {
		records = append(records, record)
	}
	return identitiesInOrder(records), nil
}

func identitiesInOrder(records []Record) []domain.CandidateIdentity {
	slices.SortFunc(records, func(a, b Record) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	out := make([]domain.CandidateIdentity, 0, len(records))
	for _, record := range records {
		out = append(out, record.identity())
	}
	return out
}

var (
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*MemoryQueue)(nil)
)
