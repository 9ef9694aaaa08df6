package intake

import (
	"context"
	"testing"
	"time"

	"ats_backend/internal/pipeline/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ats:intake:test"

func newRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, testKey), mr
}

func queues(t *testing.T) map[string]Queue {
	redisQueue, _ := newRedisQueue(t)
	return map[string]Queue{
		"redis":  redisQueue,
		"memory": NewMemoryQueue(),
	}
}

func TestQueueLifecycle(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := Record{
				ID:          uuid.New(),
				Name:        "Ada Lovelace",
				ProfileLink: "https://linkedin.com/in/ada",
				Experience:  []domain.ExperienceRecord{{Company: "Analytical Engines"}},
				EnqueuedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			}
			require.NoError(t, q.Enqueue(ctx, rec))

			got, err := q.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.Name, got.Name)
			assert.Equal(t, "Analytical Engines", got.Experience[0].Company)

			listed, err := q.ListQueued(ctx)
			require.NoError(t, err)
			assert.Equal(t, []domain.CandidateIdentity{{ID: rec.ID, Name: rec.Name, ProfileLink: rec.ProfileLink}}, listed)

			claimed, err := q.Claim(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.ID, claimed.ID)

			_, err = q.Claim(ctx, rec.ID)
			assert.ErrorIs(t, err, ErrNotQueued)
			_, err = q.Get(ctx, rec.ID)
			assert.ErrorIs(t, err, ErrNotQueued)
		})
	}
}

func TestRedisQueueSkipsUndecodableValues(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Record{ID: uuid.New(), Name: "Valid"}))
	mr.HSet(testKey, uuid.NewString(), "{not json")

	listed, err := q.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Valid", listed[0].Name)
}

func TestRedisQueueSurfacesConnectionErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, testKey)
	mr.Close()

	_, err = q.ListQueued(context.Background())
	assert.Error(t, err)
}

func TestListQueuedOldestFirst(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			newest := Record{ID: uuid.New(), Name: "Newest", EnqueuedAt: base.Add(2 * time.Minute)}
			oldest := Record{ID: uuid.New(), Name: "Oldest", EnqueuedAt: base}
			middle := Record{ID: uuid.New(), Name: "Middle", EnqueuedAt: base.Add(time.Minute)}
			for _, rec := range []Record{newest, oldest, middle} {
				require.NoError(t, q.Enqueue(ctx, rec))
			}

			listed, err := q.ListQueued(ctx)
			require.NoError(t, err)
			require.Len(t, listed, 3)
			assert.Equal(t, []uuid.UUID{oldest.ID, middle.ID, newest.ID}, []uuid.UUID{listed[0].ID, listed[1].ID, listed[2].ID})
		})
	}
}
