//go:build integration

package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type capturingProducer struct {
	mu       sync.Mutex
	messages []kafka.Message
	failNext bool
}

func (p *capturingProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return errors.New("broker unavailable")
	}
	p.messages = append(p.messages, msgs...)
	return nil
}

func TestDispatcherDeliversAndMarksPublished(t *testing.T) {
	ctx := context.Background()
	pool := startDatabase(t, ctx)

	recorder := NewRecorder(pool)
	total := 7
	require.NoError(t, recorder.Record(ctx, Event{
		Type:       EventSyncCompleted,
		AthleteID:  "42",
		Processed:  7,
		Total:      &total,
		OccurredAt: time.Now(),
	}))

	producer := &capturingProducer{failNext: true}
	dispatcher := NewDispatcher(pool, producer, 50*time.Millisecond, 10, zerolog.Nop())

	// First cycle fails delivery; the event must survive for the retry.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Empty(t, producer.messages)

	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.messages, 1)
	require.Equal(t, "42", string(producer.messages[0].Key))
	require.Equal(t, "event_type", producer.messages[0].Headers[0].Key)
	require.Equal(t, EventSyncCompleted, string(producer.messages[0].Headers[0].Value))

	// Once published the event is not picked up again.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.messages, 1)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("runtheworld"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	deadline := time.Now().Add(30 * time.Second)
	for {
		if err := pool.Ping(ctx); err == nil {
			break
		} else if time.Now().After(deadline) {
			t.Fatalf("database never became ready: %v", err)
		}
		time.Sleep(time.Second)
	}

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	schema, err := os.ReadFile(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}
