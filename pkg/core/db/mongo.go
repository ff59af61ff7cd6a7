package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Laky-64/gologging"
	"github.com/zuchzub/trackdl/pkg/core/cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	attemptsCollection = "attempts"
	queueSize          = 256
	batchSize          = 32
	flushInterval      = 2 * time.Second
)

// AttemptStore persists transport attempts to MongoDB. Record never blocks: when
// the queue is full the attempt is dropped and counted.
type AttemptStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	queue   chan cache.Attempt
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

// Connect opens the database and starts the background writer.
func Connect(ctx context.Context, uri, dbName string) (*AttemptStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	s := newAttemptStore(client.Database(dbName).Collection(attemptsCollection), queueSize)
	s.client = client
	s.wg.Add(1)
	go s.run()

	gologging.InfoF("[DB] The database connection has been successfully established.")
	return s, nil
}

func newAttemptStore(coll *mongo.Collection, size int) *AttemptStore {
	return &AttemptStore{
		coll:  coll,
		queue: make(chan cache.Attempt, size),
	}
}

// Record queues an attempt for insertion. Attempts recorded after Close are dropped.
func (s *AttemptStore) Record(a cache.Attempt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- a:
	default:
		s.dropped.Add(1)
	}
}

// Dropped counts attempts lost to a full queue.
func (s *AttemptStore) Dropped() int64 {
	return s.dropped.Load()
}

func (s *AttemptStore) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]interface{}, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := Ctx()
		defer cancel()
		if _, err := s.coll.InsertMany(ctx, batch); err != nil {
			gologging.WarnF("[DB] Failed to store %d attempts: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case a, ok := <-s.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, attemptDocument(a))
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Recent returns the latest attempts, newest first, optionally filtered by kind.
func (s *AttemptStore) Recent(ctx context.Context, kind string, limit int64) ([]cache.Attempt, error) {
	filter := bson.M{}
	if kind != "" {
		filter["kind"] = kind
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit)

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []cache.Attempt
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close flushes queued attempts and disconnects.
func (s *AttemptStore) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}
		if s.client != nil {
			err = errors.Join(err, s.client.Disconnect(ctx))
		}
	})
	return err
}

func attemptDocument(a cache.Attempt) bson.M {
	doc := bson.M{
		"url":        a.URL,
		"kind":       a.Kind,
		"number":     a.Number,
		"status":     a.Status,
		"latency":    a.Latency,
		"ok":         a.OK(),
		"started_at": a.StartedAt.UTC(),
	}
	if a.Err != "" {
		doc["error"] = a.Err
	}
	return doc
}
