package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"arc-database/internal/shared/eventbus"
	"arc-database/internal/shared/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamPrefix prefixes the per-database journal streams.
const StreamPrefix = "arc:changes:"

// Entry is one journaled event read back from a stream.
type Entry struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Ref        string                 `json:"ref"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// Journal appends document writes and collection lifecycle events to one
// Redis stream per database, capped at an approximate length.
type Journal struct {
	client *goredis.Client
	maxLen int64
	logger logger.Logger
}

// NewJournal creates a journal writing through client. maxLen <= 0 disables trimming.
func NewJournal(client *goredis.Client, maxLen int64, log logger.Logger) *Journal {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Journal{
		client: client,
		maxLen: maxLen,
		logger: log.WithComponent("journal"),
	}
}

// StreamName returns the stream key holding the events of a database.
func StreamName(database string) string {
	return StreamPrefix + database
}

// databaseOf returns the first segment of a reference path.
func databaseOf(ref string) string {
	name, _, _ := strings.Cut(ref, "/")
	return name
}

// Attach subscribes the journal to every store event on the bus.
func (j *Journal) Attach(bus *eventbus.EventBus) {
	bus.Subscribe(j.Record,
		eventbus.EventTypeDocumentCreated,
		eventbus.EventTypeDocumentUpdated,
		eventbus.EventTypeDocumentDeleted,
		eventbus.EventTypeCollectionCreated,
		eventbus.EventTypeCollectionDropped,
	)
}

// Record appends an event to its database stream.
func (j *Journal) Record(ctx context.Context, event eventbus.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		j.logger.Error("Failed to serialize event payload", zap.String("ref", event.Ref), zap.Error(err))
		return err
	}

	stream := StreamName(databaseOf(event.Ref))
	args := &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type":       event.Type,
			"ref":        event.Ref,
			"payload":    payload,
			"occurredAt": event.OccurredAt.UnixNano(),
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}

	id, err := j.client.XAdd(ctx, args).Result()
	if err != nil {
		j.logger.Error("Failed to journal event",
			zap.String("stream", stream),
			zap.String("eventType", event.Type),
			zap.Error(err))
		return err
	}

	j.logger.Debug("Event journaled",
		zap.String("stream", stream),
		zap.String("eventType", event.Type),
		zap.String("entryId", id))
	return nil
}

// ReadSince returns up to count entries of a database stream after lastID.
// An empty lastID reads from the beginning.
func (j *Journal) ReadSince(ctx context.Context, database, lastID string, count int64) ([]Entry, error) {
	if lastID == "" {
		lastID = "0"
	}
	start := "(" + lastID
	if lastID == "0" {
		start = "-"
	}

	msgs, err := j.client.XRangeN(ctx, StreamName(database), start, "+", count).Result()
	if err != nil {
		if err == goredis.Nil {
			return []Entry{}, nil
		}
		j.logger.Error("Failed to read journal",
			zap.String("database", database),
			zap.String("lastId", lastID),
			zap.Error(err))
		return nil, err
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, parseEntry(msg))
	}
	return entries, nil
}

// Length returns the number of entries held for a database.
func (j *Journal) Length(ctx context.Context, database string) (int64, error) {
	return j.client.XLen(ctx, StreamName(database)).Result()
}

// Ping checks the Redis connection.
func (j *Journal) Ping(ctx context.Context) error {
	return j.client.Ping(ctx).Err()
}

// Close releases the Redis client.
func (j *Journal) Close() error {
	return j.client.Close()
}

func parseEntry(msg goredis.XMessage) Entry {
	entry := Entry{ID: msg.ID}

	if v, ok := msg.Values["type"].(string); ok {
		entry.Type = v
	}
	if v, ok := msg.Values["ref"].(string); ok {
		entry.Ref = v
	}
	if v, ok := msg.Values["occurredAt"].(string); ok {
		if nanos, err := strconv.ParseInt(v, 10, 64); err == nil {
			entry.OccurredAt = time.Unix(0, nanos).UTC()
		}
	}
	if v, ok := msg.Values["payload"].(string); ok && v != "" && v != "null" {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(v), &payload); err == nil {
			entry.Payload = payload
		}
	}
	return entry
}
