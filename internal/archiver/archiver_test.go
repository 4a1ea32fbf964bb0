package archiver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paystream/internal/config"
	"paystream/internal/logger"
	"paystream/pkg/models"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.objects[key] = data
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (s *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type recordingSink struct {
	mu    sync.Mutex
	items []models.FailedItem
}

func (r *recordingSink) Route(ctx context.Context, payload []byte, transactionID, correlationID, errorType, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, models.FailedItem{
		TransactionID: transactionID,
		CorrelationID: correlationID,
		ErrorType:     errorType,
		ErrorMessage:  errorMessage,
		RawPayload:    payload,
	})
	return nil
}

func testConfig() config.ArchiverConfig {
	return config.ArchiverConfig{
		FlushSize:         3,
		FlushInterval:     time.Minute,
		HardCapMultiplier: 2,
		KeyPrefix:         "raw_events",
	}
}

func sampleTx(id string, ts time.Time) *models.ParsedTransaction {
	return &models.ParsedTransaction{
		TransactionID:   id,
		CorrelationID:   "corr-" + id,
		Timestamp:       ts,
		TransactionType: "purchase",
		Channel:         "web",
		PaymentMethod:   "card",
		Amount:          10.0,
		Currency:        "USD",
		Status:          models.StatusSuccess,
		Metadata:        map[string]interface{}{"region": "eu"},
	}
}

func TestAppend_BuffersBelowThreshold(t *testing.T) {
	store := newMemoryStore()
	a := New(testConfig(), store, &recordingSink{}, logger.NopLogger())

	require.NoError(t, a.Append(context.Background(), sampleTx("tx-1", time.Now()), []byte(`{"n":1}`)))
	require.NoError(t, a.Append(context.Background(), sampleTx("tx-2", time.Now()), []byte(`{"n":2}`)))

	assert.Equal(t, 2, a.BufferLen())
	assert.Equal(t, 0, store.count(), "no upload before a flush trigger")
}

func TestAppend_HardCapFlushesSynchronously(t *testing.T) {
	store := newMemoryStore()
	a := New(testConfig(), store, &recordingSink{}, logger.NopLogger())

	// Hard cap is FlushSize * HardCapMultiplier = 6.
	for i := 0; i < 6; i++ {
		require.NoError(t, a.Append(context.Background(), sampleTx("tx", time.Now()), []byte(`{}`)))
	}

	assert.Equal(t, 0, a.BufferLen())
	assert.Equal(t, 1, store.count())
}

func TestFlush_RoundTripPreservesEvents(t *testing.T) {
	store := newMemoryStore()
	a := New(testConfig(), store, &recordingSink{}, logger.NopLogger())
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"tx-a", "tx-b", "tx-c"} {
		require.NoError(t, a.Append(ctx, sampleTx(id, base.Add(time.Duration(i)*time.Second)), []byte(`{}`)))
	}
	require.NoError(t, a.Flush(ctx, "test"))

	keys, err := store.List(ctx, "raw_events/")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	blob, err := store.Get(ctx, keys[0])
	require.NoError(t, err)

	events, err := deserializeEvents(blob)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Buffer order survives serialization.
	assert.Equal(t, "tx-a", events[0].TransactionID)
	assert.Equal(t, "tx-b", events[1].TransactionID)
	assert.Equal(t, "tx-c", events[2].TransactionID)
	assert.Equal(t, "card", events[0].PaymentMethod)
	assert.Equal(t, "SUCCESS", events[0].Status)
	assert.Contains(t, events[0].Metadata, "region")
}

func TestSerializeEvents_Deterministic(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	events := []models.RawEvent{
		toRawEvent(sampleTx("tx-1", base), base),
		toRawEvent(sampleTx("tx-2", base.Add(time.Second)), base),
	}

	first, err := serializeEvents(events)
	require.NoError(t, err)
	second, err := serializeEvents(events)
	require.NoError(t, err)

	decodedFirst, err := deserializeEvents(first)
	require.NoError(t, err)
	decodedSecond, err := deserializeEvents(second)
	require.NoError(t, err)

	assert.Equal(t, decodedFirst, decodedSecond, "archiving the same batch twice yields the same records")
}

func TestFlush_UploadFailureDeadLettersEveryEvent(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket unavailable")
	sink := &recordingSink{}
	a := New(testConfig(), store, sink, logger.NopLogger())
	ctx := context.Background()

	payloads := [][]byte{[]byte(`{"n":1}`), []byte(`{"n":2}`), []byte(`{"n":3}`)}
	for i, raw := range payloads {
		require.NoError(t, a.Append(ctx, sampleTx("tx-"+string(rune('a'+i)), time.Now()), raw))
	}

	err := a.Flush(ctx, "test")
	require.Error(t, err)

	require.Len(t, sink.items, 3, "every buffered event gets its own dead-letter row")
	for i, item := range sink.items {
		assert.Equal(t, payloads[i], item.RawPayload, "original payload travels with the failed item")
		assert.Equal(t, "storage_error", item.ErrorType)
	}
	assert.Equal(t, 0, a.BufferLen())
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	store := newMemoryStore()
	a := New(testConfig(), store, &recordingSink{}, logger.NopLogger())

	require.NoError(t, a.Flush(context.Background(), "interval"))
	assert.Equal(t, 0, store.count())
}

func TestObjectKey_Partitioning(t *testing.T) {
	a := New(testConfig(), newMemoryStore(), &recordingSink{}, logger.NopLogger())

	ts := time.Date(2026, 9, 1, 14, 30, 5, 0, time.UTC)
	key := a.objectKey(ts)
	assert.Equal(t, "raw_events/year=2026/month=09/day=01/events_20260901_143005.parquet", key)
}

func TestGetEventsByTimeRange(t *testing.T) {
	store := newMemoryStore()
	a := New(testConfig(), store, &recordingSink{}, logger.NopLogger())
	ctx := context.Background()

	dayOne := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	dayTwo := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

	a.now = func() time.Time { return dayOne }
	require.NoError(t, a.Append(ctx, sampleTx("tx-day1", dayOne), []byte(`{}`)))
	require.NoError(t, a.Flush(ctx, "test"))

	a.now = func() time.Time { return dayTwo }
	require.NoError(t, a.Append(ctx, sampleTx("tx-day2", dayTwo), []byte(`{}`)))
	require.NoError(t, a.Flush(ctx, "test"))

	events, err := a.GetEventsByTimeRange(ctx, dayOne.Add(-time.Hour), dayTwo.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "tx-day1", events[0].TransactionID)
	assert.Equal(t, "tx-day2", events[1].TransactionID)

	// Range excluding the second day.
	events, err = a.GetEventsByTimeRange(ctx, dayOne.Add(-time.Hour), dayOne.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tx-day1", events[0].TransactionID)

	_, err = a.GetEventsByTimeRange(ctx, dayTwo, dayOne)
	assert.Error(t, err, "inverted range is rejected")
}
