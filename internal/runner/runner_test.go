package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/batch"
	"github.com/barrowworks/barrow/internal/decoder"
	"github.com/barrowworks/barrow/internal/dlq"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/model"
	"github.com/barrowworks/barrow/internal/registry"
	"github.com/barrowworks/barrow/internal/service"
)

type fakeMsg struct {
	data      []byte
	headers   nats.Header
	delivered uint64

	acked    bool
	naked    bool
	nakDelay time.Duration
	termed   bool
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.delivered}, nil
}
func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Headers() nats.Header { return m.headers }
func (m *fakeMsg) Subject() string { return "archive.feed.test" }
func (m *fakeMsg) Reply() string { return "" }
func (m *fakeMsg) Ack() error { m.acked = true; return nil }
func (m *fakeMsg) DoubleAck(context.Context) error { m.acked = true; return nil }
func (m *fakeMsg) Nak() error { m.naked = true; return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.naked = true
	m.nakDelay = d
	return nil
}
func (m *fakeMsg) InProgress() error { return nil }
func (m *fakeMsg) Term() error { m.termed = true; return nil }
func (m *fakeMsg) TermWithReason(string) error { m.termed = true; return nil }

type fakeQueue struct {
	records []dlq.FailedRecord
	err     error
}

func (q *fakeQueue) Write(ctx context.Context, rec dlq.FailedRecord) error {
	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, rec)
	return nil
}
func (q *fakeQueue) Stats(ctx context.Context) map[string]any { return nil }
func (q *fakeQueue) List(ctx context.Context, limit int) ([]dlq.FailedRecord, error) {
	return q.records, nil
}
func (q *fakeQueue) Purge(ctx context.Context) error { q.records = nil; return nil }

// brokenStore fails every write transiently.
type brokenStore struct{}

func (brokenStore) Name() string { return "broken" }
func (brokenStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	return archive.Transient("broken", path, errors.New("connection refused"))
}
func (brokenStore) Get(ctx context.Context, path string) ([]byte, error) {
	return nil, archive.ErrNotFound
}
func (brokenStore) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (brokenStore) Delete(ctx context.Context, path string) error             { return nil }
func (brokenStore) Ping(ctx context.Context) error                            { return nil }

func testRunner(t *testing.T, store archive.ObjectStore, queue dlq.Queue) *Runner {
	t.Helper()
	reg := registry.NewStatic([]registry.Source{{ID: "users-prod", KeySchema: []string{"PK", "SK"}, Enabled: true}})
	proc := batch.New(
		decoder.NewRegistry(decoder.StreamDecoder{}, decoder.CanonicalDecoder{}),
		reg,
		archive.NewWriter(store, nil),
		batch.Config{DefaultFormat: decoder.FormatDynamoStreams},
	)
	return &Runner{
		svc:   service.NewArchiver(proc, nil),
		queue: queue,
		log:   logging.Default(),
		cfg:   DefaultConfig(),
	}
}

func removeMsg(i int, delivered uint64) *fakeMsg {
	data := fmt.Sprintf(`{
		"eventID": "evt-%d",
		"eventName": "REMOVE",
		"dynamodb": {
			"Keys": {"PK": {"S": "USER#%d"}, "SK": {"S": "PROFILE"}},
			"OldImage": {"PK": {"S": "USER#%d"}, "SK": {"S": "PROFILE"}}
		}
	}`, i, i, i)
	headers := nats.Header{}
	headers.Set(HeaderSource, "users-prod")
	return &fakeMsg{data: []byte(data), headers: headers, delivered: delivered}
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name       string
		outcome    model.BatchOutcome
		delivered  int
		maxDeliver int
		want       Decision
	}{
		{name: "archived acks", outcome: model.BatchOutcome{Status: model.StatusArchived}, delivered: 1, maxDeliver: 5, want: DecideAck},
		{name: "skipped acks", outcome: model.BatchOutcome{Status: model.StatusSkipped}, delivered: 1, maxDeliver: 5, want: DecideAck},
		{name: "transient retries", outcome: model.BatchOutcome{Status: model.StatusFailed, Reason: model.ReasonTransient}, delivered: 1, maxDeliver: 5, want: DecideRetry},
		{name: "transient at limit dead letters", outcome: model.BatchOutcome{Status: model.StatusFailed, Reason: model.ReasonTransient}, delivered: 5, maxDeliver: 5, want: DecideDeadLetter},
		{name: "transient past limit dead letters", outcome: model.BatchOutcome{Status: model.StatusFailed, Reason: model.ReasonTransient}, delivered: 6, maxDeliver: 5, want: DecideDeadLetter},
		{name: "transient without limit retries", outcome: model.BatchOutcome{Status: model.StatusFailed, Reason: model.ReasonTransient}, delivered: 100, maxDeliver: 0, want: DecideRetry},
		{name: "malformed dead letters", outcome: model.BatchOutcome{Status: model.StatusFailed, Reason: model.ReasonMalformed}, delivered: 1, maxDeliver: 5, want: DecideDeadLetter},
		{name: "permanent dead letters", outcome: model.BatchOutcome{Status: model.StatusFailed, Reason: model.ReasonPermanent}, delivered: 1, maxDeliver: 5, want: DecideDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Settle(tt.outcome, tt.delivered, tt.maxDeliver))
		})
	}
}

func TestRunner_ProcessFetchedSettlesByOutcome(t *testing.T) {
	store := archive.NewMemoryStore()
	queue := &fakeQueue{}
	r := testRunner(t, store, queue)

	archivedMsg := removeMsg(1, 1)
	skippedMsg := &fakeMsg{
		data: []byte(`{"eventID": "evt-skip", "eventName": "INSERT", "dynamodb": {"Keys": {"PK": {"S": "X"}}, "NewImage": {"PK": {"S": "X"}}}}`),
		headers: nats.Header{HeaderSource: []string{"users-prod"}},
		delivered: 1,
	}
	malformedMsg := &fakeMsg{
		data:      []byte(`{"broken":`),
		headers:   nats.Header{HeaderSource: []string{"users-prod"}},
		delivered: 1,
	}

	r.processFetched(context.Background(), []jetstream.Msg{archivedMsg, skippedMsg, malformedMsg})

	assert.True(t, archivedMsg.acked)
	assert.True(t, skippedMsg.acked)
	assert.False(t, malformedMsg.acked)
	assert.True(t, malformedMsg.termed)
	assert.Equal(t, 1, store.Len())

	require.Len(t, queue.records, 1)
	assert.Equal(t, "malformed", queue.records[0].Reason)
	assert.Equal(t, "users-prod", queue.records[0].Source)
	assert.Equal(t, `{"broken":`, string(queue.records[0].Record))
}

func TestRunner_TransientFailureNaksWithBackoff(t *testing.T) {
	queue := &fakeQueue{}
	r := testRunner(t, brokenStore{}, queue)

	msg := removeMsg(1, 1)
	r.processFetched(context.Background(), []jetstream.Msg{msg})

	assert.False(t, msg.acked)
	assert.False(t, msg.termed)
	assert.True(t, msg.naked)
	assert.Equal(t, r.cfg.RedeliverBackoff, msg.nakDelay)
	assert.Empty(t, queue.records)
}

func TestRunner_TransientAtMaxDeliverDeadLetters(t *testing.T) {
	queue := &fakeQueue{}
	r := testRunner(t, brokenStore{}, queue)

	msg := removeMsg(1, uint64(r.cfg.MaxDeliver))
	r.processFetched(context.Background(), []jetstream.Msg{msg})

	assert.False(t, msg.naked)
	assert.True(t, msg.termed)

	require.Len(t, queue.records, 1)
	assert.Equal(t, "transient", queue.records[0].Reason)
	assert.Equal(t, r.cfg.MaxDeliver, queue.records[0].Attempts)
	assert.NotEmpty(t, queue.records[0].Error)
}

func TestRunner_DeadLetterWriteFailureNaks(t *testing.T) {
	queue := &fakeQueue{err: errors.New("dlq unavailable")}
	r := testRunner(t, archive.NewMemoryStore(), queue)

	msg := &fakeMsg{
		data:      []byte(`not json`),
		headers:   nats.Header{HeaderSource: []string{"users-prod"}},
		delivered: 1,
	}
	r.processFetched(context.Background(), []jetstream.Msg{msg})

	assert.True(t, msg.naked)
	assert.False(t, msg.termed)
	assert.Empty(t, queue.records)
}

func TestRunner_NoQueueTermsDeadRecords(t *testing.T) {
	r := testRunner(t, archive.NewMemoryStore(), nil)

	msg := &fakeMsg{
		data:      []byte(`not json`),
		headers:   nats.Header{HeaderSource: []string{"users-prod"}},
		delivered: 1,
	}
	r.processFetched(context.Background(), []jetstream.Msg{msg})

	assert.True(t, msg.termed)
}

func TestRunner_GroupsMessagesByHeaders(t *testing.T) {
	store := archive.NewMemoryStore()
	r := testRunner(t, store, &fakeQueue{})

	streamMsg := removeMsg(1, 1)

	canonicalHeaders := nats.Header{}
	canonicalHeaders.Set(HeaderSource, "users-prod")
	canonicalHeaders.Set(HeaderFormat, "canonical")
	canonicalMsg := &fakeMsg{
		data: []byte(`{
			"id": "evt-canonical",
			"kind": "remove",
			"key": {"PK": {"S": "USER#7"}, "SK": {"S": "PROFILE"}},
			"prior_state": {"PK": {"S": "USER#7"}, "SK": {"S": "PROFILE"}}
		}`),
		headers:   canonicalHeaders,
		delivered: 1,
	}

	r.processFetched(context.Background(), []jetstream.Msg{streamMsg, canonicalMsg})

	assert.True(t, streamMsg.acked)
	assert.True(t, canonicalMsg.acked)
	assert.Equal(t, 2, store.Len())

	paths, err := store.List(context.Background(), "users-prod/")
	require.NoError(t, err)
	assert.Contains(t, paths, "users-prod/PK=USER%231/SK=PROFILE.json")
	assert.Contains(t, paths, "users-prod/PK=USER%237/SK=PROFILE.json")
}
