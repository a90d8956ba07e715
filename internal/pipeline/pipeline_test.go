package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
	"github.com/couchcryptid/geotrigger-bridge/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawEvent
	errs    []error
	calls   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawEvent, error) {
	i := int(m.calls.Add(1) - 1)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockHandler struct {
	mu     sync.Mutex
	events []domain.TriggerEvent
	err    error
}

func (m *mockHandler) HandleEvent(_ context.Context, ev domain.TriggerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *mockHandler) handled() []domain.TriggerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TriggerEvent(nil), m.events...)
}

type stubResolver struct{}

func (stubResolver) ResolveZone(_ context.Context, zoneID string) (domain.Zone, error) {
	return domain.Zone{
		ID:         zoneID,
		Name:       "Resolved " + zoneID,
		CustomData: map[string]string{"level": "2"},
		Beacons:    []domain.Beacon{{ID: "B1", Name: "Bar"}},
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(ext pipeline.BatchExtractor, h pipeline.EventHandler, resolver domain.ZoneResolver) (*pipeline.Pipeline, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()
	return pipeline.New(ext, pipeline.NewDecoder(resolver, logger), h, logger, metrics, 10), metrics
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HandlesInOrderAndCommits(t *testing.T) {
	var committed []int64
	raws := loadMockTriggers(t)
	for i := range raws {
		offset := raws[i].Offset
		raws[i].Commit = func(context.Context) error {
			committed = append(committed, offset)
			return nil
		}
	}

	ext := &mockExtractor{batches: [][]domain.RawEvent{raws[:2], raws[2:]}}
	h := &mockHandler{}
	p, metrics := newPipeline(ext, h, nil)

	runFor(t, p, 300*time.Millisecond)

	events := h.handled()
	require.Len(t, events, 4)
	assert.Equal(t, "F1", events[0].SourceID)
	assert.Equal(t, domain.ActionEnter, events[0].Action)
	assert.Equal(t, "B1", events[1].SourceID)
	assert.Equal(t, domain.ProximityNear, events[1].Proximity)
	assert.Equal(t, domain.GeometryLineString, events[2].Geometry)
	assert.Equal(t, domain.ActionExit, events[3].Action)
	assert.Equal(t, []int64{0, 1, 2, 3}, committed)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.MessagesConsumed))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PipelineRunning))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	h := &mockHandler{}
	p, _ := newPipeline(&mockExtractor{}, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, h.handled())
}

func TestPipeline_Run_SkipsAndCommitsPoisonPill(t *testing.T) {
	commits := 0
	bad := domain.RawEvent{Value: []byte("not json"), Commit: func(context.Context) error {
		commits++
		return nil
	}}
	unknownKind := domain.RawEvent{Value: []byte(`{"action":"enter","kind":"wifi","source_id":"W1"}`), Commit: bad.Commit}

	h := &mockHandler{}
	p, metrics := newPipeline(&mockExtractor{batches: [][]domain.RawEvent{{bad, unknownKind}}}, h, nil)

	runFor(t, p, 200*time.Millisecond)

	assert.Empty(t, h.handled())
	assert.Equal(t, 2, commits)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DecodeErrors))
}

func TestPipeline_Run_HandlerErrorStillCommits(t *testing.T) {
	commits := 0
	raws := loadMockTriggers(t)[:1]
	raws[0].Commit = func(context.Context) error {
		commits++
		return errors.New("rebalance in progress")
	}

	h := &mockHandler{err: domain.ErrMissingZone}
	p, metrics := newPipeline(&mockExtractor{batches: [][]domain.RawEvent{raws}}, h, nil)

	runFor(t, p, 200*time.Millisecond)

	assert.Equal(t, 1, commits)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DecodeErrors))
}

func TestPipeline_Run_RetriesAfterExtractError(t *testing.T) {
	raws := loadMockTriggers(t)[:1]
	ext := &mockExtractor{
		errs:    []error{errors.New("broker unavailable")},
		batches: [][]domain.RawEvent{nil, raws},
	}
	h := &mockHandler{}
	p, _ := newPipeline(ext, h, nil)

	runFor(t, p, time.Second)

	assert.Len(t, h.handled(), 1)
	assert.GreaterOrEqual(t, ext.calls.Load(), int64(3))
}

func TestTriggerDecoder_EnrichesCheckIns(t *testing.T) {
	raws := loadMockTriggers(t)
	dec := pipeline.NewDecoder(stubResolver{}, discardLogger())

	fence, err := dec.Decode(context.Background(), raws[0])
	require.NoError(t, err)
	assert.Equal(t, "Stadium", fence.Zone.Name)
	assert.Equal(t, map[string]string{"section": "north", "level": "2"}, fence.Zone.CustomData)

	beacon, err := dec.Decode(context.Background(), raws[1])
	require.NoError(t, err)
	assert.Equal(t, "Resolved Z1", beacon.Zone.Name)
	assert.Equal(t, "Bar", beacon.SourceName)

	exit, err := dec.Decode(context.Background(), raws[3])
	require.NoError(t, err)
	assert.Empty(t, exit.Zone.Name)
}

func TestTriggerDecoder_FallsBackToMessageTimestamp(t *testing.T) {
	raws := loadMockTriggers(t)
	ts := time.Date(2024, time.April, 26, 16, 0, 0, 0, time.UTC)
	raws[2].Timestamp = ts

	ev, err := pipeline.NewDecoder(nil, discardLogger()).Decode(context.Background(), raws[2])
	require.NoError(t, err)
	assert.Equal(t, ts, ev.OccurredAt)
	assert.False(t, ev.ExpectsCheckOut())
}

// --- helpers ---

func loadMockTriggers(t *testing.T) []domain.RawEvent {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "mock_triggers.json"))
	require.NoError(t, err)

	var payloads []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &payloads))

	raws := make([]domain.RawEvent, len(payloads))
	for i, payload := range payloads {
		raws[i] = domain.RawEvent{
			Key:    []byte("device-1"),
			Value:  payload,
			Topic:  "location-triggers",
			Offset: int64(i),
		}
	}
	return raws
}
