package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/vitals_relay/internal/relay"
	"github.com/dgnsrekt/vitals_relay/internal/telemetry"
)

type chanConn struct {
	msgs chan relay.Message
}

func newChanConn() *chanConn { return &chanConn{msgs: make(chan relay.Message, 256)} }

func (c *chanConn) Send(msg relay.Message) error {
	c.msgs <- msg
	return nil
}

func (c *chanConn) next(t *testing.T) relay.Message {
	t.Helper()
	select {
	case msg := <-c.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return relay.Message{}
	}
}

func (c *chanConn) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c.msgs:
		t.Fatalf("unexpected %s message: %s", msg.Type, msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

type memJournal struct {
	mu      sync.Mutex
	records []any
	err     error
}

func (j *memJournal) Write(record any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
	return j.err
}

type countingAlerter struct {
	mu    sync.Mutex
	snaps []telemetry.Snapshot
}

func (a *countingAlerter) Alert(_ context.Context, snap telemetry.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	return nil
}

func (a *countingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.snaps)
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *relay.Broker) {
	t.Helper()
	start := time.UnixMilli(1_700_000_000_000)
	broker := relay.NewBroker(64)
	t.Cleanup(func() { broker.Close(time.Second) })
	opts = append([]Option{WithClock(fixedClock(start))}, opts...)
	return NewService(telemetry.NewStore(telemetry.DefaultHistoryCapacity, start), broker, opts...), broker
}

func decodeSnapshot(t *testing.T, msg relay.Message) telemetry.Snapshot {
	t.Helper()
	if msg.Type != relay.TypeSensorData {
		t.Fatalf("message type = %q; want %q", msg.Type, relay.TypeSensorData)
	}
	var snap telemetry.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func TestIngestReplacesSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "test", map[string]any{"heartRate": 72.0, "spo2": 98.0}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	snap, err := svc.Ingest(ctx, "test", map[string]any{"temperature": 36.6})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if snap.HeartRate != nil || snap.SpO2 != nil {
		t.Fatalf("heartRate/spo2 = %v/%v; want both absent", snap.HeartRate, snap.SpO2)
	}
	if snap.Temperature == nil || *snap.Temperature != 36.6 {
		t.Fatalf("temperature = %v; want 36.6", snap.Temperature)
	}
	if snap.Acceleration != 0 || snap.FallDetected {
		t.Fatalf("defaults = %v/%v; want 0/false", snap.Acceleration, snap.FallDetected)
	}

	h := svc.History()
	if h.Len(telemetry.MetricHeartRate) != 1 || h.Len(telemetry.MetricSpO2) != 1 || h.Len(telemetry.MetricTemperature) != 1 {
		t.Fatalf("history lengths = %d/%d/%d; want 1/1/1",
			h.Len(telemetry.MetricHeartRate), h.Len(telemetry.MetricSpO2), h.Len(telemetry.MetricTemperature))
	}
}

func TestIngestMalformedLeavesStateAndSubscribersAlone(t *testing.T) {
	svc, _ := newTestService(t)
	conn := newChanConn()
	svc.Subscribe(conn)
	conn.next(t)
	conn.next(t)

	before := svc.Latest()
	_, err := svc.Ingest(context.Background(), "test", map[string]any{"heartRate": "fast"})
	var coded *telemetry.CodedError
	if !errors.As(err, &coded) || coded.Code != telemetry.CodeMalformedInput {
		t.Fatalf("Ingest() error = %v; want %s", err, telemetry.CodeMalformedInput)
	}
	if after := svc.Latest(); after != before {
		t.Fatalf("Latest() changed after malformed input: %+v", after)
	}
	if n := svc.History().Len(telemetry.MetricHeartRate); n != 0 {
		t.Fatalf("heartRate history len = %d; want 0", n)
	}
	conn.none(t)
}

func TestIngestPayloadRejectsUndecodable(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.IngestPayload(context.Background(), "http", "application/json", []byte(`{"heartRate":`))
	var coded *telemetry.CodedError
	if !errors.As(err, &coded) || coded.Code != telemetry.CodeMalformedInput {
		t.Fatalf("IngestPayload() error = %v; want %s", err, telemetry.CodeMalformedInput)
	}
}

func TestIngestPayloadJSON(t *testing.T) {
	svc, _ := newTestService(t)

	snap, err := svc.IngestPayload(context.Background(), "http", "application/json", []byte(`{"acceleration":1.25,"fallDetected":true,"satellites":7}`))
	if err != nil {
		t.Fatalf("IngestPayload() error = %v", err)
	}
	if snap.Acceleration != 1.25 || !snap.FallDetected || snap.Satellites == nil || *snap.Satellites != 7 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSubscribeCatchUpMatchesLatest(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Ingest(context.Background(), "test", map[string]any{"heartRate": 80.0}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	conn := newChanConn()
	sub := svc.Subscribe(conn)

	got := decodeSnapshot(t, conn.next(t))
	want := svc.Latest()
	if got.Timestamp != want.Timestamp || got.HeartRate == nil || *got.HeartRate != 80 {
		t.Fatalf("catch-up snapshot = %+v; want %+v", got, want)
	}
	hist := conn.next(t)
	if hist.Type != relay.TypeHistoryData {
		t.Fatalf("second message type = %q; want %q", hist.Type, relay.TypeHistoryData)
	}
	var h telemetry.History
	if err := json.Unmarshal(hist.Data, &h); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if h.Len(telemetry.MetricHeartRate) != 1 {
		t.Fatalf("catch-up heartRate history len = %d; want 1", h.Len(telemetry.MetricHeartRate))
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.State() != relay.StateJoined && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sub.State() != relay.StateJoined {
		t.Fatalf("State() = %v; want %v", sub.State(), relay.StateJoined)
	}

	svc.Unsubscribe(sub)
	svc.Unsubscribe(sub)
	if n := svc.Status().Subscribers; n != 0 {
		t.Fatalf("Status().Subscribers = %d; want 0", n)
	}
}

func TestLiveUpdatesFollowCatchUpInOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 40; i++ {
			if _, err := svc.Ingest(ctx, "test", map[string]any{"acceleration": float64(i)}); err != nil {
				t.Errorf("Ingest() error = %v", err)
				return
			}
		}
	}()

	conn := newChanConn()
	svc.Subscribe(conn)
	wg.Wait()

	last := decodeSnapshot(t, conn.next(t)).Acceleration
	if hist := conn.next(t); hist.Type != relay.TypeHistoryData {
		t.Fatalf("second message type = %q; want %q", hist.Type, relay.TypeHistoryData)
	}
	for last < 40 {
		got := decodeSnapshot(t, conn.next(t)).Acceleration
		if got != last+1 {
			t.Fatalf("live acceleration = %v after %v; want %v", got, last, last+1)
		}
		last = got
	}
	conn.none(t)
}

// gatedClock parks its first caller until release is closed and hands every
// later caller a time one second ahead.
type gatedClock struct {
	start   time.Time
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (c *gatedClock) now() time.Time {
	if c.calls.Add(1) == 1 {
		close(c.entered)
		<-c.release
		return c.start
	}
	return c.start.Add(time.Second)
}

func TestConcurrentIngestKeepsHistoryOrdered(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	clock := &gatedClock{start: start, entered: make(chan struct{}), release: make(chan struct{})}
	svc, _ := newTestService(t, WithClock(clock.now))
	ctx := context.Background()

	var wg sync.WaitGroup
	ingest := func(hr float64) {
		defer wg.Done()
		if _, err := svc.Ingest(ctx, "test", map[string]any{"heartRate": hr}); err != nil {
			t.Errorf("Ingest() error = %v", err)
		}
	}
	wg.Add(1)
	go ingest(1)
	select {
	case <-clock.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first clock read")
	}
	wg.Add(1)
	go ingest(2)
	time.Sleep(20 * time.Millisecond)
	close(clock.release)
	wg.Wait()

	points := svc.History()[string(telemetry.MetricHeartRate)]
	if len(points) != 2 {
		t.Fatalf("heartRate history = %v; want 2 points", points)
	}
	if points[0].Timestamp > points[1].Timestamp {
		t.Fatalf("heartRate history = %v; want timestamps oldest-first", points)
	}
	latest := svc.Latest()
	if latest.Timestamp != points[1].Timestamp {
		t.Fatalf("Latest().Timestamp = %d; want newest history point %d", latest.Timestamp, points[1].Timestamp)
	}
	if latest.HeartRate == nil || *latest.HeartRate != points[1].Value {
		t.Fatalf("Latest().HeartRate = %v; want %v", latest.HeartRate, points[1].Value)
	}
}

func TestJournalRecordsAcceptedSnapshots(t *testing.T) {
	j := &memJournal{}
	svc, _ := newTestService(t, WithJournal(j))
	ctx := context.Background()

	if _, err := svc.Ingest(ctx, "mqtt", map[string]any{"spo2": 95.0}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := svc.Ingest(ctx, "http", map[string]any{"spo2": "low"}); err == nil {
		t.Fatal("Ingest(malformed) error = nil")
	}

	if len(j.records) != 1 {
		t.Fatalf("journal records = %d; want 1", len(j.records))
	}
	rec, ok := j.records[0].(JournalRecord)
	if !ok {
		t.Fatalf("journal record type = %T", j.records[0])
	}
	if rec.Source != "mqtt" || rec.Snapshot.SpO2 == nil || *rec.Snapshot.SpO2 != 95 {
		t.Fatalf("journal record = %+v", rec)
	}
}

func TestJournalFailureDoesNotRejectReading(t *testing.T) {
	svc, _ := newTestService(t, WithJournal(&memJournal{err: errors.New("disk full")}))

	if _, err := svc.Ingest(context.Background(), "http", map[string]any{"heartRate": 60.0}); err != nil {
		t.Fatalf("Ingest() error = %v; want nil", err)
	}
	if hr := svc.Latest().HeartRate; hr == nil || *hr != 60 {
		t.Fatalf("Latest().HeartRate = %v; want 60", hr)
	}
}

func TestFallAlertFiresOnRisingEdge(t *testing.T) {
	a := &countingAlerter{}
	svc, _ := newTestService(t, WithAlerter(a))
	ctx := context.Background()

	for _, fall := range []bool{false, true, true, false, true} {
		if _, err := svc.Ingest(ctx, "test", map[string]any{"fallDetected": fall}); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}
	svc.Wait()

	if got := a.count(); got != 2 {
		t.Fatalf("alerts = %d; want 2", got)
	}
}

func TestStatus(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Ingest(context.Background(), "test", map[string]any{"temperature": 37.0, "acceleration": 0.5}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	svc.Subscribe(newChanConn())

	st := svc.Status()
	if st.Subscribers != 1 {
		t.Fatalf("Subscribers = %d; want 1", st.Subscribers)
	}
	if st.HistoryCapacity != telemetry.DefaultHistoryCapacity {
		t.Fatalf("HistoryCapacity = %d; want %d", st.HistoryCapacity, telemetry.DefaultHistoryCapacity)
	}
	if st.HistoryLengths["temperature"] != 1 || st.HistoryLengths["acceleration"] != 1 || st.HistoryLengths["heartRate"] != 0 {
		t.Fatalf("HistoryLengths = %v", st.HistoryLengths)
	}
	if st.LastUpdate != svc.Latest().Timestamp {
		t.Fatalf("LastUpdate = %d; want %d", st.LastUpdate, svc.Latest().Timestamp)
	}
}
