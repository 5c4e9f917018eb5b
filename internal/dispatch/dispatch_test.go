package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/pacing"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/tracker"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

// ====================== fakes ======================

type scriptedTransport struct {
	textErr  error
	mediaErr error

	textCalls  int
	mediaCalls int
	lastBody   string
}

func (s *scriptedTransport) SendText(ctx context.Context, to, body string) (string, error) {
	s.textCalls++
	s.lastBody = body
	if s.textErr != nil {
		return "", s.textErr
	}
	return "wamid.text", nil
}

func (s *scriptedTransport) SendMedia(ctx context.Context, to, caption, mediaURL string, mediaType model.MediaType) (string, error) {
	s.mediaCalls++
	if s.mediaErr != nil {
		return "", s.mediaErr
	}
	return "wamid.media", nil
}

func (s *scriptedTransport) CheckConnection(ctx context.Context) (transport.Connection, error) {
	return transport.Connection{Connected: true, State: "open"}, nil
}

var _ transport.Transport = (*scriptedTransport)(nil)

type stubDeliveries struct {
	records map[int]*model.DeliveryRecord
}

func newStubDeliveries(recs ...*model.DeliveryRecord) *stubDeliveries {
	s := &stubDeliveries{records: map[int]*model.DeliveryRecord{}}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *stubDeliveries) Create(campaignID, contactID, messageID int) (*model.DeliveryRecord, error) {
	return nil, nil
}
func (s *stubDeliveries) DeleteByCampaign(campaignID int) error         { return nil }
func (s *stubDeliveries) GetByID(id int) (*model.DeliveryRecord, error) { return s.records[id], nil }
func (s *stubDeliveries) GetByProviderID(providerID string) (*model.DeliveryRecord, error) {
	return nil, nil
}

func (s *stubDeliveries) Advance(id int, current, next model.DeliveryStatus, patch repository.DeliveryPatch) (bool, error) {
	rec, ok := s.records[id]
	if !ok || rec.Status != current {
		return false, nil
	}
	rec.Status = next
	if patch.ProviderMessageID != "" {
		rec.ProviderMessageID = patch.ProviderMessageID
	}
	if patch.FailReason != "" {
		rec.FailReason = patch.FailReason
	}
	if patch.Note != "" {
		rec.Note = patch.Note
	}
	return true, nil
}

func (s *stubDeliveries) CountByStatus(campaignID int) (map[model.DeliveryStatus]int, error) {
	return nil, nil
}

func (s *stubDeliveries) GlobalCounts() (map[model.DeliveryStatus]int, error) {
	counts := map[model.DeliveryStatus]int{}
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}

var _ repository.DeliveryRepositoryInterface = (*stubDeliveries)(nil)

type stubCampaigns struct{}

func (stubCampaigns) Create(*model.Campaign) error                             { return nil }
func (stubCampaigns) GetByID(int) (*model.Campaign, error)                     { return nil, nil }
func (stubCampaigns) ListCampaigns(int, int, string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}
func (stubCampaigns) UpdateStatus(int, model.CampaignStatus) error          { return nil }
func (stubCampaigns) UpdateAudience(int, pq.Int64Array, string, bool) error { return nil }
func (stubCampaigns) MarkStarted(int, int) error                            { return nil }
func (stubCampaigns) IncrementStat(int, repository.StatField) error         { return nil }
func (stubCampaigns) SetLastRun(int, time.Time) error                       { return nil }
func (stubCampaigns) SetNextRun(int, *time.Time) error                      { return nil }
func (stubCampaigns) ClearRecurrence(int) error                             { return nil }
func (stubCampaigns) DueOneShot(time.Time) ([]*model.Campaign, error)       { return nil, nil }
func (stubCampaigns) DueRecurring(time.Time) ([]*model.Campaign, error)     { return nil, nil }

var _ repository.CampaignRepositoryInterface = stubCampaigns{}

type memQueueState struct{ paused bool }

func (m *memQueueState) Paused() (bool, error)  { return m.paused, nil }
func (m *memQueueState) SetPaused(v bool) error { m.paused = v; return nil }

type fakeChannel struct {
	published   []amqp.Publishing
	declared    []string
	declareArgs amqp.Table
	inspect     amqp.Queue
	purged      int

	publishErr error
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	f.declareArgs = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueInspect(name string) (amqp.Queue, error) { return f.inspect, nil }

func (f *fakeChannel) QueuePurge(name string, noWait bool) (int, error) {
	n := f.purged
	f.purged = 0
	return n, nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return nil, nil
}

var _ BrokerChannel = (*fakeChannel)(nil)

var _ ConsumerChannel = (*fakeChannel)(nil)

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

var _ amqp.Acknowledger = (*fakeAck)(nil)

func newTestTracker(deliveries *stubDeliveries) *tracker.Tracker {
	return tracker.New(deliveries, stubCampaigns{}, zerolog.Nop())
}

// ====================== sendJob ======================

func TestSendJobText(t *testing.T) {
	tr := &scriptedTransport{}

	providerID, note, err := sendJob(context.Background(), tr, model.DispatchJob{Phone: "+49152", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, "wamid.text", providerID)
	assert.Empty(t, note)
	assert.Equal(t, 1, tr.textCalls)
	assert.Zero(t, tr.mediaCalls)
}

func TestSendJobMedia(t *testing.T) {
	tr := &scriptedTransport{}
	job := model.DispatchJob{Phone: "+49152", Body: "caption", MediaURL: "https://cdn/img.png", MediaType: model.MediaImage}

	providerID, note, err := sendJob(context.Background(), tr, job)

	require.NoError(t, err)
	assert.Equal(t, "wamid.media", providerID)
	assert.Empty(t, note)
	assert.Zero(t, tr.textCalls)
}

func TestSendJobMediaFallsBackToText(t *testing.T) {
	tr := &scriptedTransport{mediaErr: transport.NewTransient("send media", errors.New("cdn timeout"))}
	job := model.DispatchJob{Phone: "+49152", Body: "caption", MediaURL: "https://cdn/img.png", MediaType: model.MediaImage}

	providerID, note, err := sendJob(context.Background(), tr, job)

	require.NoError(t, err)
	assert.Equal(t, "wamid.text", providerID)
	assert.Contains(t, note, "caption delivered as text")
	assert.Equal(t, 1, tr.textCalls)
	assert.Equal(t, 1, tr.mediaCalls)
}

func TestSendJobMediaNoCaptionNoFallback(t *testing.T) {
	mediaErr := transport.NewPermanent("send media", errors.New("unsupported format"))
	tr := &scriptedTransport{mediaErr: mediaErr}
	job := model.DispatchJob{Phone: "+49152", MediaURL: "https://cdn/img.png", MediaType: model.MediaImage}

	_, _, err := sendJob(context.Background(), tr, job)

	assert.Equal(t, mediaErr, err)
	assert.Zero(t, tr.textCalls, "no caption means nothing to fall back to")
}

func TestSendJobBothPathsFailReportsMediaError(t *testing.T) {
	mediaErr := transport.NewTransient("send media", errors.New("cdn timeout"))
	tr := &scriptedTransport{
		mediaErr: mediaErr,
		textErr:  transport.NewTransient("send text", errors.New("socket closed")),
	}
	job := model.DispatchJob{Phone: "+49152", Body: "caption", MediaURL: "https://cdn/img.png", MediaType: model.MediaImage}

	_, _, err := sendJob(context.Background(), tr, job)

	assert.Equal(t, mediaErr, err)
}

// ====================== delayBook / drain estimate ======================

func TestDelayBookPrunes(t *testing.T) {
	var b delayBook
	now := time.Now()

	b.Add(now.Add(time.Minute))
	b.Add(now.Add(2 * time.Minute))
	b.Add(now.Add(-time.Minute)) // already due, never recorded

	assert.Equal(t, 2, b.Pending(now))
	assert.Equal(t, 1, b.Pending(now.Add(90*time.Second)))
	assert.Equal(t, 0, b.Pending(now.Add(3*time.Minute)))
}

func TestEstimateDrain(t *testing.T) {
	assert.Equal(t, 60, estimateDrain(100, 3, 5))
	assert.Equal(t, 300, estimateDrain(100, 3, 1))
	assert.Equal(t, 0, estimateDrain(0, 3, 5))
	assert.Equal(t, 300, estimateDrain(100, 3, 0), "zero concurrency treated as one worker")
}

// ====================== DirectDispatcher ======================

func TestDirectDispatcherSendsSynchronously(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	tr := &scriptedTransport{}
	d := NewDirectDispatcher(tr, newTestTracker(deliveries), 3, zerolog.Nop())

	jobID, err := d.Enqueue(context.Background(), model.DispatchJob{DeliveryID: 1, Phone: "+49152", Body: "hi"})

	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, model.DeliverySent, rec.Status)
	assert.Equal(t, "wamid.text", rec.ProviderMessageID)
	assert.True(t, d.FallbackMode())

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.True(t, stats.FallbackMode)
}

func TestDirectDispatcherRecordsSendFailure(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	tr := &scriptedTransport{textErr: transport.NewPermanent("send text", errors.New("not on whatsapp"))}
	d := NewDirectDispatcher(tr, newTestTracker(deliveries), 3, zerolog.Nop())

	_, err := d.Enqueue(context.Background(), model.DispatchJob{DeliveryID: 1, Phone: "+49152", Body: "hi"})

	require.NoError(t, err, "send failures are recorded on the delivery, not surfaced")
	assert.Equal(t, model.DeliveryFailed, rec.Status)
	assert.Contains(t, rec.FailReason, "not on whatsapp")

	stats, _ := d.Stats(context.Background())
	assert.Equal(t, 1, stats.Failed)
}

func TestDirectDispatcherPause(t *testing.T) {
	d := NewDirectDispatcher(&scriptedTransport{}, newTestTracker(newStubDeliveries()), 3, zerolog.Nop())
	require.NoError(t, d.Pause())

	_, err := d.Enqueue(context.Background(), model.DispatchJob{DeliveryID: 1})
	assert.ErrorIs(t, err, appErrors.ErrQueuePaused)

	require.NoError(t, d.Resume())
	rec := &model.DeliveryRecord{ID: 1, Status: model.DeliveryQueued}
	d.tracker = newTestTracker(newStubDeliveries(rec))
	_, err = d.Enqueue(context.Background(), model.DispatchJob{DeliveryID: 1})
	assert.NoError(t, err)
}

// ====================== QueuedDispatcher ======================

func newQueued(t *testing.T, ch *fakeChannel, deliveries *stubDeliveries) *QueuedDispatcher {
	t.Helper()
	d, err := NewQueuedDispatcher(ch, QueuedConfig{
		QueueName:     "campaign_dispatch",
		SecondsPerJob: 3,
		Concurrency:   5,
	}, deliveries, &memQueueState{}, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestQueuedDispatcherPublishes(t *testing.T) {
	ch := &fakeChannel{}
	d := newQueued(t, ch, newStubDeliveries())

	jobID, err := d.Enqueue(context.Background(), model.DispatchJob{DeliveryID: 1, Phone: "+49152", Body: "hi"})

	require.NoError(t, err)
	assert.Equal(t, []string{"campaign_dispatch"}, ch.declared)
	assert.Equal(t, int32(10), ch.declareArgs["x-max-priority"], "the broker drops publish priorities on a plain queue")
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode, "jobs must survive a broker restart")
	assert.Equal(t, jobID, msg.MessageId)
	assert.Contains(t, string(msg.Body), `"phone":"+49152"`)
}

func TestQueuedDispatcherStats(t *testing.T) {
	ch := &fakeChannel{inspect: amqp.Queue{Messages: 12}}
	deliveries := newStubDeliveries(
		&model.DeliveryRecord{ID: 1, Status: model.DeliveryProcessing},
		&model.DeliveryRecord{ID: 2, Status: model.DeliverySent},
		&model.DeliveryRecord{ID: 3, Status: model.DeliveryDelivered},
		&model.DeliveryRecord{ID: 4, Status: model.DeliveryFailed},
	)
	d := newQueued(t, ch, deliveries)
	d.delays.Add(time.Now().Add(time.Minute))

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)

	// the delayed job is one of the 12 broker messages, not an extra
	assert.Equal(t, 11, stats.Waiting)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Delayed)
	assert.False(t, stats.FallbackMode)
	// 12 backlog messages * 3s / 5 workers, rounded up
	assert.Equal(t, 8, stats.EstimatedDrainSeconds)
}

func TestQueuedDispatcherPauseIsShared(t *testing.T) {
	state := &memQueueState{}
	ch := &fakeChannel{}
	d, err := NewQueuedDispatcher(ch, QueuedConfig{QueueName: "q"}, newStubDeliveries(), state, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, d.Pause())
	assert.True(t, state.paused, "pause must be visible to the worker process")

	require.NoError(t, d.Resume())
	assert.False(t, state.paused)
}

// ====================== worker pool ======================

func workerFixture(cfg WorkerConfig, ch *fakeChannel, tr transport.Transport, deliveries *stubDeliveries) *WorkerPool {
	if cfg.QueueName == "" {
		cfg.QueueName = "campaign_dispatch"
	}
	return NewWorkerPool(ch, cfg, tr, pacing.NewGovernor(60000), newTestTracker(deliveries), &memQueueState{}, zerolog.Nop())
}

func deliveryFor(t *testing.T, job model.DispatchJob, ack *fakeAck) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
}

func TestWorkerHandleSuccess(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	p := workerFixture(WorkerConfig{Workers: 1, MaxAttempts: 3}, &fakeChannel{}, &scriptedTransport{}, deliveries)

	ack := &fakeAck{}
	p.handle(context.Background(), deliveryFor(t, model.DispatchJob{ID: "j1", DeliveryID: 1, Phone: "+49152", Body: "hi"}, ack))

	assert.True(t, ack.acked)
	assert.Equal(t, model.DeliverySent, rec.Status)
}

func TestWorkerHandlePermanentFailure(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	ch := &fakeChannel{}
	tr := &scriptedTransport{textErr: transport.NewPermanent("send text", errors.New("invalid number"))}
	p := workerFixture(WorkerConfig{Workers: 1, MaxAttempts: 3}, ch, tr, deliveries)

	ack := &fakeAck{}
	p.handle(context.Background(), deliveryFor(t, model.DispatchJob{ID: "j1", DeliveryID: 1, Phone: "bad"}, ack))

	assert.True(t, ack.acked)
	assert.Equal(t, model.DeliveryFailed, rec.Status)
	assert.Empty(t, ch.published, "permanent failures are not retried")
}

func TestWorkerHandleTransientFailureRepublishes(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	ch := &fakeChannel{}
	tr := &scriptedTransport{textErr: transport.NewTransient("send text", errors.New("gateway 502"))}
	p := workerFixture(WorkerConfig{Workers: 1, MaxAttempts: 3}, ch, tr, deliveries)

	before := time.Now()
	ack := &fakeAck{}
	p.handle(context.Background(), deliveryFor(t, model.DispatchJob{ID: "j1", DeliveryID: 1, Phone: "+49152", Body: "hi"}, ack))

	assert.True(t, ack.acked, "original is acked once the retry is republished")
	assert.NotEqual(t, model.DeliveryFailed, rec.Status, "record stays open for the retry")
	require.Len(t, ch.published, 1)

	var retry model.DispatchJob
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &retry))
	assert.Equal(t, 1, retry.Attempt)
	assert.True(t, retry.NotBefore.After(before.Add(4*time.Second)), "retry carries the backoff delay")
	assert.Equal(t, uint8(retryPriority), ch.published[0].Priority, "retries overtake the fresh backlog")
}

func TestWorkerHandleExhaustedAttemptsFail(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	ch := &fakeChannel{}
	tr := &scriptedTransport{textErr: transport.NewTransient("send text", errors.New("gateway 502"))}
	p := workerFixture(WorkerConfig{Workers: 1, MaxAttempts: 3}, ch, tr, deliveries)

	ack := &fakeAck{}
	p.handle(context.Background(), deliveryFor(t, model.DispatchJob{ID: "j1", DeliveryID: 1, Phone: "+49152", Body: "hi", Attempt: 2}, ack))

	assert.True(t, ack.acked)
	assert.Equal(t, model.DeliveryFailed, rec.Status)
	assert.Empty(t, ch.published)
}

func TestWorkerHandleMalformedPayload(t *testing.T) {
	p := workerFixture(WorkerConfig{Workers: 1}, &fakeChannel{}, &scriptedTransport{}, newStubDeliveries())

	ack := &fakeAck{}
	p.handle(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{not json")})

	assert.True(t, ack.acked, "malformed payloads are dropped, not requeued forever")
	assert.False(t, ack.nacked)
}

func TestWorkerHandleRepublishFailureRequeues(t *testing.T) {
	rec := &model.DeliveryRecord{ID: 1, CampaignID: 7, Status: model.DeliveryQueued}
	deliveries := newStubDeliveries(rec)
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	tr := &scriptedTransport{textErr: transport.NewTransient("send text", errors.New("gateway 502"))}
	p := workerFixture(WorkerConfig{Workers: 1, MaxAttempts: 3}, ch, tr, deliveries)

	ack := &fakeAck{}
	p.handle(context.Background(), deliveryFor(t, model.DispatchJob{ID: "j1", DeliveryID: 1, Phone: "+49152", Body: "hi"}, ack))

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeue, "broker redelivery is the safety net when republish fails")
}
