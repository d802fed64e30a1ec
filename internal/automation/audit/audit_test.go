package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"taskgate/internal/automation/metrics"
	"taskgate/internal/automation/models"
	auditstore "taskgate/internal/automation/store/audit"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/circuit"
)

func record(tenant id.TenantID, op string) models.AuditRecord {
	taskID := id.NewTaskID()
	return models.AuditRecord{
		ID:             uuid.New(),
		TenantID:       tenant,
		OccurredAt:     time.Date(2026, 3, 2, 9, 0, 0, 123456789, time.FixedZone("KST", 9*3600)),
		OperationType:  op,
		Status:         models.AuditSuccess,
		Actor:          uuid.NewString(),
		Summary:        "학생 퇴원 처리",
		Details:        map[string]any{"intent_key": "student.exec.discharge", "affected_count": 1},
		CorrelationKey: taskID.String() + ":approve-and-execute:1",
		TaskID:         &taskID,
	}
}

type ChainSuite struct {
	suite.Suite
	store  *auditstore.InMemory
	chain  *Chain
	ctx    context.Context
	tenant id.TenantID
}

func (s *ChainSuite) SetupTest() {
	s.store = auditstore.NewInMemory()
	s.chain = NewChain(s.store)
	s.ctx = context.Background()
	s.tenant = id.TenantID(uuid.New())
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) TestLinksRecords() {
	for _, op := range []string{"student_discharge", "approval_request", "guardian_notification"} {
		s.Require().NoError(s.chain.Append(s.ctx, record(s.tenant, op)))
	}
	records, err := s.store.ListByTenant(s.ctx, s.tenant)
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	s.Empty(records[0].PrevHash)
	s.Equal(records[0].Hash, records[1].PrevHash)
	s.Equal(records[1].Hash, records[2].PrevHash)
	s.NoError(s.chain.Verify(s.ctx, s.tenant))
}

func (s *ChainSuite) TestChainsAreIndependentPerTenant() {
	other := id.TenantID(uuid.New())
	s.Require().NoError(s.chain.Append(s.ctx, record(s.tenant, "a")))
	s.Require().NoError(s.chain.Append(s.ctx, record(other, "b")))

	records, err := s.store.ListByTenant(s.ctx, other)
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Empty(records[0].PrevHash)
}

func (s *ChainSuite) TestVerifyDetectsTampering() {
	for range 3 {
		s.Require().NoError(s.chain.Append(s.ctx, record(s.tenant, "student_pause")))
	}
	records, err := s.store.ListByTenant(s.ctx, s.tenant)
	s.Require().NoError(err)

	tampered := append([]models.AuditRecord(nil), records...)
	tampered[1].Status = models.AuditFailed
	var broken *BrokenLinkError
	s.Require().ErrorAs(Verify(tampered), &broken)
	s.Equal(1, broken.Index)
	s.Equal("hash mismatch", broken.Reason)

	dropped := []models.AuditRecord{records[0], records[2]}
	s.Require().ErrorAs(Verify(dropped), &broken)
	s.Equal(1, broken.Index)
	s.Equal("prev_hash mismatch", broken.Reason)
}

func TestHashIgnoresRepresentationDifferences(t *testing.T) {
	rec := record(id.TenantID(uuid.New()), "student_discharge")
	h1, err := Hash(rec)
	require.NoError(t, err)

	// what a jsonb + timestamptz round trip returns
	roundTripped := rec
	roundTripped.OccurredAt = rec.OccurredAt.UTC().Truncate(time.Microsecond)
	roundTripped.Details = map[string]any{"affected_count": float64(1), "intent_key": "student.exec.discharge"}
	h2, err := Hash(roundTripped)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, models.AuditRecord) error { return f.err }

type recordingSink struct{ got []models.AuditRecord }

func (r *recordingSink) Append(_ context.Context, rec models.AuditRecord) error {
	r.got = append(r.got, rec)
	return nil
}

func TestFanOutContinuesPastFailures(t *testing.T) {
	m := metrics.NewWith(prometheus.NewRegistry())
	rec := &recordingSink{}
	f := NewFanOut([]Named{
		{Name: "kafka", Sink: failingSink{err: errors.New("broker down")}},
		{Name: "chain", Sink: rec},
	}, WithMetrics(m))

	err := f.Append(context.Background(), record(id.TenantID(uuid.New()), "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: broker down")
	assert.Len(t, rec.got, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures.WithLabelValues("kafka")))
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	var out kgo.ProduceResults
	for _, r := range rs {
		p.records = append(p.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func TestKafkaKeysByTenant(t *testing.T) {
	p := &fakeProducer{}
	rec := record(id.TenantID(uuid.New()), "guardian_notification")
	require.NoError(t, NewKafka(p, "taskgate.audit").Append(context.Background(), rec))

	require.Len(t, p.records, 1)
	assert.Equal(t, "taskgate.audit", p.records[0].Topic)
	assert.Equal(t, rec.TenantID.String(), string(p.records[0].Key))
	assert.Contains(t, string(p.records[0].Value), `"operation_type":"guardian_notification"`)

	p.err = errors.New("not leader")
	assert.Error(t, NewKafka(p, "taskgate.audit").Append(context.Background(), rec))
}

func TestGuardedSkipsSinkWhileOpen(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	breaker := circuit.New("kafka", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute), circuit.WithClock(func() time.Time { return now }))
	down := errors.New("broker down")
	inner := &toggleSink{err: down}
	g := NewGuarded(inner, breaker, nil)
	rec := record(id.TenantID(uuid.New()), "student.exec.discharge")

	require.ErrorIs(t, g.Append(context.Background(), rec), down)
	require.ErrorIs(t, g.Append(context.Background(), rec), down)
	assert.True(t, breaker.IsOpen())

	require.ErrorIs(t, g.Append(context.Background(), rec), ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls, "open circuit must not reach the sink")

	inner.err = nil
	now = now.Add(time.Minute)
	require.NoError(t, g.Append(context.Background(), rec))
	assert.False(t, breaker.IsOpen())
	assert.Equal(t, 3, inner.calls)
}

type toggleSink struct {
	err   error
	calls int
}

func (s *toggleSink) Append(context.Context, models.AuditRecord) error {
	s.calls++
	return s.err
}
