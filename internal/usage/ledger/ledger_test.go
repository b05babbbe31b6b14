package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"callgate/internal/platform/kvstore"
	"callgate/internal/usage/config"
	"callgate/internal/usage/models"
	"callgate/internal/usage/policy"
	dErrors "callgate/pkg/domain-errors"
)

type LedgerSuite struct {
	suite.Suite
	ctx     context.Context
	store   *kvstore.MemoryStore
	metrics *recordingMetrics
	ledger  *Ledger
	now     time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

type recordingMetrics struct {
	mu           sync.Mutex
	errors       map[string]int
	windowResets int
}

func (m *recordingMetrics) IncrementLedgerErrors(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op]++
}

func (m *recordingMetrics) IncrementWindowResets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowResets++
}

// brokenStore fails every call the way an unreachable backend would.
type brokenStore struct{}

var errBackendDown = errors.New("connection refused")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (brokenStore) Delete(context.Context, string) error           { return errBackendDown }
func (brokenStore) Keys(context.Context, string) ([]string, error) { return nil, errBackendDown }

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = kvstore.NewMemory()
	s.metrics = &recordingMetrics{errors: map[string]int{}}
	s.now = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ledger = s.newLedger(s.store)
}

func (s *LedgerSuite) newLedger(store kvstore.Store) *Ledger {
	pol, err := policy.New(config.DefaultTiers())
	s.Require().NoError(err)
	l, err := New(store, pol, WithMetrics(s.metrics), WithShards(8))
	s.Require().NoError(err)
	return l
}

func (s *LedgerSuite) stored(identity string) *models.UsageRecord {
	raw, err := s.store.Get(s.ctx, Key(identity))
	s.Require().NoError(err)
	var rec models.UsageRecord
	s.Require().NoError(json.Unmarshal(raw, &rec))
	return &rec
}

func (s *LedgerSuite) TestNewRequiresDependencies() {
	pol, err := policy.New(config.DefaultTiers())
	s.Require().NoError(err)

	_, err = New(nil, pol)
	s.Error(err)
	_, err = New(s.store, nil)
	s.Error(err)
}

func (s *LedgerSuite) TestGetMissing() {
	s.Nil(s.ledger.Get(s.ctx, "nobody"))
}

func (s *LedgerSuite) TestRecord() {
	s.Run("first call creates the record", func() {
		rec := s.ledger.Record(s.ctx, "abc", s.now)
		s.Equal(1, rec.Count)
		s.Equal(s.now, rec.LastUsedAt)

		persisted := s.stored("abc")
		s.Equal("abc", persisted.Identity)
		s.Equal(1, persisted.Count)
	})

	s.Run("calls inside the window accumulate", func() {
		rec := s.ledger.Record(s.ctx, "abc", s.now.Add(10*time.Second))
		s.Equal(2, rec.Count)
		rec = s.ledger.Record(s.ctx, "abc", s.now.Add(20*time.Second))
		s.Equal(3, rec.Count)
		s.Equal(s.now.Add(20*time.Second), s.ledger.Get(s.ctx, "abc").LastUsedAt)
	})

	s.Run("gap beyond the previous tier window restarts the count", func() {
		rec := s.ledger.Record(s.ctx, "abc", s.now.Add(20*time.Second+time.Minute+time.Second))
		s.Equal(1, rec.Count)
		s.Equal(1, s.metrics.windowResets)
	})
}

func (s *LedgerSuite) TestRecordUsesWindowOfPreviousTier() {
	// 10 calls puts the identity in the 5 minute tier.
	for i := range 10 {
		s.ledger.Record(s.ctx, "abc", s.now.Add(time.Duration(i)*time.Second))
	}
	last := s.now.Add(9 * time.Second)

	rec := s.ledger.Record(s.ctx, "abc", last.Add(4*time.Minute))
	s.Equal(11, rec.Count, "a 4 minute gap is inside the 5 minute window")

	rec = s.ledger.Record(s.ctx, "abc", last.Add(4*time.Minute+5*time.Minute+time.Second))
	s.Equal(1, rec.Count)
}

func (s *LedgerSuite) TestRestartClearsCooldown() {
	s.ledger.Record(s.ctx, "abc", s.now)
	s.ledger.SetCooldown(s.ctx, "abc", s.now.Add(time.Hour))

	rec := s.ledger.Record(s.ctx, "abc", s.now.Add(2*time.Hour))
	s.Equal(1, rec.Count)
	s.Nil(rec.CooldownUntil)
}

func (s *LedgerSuite) TestElapsedCooldownIsDroppedOnRecord() {
	s.ledger.Record(s.ctx, "abc", s.now)
	s.ledger.SetCooldown(s.ctx, "abc", s.now.Add(30*time.Second))

	rec := s.ledger.Record(s.ctx, "abc", s.now.Add(31*time.Second))
	s.Equal(2, rec.Count)
	s.Nil(rec.CooldownUntil)
	s.Nil(s.stored("abc").CooldownUntil)
}

func (s *LedgerSuite) TestSetCooldown() {
	s.Run("persists the deadline", func() {
		s.ledger.Record(s.ctx, "abc", s.now)
		until := s.now.Add(30 * time.Second)
		s.ledger.SetCooldown(s.ctx, "abc", until)

		rec := s.ledger.Get(s.ctx, "abc")
		s.Require().NotNil(rec.CooldownUntil)
		s.True(until.Equal(*rec.CooldownUntil))
	})

	s.Run("missing record is ignored", func() {
		s.ledger.SetCooldown(s.ctx, "ghost", s.now.Add(time.Minute))
		s.Nil(s.ledger.Get(s.ctx, "ghost"))
	})

	s.Run("deadline before last use is ignored", func() {
		s.ledger.Record(s.ctx, "late", s.now)
		s.ledger.SetCooldown(s.ctx, "late", s.now.Add(-time.Second))
		s.Nil(s.ledger.Get(s.ctx, "late").CooldownUntil)
	})
}

func (s *LedgerSuite) TestReset() {
	s.ledger.Record(s.ctx, "abc", s.now)
	s.Require().NoError(s.ledger.Reset(s.ctx, "abc"))
	s.Nil(s.ledger.Get(s.ctx, "abc"))
	s.NoError(s.ledger.Reset(s.ctx, "abc"), "resetting twice is harmless")
}

func (s *LedgerSuite) TestSweep() {
	s.ledger.Record(s.ctx, "stale", s.now.Add(-25*time.Hour))
	s.ledger.Record(s.ctx, "fresh", s.now.Add(-time.Hour))
	s.Require().NoError(s.store.Set(s.ctx, Key("garbled"), []byte("{not json"), 0))
	s.Require().NoError(s.store.Set(s.ctx, "cache:generate:1", []byte("{}"), 0))

	removed, err := s.ledger.Sweep(s.ctx, s.now, 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(2, removed)

	s.Nil(s.ledger.Get(s.ctx, "stale"))
	s.NotNil(s.ledger.Get(s.ctx, "fresh"))
	_, err = s.store.Get(s.ctx, "cache:generate:1")
	s.NoError(err, "sweep only touches usage keys")
}

func (s *LedgerSuite) TestSweepHonoursCancellation() {
	s.ledger.Record(s.ctx, "stale", s.now.Add(-48*time.Hour))
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	removed, err := s.ledger.Sweep(ctx, s.now, 24*time.Hour)
	s.ErrorIs(err, context.Canceled)
	s.Zero(removed)
}

func (s *LedgerSuite) TestCorruptRecordIsOverwrittenOnRecord() {
	s.Require().NoError(s.store.Set(s.ctx, Key("abc"), []byte("garbage"), 0))
	rec := s.ledger.Record(s.ctx, "abc", s.now)
	s.Equal(1, rec.Count)
	s.Equal(1, s.stored("abc").Count)
}

func (s *LedgerSuite) TestFailsOpenWhenStoreIsDown() {
	l := s.newLedger(brokenStore{})

	s.Nil(l.Get(s.ctx, "abc"))

	rec := l.Record(s.ctx, "abc", s.now)
	s.Equal(1, rec.Count)
	s.Equal("abc", rec.Identity)

	s.NotPanics(func() { l.SetCooldown(s.ctx, "abc", s.now.Add(time.Minute)) })

	err := l.Reset(s.ctx, "abc")
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	_, err = l.Sweep(s.ctx, s.now, time.Hour)
	s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))

	s.Equal(1, s.metrics.errors["get"])
	s.Equal(1, s.metrics.errors["record"])
	s.Equal(1, s.metrics.errors["set_cooldown"])
	s.Equal(1, s.metrics.errors["reset"])
	s.Equal(1, s.metrics.errors["sweep"])
}

func (s *LedgerSuite) TestConcurrentRecordsAreNotLost() {
	const callers = 64
	var wg sync.WaitGroup
	for range callers {
		wg.Go(func() {
			s.ledger.Record(s.ctx, "abc", s.now)
		})
	}
	wg.Wait()

	s.Equal(callers, s.ledger.Get(s.ctx, "abc").Count)
}
