package idempotency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequentialTokens struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialTokens) Generate(context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("token-%d", g.next), nil
}

func TestKeyForOrder_TableDriven(t *testing.T) {
	tests := []struct {
		name      string
		orderID   string
		assertion func(string, error)
	}{
		{
			name:    "deterministic across calls",
			orderID: "order-123",
			assertion: func(key string, err error) {
				require.NoError(t, err)
				for i := 0; i < 50; i++ {
					again, err := KeyForOrder("order-123")
					require.NoError(t, err)
					assert.Equal(t, key, again)
				}
			},
		},
		{
			name:    "namespaced and hex encoded",
			orderID: "order-123",
			assertion: func(key string, err error) {
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(key, "capture:"))
				assert.Len(t, strings.TrimPrefix(key, "capture:"), 64)
			},
		},
		{
			name:    "distinct orders yield distinct keys",
			orderID: "order-a",
			assertion: func(key string, err error) {
				require.NoError(t, err)
				other, err := KeyForOrder("order-b")
				require.NoError(t, err)
				assert.NotEqual(t, key, other)
			},
		},
		{
			name:    "empty order id",
			orderID: "",
			assertion: func(key string, err error) {
				assert.ErrorIs(t, err, ErrInvalidOrderID)
				assert.Empty(t, key)
			},
		},
		{
			name:    "padded order id",
			orderID: " order-123 ",
			assertion: func(key string, err error) {
				assert.ErrorIs(t, err, ErrInvalidOrderID)
			},
		},
		{
			name:    "order id with inner whitespace",
			orderID: "order 123",
			assertion: func(key string, err error) {
				assert.ErrorIs(t, err, ErrInvalidOrderID)
			},
		},
		{
			name:    "order id with control character",
			orderID: "order\x00123",
			assertion: func(key string, err error) {
				assert.ErrorIs(t, err, ErrInvalidOrderID)
			},
		},
		{
			name:    "oversized order id",
			orderID: strings.Repeat("a", maxOrderIDLength+1),
			assertion: func(key string, err error) {
				assert.ErrorIs(t, err, ErrInvalidOrderID)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, err := KeyForOrder(tc.orderID)
			tc.assertion(key, err)
		})
	}
}

type MemoryStoreSuite struct {
	suite.Suite

	clock *fakeClock
	store *MemoryStore
}

func (s *MemoryStoreSuite) SetupTest() {
	s.clock = newFakeClock()

	store, err := NewMemoryStore(Options{
		ClaimTTL:     30 * time.Second,
		CompletedTTL: 24 * time.Hour,
		Clock:        s.clock,
		Tokens:       &sequentialTokens{},
	})
	s.Require().NoError(err)
	s.store = store
}

func (s *MemoryStoreSuite) TestClaimThenComplete() {
	ctx := context.Background()

	decision, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, decision.Type)
	s.Require().NotEmpty(decision.OwnerToken)

	outcome := Outcome{
		ChargeID:    "ch_abc123",
		AmountMinor: 1299,
		Currency:    "GBP",
		CompletedAt: s.clock.Now(),
	}
	s.Require().NoError(s.store.Complete(ctx, "capture:key-1", decision.OwnerToken, outcome))

	again, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionCompleted, again.Type)
	s.Equal(outcome, again.Outcome)

	stored, ok, err := s.store.Get(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(outcome, stored)
}

func (s *MemoryStoreSuite) TestSecondClaimSeesInFlight() {
	ctx := context.Background()

	first, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, first.Type)

	second, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionInFlight, second.Type)
	s.Empty(second.OwnerToken)
}

func (s *MemoryStoreSuite) TestExpiredClaimIsReclaimable() {
	ctx := context.Background()

	first, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, first.Type)

	s.clock.Advance(31 * time.Second)

	second, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionClaimed, second.Type)
	s.NotEqual(first.OwnerToken, second.OwnerToken)

	// The original owner lost the claim when it expired.
	err = s.store.Complete(ctx, "capture:key-1", first.OwnerToken, Outcome{ChargeID: "ch_late"})
	s.ErrorIs(err, ErrOwnershipLost)
}

func (s *MemoryStoreSuite) TestCompleteWithWrongTokenFails() {
	ctx := context.Background()

	decision, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, decision.Type)

	err = s.store.Complete(ctx, "capture:key-1", "not-the-owner", Outcome{ChargeID: "ch_x"})
	s.ErrorIs(err, ErrOwnershipLost)

	// The rightful owner can still finish.
	s.NoError(s.store.Complete(ctx, "capture:key-1", decision.OwnerToken, Outcome{ChargeID: "ch_x"}))
}

func (s *MemoryStoreSuite) TestReleaseMakesKeyClaimableAgain() {
	ctx := context.Background()

	first, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, first.Type)

	s.Require().NoError(s.store.Release(ctx, "capture:key-1", first.OwnerToken))

	second, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionClaimed, second.Type)
}

func (s *MemoryStoreSuite) TestReleaseWithWrongTokenKeepsClaim() {
	ctx := context.Background()

	first, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, first.Type)

	s.Require().NoError(s.store.Release(ctx, "capture:key-1", "not-the-owner"))

	second, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionInFlight, second.Type)
}

func (s *MemoryStoreSuite) TestCompletedRecordExpires() {
	ctx := context.Background()

	decision, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Complete(ctx, "capture:key-1", decision.OwnerToken, Outcome{ChargeID: "ch_x"}))

	s.clock.Advance(24*time.Hour + time.Second)

	_, ok, err := s.store.Get(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.False(ok)

	again, err := s.store.TryClaim(ctx, "capture:key-1")
	s.Require().NoError(err)
	s.Equal(DecisionClaimed, again.Type)
}

func (s *MemoryStoreSuite) TestGetUnknownKey() {
	_, ok, err := s.store.Get(context.Background(), "capture:missing")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *MemoryStoreSuite) TestConcurrentClaimsYieldSingleOwner() {
	ctx := context.Background()

	const goroutines = 32

	var wg sync.WaitGroup
	decisions := make([]Decision, goroutines)
	errs := make([]error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			decisions[idx], errs[idx] = s.store.TryClaim(ctx, "capture:contended")
		}(i)
	}
	wg.Wait()

	claimed := 0
	for i, decision := range decisions {
		s.Require().NoError(errs[i])
		switch decision.Type {
		case DecisionClaimed:
			claimed++
		case DecisionInFlight:
		default:
			s.Failf("unexpected decision", "got %q", decision.Type)
		}
	}
	s.Equal(1, claimed)
}

func (s *MemoryStoreSuite) TestKeysAreIndependent() {
	ctx := context.Background()

	first, err := s.store.TryClaim(ctx, "capture:key-a")
	s.Require().NoError(err)
	s.Require().Equal(DecisionClaimed, first.Type)

	second, err := s.store.TryClaim(ctx, "capture:key-b")
	s.Require().NoError(err)
	s.Equal(DecisionClaimed, second.Type)
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}
