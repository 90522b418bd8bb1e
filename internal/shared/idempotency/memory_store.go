package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

type recordState int

const (
	stateInFlight recordState = iota
	stateCompleted
)

type record struct {
	state      recordState
	ownerToken string
	outcome    Outcome
	expiresAt  time.Time
}

// MemoryStore is an in-process record store. Suitable for single-instance
// deployments; records do not survive a restart, so a crash between the
// provider charge and Complete can make a duplicate charge possible. Use
// the redis or postgres backend when that window matters.
//
// Expired entries are treated as absent and cleaned up lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record
	opts    Options
}

// NewMemoryStore creates an in-memory record store.
func NewMemoryStore(opts Options) (*MemoryStore, error) {
	withDefaults, err := opts.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("idempotency: failed to init memory store: %w", err)
	}

	return &MemoryStore{
		records: make(map[string]*record),
		opts:    withDefaults,
	}, nil
}

func (s *MemoryStore) TryClaim(ctx context.Context, key string) (Decision, error) {
	token, err := s.opts.Tokens.Generate(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: failed to generate owner token: %w", err)
	}

	now := s.opts.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if ok && now.After(existing.expiresAt) {
		delete(s.records, key)
		ok = false
	}

	if ok {
		switch existing.state {
		case stateCompleted:
			return Decision{Type: DecisionCompleted, Outcome: existing.outcome}, nil
		case stateInFlight:
			return Decision{Type: DecisionInFlight}, nil
		}
	}

	s.records[key] = &record{
		state:      stateInFlight,
		ownerToken: token,
		expiresAt:  now.Add(s.opts.ClaimTTL),
	}

	return Decision{Type: DecisionClaimed, OwnerToken: token}, nil
}

func (s *MemoryStore) Complete(ctx context.Context, key, ownerToken string, outcome Outcome) error {
	now := s.opts.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok || now.After(existing.expiresAt) || existing.state != stateInFlight || existing.ownerToken != ownerToken {
		return ErrOwnershipLost
	}

	existing.state = stateCompleted
	existing.ownerToken = ""
	existing.outcome = outcome
	existing.expiresAt = now.Add(s.opts.CompletedTTL)

	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key, ownerToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok || existing.state != stateInFlight || existing.ownerToken != ownerToken {
		return nil
	}

	delete(s.records, key)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Outcome, bool, error) {
	now := s.opts.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok {
		return Outcome{}, false, nil
	}

	if now.After(existing.expiresAt) {
		delete(s.records, key)
		return Outcome{}, false, nil
	}

	if existing.state != stateCompleted {
		return Outcome{}, false, nil
	}

	return existing.outcome, true, nil
}
