package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// memFactors mirrors the constraints of the mfa_factors table.
type memFactors struct {
	mu        sync.Mutex
	factors   []*domain.MFAFactor
	codes     *memCodes
	conflicts int // Create calls that fail with ErrEnrollmentConflict
	listErr   error
	listCalls int
}

func (m *memFactors) Create(_ context.Context, f *domain.MFAFactor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts > 0 {
		m.conflicts--
		return domain.ErrEnrollmentConflict
	}
	for _, existing := range m.factors {
		if existing.UserID == f.UserID && existing.FriendlyName != nil && *existing.FriendlyName == *f.FriendlyName {
			return domain.ErrEnrollmentConflict
		}
	}
	c := *f
	m.factors = append(m.factors, &c)
	return nil
}

func (m *memFactors) ListByUserID(_ context.Context, userID uuid.UUID) ([]*domain.MFAFactor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*domain.MFAFactor
	for i := len(m.factors) - 1; i >= 0; i-- {
		if m.factors[i].UserID == userID {
			c := *m.factors[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memFactors) Confirm(ctx context.Context, f *domain.MFAFactor, codes []*domain.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *domain.MFAFactor
	for _, existing := range m.factors {
		if existing.UserID == f.UserID && existing.Verified {
			return domain.ErrMFAAlreadyEnabled
		}
		if existing.ID == f.ID && !existing.Verified {
			target = existing
		}
	}
	if target == nil {
		return domain.ErrFactorNotFound
	}
	target.Verified = true
	target.PendingCodeHashes = nil
	target.LastUsedAt = f.LastUsedAt
	return m.codes.Replace(ctx, f.UserID, codes)
}

func (m *memFactors) UpdateLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.factors {
		if f.ID == id {
			f.LastUsedAt = &at
		}
	}
	return nil
}

func (m *memFactors) DeleteInactive(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.factors[:0]
	for _, f := range m.factors {
		if f.UserID == userID && !f.IsActive() {
			continue
		}
		kept = append(kept, f)
	}
	m.factors = kept
	return nil
}

func (m *memFactors) DeleteAllByUserID(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	kept := m.factors[:0]
	for _, f := range m.factors {
		if f.UserID != userID {
			kept = append(kept, f)
		}
	}
	m.factors = kept
	m.mu.Unlock()
	return m.codes.Replace(ctx, userID, nil)
}

func (m *memFactors) add(f *domain.MFAFactor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factors = append(m.factors, f)
}

type memCodes struct {
	mu    sync.Mutex
	codes map[uuid.UUID][]*domain.BackupCode
}

func newMemCodes() *memCodes {
	return &memCodes{codes: make(map[uuid.UUID][]*domain.BackupCode)}
}

func (m *memCodes) Replace(_ context.Context, userID uuid.UUID, codes []*domain.BackupCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[userID] = append([]*domain.BackupCode(nil), codes...)
	return nil
}

func (m *memCodes) ListUnused(_ context.Context, userID uuid.UUID) ([]*domain.BackupCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.BackupCode
	for _, c := range m.codes[userID] {
		if !c.IsUsed() {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (m *memCodes) MarkUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, codes := range m.codes {
		for _, c := range codes {
			if c.ID == id && !c.IsUsed() {
				c.UsedAt = &at
				return nil
			}
		}
	}
	return domain.ErrBackupCodeNotFound
}

func (m *memCodes) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	unused, err := m.ListUnused(ctx, userID)
	return len(unused), err
}

type memAttempts struct {
	mu       sync.Mutex
	attempts map[uuid.UUID][]time.Time
	resets   map[uuid.UUID]time.Time
	listErr  error
}

func newMemAttempts() *memAttempts {
	return &memAttempts{
		attempts: make(map[uuid.UUID][]time.Time),
		resets:   make(map[uuid.UUID]time.Time),
	}
}

func (m *memAttempts) Record(_ context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[userID] = append(m.attempts[userID], at)
	return nil
}

func (m *memAttempts) ListSince(_ context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	reset := m.resets[userID]
	var out []time.Time
	for _, at := range m.attempts[userID] {
		if at.After(since) && at.After(reset) {
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

func (m *memAttempts) MarkReset(_ context.Context, userID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.resets[userID]) {
		m.resets[userID] = at
	}
	return nil
}

func (m *memAttempts) count(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts[userID])
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
