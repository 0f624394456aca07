package gate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// memStore is an in-memory trust store for bans and warnings. Setting err
// makes reads fail; setting block makes reads wait for it or for ctx.
type memStore struct {
	mu       sync.Mutex
	bans     []*domain.Ban
	warnings []*domain.Warning
	err      error
	block    chan struct{}
	banCalls int
}

func (m *memStore) wait(ctx context.Context) error {
	m.mu.Lock()
	block, err := m.block, m.err
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *memStore) LatestActive(ctx context.Context, userID uuid.UUID, now time.Time) (*domain.Ban, error) {
	m.mu.Lock()
	m.banCalls++
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Ban
	for _, b := range m.bans {
		if b.UserID != userID || !b.IsActiveAt(now) {
			continue
		}
		if latest == nil || b.BannedAt.After(latest.BannedAt) {
			latest = b
		}
	}
	if latest == nil {
		return nil, domain.ErrBanNotFound
	}
	c := *latest
	return &c, nil
}

func (m *memStore) ListUnacknowledged(ctx context.Context, userID uuid.UUID) ([]*domain.Warning, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Warning
	for _, w := range m.warnings {
		if w.UserID == userID && w.State() == domain.WarningPending {
			c := *w
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Acknowledge(_ context.Context, userID, warningID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for _, w := range m.warnings {
		if w.ID == warningID && w.UserID == userID {
			return w.Acknowledge(at), nil
		}
	}
	return false, nil
}

func (m *memStore) addBan(b *domain.Ban) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans = append(m.bans, b)
}

func (m *memStore) addWarning(w *domain.Warning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnings = append(m.warnings, w)
}

func (m *memStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memStore) setBlock(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = ch
}

func (m *memStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banCalls
}

// memNotifier fans trust events out to per-user subscribers.
type memNotifier struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]chan domain.TrustEvent
}

func newMemNotifier() *memNotifier {
	return &memNotifier{subs: make(map[uuid.UUID][]chan domain.TrustEvent)}
}

func (n *memNotifier) Subscribe(userID uuid.UUID) (<-chan domain.TrustEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan domain.TrustEvent, 8)
	n.subs[userID] = append(n.subs[userID], ch)
	return ch, func() {}
}

func (n *memNotifier) publish(ev domain.TrustEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (n *memNotifier) subscribers(userID uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[userID])
}

func ptr[T any](v T) *T { return &v }
