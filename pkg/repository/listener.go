package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-trustgate/internal/metrics"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// DefaultNotifyChannel is the Postgres channel the trust-state triggers notify on.
const DefaultNotifyChannel = "trust_state"

const (
	listenerMinReconnect = 1 * time.Second
	listenerMaxReconnect = 30 * time.Second
	listenerPingInterval = 90 * time.Second
	subscriberBuffer     = 8
)

// TrustListener fans Postgres NOTIFY payloads out to per-user subscribers.
// After a reconnect, every subscriber receives a resync event (empty Table)
// because notifications sent while disconnected are lost.
type TrustListener struct {
	listener *pq.Listener
	channel  string
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]map[chan domain.TrustEvent]struct{}
}

// NewTrustListener connects a lib/pq listener and LISTENs on channel.
func NewTrustListener(dsn, channel string, logger *slog.Logger) (*TrustListener, error) {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &TrustListener{
		channel: channel,
		logger:  logger,
		subs:    make(map[uuid.UUID]map[chan domain.TrustEvent]struct{}),
	}
	l.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, l.onEvent)
	if err := l.listener.Listen(channel); err != nil {
		l.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return l, nil
}

func (l *TrustListener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		l.logger.Error("trust listener connection problem", "event", ev, "error", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("trust listener reconnected")
	}
}

// Run dispatches notifications until ctx is done.
func (l *TrustListener) Run(ctx context.Context) error {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-l.listener.Notify:
			if n == nil {
				// Connection was re-established; we may have missed events.
				l.broadcastResync()
				continue
			}
			ev, err := decodeTrustEvent(n.Extra)
			if err != nil {
				l.logger.Warn("dropping malformed trust notification", "error", err)
				continue
			}
			l.dispatch(ev)
		case <-ticker.C:
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("trust listener ping failed", "error", err)
			}
		}
	}
}

// Subscribe returns a channel of events for userID and a cancel func.
func (l *TrustListener) Subscribe(userID uuid.UUID) (<-chan domain.TrustEvent, func()) {
	ch := make(chan domain.TrustEvent, subscriberBuffer)

	l.mu.Lock()
	if l.subs[userID] == nil {
		l.subs[userID] = make(map[chan domain.TrustEvent]struct{})
	}
	l.subs[userID][ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[userID], ch)
			if len(l.subs[userID]) == 0 {
				delete(l.subs, userID)
			}
			l.mu.Unlock()
		})
	}
}

// Close stops listening.
func (l *TrustListener) Close() error {
	return l.listener.Close()
}

func (l *TrustListener) dispatch(ev domain.TrustEvent) {
	metrics.TrustEvents.WithLabelValues(string(ev.Table)).Inc()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs[ev.UserID] {
		send(ch, ev)
	}
}

func (l *TrustListener) broadcastResync() {
	metrics.TrustEvents.WithLabelValues("resync").Inc()
	l.mu.Lock()
	defer l.mu.Unlock()
	for userID, chans := range l.subs {
		for ch := range chans {
			send(ch, domain.TrustEvent{UserID: userID})
		}
	}
}

// send never blocks; a full buffer already guarantees a pending re-evaluation.
func send(ch chan domain.TrustEvent, ev domain.TrustEvent) {
	select {
	case ch <- ev:
	default:
	}
}

func decodeTrustEvent(payload string) (domain.TrustEvent, error) {
	var ev domain.TrustEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("failed to decode payload: %w", err)
	}
	if ev.UserID == uuid.Nil {
		return ev, fmt.Errorf("payload missing user_id")
	}
	switch ev.Table {
	case domain.TableBans, domain.TableWarnings, domain.TableMFAFactors:
	default:
		return ev, fmt.Errorf("unknown table %q", ev.Table)
	}
	return ev, nil
}
