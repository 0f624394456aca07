package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/internal/metrics"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

// Notifier delivers trust change events scoped to one user.
type Notifier interface {
	Subscribe(userID uuid.UUID) (<-chan domain.TrustEvent, func())
}

// Watcher re-evaluates one session whenever its trust records change, the
// poll interval elapses, or a local action asks for it. Re-evaluations are
// serialized and overlapping triggers are merged. Only changed decisions are
// published, and a slow reader only ever sees the latest one.
type Watcher struct {
	gate     *Gate
	session  domain.Session
	notifier Notifier

	mu    sync.Mutex
	route string

	trigger chan struct{}
	out     chan domain.Decision
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch starts a watcher for session on route. The notifier may be nil, in
// which case only polling and local triggers apply. The watcher stops when
// ctx is cancelled or Close is called.
func (g *Gate) Watch(ctx context.Context, session domain.Session, route string, notifier Notifier) *Watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		gate:     g,
		session:  session,
		notifier: notifier,
		route:    route,
		trigger:  make(chan struct{}, 1),
		out:      make(chan domain.Decision, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Decisions returns the stream of changed decisions. It is closed when the
// watcher stops.
func (w *Watcher) Decisions() <-chan domain.Decision {
	return w.out
}

// Trigger requests a re-evaluation. It never blocks.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Navigate records a route change and re-evaluates.
func (w *Watcher) Navigate(route string) {
	w.mu.Lock()
	w.route = route
	w.mu.Unlock()
	w.Trigger()
}

// Acknowledge acknowledges a warning for the watched user and re-evaluates.
func (w *Watcher) Acknowledge(ctx context.Context, warningID uuid.UUID) error {
	if err := w.gate.warnings.Acknowledge(ctx, w.session.UserID, warningID); err != nil {
		return err
	}
	w.Trigger()
	return nil
}

// Close stops the watcher and waits for it to exit. A decision still in
// flight is discarded.
func (w *Watcher) Close() {
	w.cancel()
	<-w.done
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) currentRoute() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.route
}

func (w *Watcher) run(ctx context.Context) {
	metrics.ActiveWatchers.Inc()
	defer metrics.ActiveWatchers.Dec()
	defer close(w.done)
	defer func() {
		// Nothing published before sign-out may be observed after it.
		select {
		case <-w.out:
		default:
		}
		close(w.out)
	}()

	var events <-chan domain.TrustEvent
	if w.notifier != nil {
		ch, unsubscribe := w.notifier.Subscribe(w.session.UserID)
		defer unsubscribe()
		events = ch
	}

	ticker := time.NewTicker(w.gate.config.PollInterval)
	defer ticker.Stop()

	var last *domain.Decision
	w.evaluate(ctx, &last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.trigger:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		}
		events = w.drain(events)
		w.evaluate(ctx, &last)
	}
}

// drain merges every trigger that is already queued into the evaluation
// about to run.
func (w *Watcher) drain(events <-chan domain.TrustEvent) <-chan domain.TrustEvent {
	for {
		select {
		case <-w.trigger:
		case _, ok := <-events:
			if !ok {
				return nil
			}
		default:
			return events
		}
	}
}

func (w *Watcher) evaluate(ctx context.Context, last **domain.Decision) {
	d := w.gate.Decide(ctx, &w.session, w.currentRoute())
	if ctx.Err() != nil {
		return
	}
	if *last != nil && (*last).Equal(d) {
		return
	}
	*last = &d
	w.publish(d)
}

// publish replaces any unread decision with d.
func (w *Watcher) publish(d domain.Decision) {
	for {
		select {
		case w.out <- d:
			return
		default:
		}
		select {
		case <-w.out:
		default:
		}
	}
}
