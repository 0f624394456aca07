package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-trustgate/pkg/domain"
)

func newWarning(userID uuid.UUID, createdAt time.Time, severity domain.Severity) *domain.Warning {
	return &domain.Warning{
		ID:        uuid.New(),
		UserID:    userID,
		WarnedBy:  uuid.New(),
		Reason:    "reason " + string(severity),
		Severity:  severity,
		CreatedAt: createdAt,
	}
}

func TestWarningEvaluator_OrderAndAcknowledge(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	userID := uuid.New()
	store := &memStore{}
	w1 := newWarning(userID, now.Add(-2*time.Hour), domain.SeverityCritical)
	w2 := newWarning(userID, now.Add(-time.Hour), domain.SeverityLow)
	store.addWarning(w1)
	store.addWarning(w2)

	e := NewWarningEvaluator(store, 10*time.Second, nil)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	status, err := e.Evaluate(ctx, userID)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !status.HasUnacknowledged || len(status.Warnings) != 2 {
		t.Fatalf("got %+v, want two pending warnings", status)
	}
	// Creation-descending regardless of severity.
	if status.Current().ID != w2.ID {
		t.Errorf("Current() = %s, want newest warning %s", status.Current().ID, w2.ID)
	}

	if err := e.Acknowledge(ctx, userID, w2.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if w1.AcknowledgedAt != nil {
		t.Error("acknowledging one warning changed another")
	}

	status, _ = e.Evaluate(ctx, userID)
	if status.Current() == nil || status.Current().ID != w1.ID {
		t.Fatalf("Current() = %v, want %s", status.Current(), w1.ID)
	}

	if err := e.Acknowledge(ctx, userID, w1.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	status, _ = e.Evaluate(ctx, userID)
	if status.HasUnacknowledged {
		t.Error("HasUnacknowledged should be false after acknowledging all")
	}
	if status.Warnings == nil {
		t.Error("Warnings should be an empty list, not nil")
	}
}

func TestWarningEvaluator_AcknowledgeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	userID, otherID := uuid.New(), uuid.New()
	store := &memStore{}
	w := newWarning(userID, now, domain.SeverityMedium)
	foreign := newWarning(otherID, now, domain.SeverityMedium)
	store.addWarning(w)
	store.addWarning(foreign)

	e := NewWarningEvaluator(store, 10*time.Second, nil)
	e.now = func() time.Time { return now }
	ctx := context.Background()

	if err := e.Acknowledge(ctx, userID, w.ID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	first := *w.AcknowledgedAt

	e.now = func() time.Time { return now.Add(time.Hour) }
	tests := []struct {
		name      string
		warningID uuid.UUID
	}{
		{name: "already acknowledged", warningID: w.ID},
		{name: "unknown", warningID: uuid.New()},
		{name: "another user's warning", warningID: foreign.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Acknowledge(ctx, userID, tt.warningID); err != nil {
				t.Errorf("Acknowledge() error = %v, want nil", err)
			}
		})
	}

	if !w.AcknowledgedAt.Equal(first) {
		t.Error("acknowledged_at changed on second acknowledgement")
	}
	if foreign.AcknowledgedAt != nil {
		t.Error("user acknowledged another user's warning")
	}
}

func TestWarningEvaluator_StoreFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	userID := uuid.New()
	store := &memStore{}
	store.addWarning(newWarning(userID, now, domain.SeverityHigh))

	clock := now
	e := NewWarningEvaluator(store, 10*time.Second, nil)
	e.now = func() time.Time { return clock }
	ctx := context.Background()

	if _, err := e.Evaluate(ctx, userID); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	store.setErr(errors.New("connection refused"))

	clock = now.Add(5 * time.Second)
	status, err := e.Evaluate(ctx, userID)
	if err != nil {
		t.Fatalf("Evaluate() with cache error = %v", err)
	}
	if !status.HasUnacknowledged || !status.Stale {
		t.Errorf("got %+v, want stale pending status", status)
	}

	clock = now.Add(15 * time.Second)
	if _, err := e.Evaluate(ctx, userID); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Evaluate() error = %v, want ErrStoreUnavailable", err)
	}

	if err := e.Acknowledge(ctx, userID, uuid.New()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Acknowledge() error = %v, want ErrStoreUnavailable", err)
	}
}
