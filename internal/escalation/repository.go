// Package escalation owns the escalation entity lifecycle: id assignment,
// defaults, the status state machine and filter-query construction over the
// backing store.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentbridge-io/agentbridge/internal/qdrant"
	"github.com/agentbridge-io/agentbridge/pkg/protocol"
)

var (
	// ErrNotFound signals an id with no record.
	ErrNotFound = errors.New("escalation not found")
	// ErrStoreUnavailable signals a failed write or query against the
	// backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DefaultListLimit caps unbounded list queries.
const DefaultListLimit = 100

// StoreClient is the slice of the store the repository needs.
type StoreClient interface {
	EnsureCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection, id string, payload map[string]any) error
	FetchByID(ctx context.Context, collection, id string) (map[string]any, error)
	Scroll(ctx context.Context, collection string, filter *qdrant.Filter, limit int) ([]map[string]any, error)
	SetPayload(ctx context.Context, collection, id string, fields map[string]any) error
}

// Repository stores and queries escalations. All mutable state lives in the
// external store; the repository itself holds none and is safe for
// concurrent use.
type Repository struct {
	store      StoreClient
	collection string
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a repository over the given store and collection.
func New(store StoreClient, collection string, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		store:      store,
		collection: collection,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// CreateParams are the caller-supplied fields for a new escalation.
type CreateParams struct {
	FromAgent string
	ToAgent   string
	Question  string
	Context   string
	Priority  protocol.EscalationPriority
}

// Create writes a new escalation with a fresh id and status pending.
// The collection is (re-)ensured on every call rather than once at startup:
// the store is the authority on existence and the check is cheap.
func (r *Repository) Create(ctx context.Context, p CreateParams) (*protocol.Escalation, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}

	esc := &protocol.Escalation{
		ID:        r.newID(),
		FromAgent: p.FromAgent,
		ToAgent:   p.ToAgent,
		Question:  p.Question,
		Context:   p.Context,
		Priority:  p.Priority,
		Status:    protocol.EscalationPending,
		CreatedAt: r.now(),
	}
	if esc.Priority == "" {
		esc.Priority = protocol.PriorityNormal
	}

	if err := r.store.Upsert(ctx, r.collection, esc.ID, toPayload(esc)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	r.logger.Info("escalation created",
		"id", esc.ID, "from", esc.FromAgent, "to", esc.ToAgent, "priority", esc.Priority)
	return esc, nil
}

// Filter constrains escalation list queries. A nil Status means no status
// clause at all, which is distinct from the caller-side default of pending.
type Filter struct {
	ToAgent   string
	FromAgent string
	Status    *string
	Limit     int // 0 = DefaultListLimit
}

// List returns a bounded page of escalations matching the filter.
//
// A to_agent clause matches either the exact agent id or the broadcast token,
// so broadcast records stay visible to every targeted query. All present
// clauses combine with AND.
func (r *Repository) List(ctx context.Context, f Filter) ([]*protocol.Escalation, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}

	var conds []qdrant.Condition
	if f.Status != nil {
		conds = append(conds, qdrant.MatchValue("status", *f.Status))
	}
	if f.FromAgent != "" {
		conds = append(conds, qdrant.MatchValue("from_agent", f.FromAgent))
	}
	if f.ToAgent != "" {
		conds = append(conds, qdrant.AnyOf(
			qdrant.MatchValue("to_agent", f.ToAgent),
			qdrant.MatchValue("to_agent", protocol.BroadcastTarget),
		))
	}

	var filter *qdrant.Filter
	if len(conds) > 0 {
		filter = &qdrant.Filter{Must: conds}
	}

	limit := f.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	payloads, err := r.store.Scroll(ctx, r.collection, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	escalations := make([]*protocol.Escalation, 0, len(payloads))
	for _, p := range payloads {
		escalations = append(escalations, fromPayload(p))
	}
	return escalations, nil
}

// GetByID returns a single escalation or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, id string) (*protocol.Escalation, error) {
	payload, err := r.store.FetchByID(ctx, r.collection, id)
	if err != nil {
		if errors.Is(err, qdrant.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return fromPayload(payload), nil
}

// UpdateParams are the optional fields of a partial update. Nil fields are
// left untouched in the store.
type UpdateParams struct {
	Status *string
	Answer *string
}

// Update applies a partial patch and returns the applied fields, echoed
// rather than re-fetched. Transitioning to resolved stamps resolved_at in the
// same patch. Status values are not validated and transitions are not
// ordered; whatever the caller supplies wins. There is no concurrency token:
// concurrent updates to the same id are last-writer-wins per field.
func (r *Repository) Update(ctx context.Context, id string, p UpdateParams) (map[string]any, error) {
	fields := map[string]any{}
	if p.Status != nil {
		fields["status"] = *p.Status
		if *p.Status == string(protocol.EscalationResolved) {
			fields["resolved_at"] = r.now().Format(time.RFC3339)
		}
	}
	if p.Answer != nil {
		fields["answer"] = *p.Answer
	}
	if len(fields) == 0 {
		return nil, errors.New("empty update")
	}

	if err := r.store.SetPayload(ctx, r.collection, id, fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	r.logger.Info("escalation updated", "id", id, "fields", len(fields))
	return fields, nil
}

// EnsureCollection exposes the idempotent schema check for the best-effort
// startup path. Failures are the caller's to swallow; every Create and List
// re-attempts it anyway.
func (r *Repository) EnsureCollection(ctx context.Context) error {
	return r.ensure(ctx)
}

func (r *Repository) ensure(ctx context.Context) error {
	if err := r.store.EnsureCollection(ctx, r.collection); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}
