package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentbridge-io/agentbridge/internal/qdrant"
	"github.com/agentbridge-io/agentbridge/pkg/protocol"
)

// fakeStore implements StoreClient in memory, including Qdrant's must/should
// filter semantics, so repository queries exercise real filter construction.
type fakeStore struct {
	collections map[string]bool
	points      map[string]map[string]any
	order       []string
	ensureCalls int
	failWrites  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections: make(map[string]bool),
		points:      make(map[string]map[string]any),
	}
}

func (s *fakeStore) EnsureCollection(_ context.Context, name string) error {
	s.ensureCalls++
	s.collections[name] = true
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, _, id string, payload map[string]any) error {
	if s.failWrites {
		return &qdrant.StatusError{Code: 500, Body: "write failed"}
	}
	if _, ok := s.points[id]; !ok {
		s.order = append(s.order, id)
	}
	s.points[id] = payload
	return nil
}

func (s *fakeStore) FetchByID(_ context.Context, _, id string) (map[string]any, error) {
	p, ok := s.points[id]
	if !ok {
		return nil, qdrant.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) Scroll(_ context.Context, _ string, filter *qdrant.Filter, limit int) ([]map[string]any, error) {
	var out []map[string]any
	for _, id := range s.order {
		p := s.points[id]
		if matchesFilter(p, filter) {
			out = append(out, p)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) SetPayload(_ context.Context, _, id string, fields map[string]any) error {
	if s.failWrites {
		return &qdrant.StatusError{Code: 503, Body: "patch failed"}
	}
	if s.points[id] == nil {
		s.points[id] = make(map[string]any)
	}
	for k, v := range fields {
		s.points[id][k] = v
	}
	return nil
}

func matchesFilter(p map[string]any, f *qdrant.Filter) bool {
	if f == nil {
		return true
	}
	for _, cond := range f.Must {
		if !matchesCondition(p, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(p map[string]any, c qdrant.Condition) bool {
	if len(c.Should) > 0 {
		for _, sub := range c.Should {
			if matchesCondition(p, sub) {
				return true
			}
		}
		return false
	}
	return c.Match != nil && p[c.Key] == c.Match.Value
}

func newTestRepo(store StoreClient) *Repository {
	return New(store, "agent_escalations", nil)
}

func strptr(s string) *string { return &s }

func TestCreate_Defaults(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(store)

	esc, err := repo.Create(context.Background(), CreateParams{
		FromAgent: "m1", ToAgent: "m2", Question: "Q1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.ID == "" {
		t.Error("id not assigned")
	}
	if esc.Status != protocol.EscalationPending {
		t.Errorf("status = %s, want pending", esc.Status)
	}
	if esc.Priority != protocol.PriorityNormal {
		t.Errorf("priority = %s, want normal", esc.Priority)
	}
	if esc.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if esc.ResolvedAt != nil {
		t.Error("resolved_at should be absent on create")
	}
	if !store.collections["agent_escalations"] {
		t.Error("collection not ensured")
	}
}

func TestCreate_UniqueIDs(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		esc, err := repo.Create(context.Background(), CreateParams{
			FromAgent: "a", ToAgent: "b", Question: "q",
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[esc.ID] {
			t.Fatalf("duplicate id %s", esc.ID)
		}
		seen[esc.ID] = true
	}
}

func TestCreate_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failWrites = true
	repo := newTestRepo(store)

	_, err := repo.Create(context.Background(), CreateParams{
		FromAgent: "a", ToAgent: "b", Question: "q",
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestEnsureCollection_CalledPerRequest(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	repo.Create(ctx, CreateParams{FromAgent: "a", ToAgent: "b", Question: "q"})
	repo.List(ctx, Filter{})
	repo.List(ctx, Filter{})

	if store.ensureCalls != 3 {
		t.Errorf("ensure calls = %d, want 3", store.ensureCalls)
	}
}

func TestGetByID_RoundTrip(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	created, _ := repo.Create(ctx, CreateParams{
		FromAgent: "m1", ToAgent: "m2", Question: "Q1", Context: "ctx", Priority: protocol.PriorityHigh,
	})

	got, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FromAgent != "m1" || got.ToAgent != "m2" || got.Question != "Q1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Context != "ctx" {
		t.Errorf("context = %q", got.Context)
	}
	if got.Priority != protocol.PriorityHigh {
		t.Errorf("priority = %s", got.Priority)
	}
	if got.Answer != "" {
		t.Error("answer should be absent")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList_TargetedAndBroadcast(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	targeted, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "m2", Question: "direct"})
	broadcast, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "any", Question: "anyone?"})

	// Broadcast records are visible to every targeted query.
	for _, agent := range []string{"m2", "zeta", "omega"} {
		got, err := repo.List(ctx, Filter{ToAgent: agent, Status: strptr("pending")})
		if err != nil {
			t.Fatalf("list to=%s: %v", agent, err)
		}
		if !containsID(got, broadcast.ID) {
			t.Errorf("broadcast missing from to=%s results", agent)
		}
	}

	// Targeted records appear only for their own target.
	got, _ := repo.List(ctx, Filter{ToAgent: "m2", Status: strptr("pending")})
	if !containsID(got, targeted.ID) {
		t.Error("targeted record missing for its own target")
	}
	got, _ = repo.List(ctx, Filter{ToAgent: "zeta", Status: strptr("pending")})
	if containsID(got, targeted.ID) {
		t.Error("targeted record leaked to another agent")
	}
}

func TestList_FromFilterExcludesBroadcast(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	bc, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "any", Question: "anyone?"})

	got, _ := repo.List(ctx, Filter{FromAgent: "someone-else", Status: strptr("pending")})
	if containsID(got, bc.ID) {
		t.Error("from_agent filter should not match other senders' broadcasts")
	}
	got, _ = repo.List(ctx, Filter{Status: strptr("pending")})
	if !containsID(got, bc.ID) {
		t.Error("broadcast should appear in unfiltered-target list")
	}
}

func TestList_NoStatusIsSuperset(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	a, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "m2", Question: "q1"})
	b, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "m2", Question: "q2"})
	repo.Update(ctx, b.ID, UpdateParams{Status: strptr("resolved")})

	pending, _ := repo.List(ctx, Filter{Status: strptr("pending")})
	all, _ := repo.List(ctx, Filter{})

	if !containsID(pending, a.ID) || containsID(pending, b.ID) {
		t.Errorf("pending list wrong: %d records", len(pending))
	}
	for _, e := range pending {
		if !containsID(all, e.ID) {
			t.Error("status-filtered list is not a subset of the unfiltered list")
		}
	}
	if !containsID(all, b.ID) {
		t.Error("resolved record missing from unfiltered list")
	}
}

func TestList_LimitCapped(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	for i := 0; i < DefaultListLimit+20; i++ {
		repo.Create(ctx, CreateParams{FromAgent: "a", ToAgent: "b", Question: "q"})
	}

	got, err := repo.List(ctx, Filter{Status: strptr("pending")})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != DefaultListLimit {
		t.Errorf("len = %d, want %d", len(got), DefaultListLimit)
	}

	got, _ = repo.List(ctx, Filter{Status: strptr("pending"), Limit: 5})
	if len(got) != 5 {
		t.Errorf("len = %d, want 5", len(got))
	}
}

func TestUpdate_ResolveStampsTimestamp(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	esc, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "m2", Question: "q"})
	repo.Update(ctx, esc.ID, UpdateParams{Answer: strptr("first answer")})

	applied, err := repo.Update(ctx, esc.ID, UpdateParams{Status: strptr("resolved")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if applied["status"] != "resolved" {
		t.Errorf("applied status = %v", applied["status"])
	}
	if applied["resolved_at"] == "" || applied["resolved_at"] == nil {
		t.Error("resolved_at not stamped")
	}

	got, _ := repo.GetByID(ctx, esc.ID)
	if got.Status != protocol.EscalationResolved {
		t.Errorf("status = %s", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Fatal("resolved_at absent after resolve")
	}
	if got.Answer != "first answer" {
		t.Error("omitting answer from the patch clobbered it")
	}
}

func TestUpdate_AnswerOnlyKeepsStatus(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	esc, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "m2", Question: "q"})
	applied, err := repo.Update(ctx, esc.ID, UpdateParams{Answer: strptr("partial thoughts")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := applied["status"]; ok {
		t.Error("status should not be in an answer-only patch")
	}

	got, _ := repo.GetByID(ctx, esc.ID)
	if got.Status != protocol.EscalationPending {
		t.Errorf("status changed to %s", got.Status)
	}
	if got.Answer != "partial thoughts" {
		t.Errorf("answer = %q", got.Answer)
	}
	if got.ResolvedAt != nil {
		t.Error("resolved_at should remain absent")
	}
}

func TestUpdate_PermissiveStatus(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	esc, _ := repo.Create(ctx, CreateParams{FromAgent: "m1", ToAgent: "m2", Question: "q"})
	// Unknown values and out-of-order transitions are accepted as-is.
	if _, err := repo.Update(ctx, esc.ID, UpdateParams{Status: strptr("escalated-further")}); err != nil {
		t.Fatalf("unknown status rejected: %v", err)
	}
	got, _ := repo.GetByID(ctx, esc.ID)
	if string(got.Status) != "escalated-further" {
		t.Errorf("status = %s", got.Status)
	}
}

func TestUpdate_Empty(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	if _, err := repo.Update(context.Background(), "id", UpdateParams{}); err == nil {
		t.Error("empty update should fail")
	}
}

func TestUpdate_StoreFailure(t *testing.T) {
	store := newFakeStore()
	repo := newTestRepo(store)
	esc, _ := repo.Create(context.Background(), CreateParams{FromAgent: "a", ToAgent: "b", Question: "q"})

	store.failWrites = true
	_, err := repo.Update(context.Background(), esc.ID, UpdateParams{Status: strptr("resolved")})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestLifecycle_EndToEnd(t *testing.T) {
	repo := newTestRepo(newFakeStore())
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateParams{FromAgent: "muhlmann", ToAgent: "m2", Question: "Q1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	listed, _ := repo.List(ctx, Filter{ToAgent: "m2", Status: strptr("pending")})
	if !containsID(listed, created.ID) {
		t.Fatal("created escalation not listed for its target")
	}

	if _, err := repo.Update(ctx, created.ID, UpdateParams{Status: strptr("acknowledged")}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, _ := repo.GetByID(ctx, created.ID)
	if got.Status != protocol.EscalationAcknowledged {
		t.Errorf("status = %s, want acknowledged", got.Status)
	}

	before := time.Now().UTC().Add(-time.Second)
	if _, err := repo.Update(ctx, created.ID, UpdateParams{Status: strptr("resolved"), Answer: strptr("A1")}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, _ = repo.GetByID(ctx, created.ID)
	if got.Status != protocol.EscalationResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
	if got.Answer != "A1" {
		t.Errorf("answer = %q", got.Answer)
	}
	if got.ResolvedAt == nil || got.ResolvedAt.Before(before) {
		t.Errorf("resolved_at = %v", got.ResolvedAt)
	}
}

func containsID(escalations []*protocol.Escalation, id string) bool {
	for _, e := range escalations {
		if e.ID == id {
			return true
		}
	}
	return false
}
