package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/domain"
	"github.com/ManaviP/ai-credit-network/internal/jobs"
	"github.com/ManaviP/ai-credit-network/internal/scoring"
)

type stubScores struct {
	result scoring.Result
	err    error
}

func (s *stubScores) Explain(ctx context.Context, userID int64) (scoring.Result, error) {
	if s.err != nil {
		return scoring.Result{}, s.err
	}
	return s.result, nil
}

type stubHealth struct {
	report domain.HealthReport
	err    error
}

func (s *stubHealth) ComputeHealth(ctx context.Context, communityID int64) (domain.HealthReport, error) {
	if s.err != nil {
		return domain.HealthReport{}, s.err
	}
	return s.report, nil
}

type stubLedgerStore struct {
	users        map[int64]domain.User
	loans        map[int64]domain.LoanApplication
	communities  map[int64]domain.Community
	memberships  []domain.CommunityMembership
	members      map[int64]bool
	vouchExists  bool
	vouches      []domain.VouchRelationship
	vouchers     []int64
	repayment    domain.Repayment
	repaymentErr error
	audits       []domain.AuditLog
}

func (s *stubLedgerStore) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubLedgerStore) GetLoan(ctx context.Context, loanID int64) (domain.LoanApplication, error) {
	l, ok := s.loans[loanID]
	if !ok {
		return domain.LoanApplication{}, domain.ErrLoanNotFound
	}
	return l, nil
}

func (s *stubLedgerStore) GetCommunity(ctx context.Context, communityID int64) (domain.Community, error) {
	c, ok := s.communities[communityID]
	if !ok {
		return domain.Community{}, domain.ErrCommunityNotFound
	}
	return c, nil
}

func (s *stubLedgerStore) AddMembership(ctx context.Context, m *domain.CommunityMembership) error {
	if s.members[m.UserID] {
		return domain.ErrValidation
	}
	m.ID = int64(len(s.memberships) + 1)
	s.memberships = append(s.memberships, *m)
	return nil
}

func (s *stubLedgerStore) HasActiveMembership(ctx context.Context, userID, communityID int64) (bool, error) {
	return s.members[userID], nil
}

func (s *stubLedgerStore) ActiveVouchExists(ctx context.Context, voucherID, voucheeID int64) (bool, error) {
	return s.vouchExists, nil
}

func (s *stubLedgerStore) CreateVouch(ctx context.Context, v *domain.VouchRelationship) error {
	v.ID = int64(len(s.vouches) + 1)
	s.vouches = append(s.vouches, *v)
	return nil
}

func (s *stubLedgerStore) ActiveVouchersOf(ctx context.Context, voucheeID int64) ([]int64, error) {
	return s.vouchers, nil
}

func (s *stubLedgerStore) MarkNextRepaymentPaid(ctx context.Context, loanID int64, paidAt time.Time) (domain.Repayment, error) {
	if s.repaymentErr != nil {
		return domain.Repayment{}, s.repaymentErr
	}
	return s.repayment, nil
}

func (s *stubLedgerStore) AppendAuditLog(ctx context.Context, entry *domain.AuditLog) error {
	s.audits = append(s.audits, *entry)
	return nil
}

type stubGraphStore struct {
	edges           []domain.GraphEdge
	membershipEdges []int64
	increments      []domain.VouchOutcome
	trustGraph      domain.TrustGraph
}

func (s *stubGraphStore) UpsertMembershipEdge(ctx context.Context, userID, communityID int64, role domain.MemberRole) error {
	s.membershipEdges = append(s.membershipEdges, userID)
	return nil
}

func (s *stubGraphStore) UpsertVouchEdge(ctx context.Context, voucherID, voucheeID int64, weight float64) error {
	s.edges = append(s.edges, domain.GraphEdge{Source: voucherID, Target: voucheeID, Weight: weight})
	return nil
}

func (s *stubGraphStore) IncrementVouchCounter(ctx context.Context, voucherID, voucheeID int64, kind domain.VouchOutcome) error {
	s.increments = append(s.increments, kind)
	return nil
}

func (s *stubGraphStore) TraverseTrustGraph(ctx context.Context, userID int64, depth int) (domain.TrustGraph, error) {
	return s.trustGraph, nil
}

type handlerFixture struct {
	handlers *APIHandlers
	ledger   *stubLedgerStore
	graph    *stubGraphStore
	queue    *jobs.MemoryQueue
}

func newFixture(scores *stubScores, health *stubHealth) *handlerFixture {
	ledger := &stubLedgerStore{
		users:       map[int64]domain.User{1: {ID: 1, Name: "Asha"}, 2: {ID: 2, Name: "Ravi"}, 3: {ID: 3, Name: "Meena"}},
		loans:       map[int64]domain.LoanApplication{5: {ID: 5, BorrowerID: 1, CommunityID: 3}},
		communities: map[int64]domain.Community{3: {ID: 3, Name: "ward-7", ClusterType: domain.ClusterSHG}},
		members:     map[int64]bool{1: true, 2: true},
	}
	graph := &stubGraphStore{}
	queue := jobs.NewMemoryQueue(8)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &handlerFixture{
		handlers: NewAPIHandlers(logger, scores, health, ledger, graph, queue),
		ledger:   ledger,
		graph:    graph,
		queue:    queue,
	}
}

func (f *handlerFixture) queuedJobs(t *testing.T) []jobs.Job {
	t.Helper()
	f.queue.Close()
	var out []jobs.Job
	for {
		job, err := f.queue.Dequeue(context.Background())
		if err != nil {
			return out
		}
		out = append(out, job)
	}
}

func TestHandleExplain(t *testing.T) {
	scores := &stubScores{result: scoring.Result{
		Score: 715,
		Breakdown: scoring.Breakdown{
			FinalScore: 715,
			ComputedAt: "2026-01-02T03:00:00Z",
		},
		Explanation: "Asha's trust score breakdown:",
	}}
	f := newFixture(scores, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/scoring/explain/1", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleExplain(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var payload explainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Score != 715 || payload.UserID != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.ComputedAt != "2026-01-02T03:00:00Z" {
		t.Fatalf("unexpected computedAt %s", payload.ComputedAt)
	}
}

func TestHandleExplainUnknownUser(t *testing.T) {
	f := newFixture(&stubScores{err: domain.ErrUserNotFound}, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/scoring/explain/404", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleExplain(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHandleComputeSelfOnly(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	// Missing identity header.
	req := httptest.NewRequest(http.MethodPost, "/scoring/compute/1", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleCompute(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}

	// Identity mismatch.
	req = httptest.NewRequest(http.MethodPost, "/scoring/compute/1", nil)
	req.Header.Set("X-User-ID", "2")
	rec = httptest.NewRecorder()
	f.handlers.handleCompute(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for someone else's score, got %d", rec.Code)
	}

	// Self-trigger queues a job.
	req = httptest.NewRequest(http.MethodPost, "/scoring/compute/1", nil)
	req.Header.Set("X-User-ID", "1")
	rec = httptest.NewRecorder()
	f.handlers.handleCompute(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload computeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != "queued" || payload.JobID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	queued := f.queuedJobs(t)
	if len(queued) != 1 || queued[0].UserID != 1 || queued[0].Kind != jobs.KindRecomputeScore {
		t.Fatalf("expected one recompute job for user 1, got %+v", queued)
	}
}

func TestHandleComputeUnknownUser(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	req := httptest.NewRequest(http.MethodPost, "/scoring/compute/99", nil)
	req.Header.Set("X-User-ID", "99")
	rec := httptest.NewRecorder()
	f.handlers.handleCompute(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if queued := f.queuedJobs(t); len(queued) != 0 {
		t.Fatalf("no job should be queued for an unknown user, got %+v", queued)
	}
}

func TestHandleCommunityHealth(t *testing.T) {
	health := &stubHealth{report: domain.HealthReport{
		CommunityID:       3,
		CommunityName:     "ward-7",
		Status:            domain.StatusGrowing,
		StatusColor:       "yellow",
		AverageTrustScore: 540,
	}}
	f := newFixture(&stubScores{}, health)

	req := httptest.NewRequest(http.MethodGet, "/communities/3/health", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload domain.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != domain.StatusGrowing || payload.StatusColor != "yellow" {
		t.Fatalf("unexpected report %+v", payload)
	}
	if payload.AtRiskMembers == nil {
		t.Fatal("at-risk list must serialize as an empty array, not null")
	}
}

func TestHandleCommunityHealthUnknown(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{err: domain.ErrCommunityNotFound})

	req := httptest.NewRequest(http.MethodGet, "/communities/404/health", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func postJSON(t *testing.T, target string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
}

func TestHandleVouchCreates(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	req := postJSON(t, "/communities/3/vouch", vouchRequest{VoucherID: 1, VoucheeID: 2, Weight: 2.5})
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.ledger.vouches) != 1 {
		t.Fatalf("expected 1 ledger vouch, got %d", len(f.ledger.vouches))
	}
	if len(f.graph.edges) != 1 || f.graph.edges[0].Weight != 2.5 {
		t.Fatalf("expected mirrored vouch edge, got %+v", f.graph.edges)
	}
	if len(f.ledger.audits) != 1 || f.ledger.audits[0].EventType != domain.EventVouchCreated {
		t.Fatalf("expected vouch audit entry, got %+v", f.ledger.audits)
	}
	queued := f.queuedJobs(t)
	if len(queued) != 1 || queued[0].UserID != 2 {
		t.Fatalf("expected recompute queued for vouchee, got %+v", queued)
	}
}

func TestHandleVouchRejectsSelfVouch(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	req := postJSON(t, "/communities/3/vouch", vouchRequest{VoucherID: 1, VoucheeID: 1})
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(f.ledger.vouches) != 0 {
		t.Fatal("self-vouch must not reach the ledger")
	}
}

func TestHandleVouchRequiresMembership(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})
	f.ledger.members[2] = false

	req := postJSON(t, "/communities/3/vouch", vouchRequest{VoucherID: 1, VoucheeID: 2})
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-member, got %d", rec.Code)
	}
}

func TestHandleVouchConflictWhenActiveVouchExists(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})
	f.ledger.vouchExists = true

	req := postJSON(t, "/communities/3/vouch", vouchRequest{VoucherID: 1, VoucheeID: 2})
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleJoinCommunity(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	req := postJSON(t, "/communities/3/join", joinRequest{UserID: 3})
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.ledger.memberships) != 1 || f.ledger.memberships[0].Role != domain.RoleMember {
		t.Fatalf("expected one member-role membership, got %+v", f.ledger.memberships)
	}
	if len(f.graph.membershipEdges) != 1 || f.graph.membershipEdges[0] != 3 {
		t.Fatalf("expected membership edge mirrored for user 3, got %v", f.graph.membershipEdges)
	}
	queued := f.queuedJobs(t)
	if len(queued) != 1 || queued[0].UserID != 3 {
		t.Fatalf("expected a recompute job for the new member, got %+v", queued)
	}
}

func TestHandleJoinCommunityDuplicate(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	// User 1 is already an active member.
	req := postJSON(t, "/communities/3/join", joinRequest{UserID: 1})
	rec := httptest.NewRecorder()
	f.handlers.handleCommunities(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate membership, got %d", rec.Code)
	}
}

func TestHandleTrustGraphClampsDepth(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})
	f.graph.trustGraph = domain.TrustGraph{
		Nodes: []domain.GraphNode{{ID: 1, Name: "Asha", Score: 700}},
		Edges: []domain.GraphEdge{{Source: 2, Target: 1, Weight: 1}},
	}

	req := httptest.NewRequest(http.MethodGet, "/users/1/trust-graph?depth=10", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleUsers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload trustGraphResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Depth != 3 {
		t.Fatalf("depth 10 should clamp to 3, got %d", payload.Depth)
	}
	if len(payload.Nodes) != 1 || len(payload.Edges) != 1 {
		t.Fatalf("unexpected graph payload %+v", payload)
	}
}

func TestHandleTrustGraphUnknownUser(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/users/99/trust-graph", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleUsers(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRepay(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})
	onTime := true
	f.ledger.repayment = domain.Repayment{ID: 7, LoanID: 5, Amount: 500, OnTime: &onTime}
	f.ledger.vouchers = []int64{2, 9}

	req := httptest.NewRequest(http.MethodPost, "/loans/5/repay", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleLoans(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload repayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !payload.OnTime || payload.RepaymentID != 7 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	if len(f.graph.increments) != 2 {
		t.Fatalf("expected counter bump per voucher, got %d", len(f.graph.increments))
	}
	for _, kind := range f.graph.increments {
		if kind != domain.OutcomeRepayment {
			t.Fatalf("expected repayment counter, got %s", kind)
		}
	}
	if len(f.ledger.audits) != 1 || f.ledger.audits[0].EventType != domain.EventRepaymentLogged {
		t.Fatalf("expected repayment audit entry, got %+v", f.ledger.audits)
	}
	queued := f.queuedJobs(t)
	if len(queued) != 1 || queued[0].UserID != 1 {
		t.Fatalf("expected recompute queued for borrower, got %+v", queued)
	}
}

func TestHandleRepayNoPendingInstallment(t *testing.T) {
	f := newFixture(&stubScores{}, &stubHealth{})
	f.ledger.repaymentErr = domain.ErrValidation

	req := httptest.NewRequest(http.MethodPost, "/loans/5/repay", nil)
	rec := httptest.NewRecorder()
	f.handlers.handleLoans(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRouterHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, RouterDependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
