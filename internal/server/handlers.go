package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManaviP/ai-credit-network/internal/domain"
	"github.com/ManaviP/ai-credit-network/internal/jobs"
	"github.com/ManaviP/ai-credit-network/internal/repository"
	"github.com/ManaviP/ai-credit-network/internal/scoring"
)

// ScoreService serves the synchronous score-breakdown read.
type ScoreService interface {
	Explain(ctx context.Context, userID int64) (scoring.Result, error)
}

// HealthReporter builds community health reports.
type HealthReporter interface {
	ComputeHealth(ctx context.Context, communityID int64) (domain.HealthReport, error)
}

// LedgerStore is the slice of the transactional store the handlers need.
type LedgerStore interface {
	GetUser(ctx context.Context, userID int64) (domain.User, error)
	GetLoan(ctx context.Context, loanID int64) (domain.LoanApplication, error)
	GetCommunity(ctx context.Context, communityID int64) (domain.Community, error)
	AddMembership(ctx context.Context, m *domain.CommunityMembership) error
	HasActiveMembership(ctx context.Context, userID, communityID int64) (bool, error)
	ActiveVouchExists(ctx context.Context, voucherID, voucheeID int64) (bool, error)
	CreateVouch(ctx context.Context, v *domain.VouchRelationship) error
	ActiveVouchersOf(ctx context.Context, voucheeID int64) ([]int64, error)
	MarkNextRepaymentPaid(ctx context.Context, loanID int64, paidAt time.Time) (domain.Repayment, error)
	AppendAuditLog(ctx context.Context, entry *domain.AuditLog) error
}

// GraphStore is the slice of the graph adapter the handlers need.
type GraphStore interface {
	UpsertMembershipEdge(ctx context.Context, userID, communityID int64, role domain.MemberRole) error
	UpsertVouchEdge(ctx context.Context, voucherID, voucheeID int64, weight float64) error
	IncrementVouchCounter(ctx context.Context, voucherID, voucheeID int64, kind domain.VouchOutcome) error
	TraverseTrustGraph(ctx context.Context, userID int64, depth int) (domain.TrustGraph, error)
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger *slog.Logger
	scores ScoreService
	health HealthReporter
	ledger LedgerStore
	graph  GraphStore
	queue  jobs.Queue
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, scores ScoreService, health HealthReporter, ledger LedgerStore, graph GraphStore, queue jobs.Queue) *APIHandlers {
	return &APIHandlers{
		logger: logger,
		scores: scores,
		health: health,
		ledger: ledger,
		graph:  graph,
		queue:  queue,
	}
}

// handleExplain serves GET /scoring/explain/{userId}.
func (h *APIHandlers) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	userID, ok := pathID(w, r.URL.Path, "/scoring/explain/")
	if !ok {
		return
	}

	result, err := h.scores.Explain(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to explain score")
		return
	}

	breakdown, err := json.Marshal(result.Breakdown)
	if err != nil {
		h.logger.Error("failed to encode breakdown", "error", err, "userId", userID)
		writeError(w, http.StatusInternalServerError, "failed to explain score")
		return
	}

	respondJSON(w, http.StatusOK, explainResponse{
		UserID:      userID,
		Score:       result.Score,
		Breakdown:   breakdown,
		Explanation: result.Explanation,
		ComputedAt:  result.Breakdown.ComputedAt,
	})
}

// handleCompute serves POST /scoring/compute/{userId}. Users can trigger a
// recompute only for themselves: the caller identity in X-User-ID must match
// the path. The recompute itself is asynchronous.
func (h *APIHandlers) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	userID, ok := pathID(w, r.URL.Path, "/scoring/compute/")
	if !ok {
		return
	}

	caller := r.Header.Get("X-User-ID")
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return
	}
	callerID, err := strconv.ParseInt(caller, 10, 64)
	if err != nil || callerID != userID {
		writeError(w, http.StatusForbidden, "can only trigger recomputation of your own score")
		return
	}

	if _, err := h.ledger.GetUser(r.Context(), userID); err != nil {
		h.writeDomainError(w, r, err, "failed to load user")
		return
	}

	job := jobs.NewRecomputeJob(userID)
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.logger.Error("failed to enqueue recompute", "error", err, "userId", userID)
		writeError(w, http.StatusInternalServerError, "failed to queue recomputation")
		return
	}

	respondJSON(w, http.StatusAccepted, computeResponse{
		Status: "queued",
		JobID:  job.ID,
		UserID: userID,
	})
}

// handleCommunities dispatches /communities/{id}/health and
// /communities/{id}/vouch.
func (h *APIHandlers) handleCommunities(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/communities/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	communityID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "community ID must be numeric")
		return
	}

	switch parts[1] {
	case "health":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.communityHealth(w, r, communityID)
	case "vouch":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.createVouch(w, r, communityID)
	case "join":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.joinCommunity(w, r, communityID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *APIHandlers) communityHealth(w http.ResponseWriter, r *http.Request, communityID int64) {
	report, err := h.health.ComputeHealth(r.Context(), communityID)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to compute community health")
		return
	}
	if report.AtRiskMembers == nil {
		report.AtRiskMembers = []domain.AtRiskMember{}
	}
	respondJSON(w, http.StatusOK, report)
}

// createVouch records a vouch inside a community: ledger row first, then the
// graph edge, then an async recompute of the vouchee's score.
func (h *APIHandlers) createVouch(w http.ResponseWriter, r *http.Request, communityID int64) {
	var payload vouchRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.VoucherID == 0 || payload.VoucheeID == 0 {
		writeError(w, http.StatusBadRequest, "voucherId and voucheeId are required")
		return
	}
	if payload.VoucherID == payload.VoucheeID {
		writeError(w, http.StatusBadRequest, "cannot vouch for yourself")
		return
	}
	weight := payload.Weight
	if weight == 0 {
		weight = 1.0
	}
	if weight < 0 || weight > 100 {
		writeError(w, http.StatusBadRequest, "weight must be in (0, 100]")
		return
	}

	ctx := r.Context()
	for _, userID := range []int64{payload.VoucherID, payload.VoucheeID} {
		member, err := h.ledger.HasActiveMembership(ctx, userID, communityID)
		if err != nil {
			h.writeDomainError(w, r, err, "failed to check membership")
			return
		}
		if !member {
			writeError(w, http.StatusBadRequest, "both users must be active members of the community")
			return
		}
	}

	exists, err := h.ledger.ActiveVouchExists(ctx, payload.VoucherID, payload.VoucheeID)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to check existing vouch")
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "an active vouch already exists between these users")
		return
	}

	vouch := domain.VouchRelationship{
		VoucherID: payload.VoucherID,
		VoucheeID: payload.VoucheeID,
		Weight:    weight,
	}
	if err := h.ledger.CreateVouch(ctx, &vouch); err != nil {
		h.writeDomainError(w, r, err, "failed to create vouch")
		return
	}

	if err := h.graph.UpsertVouchEdge(ctx, vouch.VoucherID, vouch.VoucheeID, vouch.Weight); err != nil {
		h.logger.Warn("vouch edge mirror failed",
			"voucherId", vouch.VoucherID, "voucheeId", vouch.VoucheeID, "error", err)
	}

	auditPayload, _ := json.Marshal(map[string]any{
		"voucher_id":   vouch.VoucherID,
		"vouchee_id":   vouch.VoucheeID,
		"community_id": communityID,
		"weight":       vouch.Weight,
	})
	if err := h.ledger.AppendAuditLog(ctx, &domain.AuditLog{
		UserID:    vouch.VoucheeID,
		EventType: domain.EventVouchCreated,
		EntityID:  vouch.ID,
		Payload:   auditPayload,
	}); err != nil {
		h.logger.Warn("audit append failed", "error", err)
	}

	// A new vouch changes the vouchee's score inputs.
	if err := h.queue.Enqueue(ctx, jobs.NewRecomputeJob(vouch.VoucheeID)); err != nil {
		h.logger.Warn("failed to queue vouchee recompute", "error", err, "userId", vouch.VoucheeID)
	}

	respondJSON(w, http.StatusCreated, vouchResponse{
		Status:    "ok",
		VouchID:   vouch.ID,
		VoucherID: vouch.VoucherID,
		VoucheeID: vouch.VoucheeID,
	})
}

// joinCommunity adds a user to a community and mirrors the membership onto
// the graph.
func (h *APIHandlers) joinCommunity(w http.ResponseWriter, r *http.Request, communityID int64) {
	var payload joinRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.UserID == 0 {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	role := domain.MemberRole(payload.Role)
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleMember && role != domain.RoleAnchor {
		writeError(w, http.StatusBadRequest, "role must be member or anchor")
		return
	}

	ctx := r.Context()
	user, err := h.ledger.GetUser(ctx, payload.UserID)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to load user")
		return
	}
	if _, err := h.ledger.GetCommunity(ctx, communityID); err != nil {
		h.writeDomainError(w, r, err, "failed to load community")
		return
	}

	membership := domain.CommunityMembership{
		UserID:          payload.UserID,
		CommunityID:     communityID,
		Role:            role,
		VouchedByUserID: payload.VouchedByUserID,
	}
	if err := h.ledger.AddMembership(ctx, &membership); err != nil {
		h.writeDomainError(w, r, err, "failed to create membership")
		return
	}

	if err := h.graph.UpsertMembershipEdge(ctx, user.ID, communityID, role); err != nil {
		h.logger.Warn("membership edge mirror failed",
			"userId", user.ID, "communityId", communityID, "error", err)
	}

	// Joining is a scoring input change: new members get a first snapshot
	// (cold start for brand-new users) and a mirrored score via the worker.
	if err := h.queue.Enqueue(ctx, jobs.NewRecomputeJob(user.ID)); err != nil {
		h.logger.Warn("failed to queue member recompute", "error", err, "userId", user.ID)
	}

	respondJSON(w, http.StatusCreated, joinResponse{
		Status:       "ok",
		MembershipID: membership.ID,
		UserID:       user.ID,
		CommunityID:  communityID,
		Role:         string(role),
	})
}

// handleUsers serves GET /users/{id}/trust-graph.
func (h *APIHandlers) handleUsers(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "trust-graph" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user ID must be numeric")
		return
	}

	depth := parseInt(r.URL.Query().Get("depth"), 2)
	depth = repository.ClampDepth(depth)

	if _, err := h.ledger.GetUser(r.Context(), userID); err != nil {
		h.writeDomainError(w, r, err, "failed to load user")
		return
	}

	graphView, err := h.graph.TraverseTrustGraph(r.Context(), userID, depth)
	if err != nil {
		h.logger.Error("trust graph traversal failed", "error", err, "userId", userID)
		writeError(w, http.StatusInternalServerError, "failed to traverse trust graph")
		return
	}
	if graphView.Nodes == nil {
		graphView.Nodes = []domain.GraphNode{}
	}
	if graphView.Edges == nil {
		graphView.Edges = []domain.GraphEdge{}
	}

	respondJSON(w, http.StatusOK, trustGraphResponse{
		UserID: userID,
		Depth:  depth,
		Nodes:  graphView.Nodes,
		Edges:  graphView.Edges,
	})
}

// handleLoans serves POST /loans/{id}/repay: settles the next pending
// installment, bumps the repayment counters on the borrower's vouch edges and
// queues a score recompute.
func (h *APIHandlers) handleLoans(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/loans/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "repay" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	loanID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "loan ID must be numeric")
		return
	}

	// The body is optional; an empty POST settles at the current time.
	var payload repayRequest
	if err := decodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paidAt := time.Now().UTC()
	if payload.PaidDate != "" {
		ts, err := time.Parse(time.RFC3339, payload.PaidDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid paidDate")
			return
		}
		paidAt = ts
	}

	ctx := r.Context()
	loan, err := h.ledger.GetLoan(ctx, loanID)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to load loan")
		return
	}

	repayment, err := h.ledger.MarkNextRepaymentPaid(ctx, loanID, paidAt)
	if err != nil {
		h.writeDomainError(w, r, err, "failed to record repayment")
		return
	}

	// Every active voucher gets credit for the borrower's repayment.
	vouchers, err := h.ledger.ActiveVouchersOf(ctx, loan.BorrowerID)
	if err != nil {
		h.logger.Warn("failed to load vouchers for counter update", "error", err, "userId", loan.BorrowerID)
	}
	for _, voucherID := range vouchers {
		if err := h.graph.IncrementVouchCounter(ctx, voucherID, loan.BorrowerID, domain.OutcomeRepayment); err != nil {
			h.logger.Warn("vouch counter update failed",
				"voucherId", voucherID, "voucheeId", loan.BorrowerID, "error", err)
		}
	}

	auditPayload, _ := json.Marshal(map[string]any{
		"loan_id":      loanID,
		"repayment_id": repayment.ID,
		"amount":       repayment.Amount,
		"on_time":      repayment.OnTime,
	})
	if err := h.ledger.AppendAuditLog(ctx, &domain.AuditLog{
		UserID:    loan.BorrowerID,
		EventType: domain.EventRepaymentLogged,
		EntityID:  repayment.ID,
		Payload:   auditPayload,
	}); err != nil {
		h.logger.Warn("audit append failed", "error", err)
	}

	if err := h.queue.Enqueue(ctx, jobs.NewRecomputeJob(loan.BorrowerID)); err != nil {
		h.logger.Warn("failed to queue borrower recompute", "error", err, "userId", loan.BorrowerID)
	}

	onTime := repayment.OnTime != nil && *repayment.OnTime
	respondJSON(w, http.StatusOK, repayResponse{
		Status:      "ok",
		RepaymentID: repayment.ID,
		LoanID:      loanID,
		OnTime:      onTime,
		PaidDate:    formatTime(paidAt),
	})
}

// writeDomainError maps store errors onto HTTP statuses: sentinel not-found
// errors become 404, validation failures 400, anything else 500.
func (h *APIHandlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrCommunityNotFound),
		errors.Is(err, domain.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(fallback, "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// pathID extracts the trailing numeric id after the prefix, writing the
// client error itself on failure.
func pathID(w http.ResponseWriter, path, prefix string) (int64, bool) {
	raw := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "user ID is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "user ID must be numeric")
		return 0, false
	}
	return id, true
}

// --- Request & Response DTOs ---

type explainResponse struct {
	UserID      int64           `json:"userId"`
	Score       float64         `json:"score"`
	Breakdown   json.RawMessage `json:"breakdown"`
	Explanation string          `json:"explanation"`
	ComputedAt  string          `json:"computedAt"`
}

type computeResponse struct {
	Status string `json:"status"`
	JobID  string `json:"jobId"`
	UserID int64  `json:"userId"`
}

type vouchRequest struct {
	VoucherID int64   `json:"voucherId"`
	VoucheeID int64   `json:"voucheeId"`
	Weight    float64 `json:"weight"`
}

type vouchResponse struct {
	Status    string `json:"status"`
	VouchID   int64  `json:"vouchId"`
	VoucherID int64  `json:"voucherId"`
	VoucheeID int64  `json:"voucheeId"`
}

type joinRequest struct {
	UserID          int64  `json:"userId"`
	Role            string `json:"role"`
	VouchedByUserID *int64 `json:"vouchedByUserId"`
}

type joinResponse struct {
	Status       string `json:"status"`
	MembershipID int64  `json:"membershipId"`
	UserID       int64  `json:"userId"`
	CommunityID  int64  `json:"communityId"`
	Role         string `json:"role"`
}

type trustGraphResponse struct {
	UserID int64              `json:"userId"`
	Depth  int                `json:"depth"`
	Nodes  []domain.GraphNode `json:"nodes"`
	Edges  []domain.GraphEdge `json:"edges"`
}

type repayRequest struct {
	PaidDate string `json:"paidDate"`
}

type repayResponse struct {
	Status      string `json:"status"`
	RepaymentID int64  `json:"repaymentId"`
	LoanID      int64  `json:"loanId"`
	OnTime      bool   `json:"onTime"`
	PaidDate    string `json:"paidDate"`
}

// --- Helpers ---

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
