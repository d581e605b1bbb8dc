package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManaviP/ai-credit-network/internal/config"
	"github.com/ManaviP/ai-credit-network/internal/domain"
)

// RepaymentGraceDays is the fixed grace period applied when an installment is
// paid: paid_date within due_date + grace counts as on time.
const RepaymentGraceDays = 3

// Store wraps the transactional ledger. It is the durable source of truth for
// loans, repayments, memberships and score snapshots; the graph only mirrors
// derived score data.
type Store struct {
	db *gorm.DB
}

// Open connects to the ledger database and migrates the schema.
func Open(cfg config.LedgerConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("ledger DSN is required")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing gorm handle (tests use an in-memory sqlite one)
// and migrates the schema.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.Community{},
		&domain.CommunityMembership{},
		&domain.LoanApplication{},
		&domain.Repayment{},
		&domain.VouchRelationship{},
		&domain.TrustScore{},
		&domain.AuditLog{},
	); err != nil {
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping verifies ledger connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.WithContext(ctx).DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, fmt.Errorf("user %d: %w", userID, domain.ErrUserNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return user, nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	if user.JoinedAt.IsZero() {
		user.JoinedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetCommunity fetches a community by id.
func (s *Store) GetCommunity(ctx context.Context, communityID int64) (domain.Community, error) {
	var community domain.Community
	err := s.db.WithContext(ctx).First(&community, communityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Community{}, fmt.Errorf("community %d: %w", communityID, domain.ErrCommunityNotFound)
	}
	if err != nil {
		return domain.Community{}, fmt.Errorf("get community %d: %w", communityID, err)
	}
	return community, nil
}

// CreateCommunity inserts a community row.
func (s *Store) CreateCommunity(ctx context.Context, community *domain.Community) error {
	if err := s.db.WithContext(ctx).Create(community).Error; err != nil {
		return fmt.Errorf("create community: %w", err)
	}
	return nil
}

// ListCommunities returns every community, id-ordered. The nightly sweep
// iterates this list.
func (s *Store) ListCommunities(ctx context.Context) ([]domain.Community, error) {
	var communities []domain.Community
	if err := s.db.WithContext(ctx).Order("id").Find(&communities).Error; err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	return communities, nil
}

// AddMembership creates an active membership. A second active membership for
// the same (user, community) pair is a validation failure.
func (s *Store) AddMembership(ctx context.Context, m *domain.CommunityMembership) error {
	var existing int64
	err := s.db.WithContext(ctx).Model(&domain.CommunityMembership{}).
		Where("user_id = ? AND community_id = ? AND is_active = ?", m.UserID, m.CommunityID, true).
		Count(&existing).Error
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: user %d already a member of community %d", domain.ErrValidation, m.UserID, m.CommunityID)
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	m.IsActive = true
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return nil
}

// ActiveMemberships returns a community's active memberships.
func (s *Store) ActiveMemberships(ctx context.Context, communityID int64) ([]domain.CommunityMembership, error) {
	var memberships []domain.CommunityMembership
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND is_active = ?", communityID, true).
		Order("joined_at").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("active memberships of community %d: %w", communityID, err)
	}
	return memberships, nil
}

// HasActiveMembership reports whether the user is currently in the community.
func (s *Store) HasActiveMembership(ctx context.Context, userID, communityID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.CommunityMembership{}).
		Where("user_id = ? AND community_id = ? AND is_active = ?", userID, communityID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return count > 0, nil
}

// EarliestActiveMembershipJoin returns the join date of the user's oldest
// active membership, or nil when the user belongs to no community.
func (s *Store) EarliestActiveMembershipJoin(ctx context.Context, userID int64) (*time.Time, error) {
	var m domain.CommunityMembership
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("joined_at").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("earliest membership of user %d: %w", userID, err)
	}
	joined := m.JoinedAt
	return &joined, nil
}

// CreateLoan inserts a loan application.
func (s *Store) CreateLoan(ctx context.Context, loan *domain.LoanApplication) error {
	if loan.AppliedAt.IsZero() {
		loan.AppliedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(loan).Error; err != nil {
		return fmt.Errorf("create loan: %w", err)
	}
	return nil
}

// GetLoan fetches a loan by id.
func (s *Store) GetLoan(ctx context.Context, loanID int64) (domain.LoanApplication, error) {
	var loan domain.LoanApplication
	err := s.db.WithContext(ctx).First(&loan, loanID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.LoanApplication{}, fmt.Errorf("loan %d: %w", loanID, domain.ErrLoanNotFound)
	}
	if err != nil {
		return domain.LoanApplication{}, fmt.Errorf("get loan %d: %w", loanID, err)
	}
	return loan, nil
}

// CreateRepayment inserts a pending installment.
func (s *Store) CreateRepayment(ctx context.Context, r *domain.Repayment) error {
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create repayment: %w", err)
	}
	return nil
}

// MarkNextRepaymentPaid settles the loan's earliest unpaid installment,
// assigning on_time exactly once by comparing the paid date against the due
// date plus the fixed grace period.
func (s *Store) MarkNextRepaymentPaid(ctx context.Context, loanID int64, paidAt time.Time) (domain.Repayment, error) {
	var repayment domain.Repayment
	err := s.db.WithContext(ctx).
		Where("loan_id = ? AND paid_date IS NULL", loanID).
		Order("due_date").
		First(&repayment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Repayment{}, fmt.Errorf("%w: loan %d has no pending repayments", domain.ErrValidation, loanID)
	}
	if err != nil {
		return domain.Repayment{}, fmt.Errorf("next pending repayment of loan %d: %w", loanID, err)
	}

	paidAt = paidAt.UTC()
	onTime := !paidAt.After(repayment.DueDate.AddDate(0, 0, RepaymentGraceDays))
	repayment.PaidDate = &paidAt
	repayment.OnTime = &onTime

	err = s.db.WithContext(ctx).Model(&domain.Repayment{}).
		Where("id = ?", repayment.ID).
		Updates(map[string]any{"paid_date": paidAt, "on_time": onTime}).Error
	if err != nil {
		return domain.Repayment{}, fmt.Errorf("mark repayment %d paid: %w", repayment.ID, err)
	}
	return repayment, nil
}

// PaidRepaymentsByBorrower returns every settled installment across the
// borrower's loans.
func (s *Store) PaidRepaymentsByBorrower(ctx context.Context, userID int64) ([]domain.Repayment, error) {
	var repayments []domain.Repayment
	err := s.db.WithContext(ctx).
		Joins("JOIN loan_applications ON loan_applications.id = repayments.loan_id").
		Where("loan_applications.borrower_id = ? AND repayments.paid_date IS NOT NULL", userID).
		Find(&repayments).Error
	if err != nil {
		return nil, fmt.Errorf("paid repayments of user %d: %w", userID, err)
	}
	return repayments, nil
}

// TotalRepaidLoanAmount sums the approved amounts of the borrower's fully
// repaid loans.
func (s *Store) TotalRepaidLoanAmount(ctx context.Context, userID int64) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&domain.LoanApplication{}).
		Select("COALESCE(SUM(amount_approved), 0)").
		Where("borrower_id = ? AND status = ?", userID, domain.LoanRepaid).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("repaid loan volume of user %d: %w", userID, err)
	}
	return total, nil
}

// RepaymentsPaidSince returns installments paid on or after the cutoff across
// the given members' loans.
func (s *Store) RepaymentsPaidSince(ctx context.Context, memberIDs []int64, since time.Time) ([]domain.Repayment, error) {
	if len(memberIDs) == 0 {
		return nil, nil
	}
	var repayments []domain.Repayment
	err := s.db.WithContext(ctx).
		Joins("JOIN loan_applications ON loan_applications.id = repayments.loan_id").
		Where("loan_applications.borrower_id IN ? AND repayments.paid_date IS NOT NULL AND repayments.paid_date >= ?", memberIDs, since).
		Find(&repayments).Error
	if err != nil {
		return nil, fmt.Errorf("recent repayments: %w", err)
	}
	return repayments, nil
}

// CountActiveBorrowers counts distinct members with a loan currently in
// approved or disbursed state within the community.
func (s *Store) CountActiveBorrowers(ctx context.Context, communityID int64) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.LoanApplication{}).
		Distinct("borrower_id").
		Where("community_id = ? AND status IN ?", communityID, []domain.LoanStatus{domain.LoanApproved, domain.LoanDisbursed}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("active borrowers of community %d: %w", communityID, err)
	}
	return int(count), nil
}

// TotalDisbursed sums approved amounts of disbursed or repaid loans in the
// community.
func (s *Store) TotalDisbursed(ctx context.Context, communityID int64) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&domain.LoanApplication{}).
		Select("COALESCE(SUM(amount_approved), 0)").
		Where("community_id = ? AND status IN ?", communityID, []domain.LoanStatus{domain.LoanDisbursed, domain.LoanRepaid}).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("total disbursed of community %d: %w", communityID, err)
	}
	return total, nil
}

// TotalRepaid sums settled installment amounts across the community's loans.
func (s *Store) TotalRepaid(ctx context.Context, communityID int64) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&domain.Repayment{}).
		Select("COALESCE(SUM(repayments.amount), 0)").
		Joins("JOIN loan_applications ON loan_applications.id = repayments.loan_id").
		Where("loan_applications.community_id = ? AND repayments.paid_date IS NOT NULL", communityID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("total repaid of community %d: %w", communityID, err)
	}
	return total, nil
}

// AppendTrustScore appends an immutable score snapshot. Existing rows are
// never updated.
func (s *Store) AppendTrustScore(ctx context.Context, score *domain.TrustScore) error {
	if score.ComputedAt.IsZero() {
		score.ComputedAt = time.Now().UTC()
	}
	if score.ScoreType == "" {
		score.ScoreType = domain.ScoreRuleBased
	}
	if err := s.db.WithContext(ctx).Create(score).Error; err != nil {
		return fmt.Errorf("append trust score: %w", err)
	}
	return nil
}

// LatestTrustScore resolves the user's current score: the maximum snapshot by
// computed_at, with id as a tiebreak for snapshots landing in the same
// instant. Returns nil when the user has no history.
func (s *Store) LatestTrustScore(ctx context.Context, userID int64) (*domain.TrustScore, error) {
	var score domain.TrustScore
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("computed_at DESC, id DESC").
		First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest score of user %d: %w", userID, err)
	}
	return &score, nil
}

// TrustScoreAtOrBefore returns the most recent snapshot whose computed_at is
// at or before the cutoff, or nil if no such history exists. Absence of
// history is not a signal; at-risk detection skips such members.
func (s *Store) TrustScoreAtOrBefore(ctx context.Context, userID int64, cutoff time.Time) (*domain.TrustScore, error) {
	var score domain.TrustScore
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND computed_at <= ?", userID, cutoff).
		Order("computed_at DESC, id DESC").
		First(&score).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("score of user %d before %s: %w", userID, cutoff.Format(time.RFC3339), err)
	}
	return &score, nil
}

// AverageLatestScore averages the current snapshot of each listed member.
// Members without any snapshot contribute nothing to the average.
func (s *Store) AverageLatestScore(ctx context.Context, memberIDs []int64) (float64, error) {
	if len(memberIDs) == 0 {
		return 0, nil
	}
	var avg sql.NullFloat64
	err := s.db.WithContext(ctx).Raw(`
		SELECT AVG(t.score)
		FROM trust_scores t
		JOIN (
			SELECT user_id, MAX(computed_at) AS latest
			FROM trust_scores
			WHERE user_id IN ?
			GROUP BY user_id
		) x ON t.user_id = x.user_id AND t.computed_at = x.latest`, memberIDs).
		Scan(&avg).Error
	if err != nil {
		return 0, fmt.Errorf("average latest score: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// ActiveVouchersOf lists users holding an active ledger vouch toward the
// given user.
func (s *Store) ActiveVouchersOf(ctx context.Context, voucheeID int64) ([]int64, error) {
	var voucherIDs []int64
	err := s.db.WithContext(ctx).Model(&domain.VouchRelationship{}).
		Where("vouchee_id = ? AND active = ?", voucheeID, true).
		Pluck("voucher_id", &voucherIDs).Error
	if err != nil {
		return nil, fmt.Errorf("vouchers of user %d: %w", voucheeID, err)
	}
	return voucherIDs, nil
}

// ActiveVouchExists reports whether an active vouch already links the pair.
func (s *Store) ActiveVouchExists(ctx context.Context, voucherID, voucheeID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.VouchRelationship{}).
		Where("voucher_id = ? AND vouchee_id = ? AND active = ?", voucherID, voucheeID, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check vouch: %w", err)
	}
	return count > 0, nil
}

// CreateVouch inserts the ledger row for a new vouch.
func (s *Store) CreateVouch(ctx context.Context, v *domain.VouchRelationship) error {
	if v.Weight == 0 {
		v.Weight = 1.0
	}
	v.Active = true
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("create vouch: %w", err)
	}
	return nil
}

// AppendAuditLog records a score-relevant event for compliance review.
func (s *Store) AppendAuditLog(ctx context.Context, entry *domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
