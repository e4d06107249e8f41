package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/liamcoop/creditapproval/credit"
)

// PostgresStore persists decisions to the credit_decisions table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Write inserts one decision row
func (s *PostgresStore) Write(ctx context.Context, d credit.Decision) error {
	a, p := d.Applicant, d.Prediction
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_decisions (
			id, model_id,
			age, income, credit_score, loan_amount, employment_years, existing_debts,
			approved, approval_probability, risk_level,
			latency_us, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, d.ID, d.ModelID,
		a.Age, a.Income, a.CreditScore, a.LoanAmount, a.EmploymentYears, a.ExistingDebts,
		p.Approved, p.ApprovalProbability, string(p.RiskLevel),
		d.Latency.Microseconds(), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

const selectDecision = `
	SELECT id, model_id,
		age, income, credit_score, loan_amount, employment_years, existing_debts,
		approved, approval_probability, risk_level,
		latency_us, created_at
	FROM credit_decisions`

// Get retrieves a decision by id
func (s *PostgresStore) Get(ctx context.Context, id string) (*credit.Decision, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	d, err := scanDecision(s.db.QueryRowContext(ctx, selectDecision+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// Recent returns the newest decisions first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]credit.Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectDecision+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []credit.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*credit.Decision, error) {
	var (
		d         credit.Decision
		risk      string
		latencyUS int64
	)
	err := row.Scan(
		&d.ID, &d.ModelID,
		&d.Applicant.Age, &d.Applicant.Income, &d.Applicant.CreditScore,
		&d.Applicant.LoanAmount, &d.Applicant.EmploymentYears, &d.Applicant.ExistingDebts,
		&d.Prediction.Approved, &d.Prediction.ApprovalProbability, &risk,
		&latencyUS, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Prediction.RiskLevel, err = credit.ParseRiskLevel(risk)
	if err != nil {
		return nil, err
	}
	d.Latency = time.Duration(latencyUS) * time.Microsecond
	return &d, nil
}
