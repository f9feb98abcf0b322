package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func randomUUID() string {
	return uuid.NewString()
}

// -- Payments --

func (s *pgStore) GetPaymentByProviderRef(ctx context.Context, ref string) (*Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_ref = $1`
	p, err := scanPayment(s.q.QueryRow(ctx, q, ref))
	if err != nil {
		return nil, pgErr("get payment by provider ref", err)
	}
	return p, nil
}

// InsertPayment creates a new payment record.
func (s *pgStore) InsertPayment(ctx context.Context, payment Payment) (*Payment, error) {
	if payment.ID == "" {
		payment.ID = randomUUID()
	}
	const q = `
INSERT INTO payments (id, profile_id, kind, method, amount, currency, provider_ref, status, paid_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at;
`
	err := s.q.QueryRow(ctx, q,
		payment.ID,
		payment.ProfileID,
		string(payment.Kind),
		payment.Method,
		payment.Amount,
		payment.Currency,
		payment.ProviderRef,
		string(payment.Status),
		payment.PaidAt,
	).Scan(&payment.CreatedAt)
	if err != nil {
		return nil, pgErr("insert payment", err)
	}
	return &payment, nil
}

func (s *pgStore) MarkPaymentStatus(ctx context.Context, id string, status PaymentStatus, paidAt *time.Time) error {
	const q = `UPDATE payments SET status = $2, paid_at = COALESCE($3, paid_at) WHERE id = $1`
	ct, err := s.q.Exec(ctx, q, id, string(status), paidAt)
	if err != nil {
		return pgErr("mark payment status", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Complaints --

func (s *pgStore) InsertComplaint(ctx context.Context, complaint Complaint) (*Complaint, error) {
	if complaint.ID == "" {
		complaint.ID = randomUUID()
	}
	const q = `
INSERT INTO complaints (id, reporter_id, target_id, reason, comment)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;
`
	err := s.q.QueryRow(ctx, q,
		complaint.ID,
		complaint.ReporterID,
		complaint.TargetID,
		string(complaint.Reason),
		complaint.Comment,
	).Scan(&complaint.CreatedAt)
	if err != nil {
		return nil, pgErr("insert complaint", err)
	}
	return &complaint, nil
}

func (s *pgStore) CountComplaints(ctx context.Context, targetID int64) (int, error) {
	const q = `SELECT COUNT(*) FROM complaints WHERE target_id = $1`
	var n int
	if err := s.q.QueryRow(ctx, q, targetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count complaints: %w", err)
	}
	return n, nil
}
