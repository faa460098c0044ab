package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-billing-api/internal/models"
)

const paymentOrderColumns = "id, enrollment_id, course_id, student_id, amount, currency, month_count, status, gateway_token, redirect_url, payment_id, paid_at, created_at, updated_at"

// PaymentOrderRepository persists gateway checkouts.
type PaymentOrderRepository struct {
	db *sqlx.DB
}

// NewPaymentOrderRepository constructs the repository.
func NewPaymentOrderRepository(db *sqlx.DB) *PaymentOrderRepository {
	return &PaymentOrderRepository{db: db}
}

// Create stores a new order.
func (r *PaymentOrderRepository) Create(ctx context.Context, order *models.PaymentOrder) error {
	const query = `INSERT INTO payment_orders (id, enrollment_id, course_id, student_id, amount, currency, month_count, status, gateway_token, redirect_url, created_at, updated_at)
        VALUES (:id, :enrollment_id, :course_id, :student_id, :amount, :currency, :month_count, :status, :gateway_token, :redirect_url, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, order); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create payment order: %w", err)
	}
	return nil
}

// FindByID returns an order by its ID.
func (r *PaymentOrderRepository) FindByID(ctx context.Context, id string) (*models.PaymentOrder, error) {
	query := fmt.Sprintf("SELECT %s FROM payment_orders WHERE id = $1", paymentOrderColumns)
	var order models.PaymentOrder
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPaid moves a CREATED order to PAID. It reports false when the order had
// already left the CREATED state.
func (r *PaymentOrderRepository) MarkPaid(ctx context.Context, id, paymentID string, at time.Time) (bool, error) {
	const query = `UPDATE payment_orders SET status = $2, payment_id = $3, paid_at = $4, updated_at = $4
        WHERE id = $1 AND status = $5`
	return r.transition(ctx, query, id, models.OrderStatusPaid, paymentID, at, models.OrderStatusCreated)
}

// MarkFailed moves a CREATED order to FAILED.
func (r *PaymentOrderRepository) MarkFailed(ctx context.Context, id string, at time.Time) (bool, error) {
	const query = `UPDATE payment_orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	return r.transition(ctx, query, id, models.OrderStatusFailed, at, models.OrderStatusCreated)
}

func (r *PaymentOrderRepository) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update payment order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update payment order rows: %w", err)
	}
	return affected > 0, nil
}
