package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"livekitchen/internal/domain"
)

type PaymentsPG struct {
	db *pgxpool.Pool
}

func NewPaymentsPG(db *pgxpool.Pool) *PaymentsPG { return &PaymentsPG{db: db} }

func (r *PaymentsPG) GetByOrderID(ctx context.Context, orderID string) (domain.PaymentRecord, error) {
	var p domain.PaymentRecord
	err := r.db.QueryRow(ctx, `
		SELECT order_id, amount, currency, source_token, destination_account, charge_id, refund_id, paid
		FROM payments WHERE order_id=$1
	`, orderID).Scan(&p.OrderID, &p.Amount, &p.Currency, &p.SourceToken, &p.DestinationAccount, &p.ChargeID, &p.RefundID, &p.Paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentRecord{}, fmt.Errorf("payment for order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PaymentRecord{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (r *PaymentsPG) MarkCaptured(ctx context.Context, orderID, chargeID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET charge_id=$2, paid=true
		WHERE order_id=$1 AND charge_id=''
	`, orderID, chargeID)
	if err != nil {
		return fmt.Errorf("mark captured: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment for order %s not capturable: %w", orderID, domain.ErrPrecondition)
	}
	return nil
}

func (r *PaymentsPG) MarkRefunded(ctx context.Context, orderID, refundID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET refund_id=$2
		WHERE order_id=$1 AND paid=true AND refund_id=''
	`, orderID, refundID)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment for order %s not refundable: %w", orderID, domain.ErrPrecondition)
	}
	return nil
}
