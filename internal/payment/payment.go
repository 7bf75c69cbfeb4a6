package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrPermanent marks a provider answer that will not change on retry
// (unknown charge, already refunded, bad credentials).
var ErrPermanent = errors.New("permanent payment provider failure")

var ErrNotConfigured = errors.New("no payment provider configured")

type RefundRequest struct {
	OrderID          uuid.UUID
	PaymentReference string
	Amount           decimal.Decimal
	Currency         string
	IdempotencyKey   string
}

type RefundResult struct {
	ID     string
	Amount decimal.Decimal
}

// Gateway issues refunds against the provider that took the payment.
type Gateway interface {
	Name() string
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// IdempotencyKey is stable per order, so a replayed refund is a no-op on the
// provider side.
func IdempotencyKey(orderID uuid.UUID) string {
	return "refund-" + orderID.String()
}

// ToCents converts a two-decimal amount to minor units.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func NormalizeCurrency(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "eur"
	}
	return code
}

func (r RefundRequest) Validate() error {
	if strings.TrimSpace(r.PaymentReference) == "" {
		return Permanent(errors.New("payment reference is empty"))
	}
	if !r.Amount.IsPositive() {
		return Permanent(fmt.Errorf("refund amount must be positive, got %s", r.Amount.StringFixed(2)))
	}
	return nil
}

// DisabledGateway fails every refund permanently. Used when no provider is
// configured; refunds end up failed and can be retried by an admin later.
type DisabledGateway struct{}

func (DisabledGateway) Name() string { return "disabled" }

func (DisabledGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	return nil, Permanent(ErrNotConfigured)
}
