package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/refund"
	"go.uber.org/zap"

	"livraison/internal/payment"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

type Config struct {
	APIKey      string
	Environment string
	Currency    string
}

// RefundAPI is the slice of Stripe used here, swappable in tests.
type RefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type refundAPI struct{}

func (refundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	return refund.New(params)
}

type Gateway struct {
	api      RefundAPI
	currency string
	logger   *zap.Logger
}

func NewGateway(cfg Config, logger *zap.Logger) (*Gateway, error) {
	env, err := normalizeEnv(cfg.Environment)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey
	logger.Info("stripe refund gateway initialized", zap.String("environment", env))
	return newGateway(refundAPI{}, cfg.Currency, logger), nil
}

func newGateway(api RefundAPI, currency string, logger *zap.Logger) *Gateway {
	return &Gateway{api: api, currency: payment.NormalizeCurrency(currency), logger: logger}
}

func (g *Gateway) Name() string { return "stripe" }

// Refund refunds a PaymentIntent. References starting with "ch_" are treated
// as legacy charges.
func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params := &stripe.RefundParams{
		Amount: stripe.Int64(payment.ToCents(req.Amount)),
		Reason: stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	ref := strings.TrimSpace(req.PaymentReference)
	if strings.HasPrefix(ref, "ch_") {
		params.Charge = stripe.String(ref)
	} else {
		params.PaymentIntent = stripe.String(ref)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID.String())

	g.logger.Info("stripe refund request", zap.String("orderId", req.OrderID.String()), zap.Int64("amountCents", payment.ToCents(req.Amount)))

	r, err := g.api.New(params)
	if err != nil {
		g.logger.Warn("stripe refund failed", zap.String("orderId", req.OrderID.String()), zap.Error(err))
		return nil, classify(err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, payment.Permanent(fmt.Errorf("stripe refund %s ended %s", r.ID, r.Status))
	}
	return &payment.RefundResult{ID: r.ID, Amount: payment.FromCents(r.Amount)}, nil
}

// classify separates answers worth retrying (rate limits, 5xx, network) from
// final ones.
func classify(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	switch stripeErr.HTTPStatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusPaymentRequired, http.StatusForbidden, http.StatusNotFound:
		return payment.Permanent(err)
	}
	return err
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
