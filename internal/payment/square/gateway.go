package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"go.uber.org/zap"

	"livraison/internal/payment"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

type Config struct {
	AccessToken string
	Environment string
	Currency    string
}

// RefundAPI is the slice of the Square SDK used here.
type RefundAPI interface {
	RefundPayment(ctx context.Context, req *sq.RefundPaymentRequest) (*sq.RefundPaymentResponse, error)
}

type refundAPI struct {
	sdk *sqclient.Client
}

func (a refundAPI) RefundPayment(ctx context.Context, req *sq.RefundPaymentRequest) (*sq.RefundPaymentResponse, error) {
	return a.sdk.Refunds.RefundPayment(ctx, req)
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
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(token),
	)
	logger.Info("square refund gateway initialized", zap.String("environment", env))
	return newGateway(refundAPI{sdk: sdk}, cfg.Currency, logger), nil
}

func newGateway(api RefundAPI, currency string, logger *zap.Logger) *Gateway {
	return &Gateway{api: api, currency: strings.ToUpper(payment.NormalizeCurrency(currency)), logger: logger}
}

func (g *Gateway) Name() string { return "square" }

func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cents := payment.ToCents(req.Amount)
	currency := sq.Currency(g.currency)
	paymentID := strings.TrimSpace(req.PaymentReference)
	reason := "order " + req.OrderID.String()
	request := &sq.RefundPaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    &sq.Money{Amount: &cents, Currency: &currency},
		PaymentID:      &paymentID,
		Reason:         &reason,
	}

	g.logger.Info("square refund request", zap.String("orderId", req.OrderID.String()), zap.Int64("amountCents", cents))

	resp, err := g.api.RefundPayment(ctx, request)
	if err != nil {
		g.logger.Warn("square refund failed", zap.String("orderId", req.OrderID.String()), zap.Error(err))
		return nil, classify(err)
	}

	id, status, err := refundSummary(resp.GetRefund())
	if err != nil {
		return nil, err
	}
	if status == "REJECTED" || status == "FAILED" {
		return nil, payment.Permanent(fmt.Errorf("square refund %s ended %s", id, status))
	}
	return &payment.RefundResult{ID: id, Amount: payment.FromCents(cents)}, nil
}

// refundSummary reads id and status from the wire form of the refund.
func refundSummary(refund *sq.PaymentRefund) (string, string, error) {
	if refund == nil {
		return "", "", errors.New("square refund response has no refund")
	}
	raw, err := json.Marshal(refund)
	if err != nil {
		return "", "", fmt.Errorf("encoding square refund: %w", err)
	}
	var summary struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return "", "", fmt.Errorf("decoding square refund: %w", err)
	}
	return summary.ID, summary.Status, nil
}

func classify(err error) error {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, http.StatusConflict:
		return err
	}
	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return payment.Permanent(err)
	}
	return err
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
