package money

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"livraison/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Policy holds every constant of the revenue split. It is loaded once from
// configuration and shared by all computations.
type Policy struct {
	PlatformFlatFee             decimal.Decimal
	DeliveryCommissionThreshold decimal.Decimal
	DeliveryCommissionRate      decimal.Decimal
	DefaultCommissionPercent    decimal.Decimal
	// Restaurants that pay no commission, matched by id or by name.
	ZeroCommissionIDs   []string
	ZeroCommissionNames []string
}

func DefaultPolicy() Policy {
	return Policy{
		PlatformFlatFee:             decimal.RequireFromString("0.49"),
		DeliveryCommissionThreshold: decimal.RequireFromString("2.50"),
		DeliveryCommissionRate:      decimal.RequireFromString("0.10"),
		DefaultCommissionPercent:    decimal.NewFromInt(20),
		ZeroCommissionNames:         []string{"la bonne pate"},
	}
}

// CommissionRateFor resolves the commission percent applied to a restaurant.
// A nil rate on the restaurant means the default; an explicit zero is kept.
func (p Policy) CommissionRateFor(r domain.Restaurant) decimal.Decimal {
	if p.IsZeroCommission(r) {
		return decimal.Zero
	}
	if r.CommissionRatePercent == nil {
		return clampPercent(p.DefaultCommissionPercent)
	}
	return clampPercent(*r.CommissionRatePercent)
}

func (p Policy) IsZeroCommission(r domain.Restaurant) bool {
	for _, id := range p.ZeroCommissionIDs {
		if id != "" && id == r.ID {
			return true
		}
	}
	name := NormalizeName(r.Name)
	if name == "" {
		return false
	}
	for _, candidate := range p.ZeroCommissionNames {
		c := NormalizeName(candidate)
		if c != "" && strings.Contains(name, c) {
			return true
		}
	}
	return false
}

// NormalizeName folds case and strips diacritics so "La Bonne Pâte" and
// "la bonne pate" compare equal.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC, cases.Fold())
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.Join(strings.Fields(out), " ")
}

func clampPercent(rate decimal.Decimal) decimal.Decimal {
	if rate.IsNegative() {
		return decimal.Zero
	}
	if rate.GreaterThan(hundred) {
		return hundred
	}
	return rate
}

// nonNegative rounds an amount to cents and floors it at zero.
func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d.Round(2)
}
