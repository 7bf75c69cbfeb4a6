package money

import (
	"github.com/shopspring/decimal"

	"livraison/internal/domain"
)

type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

func (c *Calculator) Policy() Policy {
	return c.policy
}

// Split attributes one order's money. Amounts are rounded to cents first so
// the four shares always add back up to subtotal + deliveryFee.
func (c *Calculator) Split(subtotal, deliveryFee, commissionRatePercent, flatFee decimal.Decimal) domain.RevenueSplit {
	subtotal = nonNegative(subtotal)
	deliveryFee = nonNegative(deliveryFee)
	flatFee = nonNegative(flatFee)
	rate := clampPercent(commissionRatePercent)

	commission := subtotal.Mul(rate).Div(hundred).Round(2)
	restaurantShare := subtotal.Sub(commission)

	overThreshold := deliveryFee.Sub(nonNegative(c.policy.DeliveryCommissionThreshold))
	if overThreshold.IsNegative() {
		overThreshold = decimal.Zero
	}
	deliveryRate := c.policy.DeliveryCommissionRate
	if deliveryRate.IsNegative() {
		deliveryRate = decimal.Zero
	}
	deliveryCommission := overThreshold.Mul(deliveryRate).Round(2)
	if deliveryCommission.GreaterThan(deliveryFee) {
		deliveryCommission = deliveryFee
	}
	courierEarning := deliveryFee.Sub(deliveryCommission)

	return domain.RevenueSplit{
		Subtotal:                   subtotal,
		DeliveryFee:                deliveryFee,
		CommissionRatePercent:      rate,
		RestaurantShare:            restaurantShare,
		PlatformCommission:         commission,
		PlatformFlatFee:            flatFee,
		PlatformDeliveryCommission: deliveryCommission,
		PlatformRevenue:            commission.Add(flatFee).Add(deliveryCommission),
		CourierEarning:             courierEarning,
	}
}

// SplitForOrder recomputes the split from the persisted line items, never from
// a client-supplied total.
func (c *Calculator) SplitForOrder(o domain.Order, r domain.Restaurant) domain.RevenueSplit {
	return c.Split(o.ItemsTotal(), o.DeliveryFee, c.policy.CommissionRateFor(r), o.PlatformFee)
}
