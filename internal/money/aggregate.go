package money

import (
	"github.com/shopspring/decimal"

	"livraison/internal/domain"
)

type Totals struct {
	OrderCount                 int
	Subtotal                   decimal.Decimal
	DeliveryFees               decimal.Decimal
	RestaurantShare            decimal.Decimal
	PlatformCommission         decimal.Decimal
	PlatformFlatFees           decimal.Decimal
	PlatformDeliveryCommission decimal.Decimal
	PlatformRevenue            decimal.Decimal
	CourierEarnings            decimal.Decimal
}

// Aggregate sums splits. Callers pass paid orders only.
func Aggregate(splits []domain.RevenueSplit) Totals {
	t := Totals{}
	for _, s := range splits {
		t.OrderCount++
		t.Subtotal = t.Subtotal.Add(s.Subtotal)
		t.DeliveryFees = t.DeliveryFees.Add(s.DeliveryFee)
		t.RestaurantShare = t.RestaurantShare.Add(s.RestaurantShare)
		t.PlatformCommission = t.PlatformCommission.Add(s.PlatformCommission)
		t.PlatformFlatFees = t.PlatformFlatFees.Add(s.PlatformFlatFee)
		t.PlatformDeliveryCommission = t.PlatformDeliveryCommission.Add(s.PlatformDeliveryCommission)
		t.PlatformRevenue = t.PlatformRevenue.Add(s.PlatformRevenue)
		t.CourierEarnings = t.CourierEarnings.Add(s.CourierEarning)
	}
	return t
}
