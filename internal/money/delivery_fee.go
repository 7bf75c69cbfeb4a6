package money

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var ErrOutOfDeliveryZone = errors.New("address is outside the delivery zone")

const earthRadiusKm = 6371.0

type DeliveryFeePolicy struct {
	BaseFee               decimal.Decimal
	PerKmFee              decimal.Decimal
	IncludedKm            float64
	MaxFee                decimal.Decimal
	MaxDistanceKm         float64
	DiscountThreshold     decimal.Decimal
	DiscountPercent       decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
}

func DefaultDeliveryFeePolicy() DeliveryFeePolicy {
	return DeliveryFeePolicy{
		BaseFee:               decimal.RequireFromString("2.50"),
		PerKmFee:              decimal.RequireFromString("0.50"),
		IncludedKm:            5,
		MaxFee:                decimal.RequireFromString("10.00"),
		MaxDistanceKm:         15,
		DiscountThreshold:     decimal.NewFromInt(25),
		DiscountPercent:       decimal.NewFromInt(20),
		FreeDeliveryThreshold: decimal.NewFromInt(50),
	}
}

// DeliveryFee prices a delivery over distanceKm for a basket worth subtotal.
func (p DeliveryFeePolicy) DeliveryFee(distanceKm float64, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if math.IsNaN(distanceKm) || distanceKm < 0 {
		distanceKm = 0
	}
	if p.MaxDistanceKm > 0 && distanceKm > p.MaxDistanceKm {
		return decimal.Zero, ErrOutOfDeliveryZone
	}

	subtotal = nonNegative(subtotal)
	if p.FreeDeliveryThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeDeliveryThreshold) {
		return decimal.Zero, nil
	}

	fee := p.BaseFee
	if extra := distanceKm - p.IncludedKm; extra > 0 {
		fee = fee.Add(p.PerKmFee.Mul(decimal.NewFromFloat(extra)))
	}
	if p.MaxFee.IsPositive() && fee.GreaterThan(p.MaxFee) {
		fee = p.MaxFee
	}
	if p.DiscountThreshold.IsPositive() && subtotal.GreaterThanOrEqual(p.DiscountThreshold) {
		fee = fee.Mul(hundred.Sub(clampPercent(p.DiscountPercent))).Div(hundred)
	}
	return nonNegative(fee), nil
}

// HaversineKm is the great-circle distance between two coordinates.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
