package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Order struct {
	ID                     uuid.UUID
	UserID                 string
	RestaurantID           string
	CourierID              *string
	Status                 OrderStatus
	PaymentStatus          PaymentStatus
	PaymentReference       string
	LineItems              []LineItem
	LineItemsSubtotal      decimal.Decimal
	DeliveryFee            decimal.Decimal
	PlatformFee            decimal.Decimal
	PreparationTimeMinutes int
	ReadyForDelivery       bool
	SecurityCode           string
	RejectionReason        string
	CancellationReason     string
	RefundStatus           RefundStatus
	RefundAmount           *decimal.Decimal
	RefundedAt             *time.Time
	RefundID               string
	Revenue                *RevenueSplit
	AcceptedAt             *time.Time
	DeliveredAt            *time.Time
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (o Order) HasCourier() bool {
	return o.CourierID != nil && *o.CourierID != ""
}

func (o Order) IsCourier(userID string) bool {
	return o.HasCourier() && *o.CourierID == userID
}

// ItemsTotal sums the frozen line items. Falls back to the stored subtotal for
// orders persisted without item rows.
func (o Order) ItemsTotal() decimal.Decimal {
	if len(o.LineItems) == 0 {
		return o.LineItemsSubtotal
	}
	total := decimal.Zero
	for _, item := range o.LineItems {
		total = total.Add(item.Total())
	}
	return total
}

// TotalCharged is what the customer paid: items, delivery and platform fee.
func (o Order) TotalCharged() decimal.Decimal {
	return o.ItemsTotal().Add(o.DeliveryFee).Add(o.PlatformFee)
}

// PreparationDeadline is nil until the restaurant commits a preparation time.
func (o Order) PreparationDeadline() *time.Time {
	if o.AcceptedAt == nil || o.PreparationTimeMinutes <= 0 {
		return nil
	}
	deadline := o.AcceptedAt.Add(time.Duration(o.PreparationTimeMinutes) * time.Minute)
	return &deadline
}

type LineItem struct {
	MenuItemID     string
	Name           string
	Quantity       int
	UnitPrice      decimal.Decimal
	Customizations []Customization
}

// Customization is a topping, size or removed ingredient; removals carry a
// zero price.
type Customization struct {
	Name  string
	Price decimal.Decimal
}

func (li LineItem) Total() decimal.Decimal {
	if li.Quantity <= 0 {
		return decimal.Zero
	}
	unit := li.UnitPrice
	if unit.IsNegative() {
		unit = decimal.Zero
	}
	for _, c := range li.Customizations {
		if c.Price.IsPositive() {
			unit = unit.Add(c.Price)
		}
	}
	return unit.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// RevenueSplit is the attribution of one order's money between restaurant,
// platform and courier.
type RevenueSplit struct {
	Subtotal                   decimal.Decimal
	DeliveryFee                decimal.Decimal
	CommissionRatePercent      decimal.Decimal
	RestaurantShare            decimal.Decimal
	PlatformCommission         decimal.Decimal
	PlatformFlatFee            decimal.Decimal
	PlatformDeliveryCommission decimal.Decimal
	PlatformRevenue            decimal.Decimal
	CourierEarning             decimal.Decimal
}
