package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"livraison/internal/domain"
	"livraison/internal/money"
)

type OrderResponse struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"userId"`
	RestaurantID           string             `json:"restaurantId"`
	CourierID              *string            `json:"courierId"`
	Status                 string             `json:"status"`
	PaymentStatus          string             `json:"paymentStatus"`
	Items                  []LineItemResponse `json:"items"`
	LineItemsSubtotal      string             `json:"lineItemsSubtotal"`
	DeliveryFee            string             `json:"deliveryFee"`
	PlatformFee            string             `json:"platformFee"`
	Total                  string             `json:"total"`
	PreparationTimeMinutes int                `json:"preparationTimeMinutes,omitempty"`
	ReadyForDelivery       bool               `json:"readyForDelivery"`
	SecurityCode           string             `json:"securityCode,omitempty"`
	RejectionReason        string             `json:"rejectionReason,omitempty"`
	CancellationReason     string             `json:"cancellationReason,omitempty"`
	RefundStatus           string             `json:"refundStatus"`
	RefundAmount           *string            `json:"refundAmount,omitempty"`
	RefundedAt             *time.Time         `json:"refundedAt,omitempty"`
	AcceptedAt             *time.Time         `json:"acceptedAt,omitempty"`
	EstimatedReadyAt       *time.Time         `json:"estimatedReadyAt,omitempty"`
	DeliveredAt            *time.Time         `json:"deliveredAt,omitempty"`
	Revenue                *SplitResponse     `json:"revenue,omitempty"`
	Version                int64              `json:"version"`
	CreatedAt              time.Time          `json:"createdAt"`
	UpdatedAt              time.Time          `json:"updatedAt"`
}

type LineItemResponse struct {
	MenuItemID     string                  `json:"menuItemId"`
	Name           string                  `json:"name"`
	Quantity       int                     `json:"quantity"`
	UnitPrice      string                  `json:"unitPrice"`
	Customizations []CustomizationResponse `json:"customizations"`
	Total          string                  `json:"total"`
}

type CustomizationResponse struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

type SplitResponse struct {
	Subtotal                   string `json:"subtotal"`
	DeliveryFee                string `json:"deliveryFee"`
	CommissionRatePercent      string `json:"commissionRatePercent"`
	RestaurantShare            string `json:"restaurantShare"`
	PlatformCommission         string `json:"platformCommission"`
	PlatformFlatFee            string `json:"platformFlatFee"`
	PlatformDeliveryCommission string `json:"platformDeliveryCommission"`
	PlatformRevenue            string `json:"platformRevenue"`
	CourierEarning             string `json:"courierEarning"`
}

type OrderDetailResponse struct {
	OrderResponse
	Split         SplitResponse `json:"split"`
	LegalCommands []string      `json:"legalCommands"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
}

type RevenueTotalsResponse struct {
	OrderCount                 int    `json:"orderCount"`
	Subtotal                   string `json:"subtotal"`
	DeliveryFees               string `json:"deliveryFees"`
	RestaurantShare            string `json:"restaurantShare"`
	PlatformCommission         string `json:"platformCommission"`
	PlatformFlatFees           string `json:"platformFlatFees"`
	PlatformDeliveryCommission string `json:"platformDeliveryCommission"`
	PlatformRevenue            string `json:"platformRevenue"`
	CourierEarnings            string `json:"courierEarnings"`
}

type OrderRevenueResponse struct {
	OrderID     string        `json:"orderId"`
	DeliveredAt *time.Time    `json:"deliveredAt,omitempty"`
	Split       SplitResponse `json:"split"`
}

type RevenueReportResponse struct {
	RestaurantID string                 `json:"restaurantId"`
	From         time.Time              `json:"from"`
	To           time.Time              `json:"to"`
	Totals       RevenueTotalsResponse  `json:"totals"`
	Orders       []OrderRevenueResponse `json:"orders"`
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// NewOrderResponse maps an order for actor. The security code goes to the
// ordering customer and admins only; the courier has to be told it.
func NewOrderResponse(o domain.Order, actor domain.Actor) OrderResponse {
	resp := OrderResponse{
		ID:                     o.ID.String(),
		UserID:                 o.UserID,
		RestaurantID:           o.RestaurantID,
		CourierID:              o.CourierID,
		Status:                 string(o.Status),
		PaymentStatus:          string(o.PaymentStatus),
		Items:                  make([]LineItemResponse, 0, len(o.LineItems)),
		LineItemsSubtotal:      amount(o.LineItemsSubtotal),
		DeliveryFee:            amount(o.DeliveryFee),
		PlatformFee:            amount(o.PlatformFee),
		Total:                  amount(o.LineItemsSubtotal.Add(o.DeliveryFee).Add(o.PlatformFee)),
		PreparationTimeMinutes: o.PreparationTimeMinutes,
		ReadyForDelivery:       o.ReadyForDelivery,
		RejectionReason:        o.RejectionReason,
		CancellationReason:     o.CancellationReason,
		RefundStatus:           string(o.RefundStatus),
		RefundedAt:             o.RefundedAt,
		AcceptedAt:             o.AcceptedAt,
		EstimatedReadyAt:       o.PreparationDeadline(),
		DeliveredAt:            o.DeliveredAt,
		Version:                o.Version,
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
	}
	if actor.IsPrivileged() || (actor.Role == domain.RoleCustomer && actor.UserID == o.UserID) {
		resp.SecurityCode = o.SecurityCode
	}
	if o.RefundAmount != nil {
		a := amount(*o.RefundAmount)
		resp.RefundAmount = &a
	}
	if o.Revenue != nil {
		split := NewSplitResponse(*o.Revenue)
		resp.Revenue = &split
	}
	for _, li := range o.LineItems {
		item := LineItemResponse{
			MenuItemID:     li.MenuItemID,
			Name:           li.Name,
			Quantity:       li.Quantity,
			UnitPrice:      amount(li.UnitPrice),
			Customizations: make([]CustomizationResponse, 0, len(li.Customizations)),
			Total:          amount(li.Total()),
		}
		for _, c := range li.Customizations {
			item.Customizations = append(item.Customizations, CustomizationResponse{Name: c.Name, Price: amount(c.Price)})
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func NewOrderListResponse(orders []domain.Order, actor domain.Actor) OrderListResponse {
	out := OrderListResponse{Orders: make([]OrderResponse, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, NewOrderResponse(o, actor))
	}
	return out
}

func NewSplitResponse(s domain.RevenueSplit) SplitResponse {
	return SplitResponse{
		Subtotal:                   amount(s.Subtotal),
		DeliveryFee:                amount(s.DeliveryFee),
		CommissionRatePercent:      amount(s.CommissionRatePercent),
		RestaurantShare:            amount(s.RestaurantShare),
		PlatformCommission:         amount(s.PlatformCommission),
		PlatformFlatFee:            amount(s.PlatformFlatFee),
		PlatformDeliveryCommission: amount(s.PlatformDeliveryCommission),
		PlatformRevenue:            amount(s.PlatformRevenue),
		CourierEarning:             amount(s.CourierEarning),
	}
}

func NewRevenueTotalsResponse(t money.Totals) RevenueTotalsResponse {
	return RevenueTotalsResponse{
		OrderCount:                 t.OrderCount,
		Subtotal:                   amount(t.Subtotal),
		DeliveryFees:               amount(t.DeliveryFees),
		RestaurantShare:            amount(t.RestaurantShare),
		PlatformCommission:         amount(t.PlatformCommission),
		PlatformFlatFees:           amount(t.PlatformFlatFees),
		PlatformDeliveryCommission: amount(t.PlatformDeliveryCommission),
		PlatformRevenue:            amount(t.PlatformRevenue),
		CourierEarnings:            amount(t.CourierEarnings),
	}
}
