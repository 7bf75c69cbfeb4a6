package dto

import "github.com/shopspring/decimal"

type CreateOrderRequest struct {
	RestaurantID     string                 `json:"restaurantId" validate:"required,max=64"`
	Items            []LineItemRequest      `json:"items" validate:"required,min=1,max=100,dive"`
	DeliveryAddress  DeliveryAddressRequest `json:"deliveryAddress"`
	PaymentReference string                 `json:"paymentReference" validate:"omitempty,max=255"`
}

type LineItemRequest struct {
	MenuItemID     string                 `json:"menuItemId" validate:"required,max=64"`
	Name           string                 `json:"name" validate:"required,max=200"`
	Quantity       int                    `json:"quantity" validate:"min=1,max=99"`
	UnitPrice      decimal.Decimal        `json:"unitPrice"`
	Customizations []CustomizationRequest `json:"customizations" validate:"max=30,dive"`
}

type CustomizationRequest struct {
	Name  string          `json:"name" validate:"required,max=200"`
	Price decimal.Decimal `json:"price"`
}

type DeliveryAddressRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

type AcceptOrderRequest struct {
	PreparationTimeMinutes int `json:"preparationTimeMinutes" validate:"min=1,max=180"`
}

type RejectOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AssignCourierRequest may be empty: a courier taking an offer assigns itself.
type AssignCourierRequest struct {
	CourierID string `json:"courierId" validate:"omitempty,max=64"`
}

type DeliverOrderRequest struct {
	SecurityCode string `json:"securityCode" validate:"omitempty,len=6,numeric"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type AddDelayRequest struct {
	ExtraMinutes int `json:"extraMinutes" validate:"min=1,max=120"`
}
