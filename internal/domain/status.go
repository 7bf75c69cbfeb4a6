package domain

import "fmt"

// OrderStatus is the single driver of the order workflow.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "en_attente"
	OrderStatusAccepted   OrderStatus = "acceptee"
	OrderStatusRejected   OrderStatus = "refusee"
	OrderStatusPreparing  OrderStatus = "en_preparation"
	OrderStatusReady      OrderStatus = "pret_a_livrer"
	OrderStatusInDelivery OrderStatus = "en_livraison"
	OrderStatusDelivered  OrderStatus = "livree"
	OrderStatusCanceled   OrderStatus = "annulee"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusRejected,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusInDelivery,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

func AllOrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(validOrderStatuses))
	copy(out, validOrderStatuses)
	return out
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further command is accepted from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusRejected || s == OrderStatusCanceled
}

func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusRefunded,
	PaymentStatusFailed,
}

func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

type RefundStatus string

const (
	RefundStatusNone     RefundStatus = "none"
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusRefunded RefundStatus = "refunded"
	RefundStatusFailed   RefundStatus = "failed"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusNone,
	RefundStatusPending,
	RefundStatusRefunded,
	RefundStatusFailed,
}

func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}

// Role identifies the kind of actor issuing a command.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleCourier    Role = "courier"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleRestaurant, RoleCourier, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Actor is the verified identity supplied by the auth collaborator.
type Actor struct {
	UserID       string
	Role         Role
	RestaurantID string
}

func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}
