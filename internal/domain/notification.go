package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationPrepTimePrompt NotificationType = "prep_time_prompt"
	NotificationNewOrder       NotificationType = "new_order"
	NotificationOrderOverdue   NotificationType = "order_overdue"
)

type Notification struct {
	ID           uuid.UUID
	Type         NotificationType
	RestaurantID string
	OrderID      *uuid.UUID
	Message      string
	CreatedAt    time.Time
	ReadAt       *time.Time
}

func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}

type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	OrderEventRefundUpdated OrderEventType = "order.refund_updated"
)

// OrderChange is the payload routed to subscribers whenever an order row is
// written. Version is strictly increasing per order.
type OrderChange struct {
	EventID          uuid.UUID      `json:"eventId"`
	Type             OrderEventType `json:"type"`
	OrderID          uuid.UUID      `json:"orderId"`
	UserID           string         `json:"userId"`
	RestaurantID     string         `json:"restaurantId"`
	CourierID        *string        `json:"courierId,omitempty"`
	Status           OrderStatus    `json:"status"`
	PreviousStatus   OrderStatus    `json:"previousStatus,omitempty"`
	ReadyForDelivery bool           `json:"readyForDelivery"`
	PrepMinutes      int            `json:"preparationTimeMinutes,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	RefundStatus     RefundStatus   `json:"refundStatus"`
	Version          int64          `json:"version"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func NewOrderChange(eventType OrderEventType, previous OrderStatus, o Order) OrderChange {
	reason := o.RejectionReason
	if o.Status == OrderStatusCanceled {
		reason = o.CancellationReason
	}
	return OrderChange{
		EventID:          uuid.New(),
		Type:             eventType,
		OrderID:          o.ID,
		UserID:           o.UserID,
		RestaurantID:     o.RestaurantID,
		CourierID:        o.CourierID,
		Status:           o.Status,
		PreviousStatus:   previous,
		ReadyForDelivery: o.ReadyForDelivery,
		PrepMinutes:      o.PreparationTimeMinutes,
		Reason:           reason,
		RefundStatus:     o.RefundStatus,
		Version:          o.Version,
		UpdatedAt:        o.UpdatedAt,
	}
}

// DecodeOrderChange parses an outbox payload back into a change.
func DecodeOrderChange(payload []byte) (OrderChange, error) {
	var change OrderChange
	if err := json.Unmarshal(payload, &change); err != nil {
		return OrderChange{}, fmt.Errorf("decoding order change: %w", err)
	}
	if change.OrderID == uuid.Nil {
		return OrderChange{}, fmt.Errorf("decoding order change: missing orderId")
	}
	return change, nil
}

// OutboxEvent is an OrderChange persisted in the same transaction as the
// order write, awaiting publication.
type OutboxEvent struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Type         OrderEventType
	Payload      []byte
	CreatedAt    time.Time
	PublishedAt  *time.Time
	AttemptCount int
	LastError    *string
}
