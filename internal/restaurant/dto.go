package restaurant

import (
	"time"

	"livraison/internal/domain"
)

type SetClosedRequest struct {
	ManuallyClosed *bool `json:"manuallyClosed" validate:"required"`
}

type UpdatePrepTimeRequest struct {
	Minutes int `json:"minutes" validate:"min=1,max=180"`
}

type RestaurantDTO struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	ManuallyClosed         bool       `json:"manuallyClosed"`
	PrepTimeMinutesDefault int        `json:"prepTimeMinutes"`
	PrepTimeUpdatedAt      *time.Time `json:"prepTimeUpdatedAt,omitempty"`
	Timezone               string     `json:"timezone"`
	Latitude               float64    `json:"latitude"`
	Longitude              float64    `json:"longitude"`
	CommissionRatePercent  *string    `json:"commissionRatePercent,omitempty"`
}

type NotificationDTO struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	OrderID   *string    `json:"orderId,omitempty"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

type NotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
}

// toRestaurantDTO hides the commission rate from anyone but the partner and
// admins.
func toRestaurantDTO(r domain.Restaurant, showCommission bool) RestaurantDTO {
	dto := RestaurantDTO{
		ID:                     r.ID,
		Name:                   r.Name,
		ManuallyClosed:         r.ManuallyClosed,
		PrepTimeMinutesDefault: r.PrepTimeMinutesDefault,
		PrepTimeUpdatedAt:      r.PrepTimeUpdatedAt,
		Timezone:               r.Location().String(),
		Latitude:               r.Latitude,
		Longitude:              r.Longitude,
	}
	if showCommission && r.CommissionRatePercent != nil {
		rate := r.CommissionRatePercent.StringFixed(2)
		dto.CommissionRatePercent = &rate
	}
	return dto
}

func toNotificationDTOs(ns []domain.Notification) []NotificationDTO {
	out := make([]NotificationDTO, 0, len(ns))
	for _, n := range ns {
		dto := NotificationDTO{
			ID:        n.ID.String(),
			Type:      string(n.Type),
			Message:   n.Message,
			CreatedAt: n.CreatedAt,
			ReadAt:    n.ReadAt,
		}
		if n.OrderID != nil {
			id := n.OrderID.String()
			dto.OrderID = &id
		}
		out = append(out, dto)
	}
	return out
}
