package statemachine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"livraison/internal/domain"
	apperrors "livraison/internal/errors"
)

type Command string

const (
	CommandAccept         Command = "accept"
	CommandReject         Command = "reject"
	CommandStartPreparing Command = "start_preparing"
	CommandMarkReady      Command = "mark_ready"
	CommandAssignCourier  Command = "assign_courier"
	CommandPickUp         Command = "pick_up"
	CommandDeliver        Command = "deliver"
	CommandCancel         Command = "cancel"
	CommandAddDelay       Command = "add_delay"
)

// CustomerCancelMinPrepMinutes is the preparation time above which a customer
// may still walk away from an order the kitchen already started.
const CustomerCancelMinPrepMinutes = 30

const finalizedMessage = "order is already finalized"

var legalCommands = map[domain.OrderStatus][]Command{
	domain.OrderStatusPending:    {CommandAccept, CommandReject, CommandCancel},
	domain.OrderStatusAccepted:   {CommandStartPreparing, CommandAssignCourier, CommandAddDelay, CommandCancel},
	domain.OrderStatusPreparing:  {CommandMarkReady, CommandAssignCourier, CommandPickUp, CommandAddDelay, CommandCancel},
	domain.OrderStatusReady:      {CommandAssignCourier, CommandPickUp, CommandCancel},
	domain.OrderStatusInDelivery: {CommandDeliver, CommandCancel},
}

// LegalCommands lists what may be requested from status. Terminal statuses
// return nil.
func LegalCommands(status domain.OrderStatus) []Command {
	cmds := legalCommands[status]
	out := make([]Command, len(cmds))
	copy(out, cmds)
	if len(out) == 0 {
		return nil
	}
	return out
}

func IsLegal(status domain.OrderStatus, cmd Command) bool {
	for _, c := range legalCommands[status] {
		if c == cmd {
			return true
		}
	}
	return false
}

type Input struct {
	PreparationTimeMinutes int
	ExtraMinutes           int
	Reason                 string
	CourierID              string
	SecurityCode           string
}

type EffectKind string

const (
	EffectNotify           EffectKind = "notify"
	EffectStartRefund      EffectKind = "start_refund"
	EffectRecomputeRevenue EffectKind = "recompute_revenue"
	EffectStartPrepTimer   EffectKind = "start_prep_timer"
	EffectStopPrepTimer    EffectKind = "stop_prep_timer"
)

// Effect is a command for the caller to run once the new snapshot is
// committed. RecipientID is empty when a notification targets every member
// of the role (unassigned couriers).
type Effect struct {
	Kind        EffectKind
	Role        domain.Role
	RecipientID string
	Message     string
	Amount      decimal.Decimal
	Minutes     int
}

type Result struct {
	Order    domain.Order
	Previous domain.OrderStatus
	Effects  []Effect
}

func (r Result) Has(kind EffectKind) bool {
	for _, e := range r.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Apply validates cmd against the snapshot and returns the next snapshot with
// the effects to run after persistence. The input snapshot is never modified.
// Checks run in order: legality, authorization, input validation.
func Apply(current domain.Order, cmd Command, actor domain.Actor, in Input, now time.Time) (Result, error) {
	if current.Status.IsTerminal() {
		return Result{}, apperrors.NewInvalidTransitionError(string(current.Status), string(cmd), finalizedMessage)
	}
	if !IsLegal(current.Status, cmd) {
		return Result{}, apperrors.NewInvalidTransitionError(string(current.Status), string(cmd),
			fmt.Sprintf("cannot %s an order in status %s", humanize(cmd), current.Status))
	}

	next := current
	next.UpdatedAt = now
	res := Result{Order: next, Previous: current.Status}

	var err error
	switch cmd {
	case CommandAccept:
		err = accept(&res, actor, in, now)
	case CommandReject:
		err = reject(&res, actor, in)
	case CommandStartPreparing:
		err = startPreparing(&res, actor)
	case CommandMarkReady:
		err = markReady(&res, actor)
	case CommandAssignCourier:
		err = assignCourier(&res, actor, in)
	case CommandPickUp:
		err = pickUp(&res, actor)
	case CommandDeliver:
		err = deliver(&res, actor, in, now)
	case CommandCancel:
		err = cancel(&res, actor, in)
	case CommandAddDelay:
		err = addDelay(&res, actor, in)
	default:
		err = apperrors.NewInvalidTransitionError(string(current.Status), string(cmd), "unknown command")
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func accept(res *Result, actor domain.Actor, in Input, now time.Time) error {
	o := &res.Order
	if !canDriveKitchen(actor, *o) {
		return unauthorized(CommandAccept)
	}
	if in.PreparationTimeMinutes <= 0 {
		return apperrors.NewValidationError("preparation time is required to accept an order", apperrors.ValidationDetail{
			Field:   "preparationTimeMinutes",
			Message: "preparationTimeMinutes must be greater than 0",
		})
	}

	o.Status = domain.OrderStatusAccepted
	o.PreparationTimeMinutes = in.PreparationTimeMinutes
	o.AcceptedAt = &now

	res.notify(domain.RoleCustomer, o.UserID,
		fmt.Sprintf("Votre commande a été acceptée. Préparation estimée : %d min.", in.PreparationTimeMinutes))
	res.Effects = append(res.Effects, Effect{Kind: EffectStartPrepTimer, Minutes: in.PreparationTimeMinutes})
	return nil
}

func reject(res *Result, actor domain.Actor, in Input) error {
	o := &res.Order
	if !canDriveKitchen(actor, *o) {
		return unauthorized(CommandReject)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return apperrors.NewValidationError("a reason is required to reject an order", apperrors.ValidationDetail{
			Field:   "reason",
			Message: "reason must not be empty",
		})
	}

	o.Status = domain.OrderStatusRejected
	o.RejectionReason = reason

	res.notify(domain.RoleCustomer, o.UserID, "Votre commande a été refusée : "+reason)
	res.refund()
	return nil
}

func startPreparing(res *Result, actor domain.Actor) error {
	o := &res.Order
	if !canDriveKitchen(actor, *o) {
		return unauthorized(CommandStartPreparing)
	}
	o.Status = domain.OrderStatusPreparing
	res.notify(domain.RoleCustomer, o.UserID, "Votre commande est en préparation.")
	return nil
}

func markReady(res *Result, actor domain.Actor) error {
	o := &res.Order
	if !canDriveKitchen(actor, *o) {
		return unauthorized(CommandMarkReady)
	}
	o.Status = domain.OrderStatusReady
	o.ReadyForDelivery = true

	res.Effects = append(res.Effects, Effect{Kind: EffectStopPrepTimer})
	res.notify(domain.RoleCustomer, o.UserID, "Votre commande est prête.")
	courierID := ""
	if o.HasCourier() {
		courierID = *o.CourierID
	}
	res.notify(domain.RoleCourier, courierID, "Commande prête à être récupérée.")
	return nil
}

func assignCourier(res *Result, actor domain.Actor, in Input) error {
	o := &res.Order
	courierID := strings.TrimSpace(in.CourierID)

	switch {
	case actor.Role == domain.RoleCourier:
		if courierID != "" && courierID != actor.UserID {
			return apperrors.NewUnauthorizedError("a courier can only assign themself")
		}
		courierID = actor.UserID
	case actor.IsPrivileged():
	default:
		return unauthorized(CommandAssignCourier)
	}

	if o.HasCourier() {
		return apperrors.NewInvalidTransitionError(string(o.Status), string(CommandAssignCourier),
			"a courier is already assigned to this order")
	}
	if courierID == "" {
		return apperrors.NewValidationError("courier is required", apperrors.ValidationDetail{
			Field:   "courierId",
			Message: "courierId must not be empty",
		})
	}

	o.CourierID = &courierID

	res.notify(domain.RoleRestaurant, o.RestaurantID, "Un livreur a accepté la livraison.")
	res.notify(domain.RoleCustomer, o.UserID, "Un livreur a été assigné à votre commande.")
	if o.ReadyForDelivery {
		res.notify(domain.RoleCourier, courierID, "Commande prête à être récupérée.")
	}
	return nil
}

func pickUp(res *Result, actor domain.Actor) error {
	o := &res.Order
	allowed := actor.IsPrivileged() ||
		(actor.Role == domain.RoleCourier && o.IsCourier(actor.UserID)) ||
		isOwningRestaurant(actor, *o)
	if !allowed {
		return unauthorized(CommandPickUp)
	}
	if !o.HasCourier() {
		return apperrors.NewInvalidTransitionError(string(o.Status), string(CommandPickUp),
			"a courier must be assigned before pick-up")
	}

	o.Status = domain.OrderStatusInDelivery
	res.Effects = append(res.Effects, Effect{Kind: EffectStopPrepTimer})
	res.notify(domain.RoleCustomer, o.UserID, "Votre commande est en route.")
	return nil
}

func deliver(res *Result, actor domain.Actor, in Input, now time.Time) error {
	o := &res.Order
	isAssigned := actor.Role == domain.RoleCourier && o.IsCourier(actor.UserID)
	if !isAssigned && !actor.IsPrivileged() {
		return unauthorized(CommandDeliver)
	}
	if isAssigned && o.SecurityCode != "" && strings.TrimSpace(in.SecurityCode) != o.SecurityCode {
		return apperrors.NewValidationError("security code does not match", apperrors.ValidationDetail{
			Field:   "securityCode",
			Message: "securityCode must match the code given by the customer",
		})
	}

	o.Status = domain.OrderStatusDelivered
	o.DeliveredAt = &now

	res.Effects = append(res.Effects, Effect{Kind: EffectRecomputeRevenue})
	res.notify(domain.RoleCustomer, o.UserID, "Votre commande a été livrée. Bon appétit !")
	res.notify(domain.RoleRestaurant, o.RestaurantID, "Commande livrée.")
	return nil
}

func cancel(res *Result, actor domain.Actor, in Input) error {
	o := &res.Order
	switch {
	case actor.IsPrivileged():
	case actor.Role == domain.RoleCustomer:
		if actor.UserID != o.UserID {
			return apperrors.NewUnauthorizedError("only the ordering customer can cancel this order")
		}
		if !customerMayCancel(*o) {
			return apperrors.NewInvalidTransitionError(string(o.Status), string(CommandCancel),
				fmt.Sprintf("order can no longer be cancelled: cancellation is only possible before acceptance or when preparation exceeds %d minutes and no courier is assigned",
					CustomerCancelMinPrepMinutes))
		}
	default:
		return unauthorized(CommandCancel)
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = defaultCancelReason(actor)
	}

	previous := o.Status
	o.Status = domain.OrderStatusCanceled
	o.CancellationReason = reason

	if previous != domain.OrderStatusPending {
		res.Effects = append(res.Effects, Effect{Kind: EffectStopPrepTimer})
	}
	res.notify(domain.RoleCustomer, o.UserID, "Votre commande a été annulée : "+reason)
	res.notify(domain.RoleRestaurant, o.RestaurantID, "Commande annulée : "+reason)
	if o.HasCourier() {
		res.notify(domain.RoleCourier, *o.CourierID, "Livraison annulée : "+reason)
	}
	res.refund()
	return nil
}

func addDelay(res *Result, actor domain.Actor, in Input) error {
	o := &res.Order
	if !canDriveKitchen(actor, *o) {
		return unauthorized(CommandAddDelay)
	}
	if in.ExtraMinutes <= 0 {
		return apperrors.NewValidationError("preparation time can only be increased", apperrors.ValidationDetail{
			Field:   "extraMinutes",
			Message: "extraMinutes must be greater than 0",
		})
	}

	o.PreparationTimeMinutes += in.ExtraMinutes

	res.notify(domain.RoleCustomer, o.UserID,
		fmt.Sprintf("Votre commande aura %d min de retard. Préparation estimée : %d min.", in.ExtraMinutes, o.PreparationTimeMinutes))
	res.Effects = append(res.Effects, Effect{Kind: EffectStartPrepTimer, Minutes: o.PreparationTimeMinutes})
	return nil
}

func customerMayCancel(o domain.Order) bool {
	switch o.Status {
	case domain.OrderStatusPending:
		return true
	case domain.OrderStatusPreparing:
		return o.PreparationTimeMinutes > CustomerCancelMinPrepMinutes && !o.HasCourier()
	}
	return false
}

func defaultCancelReason(actor domain.Actor) string {
	switch actor.Role {
	case domain.RoleCustomer:
		return "annulée par le client"
	case domain.RoleSystem:
		return "annulée automatiquement"
	}
	return "annulée par l'administration"
}

func canDriveKitchen(actor domain.Actor, o domain.Order) bool {
	return actor.IsPrivileged() || isOwningRestaurant(actor, o)
}

func isOwningRestaurant(actor domain.Actor, o domain.Order) bool {
	return actor.Role == domain.RoleRestaurant && actor.RestaurantID != "" && actor.RestaurantID == o.RestaurantID
}

func unauthorized(cmd Command) error {
	return apperrors.NewUnauthorizedError(fmt.Sprintf("not allowed to %s this order", humanize(cmd)))
}

func humanize(cmd Command) string {
	return strings.ReplaceAll(string(cmd), "_", " ")
}

func (r *Result) notify(role domain.Role, recipientID, message string) {
	r.Effects = append(r.Effects, Effect{Kind: EffectNotify, Role: role, RecipientID: recipientID, Message: message})
}

// refund asks for the whole charge back when the customer actually paid.
func (r *Result) refund() {
	o := &r.Order
	if o.PaymentStatus != domain.PaymentStatusPaid {
		return
	}
	o.RefundStatus = domain.RefundStatusPending
	r.Effects = append(r.Effects, Effect{Kind: EffectStartRefund, Amount: o.TotalCharged()})
}
