package domain

import (
	"encoding/json"
	"fmt"
)

// Inbound event names as they appear on the wire.
const (
	EventNewOrder                = "newOrder"
	EventOrderStatusUpdate       = "orderStatusUpdate"
	EventRestaurantAcceptedOrder = "restaurantAcceptedOrder"
	EventProcessRefund           = "processRefund"
	EventUserJoinedTable         = "userJoinedTable"
	EventUserLeftTable           = "userLeftTable"
)

// Outbound event names.
const (
	EventOrderStatusUpdated = "orderStatusUpdated"
)

// InboundEventNames lists every wire name DecodeInbound understands.
// The exhaustiveness test walks this list against the decoder.
func InboundEventNames() []string {
	return []string{
		EventNewOrder,
		EventOrderStatusUpdate,
		EventRestaurantAcceptedOrder,
		EventProcessRefund,
		EventUserJoinedTable,
		EventUserLeftTable,
	}
}

// InboundEvent is the closed set of events a connection may send. Dispatch
// is a single type switch, so an unhandled variant is a compile-time smell
// rather than a silent string miss.
type InboundEvent interface {
	inboundEvent()
}

// OrderMeta identifies an order and its two parties.
type OrderMeta struct {
	OrderID      string `json:"order_id" validate:"required"`
	RestaurantID string `json:"restaurant_id" validate:"required"`
	CustomerID   string `json:"customer_id" validate:"required"`
	Status       Status `json:"status,omitempty"`
}

// PaymentDetails is the pre-authorization data carried by a new order.
type PaymentDetails struct {
	SourceToken        string `json:"source_token" validate:"required"`
	DestinationAccount string `json:"destination_account" validate:"required"`
}

type TableRef struct {
	RestaurantID string `json:"restaurant_id"`
	CustomerID   string `json:"customer_id"`
	TableNo      int    `json:"table_no"`
}

type NewOrder struct {
	RestaurantID string         `json:"restaurant_id" validate:"required"`
	TableNumber  int            `json:"table_number" validate:"gte=0"`
	Currency     string         `json:"currency" validate:"required,len=3"`
	Items        []OrderItem    `json:"items" validate:"required,min=1,dive"`
	Payment      PaymentDetails `json:"payment" validate:"required"`
}

type OrderStatusUpdate struct {
	Order OrderMeta `json:"order_metadata" validate:"required"`
}

type RestaurantAcceptedOrder struct {
	Order OrderMeta `json:"order_metadata" validate:"required"`
}

type ProcessRefund struct {
	Order OrderMeta `json:"order_metadata" validate:"required"`
}

type UserJoinedTable struct {
	Table TableRef `json:"table" validate:"required"`
}

type UserLeftTable struct {
	Table TableRef `json:"table" validate:"required"`
}

func (NewOrder) inboundEvent()                {}
func (OrderStatusUpdate) inboundEvent()       {}
func (RestaurantAcceptedOrder) inboundEvent() {}
func (ProcessRefund) inboundEvent()           {}
func (UserJoinedTable) inboundEvent()         {}
func (UserLeftTable) inboundEvent()           {}

// DecodeInbound turns a wire {name, payload} pair into a typed event.
// Unknown names fail with ErrValidation and the event is dropped upstream.
func DecodeInbound(name string, payload []byte) (InboundEvent, error) {
	unmarshal := func(v InboundEvent) (InboundEvent, error) {
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("%w: bad payload for %s: %v", ErrValidation, name, err)
		}
		return v, nil
	}
	switch name {
	case EventNewOrder:
		return unmarshal(&NewOrder{})
	case EventOrderStatusUpdate:
		return unmarshal(&OrderStatusUpdate{})
	case EventRestaurantAcceptedOrder:
		return unmarshal(&RestaurantAcceptedOrder{})
	case EventProcessRefund:
		return unmarshal(&ProcessRefund{})
	case EventUserJoinedTable:
		return unmarshal(&UserJoinedTable{})
	case EventUserLeftTable:
		return unmarshal(&UserLeftTable{})
	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrValidation, name)
	}
}

// OutboundEvent is what gets written to a live connection (and mirrored to
// the notifications exchange).
type OutboundEvent struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// OrderStatusUpdated is the diner/restaurant-facing status notification.
type OrderStatusUpdated struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	UserMsg string `json:"user_msg"`
}

// NewOrderNotice is the restaurant-facing broadcast for a freshly placed
// order; it embeds the order together with its items.
type NewOrderNotice struct {
	Order Order `json:"order"`
}

// TablePresence is the payload of userJoinedTable / userLeftTable.
type TablePresence struct {
	RestaurantID string `json:"restaurant_id"`
	CustomerID   string `json:"customer_id"`
	TableNo      int    `json:"table_no"`
}
