package domain

import "time"

type Role string

const (
	RoleDiner        Role = "diner"
	RoleRestaurateur Role = "restaurateur"
)

func (r Role) Valid() bool {
	return r == RoleDiner || r == RoleRestaurateur
}

// Identity is who a live connection belongs to. For restaurateurs UserID is
// the restaurant id, so one map keyed by UserID serves both selectors.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type OrderItem struct {
	ItemID string `json:"item_id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Price  int64  `json:"price" validate:"gt=0"` // minor units
}

type Order struct {
	ID           string      `json:"order_id"`
	CustomerID   string      `json:"customer_id"`
	RestaurantID string      `json:"restaurant_id"`
	TableNumber  int         `json:"table_number"`
	PriceTotal   int64       `json:"price_total"` // minor units
	Currency     string      `json:"currency"`
	Status       Status      `json:"status"`
	PlacedAt     time.Time   `json:"placed_at"`
	Items        []OrderItem `json:"items,omitempty"`
}

// PaymentRecord holds pre-authorization data at submit time; ChargeID and
// Paid are set only after a successful capture, RefundID after a refund.
type PaymentRecord struct {
	OrderID            string `json:"order_id"`
	Amount             int64  `json:"amount"` // minor units
	Currency           string `json:"currency"`
	SourceToken        string `json:"source_token"`
	DestinationAccount string `json:"destination_account"`
	ChargeID           string `json:"charge_id,omitempty"`
	RefundID           string `json:"refund_id,omitempty"`
	Paid               bool   `json:"paid"`
}

// Refundable reports whether a refund may be attempted: the capture must
// have succeeded and no prior refund may exist.
func (p PaymentRecord) Refundable() bool {
	return p.Paid && p.RefundID == ""
}

// TableOccupancy associates a diner with the single table they occupy.
// At most one row per customer; a new join overwrites the previous one.
type TableOccupancy struct {
	CustomerID   string    `json:"customer_id"`
	RestaurantID string    `json:"restaurant_id"`
	TableNumber  int       `json:"table_number"`
	JoinedAt     time.Time `json:"joined_at"`
}
