// Package order models the client-observed order lifecycle: the status
// state machine, the tracking timeline and return requests. The remote
// backend remains the authority over every order.
package order

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfilment stage of an order as reported by the backend.
type Status string

const (
	StatusProcessing      Status = "Processing"
	StatusShipped         Status = "Shipped"
	StatusOutForDelivery  Status = "Out_for_Delivery"
	StatusDelivered       Status = "Delivered"
	StatusReturnRequested Status = "Return_Requested"
	StatusReturned        Status = "Returned"
	StatusReturnRejected  Status = "Return_Rejected"
)

// MaxReturnReasonLength bounds the return reason, in characters.
const MaxReturnReasonLength = 500

// TrackingSteps are the linear steps shown on the tracking timeline.
var TrackingSteps = []Status{
	StatusProcessing,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
}

var progressSteps = map[Status]int{
	StatusProcessing:      1,
	StatusShipped:         2,
	StatusOutForDelivery:  3,
	StatusDelivered:       4,
	StatusReturnRequested: 4,
	StatusReturned:        4,
	StatusReturnRejected:  4,
}

// rank orders statuses along the lifecycle. Both return outcomes share the
// final rank.
var rank = map[Status]int{
	StatusProcessing:      1,
	StatusShipped:         2,
	StatusOutForDelivery:  3,
	StatusDelivered:       4,
	StatusReturnRequested: 5,
	StatusReturned:        6,
	StatusReturnRejected:  6,
}

var transitions = map[Status][]Status{
	StatusProcessing:      {StatusShipped},
	StatusShipped:         {StatusOutForDelivery},
	StatusOutForDelivery:  {StatusDelivered},
	StatusDelivered:       {StatusReturnRequested},
	StatusReturnRequested: {StatusReturned, StatusReturnRejected},
}

// UnknownStatusError is returned by ParseStatus for a value outside the
// status enumeration.
type UnknownStatusError struct {
	Value string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown order status %q", e.Value)
}

// ParseStatus converts s into a Status, failing on unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := rank[st]; !ok {
		return "", &UnknownStatusError{Value: s}
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusReturnRejected
}

// ProgressStep maps a status to its tracking ordinal 1–4. Unknown statuses
// map to 1; use ParseStatus where an unknown value must be an error.
func ProgressStep(s Status) int {
	if step, ok := progressSteps[s]; ok {
		return step
	}
	return 1
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. There are no backward transitions.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StepState is the rendering state of one timeline step.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepPending   StepState = "pending"
)

// StepStateOf returns the state of the given timeline step (1–4) for an order
// in status s. Statuses past Delivered mark the whole timeline completed.
func StepStateOf(s Status, step int) StepState {
	current := ProgressStep(s)
	switch {
	case step < current:
		return StepCompleted
	case step == current:
		if rank[s] > rank[StatusDelivered] {
			return StepCompleted
		}
		return StepCurrent
	default:
		return StepPending
	}
}

// Item is a single line of a placed order.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
}

// Location is an optional geolocation attached to a shipping address.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ShippingAddress is where an order is delivered.
type ShippingAddress struct {
	Address    string    `json:"address"`
	City       string    `json:"city"`
	Phone      string    `json:"phone"`
	PostalCode string    `json:"postalCode,omitempty"`
	Country    string    `json:"country,omitempty"`
	Location   *Location `json:"location,omitempty"`
}

// Order represents a placed order as reported by the backend.
type Order struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId,omitempty"`
	Items           []Item          `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	ItemsPrice      decimal.Decimal `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal `json:"shippingPrice"`
	TaxPrice        decimal.Decimal `json:"taxPrice"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	IsPaid          bool            `json:"isPaid"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	Status          Status          `json:"status"`
	ReturnReason    string          `json:"returnReason,omitempty"`
	DeliveryManID   string          `json:"deliveryManId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Return request rejections.
var (
	ErrNotDelivered           = errors.New("only delivered orders can be returned")
	ErrReturnAlreadyRequested = errors.New("return already requested")
	ErrEmptyReturnReason      = errors.New("return reason required")
	ErrReturnReasonTooLong    = errors.Errorf("return reason exceeds %d characters", MaxReturnReasonLength)
)

// ValidateReturnRequest checks that o may be returned with reason and
// returns the trimmed reason.
func ValidateReturnRequest(o *Order, reason string) (string, error) {
	if o.Status != StatusDelivered {
		return "", ErrNotDelivered
	}
	if o.ReturnReason != "" {
		return "", ErrReturnAlreadyRequested
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", ErrEmptyReturnReason
	}
	if utf8.RuneCountInString(reason) > MaxReturnReasonLength {
		return "", ErrReturnReasonTooLong
	}
	return reason, nil
}

// Repository is the authoritative order store. Calls act on behalf of the
// caller identified by the context.
type Repository interface {
	Create(ctx context.Context, o *Order) (*Order, error)
	Get(ctx context.Context, id string) (*Order, error)
	ListMine(ctx context.Context) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ListDeliveryTasks(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, to Status) error
	Assign(ctx context.Context, id, deliveryManID string) error
	RequestReturn(ctx context.Context, id, reason string) error
	HandleReturn(ctx context.Context, id string, to Status) error
	MarkPaid(ctx context.Context, id, paymentID string) error
}
