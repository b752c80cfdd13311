package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/domain/order"
)

// ref is a document reference the backend sends either as a bare id or as
// a populated object.
type ref string

func (r *ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*r = ""
		return nil
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*r = ref(obj.ID)
		return nil
	default:
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = ref(id)
		return nil
	}
}

type orderItemDTO struct {
	Product  ref             `json:"product"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Qty      int             `json:"qty,omitempty"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
}

type locationDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type shippingAddressDTO struct {
	Address    string       `json:"address"`
	City       string       `json:"city"`
	Phone      string       `json:"phone"`
	PostalCode string       `json:"postalCode,omitempty"`
	Country    string       `json:"country,omitempty"`
	Location   *locationDTO `json:"location,omitempty"`
}

type orderDTO struct {
	ID              string             `json:"_id,omitempty"`
	User            ref                `json:"user,omitempty"`
	OrderItems      []orderItemDTO     `json:"orderItems"`
	ShippingAddress shippingAddressDTO `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	ItemsPrice      decimal.Decimal    `json:"itemsPrice"`
	ShippingPrice   decimal.Decimal    `json:"shippingPrice"`
	TaxPrice        decimal.Decimal    `json:"taxPrice"`
	TotalPrice      decimal.Decimal    `json:"totalPrice"`
	IsPaid          bool               `json:"isPaid,omitempty"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	Status          string             `json:"status,omitempty"`
	ReturnReason    string             `json:"returnReason,omitempty"`
	DeliveryMan     ref                `json:"deliveryMan,omitempty"`
	CreatedAt       time.Time          `json:"createdAt,omitzero"`
}

func (d orderDTO) domain() order.Order {
	items := make([]order.Item, len(d.OrderItems))
	for i, it := range d.OrderItems {
		qty := it.Quantity
		if qty == 0 {
			qty = it.Qty
		}
		items[i] = order.Item{
			ProductID: string(it.Product),
			Name:      it.Name,
			Quantity:  qty,
			UnitPrice: it.Price,
			Image:     it.Image,
		}
	}
	addr := order.ShippingAddress{
		Address:    d.ShippingAddress.Address,
		City:       d.ShippingAddress.City,
		Phone:      d.ShippingAddress.Phone,
		PostalCode: d.ShippingAddress.PostalCode,
		Country:    d.ShippingAddress.Country,
	}
	if loc := d.ShippingAddress.Location; loc != nil {
		addr.Location = &order.Location{Lat: loc.Lat, Lng: loc.Lng}
	}
	return order.Order{
		ID:              d.ID,
		UserID:          string(d.User),
		Items:           items,
		ShippingAddress: addr,
		PaymentMethod:   d.PaymentMethod,
		ItemsPrice:      d.ItemsPrice,
		ShippingPrice:   d.ShippingPrice,
		TaxPrice:        d.TaxPrice,
		TotalPrice:      d.TotalPrice,
		IsPaid:          d.IsPaid,
		PaidAt:          d.PaidAt,
		Status:          order.Status(d.Status),
		ReturnReason:    d.ReturnReason,
		DeliveryManID:   string(d.DeliveryMan),
		CreatedAt:       d.CreatedAt,
	}
}

func newOrderDTO(o *order.Order) orderDTO {
	items := make([]orderItemDTO, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemDTO{
			Product:  ref(it.ProductID),
			Name:     it.Name,
			Quantity: it.Quantity,
			Image:    it.Image,
			Price:    it.UnitPrice,
		}
	}
	addr := shippingAddressDTO{
		Address:    o.ShippingAddress.Address,
		City:       o.ShippingAddress.City,
		Phone:      o.ShippingAddress.Phone,
		PostalCode: o.ShippingAddress.PostalCode,
		Country:    o.ShippingAddress.Country,
	}
	if loc := o.ShippingAddress.Location; loc != nil {
		addr.Location = &locationDTO{Lat: loc.Lat, Lng: loc.Lng}
	}
	return orderDTO{
		OrderItems:      items,
		ShippingAddress: addr,
		PaymentMethod:   o.PaymentMethod,
		ItemsPrice:      o.ItemsPrice,
		ShippingPrice:   o.ShippingPrice,
		TaxPrice:        o.TaxPrice,
		TotalPrice:      o.TotalPrice,
	}
}

// Orders is the backend order store. It implements order.Repository.
type Orders struct{ c *Client }

// Orders returns the order endpoints.
func (c *Client) Orders() *Orders { return &Orders{c: c} }

func orderPath(id string, suffix string) string {
	return "/api/orders/" + url.PathEscape(id) + suffix
}

// Create places an order.
func (r *Orders) Create(ctx context.Context, o *order.Order) (*order.Order, error) {
	var resp orderDTO
	if err := r.c.call(ctx, "order.create", http.MethodPost, "/api/orders", newOrderDTO(o), &resp); err != nil {
		return nil, err
	}
	created := resp.domain()
	if created.Status == "" {
		created.Status = order.StatusProcessing
	}
	return &created, nil
}

// Get fetches one order.
func (r *Orders) Get(ctx context.Context, id string) (*order.Order, error) {
	var resp orderDTO
	if err := r.c.call(ctx, "order.get", http.MethodGet, orderPath(id, ""), nil, &resp); err != nil {
		return nil, err
	}
	o := resp.domain()
	return &o, nil
}

func (r *Orders) list(ctx context.Context, op, path string) ([]order.Order, error) {
	var resp []orderDTO
	if err := r.c.call(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]order.Order, len(resp))
	for i, d := range resp {
		out[i] = d.domain()
	}
	return out, nil
}

// ListMine returns the caller's orders.
func (r *Orders) ListMine(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, "order.mine", "/api/orders/myorders")
}

// ListAll returns every order.
func (r *Orders) ListAll(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, "order.all", "/api/orders")
}

// ListDeliveryTasks returns the orders assigned to the calling delivery partner.
func (r *Orders) ListDeliveryTasks(ctx context.Context) ([]order.Order, error) {
	return r.list(ctx, "order.delivery_tasks", "/api/orders/delivery/my-tasks")
}

type statusRequest struct {
	Status order.Status `json:"status"`
}

// UpdateStatus moves an order along the delivery path.
func (r *Orders) UpdateStatus(ctx context.Context, id string, to order.Status) error {
	return r.c.call(ctx, "order.status", http.MethodPut, orderPath(id, "/status"), statusRequest{Status: to}, nil)
}

// Assign hands an order to a delivery partner.
func (r *Orders) Assign(ctx context.Context, id, deliveryManID string) error {
	req := struct {
		DeliveryManID string `json:"deliveryManId"`
	}{DeliveryManID: deliveryManID}
	return r.c.call(ctx, "order.assign", http.MethodPut, orderPath(id, "/assign"), req, nil)
}

// RequestReturn submits a customer return request.
func (r *Orders) RequestReturn(ctx context.Context, id, reason string) error {
	req := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	return r.c.call(ctx, "order.return_request", http.MethodPut, orderPath(id, "/return-request"), req, nil)
}

// HandleReturn resolves a return request.
func (r *Orders) HandleReturn(ctx context.Context, id string, to order.Status) error {
	return r.c.call(ctx, "order.return_handle", http.MethodPut, orderPath(id, "/return-handle"), statusRequest{Status: to}, nil)
}

// MarkPaid records a successful payment.
func (r *Orders) MarkPaid(ctx context.Context, id, paymentID string) error {
	req := struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		UpdateTime int64  `json:"update_time"`
	}{ID: paymentID, Status: "success", UpdateTime: time.Now().UnixMilli()}
	return r.c.call(ctx, "order.pay", http.MethodPut, orderPath(id, "/pay"), req, nil)
}
