//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

// Stub backend fixtures.
const (
	stubEmail    = "shopper@example.com"
	stubPassword = "hunter2"
	stubCoupon   = "SAVE10"
)

type stubProduct struct {
	ID     string          `json:"_id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Images []string        `json:"images"`
	Colors []string        `json:"colors"`
	Sizes  []string        `json:"sizes"`
}

var stubProducts = map[string]stubProduct{
	"p-cap":   {ID: "p-cap", Name: "Cap", Price: decimal.NewFromInt(100), Stock: 10, Images: []string{"/img/cap.png"}},
	"p-shirt": {ID: "p-shirt", Name: "Shirt", Price: decimal.NewFromInt(250), Stock: 3, Sizes: []string{"M", "L"}},
	"p-gone":  {ID: "p-gone", Name: "Sold out", Price: decimal.NewFromInt(10), Stock: 0},
}

// stubBackend is an in-memory stand-in for the commerce backend. It listens on
// all interfaces so the API container can reach it through the host gateway.
type stubBackend struct {
	srv *httptest.Server

	mu     sync.Mutex
	orders map[string]map[string]any
	seq    int
}

func startStubBackend() (*stubBackend, error) {
	ln, err := net.Listen("tcp", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	b := &stubBackend{orders: make(map[string]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeStub(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/auth/login", b.login)
	mux.HandleFunc("GET /api/products/{id}", b.product)
	mux.HandleFunc("POST /api/coupons/validate", b.validateCoupon)
	mux.HandleFunc("POST /api/orders", b.createOrder)
	mux.HandleFunc("GET /api/orders/myorders", b.myOrders)
	mux.HandleFunc("GET /api/orders/{id}", b.getOrder)

	b.srv = httptest.NewUnstartedServer(mux)
	_ = b.srv.Listener.Close()
	b.srv.Listener = ln
	b.srv.Start()
	return b, nil
}

func (b *stubBackend) Port() string {
	return strconv.Itoa(b.srv.Listener.Addr().(*net.TCPAddr).Port)
}

func (b *stubBackend) Close() { b.srv.Close() }

func writeStub(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func stubError(w http.ResponseWriter, status int, msg string) {
	writeStub(w, status, map[string]string{"message": msg})
}

func (b *stubBackend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		stubError(w, http.StatusBadRequest, "bad body")
		return
	}
	if req.Email != stubEmail || req.Password != stubPassword {
		stubError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u-shopper",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("stub"))
	if err != nil {
		stubError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeStub(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]string{
			"_id":   "u-shopper",
			"name":  "Shopper",
			"email": stubEmail,
			"role":  "customer",
		},
	})
}

func (b *stubBackend) product(w http.ResponseWriter, r *http.Request) {
	p, ok := stubProducts[r.PathValue("id")]
	if !ok {
		stubError(w, http.StatusNotFound, "Product not found")
		return
	}
	writeStub(w, http.StatusOK, p)
}

func (b *stubBackend) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string          `json:"code"`
		CartTotal decimal.Decimal `json:"cartTotal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		stubError(w, http.StatusBadRequest, "bad body")
		return
	}
	if !strings.EqualFold(req.Code, stubCoupon) {
		stubError(w, http.StatusBadRequest, "Invalid coupon code")
		return
	}
	if req.CartTotal.LessThan(decimal.NewFromInt(100)) {
		stubError(w, http.StatusBadRequest, "Minimum purchase amount is 100")
		return
	}
	writeStub(w, http.StatusOK, map[string]any{"code": stubCoupon, "discountPercentage": 10})
}

func (b *stubBackend) createOrder(w http.ResponseWriter, r *http.Request) {
	var o map[string]any
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		stubError(w, http.StatusBadRequest, "bad body")
		return
	}

	b.mu.Lock()
	b.seq++
	id := fmt.Sprintf("ord-%04d", b.seq)
	o["_id"] = id
	o["user"] = "u-shopper"
	o["status"] = "Processing"
	o["createdAt"] = time.Now().UTC().Format(time.RFC3339)
	b.orders[id] = o
	b.mu.Unlock()

	writeStub(w, http.StatusCreated, o)
}

func (b *stubBackend) myOrders(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	out := make([]map[string]any, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	b.mu.Unlock()
	writeStub(w, http.StatusOK, out)
}

func (b *stubBackend) getOrder(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	o, ok := b.orders[r.PathValue("id")]
	b.mu.Unlock()
	if !ok {
		stubError(w, http.StatusNotFound, "Order not found")
		return
	}
	writeStub(w, http.StatusOK, o)
}
