package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-gateway/internal/apperr"
	"github.com/xenking/storefront-gateway/internal/domain/product"
)

type productDTO struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Category string          `json:"category"`
	Images   []string        `json:"images"`
	Image    string          `json:"image"`
	Colors   []string        `json:"colors"`
	Sizes    []string        `json:"sizes"`
}

func (p productDTO) domain() product.Product {
	images := p.Images
	if len(images) == 0 && p.Image != "" {
		images = []string{p.Image}
	}
	return product.Product{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		Stock:    p.Stock,
		Category: p.Category,
		Images:   images,
		Colors:   p.Colors,
		Sizes:    p.Sizes,
	}
}

// Catalog reads products. It implements product.Catalog.
type Catalog struct{ c *Client }

// Catalog returns the product endpoints.
func (c *Client) Catalog() *Catalog { return &Catalog{c: c} }

// GetByID fetches a catalog product.
func (cat *Catalog) GetByID(ctx context.Context, id string) (*product.Product, error) {
	var dto productDTO
	if err := cat.c.call(ctx, "product.get", http.MethodGet, "/api/products/"+url.PathEscape(id), nil, &dto); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, errors.Wrap(product.ErrNotFound, id)
		}
		return nil, err
	}
	p := dto.domain()
	return &p, nil
}
