package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-gateway/internal/domain/cart"
)

const (
	loadCartSQL = `SELECT product_id, name, price, quantity, color, size, stock, image
		FROM cart_lines WHERE session_id = $1 ORDER BY position`

	deleteCartSQL = `DELETE FROM cart_lines WHERE session_id = $1`

	pruneCartsSQL = `DELETE FROM cart_lines WHERE session_id IN (
		SELECT session_id FROM cart_lines GROUP BY session_id HAVING max(updated_at) < $1)`
)

var cartColumns = []string{
	"session_id", "position", "product_id", "name", "price",
	"quantity", "color", "size", "stock", "image",
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. A cart is
// stored as one row per line; line order is kept in the position column.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Load returns the stored cart of the session, or an empty cart.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (*cart.Cart, error) {
	rows, err := r.pool.Query(ctx, loadCartSQL, sessionID)
	if err != nil {
		return nil, errors.Wrapf(err, "load cart %s", sessionID)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return nil, errors.Wrapf(err, "scan cart %s", sessionID)
	}
	return &cart.Cart{Lines: lines}, nil
}

// Save replaces the stored cart of the session in one transaction.
func (r *CartRepository) Save(ctx context.Context, sessionID string, c *cart.Cart) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteCartSQL, sessionID); err != nil {
			return errors.Wrapf(err, "clear cart %s", sessionID)
		}
		if c == nil || len(c.Lines) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"cart_lines"}, cartColumns,
			pgx.CopyFromSlice(len(c.Lines), func(i int) ([]any, error) {
				l := c.Lines[i]
				return []any{
					sessionID, i, l.ProductID, l.Name, l.UnitPrice,
					l.Quantity, l.Color, l.Size, l.Stock, l.Image,
				}, nil
			}))
		if err != nil {
			return errors.Wrapf(err, "write cart %s", sessionID)
		}
		return nil
	})
}

// Delete removes the stored cart of the session.
func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, sessionID); err != nil {
		return errors.Wrapf(err, "delete cart %s", sessionID)
	}
	return nil
}

// Prune removes carts untouched since before and returns the number of
// deleted lines.
func (r *CartRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, pruneCartsSQL, before)
	if err != nil {
		return 0, errors.Wrap(err, "prune carts")
	}
	return tag.RowsAffected(), nil
}

// Ping checks that the database is reachable.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(&l.ProductID, &l.Name, &l.UnitPrice, &l.Quantity, &l.Color, &l.Size, &l.Stock, &l.Image)
	return l, err
}
