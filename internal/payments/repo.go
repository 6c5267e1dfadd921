package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRecordNotFound = errors.New("payment record not found")

type Repo struct{ DB *pgxpool.Pool }

// Begin inserts a PROCESSING record for rec.OrderID unless one exists. It
// returns the stored record and whether this call created it.
func (r *Repo) Begin(ctx context.Context, rec Record) (Record, bool, error) {
	var out Record
	var cents int64
	var status string
	err := r.DB.QueryRow(ctx, `
		INSERT INTO payments(order_id, owner_id, amount_cents, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING order_id, owner_id, amount_cents, status, created_at, updated_at`,
		rec.OrderID, rec.OwnerID, orders.ToCents(rec.Amount), string(StatusProcessing),
	).Scan(&out.OrderID, &out.OwnerID, &cents, &status, &out.CreatedAt, &out.UpdatedAt)
	if err == nil {
		out.Amount, out.Status = orders.FromCents(cents), Status(status)
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, err
	}
	out, err = r.Get(ctx, rec.OrderID)
	return out, false, err
}

func (r *Repo) Get(ctx context.Context, orderID string) (Record, error) {
	var out Record
	var cents int64
	var status string
	err := r.DB.QueryRow(ctx, `
		SELECT order_id, owner_id, amount_cents, status, created_at, updated_at
		FROM payments WHERE order_id = $1`, orderID,
	).Scan(&out.OrderID, &out.OwnerID, &cents, &status, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, orderID)
	}
	if err != nil {
		return Record{}, err
	}
	out.Amount, out.Status = orders.FromCents(cents), Status(status)
	return out, nil
}

// Decide stores the outcome only while the record is still PROCESSING and
// returns whatever outcome ends up stored.
func (r *Repo) Decide(ctx context.Context, orderID string, st Status) (Status, error) {
	var stored string
	err := r.DB.QueryRow(ctx, `
		UPDATE payments SET status = $2, updated_at = now()
		WHERE order_id = $1 AND status = $3
		RETURNING status`, orderID, string(st), string(StatusProcessing),
	).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		rec, err := r.Get(ctx, orderID)
		if err != nil {
			return "", err
		}
		return rec.Status, nil
	}
	if err != nil {
		return "", err
	}
	return Status(stored), nil
}
