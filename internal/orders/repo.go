package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ListFilter narrows ListOrders. Empty fields do not filter.
type ListFilter struct {
	IDs      []string
	Statuses []Status
	OwnerID  string
}

// Repo persists orders and reads the item catalog.
type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func ToCents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }

func FromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

func (r *Repo) FindItems(ctx context.Context, ids []string) (map[string]Item, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, price_cents FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Item, len(ids))
	for rows.Next() {
		var (
			it    Item
			cents int64
		)
		if err := rows.Scan(&it.ID, &it.Name, &cents); err != nil {
			return nil, err
		}
		it.Price = FromCents(cents)
		out[it.ID] = it
	}
	return out, rows.Err()
}

// Create inserts the order and its lines in one transaction.
func (r *Repo) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, owner_id, status)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`,
		o.ID, o.OwnerID, string(o.Status),
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}
	if err := insertLines(ctx, tx, o.ID, o.Lines); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	return loadOrder(ctx, r.DB, id, false)
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Order, error) {
	q := `SELECT id, owner_id, status, created_at, updated_at FROM orders WHERE TRUE`
	var args []any
	if len(f.IDs) > 0 {
		args = append(args, f.IDs)
		q += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			ss = append(ss, string(s))
		}
		args = append(args, ss)
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		q += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	idx := make(map[string]int, len(out))
	for i, o := range out {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	lines, err := loadLines(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for id, ls := range lines {
		out[idx[id]].Lines = ls
	}
	return out, nil
}

// Update loads the order FOR UPDATE, applies fn and writes the result back,
// all inside one transaction. An error from fn rolls everything back.
func (r *Repo) Update(ctx context.Context, id string, fn func(o *Order) error) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := loadOrder(ctx, tx, id, true)
	if err != nil {
		return Order{}, err
	}
	before := o.Status
	if err := fn(&o); err != nil {
		return Order{}, err
	}
	if o.Status == before && !o.LinesReplaced() {
		return o, nil
	}

	if err := tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`, o.ID, string(o.Status)).Scan(&o.UpdatedAt); err != nil {
		return Order{}, err
	}
	if o.LinesReplaced() {
		if _, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, o.ID); err != nil {
			return Order{}, err
		}
		if err := insertLines(ctx, tx, o.ID, o.Lines); err != nil {
			return Order{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	o.linesReplaced = false
	return o, nil
}

// Delete removes the order; lines go with it (ON DELETE CASCADE).
func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, id string, lock bool) (Order, error) {
	sql := `SELECT id, owner_id, status, created_at, updated_at FROM orders WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return Order{}, err
	}
	lines, err := loadLines(ctx, q, []string{id})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[id]
	return o, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.OwnerID, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func loadLines(ctx context.Context, q querier, orderIDs []string) (map[string][]OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT order_id, item_id, item_name, price_cents, qty
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]OrderLine, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			l       OrderLine
			cents   int64
		)
		if err := rows.Scan(&orderID, &l.ItemID, &l.ItemName, &cents, &l.Quantity); err != nil {
			return nil, err
		}
		l.UnitPrice = FromCents(cents)
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}

func insertLines(ctx context.Context, q querier, orderID string, lines []OrderLine) error {
	for i, l := range lines {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_lines(order_id, position, item_id, item_name, price_cents, qty)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, i, l.ItemID, l.ItemName, ToCents(l.UnitPrice), l.Quantity,
		); err != nil {
			return err
		}
	}
	return nil
}
