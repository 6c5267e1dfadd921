package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-saga/internal/customers"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) GetByID(ctx context.Context, id string) (customers.Customer, error) {
	var c customers.Customer
	err := r.DB.QueryRow(ctx, `SELECT id, name, surname, email FROM users WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Surname, &c.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return customers.Customer{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return c, err
}

// GetByIDs returns the users that exist; unknown ids are left out.
func (r *Repo) GetByIDs(ctx context.Context, ids []string) ([]customers.Customer, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, name, surname, email FROM users WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]customers.Customer, 0, len(ids))
	for rows.Next() {
		var c customers.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Surname, &c.Email); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
