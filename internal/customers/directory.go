package customers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrCustomerNotFound = errors.New("customer not found")

// HTTPDirectory talks to the user service.
type HTTPDirectory struct {
	BaseURL string
	Client  *http.Client
}

func (d *HTTPDirectory) GetByID(ctx context.Context, id string) (Customer, error) {
	var c Customer
	err := d.get(ctx, "/users/"+url.PathEscape(id), &c)
	return c, err
}

func (d *HTTPDirectory) GetByIDs(ctx context.Context, ids []string) ([]Customer, error) {
	var cs []Customer
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	err := d.get(ctx, "/users?"+q.Encode(), &cs)
	return cs, err
}

func (d *HTTPDirectory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(d.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrCustomerNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("directory %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("directory %s: decode: %w", path, err)
	}
	return nil
}
