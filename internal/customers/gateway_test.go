package customers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-saga/internal/breaker"
	"github.com/ariefcatur/go-order-saga/internal/logging"
)

type fakeDirectory struct {
	users      map[string]Customer
	err        error
	delay      time.Duration
	oneCalls   atomic.Int32
	batchCalls atomic.Int32
}

func (d *fakeDirectory) GetByID(ctx context.Context, id string) (Customer, error) {
	d.oneCalls.Add(1)
	if err := d.wait(ctx); err != nil {
		return Customer{}, err
	}
	c, ok := d.users[id]
	if !ok {
		return Customer{}, ErrCustomerNotFound
	}
	return c, nil
}

func (d *fakeDirectory) GetByIDs(ctx context.Context, ids []string) ([]Customer, error) {
	d.batchCalls.Add(1)
	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	var out []Customer
	for _, id := range ids {
		if c, ok := d.users[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) wait(ctx context.Context) error {
	if d.err != nil {
		return d.err
	}
	if d.delay == 0 {
		return nil
	}
	select {
	case <-time.After(d.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newGateway(dir Directory) *Gateway {
	return &Gateway{
		Directory: dir,
		Breaker:   breaker.New("directory", breaker.Settings{FailureThreshold: 2, OpenTimeout: time.Minute}),
		Timeout:   50 * time.Millisecond,
		Log:       logging.Discard(),
	}
}

var ada = Customer{ID: "1", Name: "Ada", Surname: "Lovelace", Email: "ada@example.com"}

func TestLookupOneResolves(t *testing.T) {
	g := newGateway(&fakeDirectory{users: map[string]Customer{"1": ada}})
	info := g.LookupOne(context.Background(), "1")
	if !info.Available() || info.Name != "Ada" || info.Email != "ada@example.com" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestLookupOneUnknownUser(t *testing.T) {
	g := newGateway(&fakeDirectory{users: map[string]Customer{}})
	for i := 0; i < 5; i++ {
		if info := g.LookupOne(context.Background(), "42"); info.ErrorMessage != MsgNotFound {
			t.Fatalf("errorMessage = %q", info.ErrorMessage)
		}
	}
	if g.Breaker.State() != breaker.Closed {
		t.Fatal("unknown users must not trip the breaker")
	}
}

func TestLookupOneFallsBack(t *testing.T) {
	t.Run("upstream error", func(t *testing.T) {
		g := newGateway(&fakeDirectory{err: errors.New("connection refused")})
		info := g.LookupOne(context.Background(), "1")
		if info.ErrorMessage != MsgUnavailable {
			t.Fatalf("errorMessage = %q", info.ErrorMessage)
		}
		if info.Name != "" || info.Surname != "" || info.Email != "" {
			t.Fatalf("placeholder must not carry customer fields: %+v", info)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		g := newGateway(&fakeDirectory{users: map[string]Customer{"1": ada}, delay: time.Second})
		start := time.Now()
		info := g.LookupOne(context.Background(), "1")
		if info.Available() {
			t.Fatalf("expected placeholder, got %+v", info)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Fatal("lookup was not bounded by the timeout")
		}
	})

	t.Run("open breaker skips upstream", func(t *testing.T) {
		dir := &fakeDirectory{err: errors.New("503")}
		g := newGateway(dir)
		g.LookupOne(context.Background(), "1")
		g.LookupOne(context.Background(), "1")
		if g.Breaker.State() != breaker.Open {
			t.Fatalf("breaker state = %v", g.Breaker.State())
		}
		before := dir.oneCalls.Load()
		info := g.LookupOne(context.Background(), "1")
		if info.ErrorMessage != MsgUnavailable {
			t.Fatalf("errorMessage = %q", info.ErrorMessage)
		}
		if dir.oneCalls.Load() != before {
			t.Fatal("open breaker let a call through")
		}
	})
}

func TestLookupBatchSingleUpstreamCall(t *testing.T) {
	dir := &fakeDirectory{users: map[string]Customer{
		"1": ada,
		"2": {ID: "2", Name: "Alan", Surname: "Turing", Email: "alan@example.com"},
	}}
	g := newGateway(dir)

	got := g.LookupBatch(context.Background(), []string{"1", "2", "1", "3"})
	if n := dir.batchCalls.Load(); n != 1 {
		t.Fatalf("batch calls = %d, want 1", n)
	}
	if dir.oneCalls.Load() != 0 {
		t.Fatal("batch lookup must not fan out to single lookups")
	}
	if got["1"].Name != "Ada" || got["2"].Name != "Alan" {
		t.Fatalf("unexpected result %+v", got)
	}
	if got["3"].ErrorMessage != MsgNotFound {
		t.Fatalf("missing id should get not-found placeholder, got %+v", got["3"])
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
}

func TestLookupBatchFailureIsAllOrNothing(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("boom")}
	g := newGateway(dir)

	got := g.LookupBatch(context.Background(), []string{"1", "2"})
	if dir.batchCalls.Load() != 1 {
		t.Fatalf("batch calls = %d", dir.batchCalls.Load())
	}
	for _, id := range []string{"1", "2"} {
		if got[id].ErrorMessage != MsgUnavailable {
			t.Fatalf("id %s: %+v", id, got[id])
		}
	}
}

func TestLookupBatchEmpty(t *testing.T) {
	dir := &fakeDirectory{}
	got := newGateway(dir).LookupBatch(context.Background(), nil)
	if len(got) != 0 || dir.batchCalls.Load() != 0 {
		t.Fatal("empty batch must not call upstream")
	}
}

func TestHTTPDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users/1":
			_ = json.NewEncoder(w).Encode(ada)
		case r.URL.Path == "/users" && r.URL.Query().Get("ids") == "1,2":
			_ = json.NewEncoder(w).Encode([]Customer{ada})
		case r.URL.Path == "/users/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := &HTTPDirectory{BaseURL: srv.URL + "/", Client: srv.Client()}
	ctx := context.Background()

	c, err := d.GetByID(ctx, "1")
	if err != nil || c.Email != ada.Email {
		t.Fatalf("GetByID = %+v, %v", c, err)
	}
	cs, err := d.GetByIDs(ctx, []string{"1", "2"})
	if err != nil || len(cs) != 1 {
		t.Fatalf("GetByIDs = %+v, %v", cs, err)
	}
	if _, err := d.GetByID(ctx, "9"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("want ErrCustomerNotFound, got %v", err)
	}
	if _, err := d.GetByID(ctx, "500"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestFallbackLogNamesBreaker(t *testing.T) {
	var buf bytes.Buffer
	g := newGateway(&fakeDirectory{err: errors.New("connection refused")})
	g.Log = slog.New(slog.NewJSONHandler(&buf, nil))

	g.LookupOne(context.Background(), "1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if rec["breaker"] != g.Breaker.Name() || rec["breaker"] != "directory" {
		t.Fatalf("breaker attr = %v", rec["breaker"])
	}
}
