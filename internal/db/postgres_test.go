package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestInitPostgresSkipsWithoutURL(t *testing.T) {
	t.Cleanup(func() { Pool = nil })

	InitPostgres(context.Background(), "")
	if Pool != nil {
		t.Fatal("pool must stay nil without a database url")
	}
}

func TestInitPostgresConnects(t *testing.T) {
	origNew := newPool
	origPing := pingPool
	t.Cleanup(func() {
		newPool = origNew
		pingPool = origPing
		Pool = nil
	})

	var capturedURL string
	stub := &pgxpool.Pool{}
	newPool = func(_ context.Context, url string) (*pgxpool.Pool, error) {
		capturedURL = url
		return stub, nil
	}
	pingPool = func(context.Context, *pgxpool.Pool) error { return nil }

	InitPostgres(context.Background(), "postgres://example/qval")
	if capturedURL != "postgres://example/qval" {
		t.Fatalf("unexpected url: %s", capturedURL)
	}
	if Pool != stub {
		t.Fatal("pool not assigned")
	}
}
