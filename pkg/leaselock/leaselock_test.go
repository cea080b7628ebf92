package leaselock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestOptionsWithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{
			name: "zero",
			want: Options{TTL: 5 * time.Minute, RenewEvery: 150 * time.Second, WaitInterval: time.Second},
		},
		{
			name: "renew not shorter than ttl",
			in:   Options{TTL: 10 * time.Second, RenewEvery: 10 * time.Second},
			want: Options{TTL: 10 * time.Second, RenewEvery: 5 * time.Second, WaitInterval: time.Second},
		},
		{
			name: "short ttl keeps one second renew",
			in:   Options{TTL: time.Second, WaitJitter: -1},
			want: Options{TTL: time.Second, RenewEvery: time.Second, WaitInterval: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.withDefaults(); got != tt.want {
				t.Fatalf("withDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type scanRow struct {
	err error
	key string
}

func (r scanRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

type fakeDB struct {
	acquired bool
	released int
}

func (f *fakeDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.released++
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if sql != tryAcquireSQL {
		return scanRow{key: args[0].(string)}
	}
	if f.acquired {
		return scanRow{err: pgx.ErrNoRows}
	}
	f.acquired = true
	return scanRow{key: args[0].(string)}
}

func TestWithLease(t *testing.T) {
	db := &fakeDB{}
	locker := New(db, Options{Holder: "worker-1"})

	ran := false
	err := locker.WithLease(context.Background(), "job:nightly", func(ctx context.Context) error {
		ran = true
		if _, err := locker.Acquire(ctx, "job:nightly"); !errors.Is(err, ErrBusy) {
			t.Errorf("second acquire = %v, want ErrBusy", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran || db.released != 1 {
		t.Fatalf("ran = %v, released = %d", ran, db.released)
	}
}

func TestAcquireEmptyKey(t *testing.T) {
	if _, err := New(&fakeDB{}, Options{}).Acquire(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
