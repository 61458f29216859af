package repo

import (
	"context"
	"errors"
	"testing"

	"zaiko-bot/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubStore struct {
	Store
	err error
}

func (s stubStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &UserState{UserID: userID}, nil
}

func TestInstrumentedStoreCountsRequests(t *testing.T) {
	m := metrics.Registry("zaiko_test")

	okBefore := testutil.ToFloat64(m.StoreRequests.WithLabelValues("get_user_state", "ok"))
	store := NewInstrumented(stubStore{}, m)
	if _, err := store.GetUserState(context.Background(), "U1"); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.StoreRequests.WithLabelValues("get_user_state", "ok")); got != okBefore+1 {
		t.Fatalf("ok count = %v, want %v", got, okBefore+1)
	}

	errBefore := testutil.ToFloat64(m.StoreRequests.WithLabelValues("get_user_state", "error"))
	failing := NewInstrumented(stubStore{err: errors.New("store down")}, m)
	if _, err := failing.GetUserState(context.Background(), "U1"); err == nil {
		t.Fatal("expected error from failing store")
	}
	if got := testutil.ToFloat64(m.StoreRequests.WithLabelValues("get_user_state", "error")); got != errBefore+1 {
		t.Fatalf("error count = %v, want %v", got, errBefore+1)
	}
}
