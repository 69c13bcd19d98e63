package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-display/internal/domain"
)

func TestExchangePIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/kitchen/session", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rest-1", body["restaurantId"])
		assert.Equal(t, "123456", body["pin"])
		json.NewEncoder(w).Encode(map[string]any{"idToken": "t1", "expiresIn": 3600})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	sess, err := c.ExchangePIN(context.Background(), "rest-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, "t1", sess.IDToken)
	assert.Equal(t, 3600, sess.ExpiresIn)
}

func TestFetchOrders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin/orders", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"orders": []map[string]any{
			{"orderId": "o1", "status": "new", "orderType": "pickup", "createdAt": 1700000000000},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	orders, err := c.FetchOrders(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].OrderID)
	assert.Equal(t, domain.StatusNew, orders[0].Status)
}

func TestPatchOrder(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/admin/order/o1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	at := time.UnixMilli(1700000000000)
	require.NoError(t, c.PatchOrder(context.Background(), "tok", "o1", domain.StatusPreparing, &at))
	assert.Equal(t, "preparing", got["status"])
	assert.Equal(t, float64(1700000000000), got["acceptedAt"])
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusInternalServerError, ErrNetwork},
		{http.StatusBadGateway, ErrNetwork},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := New(srv.URL, time.Second)
		_, err := c.FetchOrders(context.Background(), "tok")
		assert.ErrorIs(t, err, tc.want, tc.status)
		srv.Close()
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := New(srv.URL, time.Second)
	_, err := c.FetchOrders(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestTeardownCancelsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.FetchOrders(ctx, "tok")
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("request was not cancelled")
	}
}
