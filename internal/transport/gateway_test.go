package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGatewaySendSuccess(t *testing.T) {
	var gotAuth string
	var gotReq sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "secret", 5*time.Second)
	if err := c.Send(context.Background(), "60123456789", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if gotReq.Phone != "60123456789" || gotReq.Body != "hello" {
		t.Errorf("unexpected request: %+v", gotReq)
	}
}

func TestGatewaySendClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(errorResponse{Error: "nope"})
		}))

		c := NewGatewayClient(srv.URL, "k", 5*time.Second)
		err := c.Send(context.Background(), "60123", "hi")
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if got := IsPermanent(err); got != tc.permanent {
			t.Errorf("status %d: IsPermanent = %v, want %v", tc.status, got, tc.permanent)
		}
		var se *SendError
		if !errors.As(err, &se) || se.Phone != "60123" {
			t.Errorf("status %d: error should carry the phone, got %v", tc.status, err)
		}
	}
}

func TestGatewaySendNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewGatewayClient(srv.URL, "k", time.Second)
	err := c.Send(context.Background(), "60123", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Error("network failure must be transient")
	}
}

func TestIsPermanentOnPlainError(t *testing.T) {
	if IsPermanent(errors.New("boom")) {
		t.Error("unclassified errors default to transient")
	}
}
