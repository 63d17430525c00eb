package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"crowdfund/pkg/circuitbreaker"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}
	tests := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"json", fmt.Errorf("decode: %w", syntaxErr), false, "json_decode_error"},
		{"rejected", fmt.Errorf("transfer: %w", ErrGatewayRejected), false, "gateway_rejected"},
		{"breaker", circuitbreaker.ErrCircuitBreakerOpen, true, "circuit_open"},
		{"no rows", pgx.ErrNoRows, false, "not_found"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"connection", errors.New("connection refused"), true, "connection_error"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryable, kind := IsRetryableError(tt.err)
			if retryable != tt.retryable || kind != tt.kind {
				t.Fatalf("got (%v, %q), want (%v, %q)", retryable, kind, tt.retryable, tt.kind)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	if ShouldRetry(1, 3, false) {
		t.Fatal("non-retryable errors must not retry")
	}
	if !ShouldRetry(3, 3, true) {
		t.Fatal("retry count at the limit should still retry")
	}
	if ShouldRetry(4, 3, true) {
		t.Fatal("retry count above the limit must stop")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("GCREATOR", "admin", "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.Subject != "GCREATOR" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := ParseJWT(token, "other"); err == nil {
		t.Fatal("expected signature failure with wrong secret")
	}
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if ExtractToken(r) != "" {
		t.Fatal("expected empty token without header")
	}
	r.Header.Set("Authorization", "Bearer abc")
	if got := ExtractToken(r); got != "abc" {
		t.Fatalf("got %q", got)
	}
	r.Header.Set("Authorization", "Basic abc")
	if ExtractToken(r) != "" {
		t.Fatal("expected non-bearer scheme to be ignored")
	}
}

func TestFormatRetryKey(t *testing.T) {
	if got := FormatRetryKey("refund", "42"); got != "retry:refund:42" {
		t.Fatalf("got %q", got)
	}
}
