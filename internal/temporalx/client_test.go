package temporalx

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/withdrawal-aggregator/internal/config"
)

func TestClampBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, time.Second},
		{10, 2 * time.Second},
	}
	for _, c := range cases {
		if got := clampBackoff(250*time.Millisecond, 2*time.Second, c.attempt); got != c.want {
			t.Fatalf("attempt %d: got %s want %s", c.attempt, got, c.want)
		}
	}
}

func TestIsRetryableRPC(t *testing.T) {
	if !isRetryableRPC(status.Error(codes.Unavailable, "down")) {
		t.Fatalf("unavailable should retry")
	}
	if isRetryableRPC(status.Error(codes.PermissionDenied, "no")) {
		t.Fatalf("permission denied should not retry")
	}
	if !isRetryableRPC(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should retry")
	}
	if isRetryableRPC(errors.New("plain")) {
		t.Fatalf("plain error should not retry")
	}
}

func TestFromConfig_Defaults(t *testing.T) {
	c := FromConfig(config.TemporalConfig{Address: " localhost:7233 "}, "")
	if c.Address != "localhost:7233" {
		t.Fatalf("address not trimmed: %q", c.Address)
	}
	if c.Namespace != "withdrawal-aggregator" || c.TaskQueue != "withdrawal-aggregator" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.mtls() {
		t.Fatalf("mtls should be off without cert paths")
	}
}

func TestNewClient_RequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
