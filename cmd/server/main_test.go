package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/checkout"
	"github.com/iliamunaev/tap-checkout/internal/config"
	"github.com/iliamunaev/tap-checkout/internal/money"
)

const testConfig = `
log:
  level: error
reader:
  simulated:
    latency: 0s
`

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tapcheckout.yaml")
	if err := os.WriteFile(path, []byte(testConfig+extra), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.yaml")
	out, err := execute(t, "config", "init", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
}

func TestChargeCommand(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "")
	out, err := execute(t, "charge", "--config", path, "--amount", "1250")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	for _, want := range []string{"succeeded USD 12.50", "create", "collect", "confirm", "Payment succeeded"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestChargeStreamsStatus(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	var out bytes.Buffer
	if err := runCharge(context.Background(), cfg, zap.NewNop(), 900, &out); err != nil {
		t.Fatalf("charge: %v", err)
	}
	got := out.String()
	for _, want := range []string{"  > Ready\n", "  > Payment succeeded\n"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in output:\n%s", want, got)
		}
	}
	if strings.Index(got, "  > Ready") > strings.Index(got, "  > Payment succeeded") {
		t.Fatalf("expected status lines in order:\n%s", got)
	}
}

func TestChargeCommandOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantOut string
		wantErr bool
	}{
		{name: "below_minimum", args: []string{"--amount", "49"}, wantOut: "amount_too_small", wantErr: true},
		{name: "customer_cancel", args: []string{"--amount", "500", "--fail-step", "cancel"}, wantOut: "canceled USD 5.00"},
		{name: "confirm_fails", args: []string{"--amount", "500", "--fail-step", "confirm"}, wantOut: "failed USD 5.00", wantErr: true},
		{name: "bad_fail_step", args: []string{"--amount", "500", "--fail-step", "refund"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			args := append([]string{"charge", "--config", writeConfig(t, "")}, tt.args...)
			out, err := execute(t, args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v\n%s", tt.wantErr, err, out)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Fatalf("expected %q in output:\n%s", tt.wantOut, out)
			}
		})
	}
}

func TestChargeRequiresAmount(t *testing.T) {
	t.Parallel()

	if _, err := execute(t, "charge", "--config", writeConfig(t, "")); err == nil {
		t.Fatal("expected missing --amount to fail")
	}
}

func TestChargeNoReader(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Reader.Simulated.Readers = nil

	var out bytes.Buffer
	err = runCharge(context.Background(), cfg, zap.NewNop(), 500, &out)
	if err == nil || !strings.Contains(err.Error(), "No compatible reader found") {
		t.Fatalf("expected reader not ready error, got %v", err)
	}
}

func TestChargeErrorWrapsOutcome(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	err = runCharge(context.Background(), cfg, zap.NewNop(), money.MinimumCharge-1, io.Discard)
	if !errors.Is(err, money.ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}
	if !strings.Contains(err.Error(), string(checkout.AmountTooSmall)) {
		t.Fatalf("expected outcome in error, got %v", err)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestRunServe(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	cfg, err := config.Load(writeConfig(t, fmt.Sprintf("server:\n  addr: %q\n  max_conns: 4\n", addr)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, zap.NewNop()) }()

	base := "http://" + addr
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The reader is connected in the background at startup.
	for {
		resp, err := http.Post(base+"/checkout", "application/json", strings.NewReader(`{"amount_cents":1250}`))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		code := resp.StatusCode
		_ = resp.Body.Close()
		if code == http.StatusOK {
			break
		}
		if code != http.StatusServiceUnavailable && code != http.StatusConflict {
			t.Fatalf("unexpected status %d", code)
		}
		if time.Now().After(deadline) {
			t.Fatalf("checkout never succeeded, last status %d", code)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewServerTimeouts(t *testing.T) {
	t.Parallel()

	srv := newServer(config.ServerConfig{Addr: ":0", RequestTimeout: time.Minute}, http.NotFoundHandler())
	if srv.WriteTimeout <= time.Minute {
		t.Fatalf("expected write timeout above the request timeout, got %s", srv.WriteTimeout)
	}
	if srv.ReadHeaderTimeout == 0 {
		t.Fatal("expected a read header timeout")
	}
}
