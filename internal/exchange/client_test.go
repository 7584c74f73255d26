package exchange

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/pkg/types"
)

func newDryRunClient() *Client {
	logger := slog.New(slog.DiscardHandler)
	return &Client{
		dryRun: true,
		rl:     NewRateLimiter(),
		logger: logger,
	}
}

func TestDryRunCreateOrder(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()

	resp, err := c.CreateOrder(context.Background(), "tok1", types.BUY,
		decimal.NewFromFloat(0.50), decimal.NewFromInt(10), 2, false)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !resp.Success {
		t.Error("dry-run order should report success")
	}
	if resp.Status != "live" {
		t.Errorf("status = %q, want \"live\"", resp.Status)
	}
}

func TestDryRunCancels(t *testing.T) {
	t.Parallel()
	c := newDryRunClient()
	ctx := context.Background()

	if err := c.CancelAsset(ctx, "tok1"); err != nil {
		t.Errorf("CancelAsset: %v", err)
	}
	if err := c.CancelMarket(ctx, "0xmarket"); err != nil {
		t.Errorf("CancelMarket: %v", err)
	}
	if err := c.CancelAll(ctx); err != nil {
		t.Errorf("CancelAll: %v", err)
	}
}

func TestDryRunSkipsSigning(t *testing.T) {
	t.Parallel()
	// A dry-run client has no auth; mutating calls must not touch it.
	c := newDryRunClient()

	if _, err := c.CreateOrder(context.Background(), "tok1", types.SELL,
		decimal.NewFromFloat(0.60), decimal.NewFromInt(25), 3, true); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
}
