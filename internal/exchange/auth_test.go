package exchange

import (
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"updown-mm/internal/config"
	"updown-mm/pkg/types"
)

// testAuth builds an Auth from a throwaway key with a pinned clock.
func testAuth(t *testing.T) *Auth {
	t.Helper()

	cfg := config.Config{
		Wallet: config.WalletConfig{
			PrivateKey: "0x0000000000000000000000000000000000000000000000000000000000000001",
			ChainID:    137,
		},
		API: config.APIConfig{
			ApiKey:     "test-key",
			Secret:     base64.URLEncoding.EncodeToString([]byte("test-secret")),
			Passphrase: "test-pass",
		},
	}

	clock := types.FixedClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	a, err := NewAuth(cfg, clock)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	return a
}

func TestNewAuthDerivesAddress(t *testing.T) {
	t.Parallel()

	a := testAuth(t)
	if a.Address().Hex() == "" {
		t.Fatal("address should be derived from private key")
	}
	// No funder configured → funder falls back to the EOA.
	if a.FunderAddress() != a.Address() {
		t.Errorf("funder = %s, want EOA %s", a.FunderAddress().Hex(), a.Address().Hex())
	}
	if !a.HasL2Credentials() {
		t.Error("configured triplet should count as L2 credentials")
	}
}

func TestL2HeadersDeterministic(t *testing.T) {
	t.Parallel()

	a := testAuth(t)

	h1, err := a.L2Headers("POST", "/order", `{"x":1}`)
	if err != nil {
		t.Fatalf("L2Headers: %v", err)
	}
	h2, err := a.L2Headers("POST", "/order", `{"x":1}`)
	if err != nil {
		t.Fatalf("L2Headers: %v", err)
	}

	for _, key := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_API_KEY", "POLY_PASSPHRASE"} {
		if h1[key] == "" {
			t.Errorf("header %s is empty", key)
		}
	}
	// Pinned clock → identical timestamp → identical HMAC.
	if h1["POLY_SIGNATURE"] != h2["POLY_SIGNATURE"] {
		t.Error("same input under a pinned clock should produce the same signature")
	}

	h3, err := a.L2Headers("POST", "/order", `{"x":2}`)
	if err != nil {
		t.Fatalf("L2Headers: %v", err)
	}
	if h1["POLY_SIGNATURE"] == h3["POLY_SIGNATURE"] {
		t.Error("different body must change the signature")
	}
}

func TestL1HeadersSignature(t *testing.T) {
	t.Parallel()

	a := testAuth(t)
	h, err := a.L1Headers(0)
	if err != nil {
		t.Fatalf("L1Headers: %v", err)
	}
	sig := h["POLY_SIGNATURE"]
	if len(sig) < 4 || sig[:2] != "0x" {
		t.Errorf("signature %q should be 0x-prefixed hex", sig)
	}
	if h["POLY_NONCE"] != "0" {
		t.Errorf("nonce = %q, want \"0\"", h["POLY_NONCE"])
	}
}

func TestPriceToAmounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		price    float64
		size     float64
		side     types.Side
		tickSize types.TickSize
		wantMkr  int64 // expected makerAmount (6 decimal USDC)
		wantTkr  int64 // expected takerAmount (6 decimal USDC)
	}{
		{
			name:     "BUY at 0.50, size 100",
			price:    0.50,
			size:     100.0,
			side:     types.BUY,
			tickSize: types.Tick001,
			wantMkr:  50_000_000,  // 100 * 0.50 = 50 USDC
			wantTkr:  100_000_000, // 100 tokens
		},
		{
			name:     "SELL at 0.50, size 100",
			price:    0.50,
			size:     100.0,
			side:     types.SELL,
			tickSize: types.Tick001,
			wantMkr:  100_000_000, // 100 tokens
			wantTkr:  50_000_000,  // 100 * 0.50 = 50 USDC
		},
		{
			name:     "BUY at 0.75, size 10",
			price:    0.75,
			size:     10.0,
			side:     types.BUY,
			tickSize: types.Tick001,
			wantMkr:  7_500_000,  // 10 * 0.75 = 7.5 USDC
			wantTkr:  10_000_000, // 10 tokens
		},
		{
			name:     "BUY small size truncated",
			price:    0.55,
			size:     1.999, // truncated to 1.99
			side:     types.BUY,
			tickSize: types.Tick001,
			wantMkr:  1_094_500, // 1.99 * 0.55 floored at 4dp = 1.0945
			wantTkr:  1_990_000, // 1.99 tokens
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mkr, tkr := PriceToAmounts(tt.price, tt.size, tt.side, tt.tickSize)

			if mkr.Cmp(big.NewInt(tt.wantMkr)) != 0 {
				t.Errorf("makerAmount = %s, want %d", mkr.String(), tt.wantMkr)
			}
			if tkr.Cmp(big.NewInt(tt.wantTkr)) != 0 {
				t.Errorf("takerAmount = %s, want %d", tkr.String(), tt.wantTkr)
			}
		})
	}
}

func TestPriceToAmountsSellMirrorsBuy(t *testing.T) {
	t.Parallel()

	// For the same price/size, BUY's maker == SELL's taker (tokens)
	// and BUY's taker == SELL's maker (USDC)
	buyMkr, buyTkr := PriceToAmounts(0.60, 50.0, types.BUY, types.Tick001)
	sellMkr, sellTkr := PriceToAmounts(0.60, 50.0, types.SELL, types.Tick001)

	if buyMkr.Cmp(sellTkr) != 0 {
		t.Errorf("BUY maker (%s) != SELL taker (%s)", buyMkr, sellTkr)
	}
	if buyTkr.Cmp(sellMkr) != 0 {
		t.Errorf("BUY taker (%s) != SELL maker (%s)", buyTkr, sellMkr)
	}
}

func TestFormatPriceAndSize(t *testing.T) {
	t.Parallel()

	if got := FormatPrice(0.48, types.Tick001); got != "0.48" {
		t.Errorf("FormatPrice(0.48) = %q", got)
	}
	if got := FormatPrice(0.4812, types.Tick0001); got != "0.481" {
		t.Errorf("FormatPrice(0.4812, 3dp) = %q", got)
	}
	if got := FormatSize(10.999); got != "10.99" {
		t.Errorf("FormatSize(10.999) = %q, want floor to 2dp", got)
	}
	if got := FormatSize(10); got != "10" {
		t.Errorf("FormatSize(10) = %q", got)
	}
}
