package ethereum

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"TradeFleet-Chain/internal/exchange"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type stubCaller struct {
	outputs map[string][]byte
	abi     abi.ABI
}

func (s *stubCaller) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	method, err := s.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	return s.outputs[method.Name], nil
}

func newTestClient(t *testing.T, outputs map[string][]byte) (*Client, abi.ABI) {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(orderbookABI))
	if err != nil {
		t.Fatalf("failed to parse abi: %v", err)
	}
	return &Client{
		name:      "test",
		caller:    &stubCaller{outputs: outputs, abi: parsed},
		contract:  common.HexToAddress("0x1"),
		parsedABI: parsed,
	}, parsed
}

func TestFetchMarketSnapshot(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(orderbookABI))
	if err != nil {
		t.Fatalf("failed to parse abi: %v", err)
	}

	bid, err := parsed.Methods["bestBid"].Outputs.Pack(floatToScaled(99.5))
	if err != nil {
		t.Fatalf("failed to pack bid: %v", err)
	}
	ask, err := parsed.Methods["bestAsk"].Outputs.Pack(floatToScaled(100.5))
	if err != nil {
		t.Fatalf("failed to pack ask: %v", err)
	}

	client, _ := newTestClient(t, map[string][]byte{"bestBid": bid, "bestAsk": ask})

	snapshot, err := client.FetchMarketSnapshot(context.Background(), "INJ/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.BestBid != 99.5 || snapshot.BestAsk != 100.5 {
		t.Fatalf("unexpected top of book: %+v", snapshot)
	}
	if snapshot.MidPrice() != 100 {
		t.Fatalf("unexpected mid price: %v", snapshot.MidPrice())
	}
	if snapshot.Spread() != 1 {
		t.Fatalf("unexpected spread: %v", snapshot.Spread())
	}
}

func TestFetchMarketSnapshotRequiresMarketID(t *testing.T) {
	client, _ := newTestClient(t, nil)
	if _, err := client.FetchMarketSnapshot(context.Background(), "  "); err == nil {
		t.Fatalf("expected error when market id is empty")
	}
}

func TestFetchMarketHistory(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(orderbookABI))
	if err != nil {
		t.Fatalf("failed to parse abi: %v", err)
	}

	output, err := parsed.Methods["recentCandles"].Outputs.Pack(
		[]uint64{1700000000, 1700000060},
		[]*big.Int{floatToScaled(10), floatToScaled(11)},
		[]*big.Int{floatToScaled(12), floatToScaled(13)},
		[]*big.Int{floatToScaled(9), floatToScaled(10)},
		[]*big.Int{floatToScaled(11), floatToScaled(12)},
		[]*big.Int{floatToScaled(100), floatToScaled(200)},
	)
	if err != nil {
		t.Fatalf("failed to pack candles: %v", err)
	}

	client, _ := newTestClient(t, map[string][]byte{"recentCandles": output})

	from := time.Unix(1700000000, 0)
	to := from.Add(2 * time.Minute)
	candles, err := client.FetchMarketHistory(context.Background(), "INJ/USDT", from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("unexpected candle count: %d", len(candles))
	}
	if candles[1].Close != 12 || candles[1].Volume != 200 {
		t.Fatalf("unexpected candle: %+v", candles[1])
	}
}

func TestFetchMarketHistoryRejectsInvalidRange(t *testing.T) {
	client, _ := newTestClient(t, nil)
	now := time.Now()
	if _, err := client.FetchMarketHistory(context.Background(), "INJ/USDT", now, now); err == nil {
		t.Fatalf("expected error for empty time range")
	}
}

func TestSubmitOrderRequiresSigner(t *testing.T) {
	client, _ := newTestClient(t, nil)
	client.backend = nil
	if _, err := client.SubmitOrder(context.Background(), exchange.OrderRequest{}); err == nil {
		t.Fatalf("expected error when backend is missing")
	}
}

func TestSideValue(t *testing.T) {
	if v, err := sideValue(exchange.SideBuy); err != nil || v != 0 {
		t.Fatalf("unexpected buy value: %d %v", v, err)
	}
	if v, err := sideValue(exchange.SideSell); err != nil || v != 1 {
		t.Fatalf("unexpected sell value: %d %v", v, err)
	}
	if _, err := sideValue(exchange.Side("hold")); err == nil {
		t.Fatalf("expected error for unknown side")
	}
}

func TestScaledRoundTrip(t *testing.T) {
	for _, value := range []float64{0, 1, 42.5, 0.000001} {
		if got := scaledToFloat(floatToScaled(value)); got != value {
			t.Fatalf("round trip mismatch: %v != %v", got, value)
		}
	}
}
