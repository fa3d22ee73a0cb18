package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"TradeFleet-Chain/internal/exchange"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// orderbookABI describes the on-chain orderbook contract surface used by the
// trading agents. Prices and quantities are fixed-point values scaled by 1e18.
const orderbookABI = `[
  {"type":"function","name":"bestBid","stateMutability":"view","inputs":[{"name":"marketId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"bestAsk","stateMutability":"view","inputs":[{"name":"marketId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"recentCandles","stateMutability":"view","inputs":[{"name":"marketId","type":"bytes32"},{"name":"fromTs","type":"uint64"},{"name":"toTs","type":"uint64"}],"outputs":[{"name":"timestamps","type":"uint64[]"},{"name":"opens","type":"uint256[]"},{"name":"highs","type":"uint256[]"},{"name":"lows","type":"uint256[]"},{"name":"closes","type":"uint256[]"},{"name":"volumes","type":"uint256[]"}]},
  {"type":"function","name":"placeOrder","stateMutability":"nonpayable","inputs":[{"name":"marketId","type":"bytes32"},{"name":"side","type":"uint8"},{"name":"price","type":"uint256"},{"name":"quantity","type":"uint256"}],"outputs":[{"name":"orderId","type":"bytes32"}]},
  {"type":"function","name":"cancelOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[]}
]`

// Config describes how to construct an EVM compatible exchange client.
type Config struct {
	Name            string
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	Notes           string
}

// contractCaller mirrors the subset of backend methods needed for view calls.
type contractCaller interface {
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements the exchange.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	caller    contractCaller
	backend   bind.ContractBackend
	contract  common.Address
	parsedABI abi.ABI
	auth      *bind.TransactOpts
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	contractAddr := strings.TrimSpace(cfg.ContractAddress)
	if contractAddr == "" {
		return nil, errors.New("未配置交易所合约地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(orderbookABI))
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("解析合约 ABI 失败: %w", err)
	}

	client := &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		caller:    eth,
		backend:   eth,
		contract:  common.HexToAddress(contractAddr),
		parsedABI: parsed,
		chainID:   chainID,
	}

	if key := strings.TrimSpace(cfg.PrivateKey); key != "" {
		auth, err := newKeyedTransactor(key, chainID)
		if err != nil {
			rpcClient.Close()
			return nil, err
		}
		client.auth = auth
	}

	return client, nil
}

func newKeyedTransactor(privateKeyHex string, chainID *big.Int) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析交易私钥失败: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("构建交易签名器失败: %w", err)
	}
	return auth, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (exchange.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return exchange.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return exchange.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return exchange.ChainSnapshot{
		ChainID:     toHexBig(c.chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// FetchMarketSnapshot reads the top of book for a market from the contract.
func (c *Client) FetchMarketSnapshot(ctx context.Context, marketID string) (exchange.MarketSnapshot, error) {
	if c == nil || c.caller == nil {
		return exchange.MarketSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	marketID = strings.TrimSpace(marketID)
	if marketID == "" {
		return exchange.MarketSnapshot{}, errors.New("市场 ID 不能为空")
	}

	key := marketKey(marketID)
	bid, err := c.callUint(ctx, "bestBid", key)
	if err != nil {
		return exchange.MarketSnapshot{}, fmt.Errorf("查询最优买价失败: %w", err)
	}
	ask, err := c.callUint(ctx, "bestAsk", key)
	if err != nil {
		return exchange.MarketSnapshot{}, fmt.Errorf("查询最优卖价失败: %w", err)
	}

	return exchange.MarketSnapshot{
		MarketID:   marketID,
		BestBid:    scaledToFloat(bid),
		BestAsk:    scaledToFloat(ask),
		ObservedAt: time.Now(),
	}, nil
}

// FetchMarketHistory reads recent candles for a market from the contract.
func (c *Client) FetchMarketHistory(ctx context.Context, marketID string, from, to time.Time) ([]exchange.Candle, error) {
	if c == nil || c.caller == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if !to.After(from) {
		return nil, errors.New("历史数据的时间范围无效")
	}

	input, err := c.parsedABI.Pack("recentCandles", marketKey(marketID), uint64(from.Unix()), uint64(to.Unix()))
	if err != nil {
		return nil, fmt.Errorf("编码历史数据请求失败: %w", err)
	}
	output, err := c.caller.CallContract(ctx, gethcore.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("查询历史数据失败: %w", err)
	}

	values, err := c.parsedABI.Unpack("recentCandles", output)
	if err != nil {
		return nil, fmt.Errorf("解析历史数据失败: %w", err)
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("历史数据字段数量异常: %d", len(values))
	}

	timestamps, ok := values[0].([]uint64)
	if !ok {
		return nil, errors.New("历史数据时间戳格式异常")
	}
	columns := make([][]*big.Int, 5)
	for i := 0; i < 5; i++ {
		column, ok := values[i+1].([]*big.Int)
		if !ok || len(column) != len(timestamps) {
			return nil, errors.New("历史数据列长度不一致")
		}
		columns[i] = column
	}

	candles := make([]exchange.Candle, len(timestamps))
	for i, ts := range timestamps {
		candles[i] = exchange.Candle{
			Timestamp: int64(ts),
			Open:      scaledToFloat(columns[0][i]),
			High:      scaledToFloat(columns[1][i]),
			Low:       scaledToFloat(columns[2][i]),
			Close:     scaledToFloat(columns[3][i]),
			Volume:    scaledToFloat(columns[4][i]),
		}
	}
	return candles, nil
}

// SubmitOrder signs and broadcasts a placeOrder transaction.
func (c *Client) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if c == nil || c.backend == nil {
		return exchange.OrderResult{}, errors.New("未初始化的以太坊客户端")
	}
	if c.auth == nil {
		return exchange.OrderResult{}, errors.New("未配置交易私钥，无法下单")
	}
	if req.Price <= 0 || req.Quantity <= 0 {
		return exchange.OrderResult{}, errors.New("订单价格和数量必须为正")
	}

	side, err := sideValue(req.Side)
	if err != nil {
		return exchange.OrderResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bound := bind.NewBoundContract(c.contract, c.parsedABI, c.backend, c.backend, nil)
	opts := *c.auth
	opts.Context = ctx

	tx, err := bound.Transact(&opts, "placeOrder", marketKey(req.MarketID), side, floatToScaled(req.Price), floatToScaled(req.Quantity))
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("提交订单交易失败: %w", err)
	}

	return exchange.OrderResult{
		OrderID: tx.Hash().Hex(),
		TxHash:  tx.Hash(),
	}, nil
}

// CancelOrder signs and broadcasts a cancelOrder transaction.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c == nil || c.backend == nil {
		return errors.New("未初始化的以太坊客户端")
	}
	if c.auth == nil {
		return errors.New("未配置交易私钥，无法撤单")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("订单 ID 不能为空")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bound := bind.NewBoundContract(c.contract, c.parsedABI, c.backend, c.backend, nil)
	opts := *c.auth
	opts.Context = ctx

	if _, err := bound.Transact(&opts, "cancelOrder", common.HexToHash(orderID)); err != nil {
		return fmt.Errorf("提交撤单交易失败: %w", err)
	}
	return nil
}

func (c *Client) callUint(ctx context.Context, method string, key common.Hash) (*big.Int, error) {
	input, err := c.parsedABI.Pack(method, key)
	if err != nil {
		return nil, err
	}
	output, err := c.caller.CallContract(ctx, gethcore.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	values, err := c.parsedABI.Unpack(method, output)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s 返回值数量异常", method)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回值类型异常", method)
	}
	return value, nil
}

func marketKey(marketID string) common.Hash {
	return crypto.Keccak256Hash([]byte(strings.TrimSpace(marketID)))
}

func sideValue(side exchange.Side) (uint8, error) {
	switch side {
	case exchange.SideBuy:
		return 0, nil
	case exchange.SideSell:
		return 1, nil
	default:
		return 0, fmt.Errorf("未知的订单方向: %s", side)
	}
}

var priceScale = new(big.Float).SetFloat64(1e18)

func floatToScaled(value float64) *big.Int {
	scaled, _ := new(big.Float).Mul(new(big.Float).SetFloat64(value), priceScale).Int(nil)
	return scaled
}

func scaledToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	result, _ := new(big.Float).Quo(new(big.Float).SetInt(value), priceScale).Float64()
	return result
}

func toHexBig(value *big.Int) string {
	if value == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", value)
}
