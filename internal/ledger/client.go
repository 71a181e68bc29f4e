package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpScope/internal/fpmath"
)

// Client talks JSON-RPC to the node hosting the exchange contract.
// Reads go through eth_call; writes through eth_sendTransaction using the
// node's unlocked keeper account; transaction signing stays outside this
// process. One Client is safe for concurrent use.
type Client struct {
	rpcURL   string
	contract string
	from     string // keeper account for state-changing calls
	http     *http.Client
	log      zerolog.Logger
}

// Config for a Client.
type Config struct {
	RPCURL   string
	Contract string
	From     string
	Timeout  time.Duration
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		rpcURL:   cfg.RPCURL,
		contract: strings.ToLower(cfg.Contract),
		from:     strings.ToLower(cfg.From),
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

var (
	_ Reader    = (*Client)(nil)
	_ Writer    = (*Client)(nil)
	_ Simulator = (*Client)(nil)
)

// Method selectors, computed once.
var (
	selMarkPrice        = methodID("markPrice()")
	selIndexPrice       = methodID("indexPrice()")
	selBestBuyID        = methodID("bestBuyId()")
	selBestSellID       = methodID("bestSellId()")
	selInitialMarginBps = methodID("initialMarginBps()")
	selLastFundingTime  = methodID("lastFundingTime()")
	selFundingInterval  = methodID("fundingInterval()")
	selOrders           = methodID("orders(uint256)")
	selMargin           = methodID("margin(address)")
	selCrossMargin      = methodID("getCrossMargin(address)")
	selIsolatedMargin   = methodID("getIsolatedMargin(address)")
	selMarginMode       = methodID("getMarginMode(address)")
	selGetPosition      = methodID("getPosition(address)")
	selDeposit          = methodID("deposit()")
	selWithdraw         = methodID("withdraw(uint256)")
	selPlaceOrder       = methodID("placeOrder(bool,uint256,uint256,uint256,uint8)")
	selCancelOrder      = methodID("cancelOrder(uint256)")
	selAllocIsolated    = methodID("allocateToIsolated(uint256)")
	selRemoveIsolated   = methodID("removeFromIsolated(uint256)")
	selUpdateIndex      = methodID("updateIndexPrice(uint256)")
	selSettleFunding    = methodID("settleFunding()")
	selLiquidate        = methodID("liquidate(address,uint256)")
)

// --- JSON-RPC plumbing ---

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) isRevert() bool {
	return e.Code == 3 || strings.Contains(strings.ToLower(e.Message), "revert")
}

type callParams struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}

func (c *Client) rpc(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: unexpected status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.isRevert() {
			return fmt.Errorf("%w: %s", ErrReverted, rpcResp.Error.Message)
		}
		return fmt.Errorf("rpc %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("unmarshal rpc result: %w", err)
		}
	}
	return nil
}

// call issues eth_call and returns decoded return words.
func (c *Client) call(ctx context.Context, data string) ([][]byte, error) {
	var result string
	err := c.rpc(ctx, "eth_call", []interface{}{
		callParams{To: c.contract, Data: data},
		"latest",
	}, &result)
	if err != nil {
		return nil, err
	}
	return decodeWords(result)
}

// send issues eth_sendTransaction from the keeper account.
func (c *Client) send(ctx context.Context, data string, value *big.Int) (TxHash, error) {
	params := callParams{From: c.from, To: c.contract, Data: data}
	if value != nil && value.Sign() > 0 {
		params.Value = "0x" + value.Text(16)
	}

	var hash string
	if err := c.rpc(ctx, "eth_sendTransaction", []interface{}{params}, &hash); err != nil {
		return "", err
	}
	return TxHash(hash), nil
}

// --- Reader ---

func (c *Client) scalarCall(ctx context.Context, sel []byte, scale int64) (int64, error) {
	words, err := c.call(ctx, encodeCall(sel))
	if err != nil {
		return 0, err
	}
	return decodeScalar(words, scale)
}

func (c *Client) rawCall(ctx context.Context, sel []byte) (uint64, error) {
	words, err := c.call(ctx, encodeCall(sel))
	if err != nil {
		return 0, err
	}
	return decodeRaw(words)
}

func (c *Client) MarkPrice(ctx context.Context) (int64, error) {
	return c.scalarCall(ctx, selMarkPrice, fpmath.PriceConfig.Scale)
}

func (c *Client) IndexPrice(ctx context.Context) (int64, error) {
	return c.scalarCall(ctx, selIndexPrice, fpmath.PriceConfig.Scale)
}

func (c *Client) BestBuyID(ctx context.Context) (uint64, error) {
	return c.rawCall(ctx, selBestBuyID)
}

func (c *Client) BestSellID(ctx context.Context) (uint64, error) {
	return c.rawCall(ctx, selBestSellID)
}

func (c *Client) InitialMarginBps(ctx context.Context) (int64, error) {
	raw, err := c.rawCall(ctx, selInitialMarginBps)
	return int64(raw), err
}

func (c *Client) LastFundingTime(ctx context.Context) (int64, error) {
	raw, err := c.rawCall(ctx, selLastFundingTime)
	return int64(raw), err
}

func (c *Client) FundingInterval(ctx context.Context) (int64, error) {
	raw, err := c.rawCall(ctx, selFundingInterval)
	return int64(raw), err
}

func (c *Client) Order(ctx context.Context, id uint64) (Order, error) {
	words, err := c.call(ctx, encodeCall(selOrders, new(big.Int).SetUint64(id)))
	if err != nil {
		return Order{}, err
	}
	return decodeOrder(words)
}

func (c *Client) traderCall(ctx context.Context, sel []byte, trader string, scale int64) (int64, error) {
	addr, err := addressWord(trader)
	if err != nil {
		return 0, err
	}
	words, err := c.call(ctx, encodeCall(sel, addr))
	if err != nil {
		return 0, err
	}
	return decodeScalar(words, scale)
}

func (c *Client) Margin(ctx context.Context, trader string) (int64, error) {
	return c.traderCall(ctx, selMargin, trader, fpmath.QuoteConfig.Scale)
}

func (c *Client) CrossMargin(ctx context.Context, trader string) (int64, error) {
	return c.traderCall(ctx, selCrossMargin, trader, fpmath.QuoteConfig.Scale)
}

func (c *Client) IsolatedMargin(ctx context.Context, trader string) (int64, error) {
	return c.traderCall(ctx, selIsolatedMargin, trader, fpmath.QuoteConfig.Scale)
}

func (c *Client) MarginMode(ctx context.Context, trader string) (MarginMode, error) {
	addr, err := addressWord(trader)
	if err != nil {
		return 0, err
	}
	words, err := c.call(ctx, encodeCall(selMarginMode, addr))
	if err != nil {
		return 0, err
	}
	raw, err := decodeRaw(words)
	if err != nil {
		return 0, err
	}
	return MarginMode(raw), nil
}

func (c *Client) Position(ctx context.Context, trader string) (Position, error) {
	addr, err := addressWord(trader)
	if err != nil {
		return Position{}, err
	}
	words, err := c.call(ctx, encodeCall(selGetPosition, addr))
	if err != nil {
		return Position{}, err
	}
	return decodePosition(strings.ToLower(trader), words)
}

// --- Writer ---

func (c *Client) Deposit(ctx context.Context, value int64) (TxHash, error) {
	if value <= 0 {
		return "", fmt.Errorf("%w: deposit value %d", ErrInvalidInput, value)
	}
	return c.send(ctx, encodeCall(selDeposit), toWei(value, fpmath.QuoteConfig.Scale))
}

func (c *Client) Withdraw(ctx context.Context, amount int64) (TxHash, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: withdraw amount %d", ErrInvalidInput, amount)
	}
	return c.send(ctx, encodeCall(selWithdraw, toWei(amount, fpmath.QuoteConfig.Scale)), nil)
}

func (c *Client) PlaceOrder(ctx context.Context, isBuy bool, price, amount int64, hint uint64, mode MarginMode) (TxHash, error) {
	if price <= 0 {
		return "", fmt.Errorf("%w: order price %d", ErrInvalidInput, price)
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: order amount %d", ErrInvalidInput, amount)
	}
	data := encodeCall(selPlaceOrder,
		boolWord(isBuy),
		toWei(price, fpmath.PriceConfig.Scale),
		toWei(amount, fpmath.QuantityConfig.Scale),
		new(big.Int).SetUint64(hint),
		big.NewInt(int64(mode)),
	)
	return c.send(ctx, data, nil)
}

func (c *Client) CancelOrder(ctx context.Context, id uint64) (TxHash, error) {
	if id == 0 {
		return "", fmt.Errorf("%w: order id 0", ErrInvalidInput)
	}
	return c.send(ctx, encodeCall(selCancelOrder, new(big.Int).SetUint64(id)), nil)
}

func (c *Client) AllocateToIsolated(ctx context.Context, amount int64) (TxHash, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: isolated allocation %d", ErrInvalidInput, amount)
	}
	return c.send(ctx, encodeCall(selAllocIsolated, toWei(amount, fpmath.QuoteConfig.Scale)), nil)
}

func (c *Client) RemoveFromIsolated(ctx context.Context, amount int64) (TxHash, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: isolated removal %d", ErrInvalidInput, amount)
	}
	return c.send(ctx, encodeCall(selRemoveIsolated, toWei(amount, fpmath.QuoteConfig.Scale)), nil)
}

func (c *Client) UpdateIndexPrice(ctx context.Context, price int64) (TxHash, error) {
	if price <= 0 {
		return "", fmt.Errorf("%w: index price %d", ErrInvalidInput, price)
	}
	return c.send(ctx, encodeCall(selUpdateIndex, toWei(price, fpmath.PriceConfig.Scale)), nil)
}

func (c *Client) SettleFunding(ctx context.Context) (TxHash, error) {
	return c.send(ctx, encodeCall(selSettleFunding), nil)
}

func (c *Client) Liquidate(ctx context.Context, trader string, amount int64) (TxHash, error) {
	data, err := c.liquidateCalldata(trader, amount)
	if err != nil {
		return "", err
	}
	return c.send(ctx, data, nil)
}

// --- Simulator ---

// SimulateLiquidate dry-runs the liquidation through eth_call. A revert
// means the account is healthy and is reported as ErrNotEligible so the
// scanner can treat it as the quiet common case.
func (c *Client) SimulateLiquidate(ctx context.Context, trader string, amount int64) error {
	data, err := c.liquidateCalldata(trader, amount)
	if err != nil {
		return err
	}

	var result string
	err = c.rpc(ctx, "eth_call", []interface{}{
		callParams{From: c.from, To: c.contract, Data: data},
		"latest",
	}, &result)
	if err != nil {
		if errors.Is(err, ErrReverted) {
			return fmt.Errorf("%w: %s", ErrNotEligible, trader)
		}
		return err
	}
	return nil
}

func (c *Client) liquidateCalldata(trader string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: liquidation amount %d", ErrInvalidInput, amount)
	}
	addr, err := addressWord(trader)
	if err != nil {
		return "", err
	}
	return encodeCall(selLiquidate, addr, toWei(amount, fpmath.QuantityConfig.Scale)), nil
}
