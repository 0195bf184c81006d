// Package drift places perp orders through a self-hosted Drift gateway.
package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/signal"
)

// ErrGateway wraps every failure reported by the gateway or its transport.
var ErrGateway = errors.New("drift gateway")

// ErrNoIDs is returned when all 255 user order ids are in use.
var ErrNoIDs = errors.New("no free user order ids")

const maxUserOrderID = 255

// Market describes the perp market orders are routed to.
type Market struct {
	Index    int
	TickSize decimal.Decimal
	StepSize decimal.Decimal
}

// Client is a Venue backed by the gateway's /v2 HTTP API.
type Client struct {
	Base    string
	Http    *http.Client
	RPC     *rpc.Client
	Signer  solana.PublicKey
	Market  Market
	limiter *rate.Limiter

	mu      sync.Mutex
	next    int
	inUse   map[int]bool
	entries map[int]bool
	targets map[int]string // first take-profit uid -> anchor order id
	anchor  string
	stopID  int
	tpIDs   [3]int
	side    signal.Kind
	size    float64
}

var _ execution.Venue = (*Client)(nil)

// NewClient builds a gateway client throttled to rps requests per second.
func NewClient(base string, market Market, rps float64) *Client {
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		Base:    base,
		Http:    &http.Client{Timeout: 10 * time.Second},
		Market:  market,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		next:    1,
		inUse:   make(map[int]bool),
		entries: make(map[int]bool),
		targets: make(map[int]string),
	}
}

// WithRPC attaches a Solana RPC endpoint and the delegate signer for balance checks.
func (c *Client) WithRPC(rpcURL string, signer solana.PublicKey) *Client {
	c.RPC = rpc.New(rpcURL)
	c.Signer = signer
	return c
}

type orderParams struct {
	MarketIndex      int    `json:"marketIndex"`
	MarketType       string `json:"marketType"`
	Amount           string `json:"amount"`
	Price            string `json:"price,omitempty"`
	PostOnly         bool   `json:"postOnly,omitempty"`
	ReduceOnly       bool   `json:"reduceOnly,omitempty"`
	OrderType        string `json:"orderType"`
	UserOrderID      int    `json:"userOrderId"`
	TriggerPrice     string `json:"triggerPrice,omitempty"`
	TriggerCondition string `json:"triggerCondition,omitempty"`
}

type placeRequest struct {
	Orders []orderParams `json:"orders"`
}

type cancelRequest struct {
	MarketIndex *int   `json:"marketIndex,omitempty"`
	MarketType  string `json:"marketType,omitempty"`
	UserIDs     []int  `json:"userIds,omitempty"`
}

type cancelAndPlaceRequest struct {
	Cancel cancelRequest `json:"cancel"`
	Place  placeRequest  `json:"place"`
}

type txResponse struct {
	Tx string `json:"tx"`
}

type gatewayError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// RestingOrder is one open order as listed by the gateway.
type RestingOrder struct {
	OrderID     int    `json:"orderId"`
	UserOrderID int    `json:"userOrderId"`
	MarketIndex int    `json:"marketIndex"`
	MarketType  string `json:"marketType"`
	OrderType   string `json:"orderType"`
	Amount      string `json:"amount"`
	Filled      string `json:"filled"`
	Price       string `json:"price"`
	ReduceOnly  bool   `json:"reduceOnly"`
	PostOnly    bool   `json:"postOnly"`
}

// PlacePostOnlyLimit rests a maker-only entry.
func (c *Client) PlacePostOnlyLimit(ctx context.Context, side signal.Kind, price, size float64) (execution.Placement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uid, err := c.allocate()
	if err != nil {
		return execution.Placement{}, err
	}
	order, err := c.limitOrder(uid, side, price, size)
	if err != nil {
		c.release(uid)
		return execution.Placement{}, err
	}
	tx, err := c.send(ctx, http.MethodPost, "/v2/orders", placeRequest{Orders: []orderParams{order}})
	if err != nil {
		c.release(uid)
		return execution.Placement{}, err
	}
	c.entries[uid] = true
	return execution.Placement{OrderID: strconv.Itoa(uid), TxRef: tx}, nil
}

// CancelAndSubmit atomically cancels oldID and rests a new entry at newPrice.
func (c *Client) CancelAndSubmit(ctx context.Context, oldID string, newPrice float64, side signal.Kind, size float64) (execution.Placement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, err := strconv.Atoi(oldID)
	if err != nil {
		return execution.Placement{}, fmt.Errorf("%w: bad order id %q", ErrGateway, oldID)
	}
	uid, err := c.allocate()
	if err != nil {
		return execution.Placement{}, err
	}
	order, err := c.limitOrder(uid, side, newPrice, size)
	if err != nil {
		c.release(uid)
		return execution.Placement{}, err
	}
	req := cancelAndPlaceRequest{
		Cancel: cancelRequest{UserIDs: []int{old}},
		Place:  placeRequest{Orders: []orderParams{order}},
	}
	tx, err := c.send(ctx, http.MethodPost, "/v2/orders/cancelAndPlace", req)
	if err != nil {
		c.release(uid)
		return execution.Placement{}, err
	}
	c.release(old)
	delete(c.entries, old)
	c.entries[uid] = true
	return execution.Placement{OrderID: strconv.Itoa(uid), TxRef: tx}, nil
}

// InstallProtectiveOrders places a reduce-only stop for the full size and three reduce-only
// take-profit triggers on the side opposite the position.
func (c *Client) InstallProtectiveOrders(ctx context.Context, anchorID string, stopPx float64, tpPx, sizes [3]float64, side signal.Kind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := sizes[0] + sizes[1] + sizes[2]
	ids := make([]int, 0, 4)
	orders := make([]orderParams, 0, 4)
	rollback := func() {
		for _, id := range ids {
			c.release(id)
		}
	}

	stopUID, err := c.allocate()
	if err != nil {
		return err
	}
	ids = append(ids, stopUID)
	stop, err := c.triggerOrder(stopUID, side, stopPx, total, true)
	if err != nil {
		rollback()
		return err
	}
	orders = append(orders, stop)
	for i := range tpPx {
		uid, err := c.allocate()
		if err != nil {
			rollback()
			return err
		}
		ids = append(ids, uid)
		tp, err := c.triggerOrder(uid, side, tpPx[i], sizes[i], false)
		if err != nil {
			rollback()
			return err
		}
		orders = append(orders, tp)
	}

	if _, err := c.send(ctx, http.MethodPost, "/v2/orders", placeRequest{Orders: orders}); err != nil {
		rollback()
		return fmt.Errorf("protect %s: %w", anchorID, err)
	}
	c.anchor = anchorID
	c.stopID = stopUID
	copy(c.tpIDs[:], ids[1:])
	c.side = side
	c.size = total
	if anchor, err := strconv.Atoi(anchorID); err == nil {
		delete(c.entries, anchor)
		c.release(anchor)
	}
	c.targets[ids[1]] = anchorID
	return nil
}

// ReplaceStop swaps the installed stop for one at newStop.
func (c *Client) ReplaceStop(ctx context.Context, newStop float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopID == 0 {
		return fmt.Errorf("%w: no stop installed", ErrGateway)
	}
	uid, err := c.allocate()
	if err != nil {
		return err
	}
	stop, err := c.triggerOrder(uid, c.side, newStop, c.size, true)
	if err != nil {
		c.release(uid)
		return err
	}
	req := cancelAndPlaceRequest{
		Cancel: cancelRequest{UserIDs: []int{c.stopID}},
		Place:  placeRequest{Orders: []orderParams{stop}},
	}
	if _, err := c.send(ctx, http.MethodPost, "/v2/orders/cancelAndPlace", req); err != nil {
		c.release(uid)
		return err
	}
	c.release(c.stopID)
	c.stopID = uid
	return nil
}

// CancelAll cancels every open order in the market and returns their user order ids.
func (c *Client) CancelAll(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	open, err := c.openOrders(ctx)
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	idx := c.Market.Index
	if _, err := c.send(ctx, http.MethodDelete, "/v2/orders", cancelRequest{MarketIndex: &idx, MarketType: "perp"}); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(open))
	for _, o := range open {
		out = append(out, strconv.Itoa(o.UserOrderID))
		c.release(o.UserOrderID)
	}
	c.anchor = ""
	c.stopID = 0
	c.tpIDs = [3]int{}
	c.entries = make(map[int]bool)
	c.targets = make(map[int]string)
	return out, nil
}

// Reconciliation lists what left the book since the previous Reconcile.
type Reconciliation struct {
	Filled []string // entry ids
	TP1    []string // anchor ids whose first target executed
	Closed []string // anchor ids whose stop or every target executed
}

// Reconcile compares tracked orders with the gateway's open orders. Entries that left the
// book are reported as filled, first take-profits as hit. Once the stop or all three targets
// are gone the position is flat: the remaining exits are cancelled and their ids released.
func (c *Client) Reconcile(ctx context.Context) (Reconciliation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out Reconciliation
	open, err := c.openOrders(ctx)
	if err != nil {
		return out, err
	}
	resting := make(map[int]bool, len(open))
	for _, o := range open {
		resting[o.UserOrderID] = true
	}
	for uid := range c.entries {
		if !resting[uid] {
			out.Filled = append(out.Filled, strconv.Itoa(uid))
			delete(c.entries, uid)
		}
	}
	sort.Strings(out.Filled)
	for uid, anchor := range c.targets {
		if !resting[uid] {
			out.TP1 = append(out.TP1, anchor)
			delete(c.targets, uid)
		}
	}
	if c.anchor == "" || !c.flat(resting) {
		return out, nil
	}
	anchor := c.anchor
	if err := c.closeLadder(ctx, resting); err != nil {
		return out, fmt.Errorf("close ladder %s: %w", anchor, err)
	}
	out.Closed = append(out.Closed, anchor)
	return out, nil
}

func (c *Client) flat(resting map[int]bool) bool {
	if !resting[c.stopID] {
		return true
	}
	for _, uid := range c.tpIDs {
		if resting[uid] {
			return false
		}
	}
	return true
}

func (c *Client) closeLadder(ctx context.Context, resting map[int]bool) error {
	exits := append([]int{c.stopID}, c.tpIDs[:]...)
	var leftover []int
	for _, uid := range exits {
		if resting[uid] {
			leftover = append(leftover, uid)
		}
	}
	if len(leftover) > 0 {
		if _, err := c.send(ctx, http.MethodDelete, "/v2/orders", cancelRequest{UserIDs: leftover}); err != nil {
			return err
		}
	}
	for _, uid := range exits {
		c.release(uid)
	}
	delete(c.targets, c.tpIDs[0])
	c.anchor = ""
	c.stopID = 0
	c.tpIDs = [3]int{}
	return nil
}

// Collateral returns the account's total collateral in quote currency.
func (c *Client) Collateral(ctx context.Context) (float64, error) {
	var out struct {
		Total string `json:"total"`
		Free  string `json:"free"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/collateral", nil, &out); err != nil {
		return 0, err
	}
	total, err := decimal.NewFromString(out.Total)
	if err != nil {
		return 0, fmt.Errorf("%w: collateral %q: %v", ErrGateway, out.Total, err)
	}
	return total.InexactFloat64(), nil
}

// OpenOrders lists open orders in the configured market.
func (c *Client) OpenOrders(ctx context.Context) ([]RestingOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openOrders(ctx)
}

// CheckSigner verifies the delegate signer holds at least minLamports for fees.
func (c *Client) CheckSigner(ctx context.Context, minLamports uint64) (uint64, error) {
	if c.RPC == nil || c.Signer.IsZero() {
		return 0, errors.New("rpc signer not configured")
	}
	res, err := c.RPC.GetBalance(ctx, c.Signer, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("signer balance: %w", err)
	}
	if res.Value < minLamports {
		return res.Value, fmt.Errorf("signer %s holds %d lamports, need %d", c.Signer, res.Value, minLamports)
	}
	return res.Value, nil
}

func (c *Client) openOrders(ctx context.Context) ([]RestingOrder, error) {
	var out struct {
		Orders []RestingOrder `json:"orders"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/orders", nil, &out); err != nil {
		return nil, err
	}
	filtered := out.Orders[:0]
	for _, o := range out.Orders {
		if o.MarketIndex == c.Market.Index && (o.MarketType == "" || o.MarketType == "perp") {
			filtered = append(filtered, o)
		}
	}
	return filtered, nil
}

func (c *Client) limitOrder(uid int, side signal.Kind, price, size float64) (orderParams, error) {
	amount, err := c.amount(side, size)
	if err != nil {
		return orderParams{}, err
	}
	px, err := c.roundPrice(price, side == signal.Long)
	if err != nil {
		return orderParams{}, err
	}
	return orderParams{
		MarketIndex: c.Market.Index,
		MarketType:  "perp",
		Amount:      amount,
		Price:       px,
		PostOnly:    true,
		OrderType:   "limit",
		UserOrderID: uid,
	}, nil
}

// triggerOrder builds an exit for a position on side. Stops trigger against the position,
// take-profits in its favour.
func (c *Client) triggerOrder(uid int, side signal.Kind, trigger, size float64, stop bool) (orderParams, error) {
	exit := side.Opposite()
	amount, err := c.amount(exit, size)
	if err != nil {
		return orderParams{}, err
	}
	px, err := c.roundPrice(trigger, exit == signal.Long)
	if err != nil {
		return orderParams{}, err
	}
	cond := "above"
	if (side == signal.Long) == stop {
		cond = "below"
	}
	return orderParams{
		MarketIndex:      c.Market.Index,
		MarketType:       "perp",
		Amount:           amount,
		ReduceOnly:       true,
		OrderType:        "triggerMarket",
		UserOrderID:      uid,
		TriggerPrice:     px,
		TriggerCondition: cond,
	}, nil
}

// amount is signed: positive buys, negative sells.
func (c *Client) amount(side signal.Kind, size float64) (string, error) {
	if side != signal.Long && side != signal.Short {
		return "", fmt.Errorf("%w: side %q", ErrGateway, side)
	}
	d := decimal.NewFromFloat(size)
	if step := c.Market.StepSize; step.IsPositive() {
		d = d.Div(step).Floor().Mul(step)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("%w: size %v rounds to zero", ErrGateway, size)
	}
	if side == signal.Short {
		d = d.Neg()
	}
	return d.String(), nil
}

// roundPrice snaps to the tick, rounding buys down and sells up so rounding never crosses.
func (c *Client) roundPrice(price float64, buy bool) (string, error) {
	d := decimal.NewFromFloat(price)
	if tick := c.Market.TickSize; tick.IsPositive() {
		q := d.Div(tick)
		if buy {
			q = q.Floor()
		} else {
			q = q.Ceil()
		}
		d = q.Mul(tick)
	}
	if !d.IsPositive() {
		return "", fmt.Errorf("%w: price %v", ErrGateway, price)
	}
	return d.String(), nil
}

func (c *Client) allocate() (int, error) {
	for i := 0; i < maxUserOrderID; i++ {
		uid := c.next
		c.next = c.next%maxUserOrderID + 1
		if !c.inUse[uid] {
			c.inUse[uid] = true
			return uid, nil
		}
	}
	return 0, ErrNoIDs
}

func (c *Client) release(uid int) { delete(c.inUse, uid) }

func (c *Client) send(ctx context.Context, method, path string, body any) (string, error) {
	var out txResponse
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return "", err
	}
	if _, err := solana.SignatureFromBase58(out.Tx); err != nil {
		return "", fmt.Errorf("%w: bad tx signature %q: %v", ErrGateway, out.Tx, err)
	}
	return out.Tx, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrGateway, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var ge gatewayError
		_ = json.NewDecoder(resp.Body).Decode(&ge)
		return fmt.Errorf("%w: %s %s status %d: %s", ErrGateway, method, path, resp.StatusCode, ge.Reason)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrGateway, path, err)
	}
	return nil
}
