package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const settleCoin = "USDT"

// Gateway drives a Bybit unified trading account through the v5 REST API.
type Gateway struct {
	client *Client
	now    func() time.Time
}

var (
	_ exchange.Gateway   = (*Gateway)(nil)
	_ exchange.PriceFeed = (*Gateway)(nil)
)

func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client, now: time.Now}
}

func (g *Gateway) Name() string {
	return "bybit-" + g.client.Environment()
}

func (g *Gateway) Equity(ctx context.Context) (float64, error) {
	params := map[string]interface{}{"accountType": "UNIFIED"}
	result, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, Categorize("wallet_balance", err)
	}
	equity, err := parseTotalEquity(result)
	if err != nil {
		return 0, Categorize("wallet_balance", err)
	}
	return equity, nil
}

func (g *Gateway) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": g.client.category,
		"symbol":   symbol,
	}
	result, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, Categorize("tickers", err)
	}
	price, err := parseLastPrice(result, symbol)
	if err != nil {
		return 0, Categorize("tickers", err)
	}
	return price, nil
}

// Positions lists open derivative positions. Spot accounts hold balances, not
// positions, and report none.
func (g *Gateway) Positions(ctx context.Context) ([]exchange.Position, error) {
	if g.client.category == "spot" {
		return nil, nil
	}

	params := map[string]interface{}{
		"category":   g.client.category,
		"settleCoin": settleCoin,
	}
	result, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, Categorize("position_list", err)
	}
	entries, err := parsePositions(result)
	if err != nil {
		return nil, Categorize("position_list", err)
	}

	positions := make([]exchange.Position, 0, len(entries))
	for _, e := range entries {
		size, err := parseFloat64(e.Size)
		if err != nil {
			return nil, Categorize("position_list", err)
		}
		if size == 0 {
			continue
		}
		entry, err := parseFloat64(e.AvgPrice)
		if err != nil {
			return nil, Categorize("position_list", err)
		}
		if e.Side == "Sell" {
			size = -size
		}
		positions = append(positions, exchange.Position{Symbol: e.Symbol, Quantity: size, EntryPrice: entry})
	}
	return positions, nil
}

// SubmitOrder places the order. Market orders are reported filled at the validated
// market price; the exchange fill price arrives asynchronously.
func (g *Gateway) SubmitOrder(ctx context.Context, req safety.OrderRequest) (exchange.OrderAck, error) {
	return g.place(ctx, req, false)
}

func (g *Gateway) place(ctx context.Context, req safety.OrderRequest, reduceOnly bool) (exchange.OrderAck, error) {
	params := map[string]interface{}{
		"category":  g.client.category,
		"symbol":    req.Symbol,
		"side":      sideParam(req.Side),
		"orderType": "Market",
		"qty":       formatQty(req.Quantity),
	}
	if req.Type == safety.OrderTypeLimit {
		params["orderType"] = "Limit"
		params["price"] = formatQty(req.LimitPrice)
		params["timeInForce"] = "GTC"
	}
	if req.ClientID != "" {
		params["orderLinkId"] = req.ClientID
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	result, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return exchange.OrderAck{}, Categorize("place_order", err)
	}
	orderID, err := parseOrderID(result)
	if err != nil {
		return exchange.OrderAck{}, Categorize("place_order", err)
	}

	ack := exchange.OrderAck{
		OrderID:   orderID,
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		FillPrice: req.MarketPrice,
		Filled:    req.Type == safety.OrderTypeMarket,
		At:        g.now(),
	}
	if req.Type == safety.OrderTypeLimit {
		ack.FillPrice = req.LimitPrice
	}
	return ack, nil
}

func (g *Gateway) CancelAll(ctx context.Context, symbol string) error {
	params := map[string]interface{}{"category": g.client.category}
	if symbol != "" {
		params["symbol"] = symbol
	} else if g.client.category != "spot" {
		params["settleCoin"] = settleCoin
	}

	result, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	if err != nil {
		return Categorize("cancel_all", err)
	}
	var ignored struct{}
	if err := decodeResult(result, "cancel_all", &ignored); err != nil {
		return Categorize("cancel_all", err)
	}
	return nil
}

// FlattenAll closes every position with reduce-only market orders.
func (g *Gateway) FlattenAll(ctx context.Context) ([]exchange.OrderAck, error) {
	positions, err := g.Positions(ctx)
	if err != nil {
		return nil, err
	}

	acks := make([]exchange.OrderAck, 0, len(positions))
	for _, pos := range positions {
		side := safety.SideSell
		qty := pos.Quantity
		if qty < 0 {
			side = safety.SideBuy
			qty = -qty
		}
		price, err := g.MarketPrice(ctx, pos.Symbol)
		if err != nil {
			return acks, err
		}
		ack, err := g.place(ctx, safety.OrderRequest{
			ClientID:    fmt.Sprintf("flatten-%s-%d", pos.Symbol, g.now().UnixMilli()),
			Symbol:      pos.Symbol,
			Side:        side,
			Type:        safety.OrderTypeMarket,
			Quantity:    qty,
			MarketPrice: price,
		}, true)
		if err != nil {
			return acks, err
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func sideParam(side safety.Side) string {
	if side == safety.SideSell {
		return "Sell"
	}
	return "Buy"
}
