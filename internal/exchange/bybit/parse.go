package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// decodeResult checks the v5 envelope and decodes its result object into out.
func decodeResult(response interface{}, operation string, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("bybit %s: unexpected response type %T", operation, response)
	}
	if serverResp.RetCode != 0 {
		return &APIError{Code: serverResp.RetCode, Message: serverResp.RetMsg, Operation: operation}
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("bybit %s: failed to marshal result: %w", operation, err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("bybit %s: failed to unmarshal result: %w", operation, err)
	}
	return nil
}

func parseTotalEquity(response interface{}) (float64, error) {
	var wallet struct {
		List []struct {
			AccountType string `json:"accountType"`
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := decodeResult(response, "wallet_balance", &wallet); err != nil {
		return 0, err
	}
	if len(wallet.List) == 0 {
		return 0, fmt.Errorf("bybit wallet_balance: no account data")
	}
	return parseFloat64(wallet.List[0].TotalEquity)
}

func parseLastPrice(response interface{}, symbol string) (float64, error) {
	var tickers struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := decodeResult(response, "tickers", &tickers); err != nil {
		return 0, err
	}
	for _, t := range tickers.List {
		if t.Symbol == symbol {
			return parseFloat64(t.LastPrice)
		}
	}
	return 0, fmt.Errorf("bybit tickers: no ticker for %s", symbol)
}

type positionEntry struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Size     string `json:"size"`
	AvgPrice string `json:"avgPrice"`
}

func parsePositions(response interface{}) ([]positionEntry, error) {
	var positions struct {
		List []positionEntry `json:"list"`
	}
	if err := decodeResult(response, "position_list", &positions); err != nil {
		return nil, err
	}
	return positions.List, nil
}

func parseOrderID(response interface{}) (string, error) {
	var order struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := decodeResult(response, "place_order", &order); err != nil {
		return "", err
	}
	if order.OrderID == "" {
		return "", fmt.Errorf("bybit place_order: empty order id")
	}
	return order.OrderID, nil
}

// parseFloat64 rejects malformed numbers; Bybit sends "" for absent values.
func parseFloat64(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: malformed number %q: %w", s, err)
	}
	return f, nil
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
