package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

func TestTickerStream_ReceivesTickers(t *testing.T) {
	subscribed := make(chan []string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Args
		conn.WriteJSON(map[string]interface{}{"success": true, "op": "subscribe"})
		conn.WriteJSON(map[string]interface{}{
			"topic": "tickers.BTCUSDT",
			"type":  "snapshot",
			"data":  map[string]string{"symbol": "BTCUSDT", "lastPrice": "64000.5"},
		})
		// delta without a price change
		conn.WriteJSON(map[string]interface{}{
			"topic": "tickers.BTCUSDT",
			"type":  "delta",
			"data":  map[string]string{"symbol": "BTCUSDT"},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewTickerStream(url, []string{"BTCUSDT"}, time.Minute, nil, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case args := <-subscribed:
		assert.Equal(t, []string{"tickers.BTCUSDT"}, args)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription received")
	}

	assert.Eventually(t, func() bool {
		price, err := stream.MarketPrice(context.Background(), "BTCUSDT")
		return err == nil && price == 64000.5
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, stream.Connected())
}

func TestTickerStream_FallsBackWhenStale(t *testing.T) {
	fallback := exchange.NewStaticFeed(map[string]float64{"BTCUSDT": 100})
	stream := NewTickerStream("ws://unused", []string{"BTCUSDT"}, time.Second, fallback, logger.Discard())

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	stream.now = func() time.Time { return now }
	stream.handleMessage([]byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"101"}}`))

	price, err := stream.MarketPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)

	now = now.Add(2 * time.Second)
	price, err = stream.MarketPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)

	_, err = NewTickerStream("ws://unused", nil, time.Second, nil, logger.Discard()).MarketPrice(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestTickerStream_IgnoresMalformed(t *testing.T) {
	stream := NewTickerStream("ws://unused", nil, time.Minute, nil, logger.Discard())
	stream.handleMessage([]byte(`{"op":"pong"}`))
	stream.handleMessage([]byte(`not json`))
	stream.handleMessage([]byte(`{"topic":"tickers.X","data":{"symbol":"X","lastPrice":"abc"}}`))
	stream.handleMessage([]byte(`{"topic":"tickers.X","data":{"symbol":"X","lastPrice":"-1"}}`))

	_, err := stream.MarketPrice(context.Background(), "X")
	assert.Error(t, err)
}
