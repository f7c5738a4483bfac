package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ducminhle1904/crypto-risk-core/internal/exchange"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

const (
	PublicLinearStream  = "wss://stream.bybit.com/v5/public/linear"
	PublicSpotStream    = "wss://stream.bybit.com/v5/public/spot"
	TestnetLinearStream = "wss://stream-testnet.bybit.com/v5/public/linear"

	pingInterval   = 20 * time.Second
	reconnectDelay = 5 * time.Second
)

// TickerStream keeps last prices from the public tickers topic. MarketPrice serves
// the cached price while it is fresh and falls back to REST otherwise.
type TickerStream struct {
	url      string
	symbols  []string
	maxAge   time.Duration
	fallback exchange.PriceFeed
	log      *logger.Logger
	now      func() time.Time

	mu     sync.RWMutex
	prices map[string]tick
	conn   *websocket.Conn
}

type tick struct {
	price float64
	at    time.Time
}

var _ exchange.PriceFeed = (*TickerStream)(nil)

func NewTickerStream(url string, symbols []string, maxAge time.Duration, fallback exchange.PriceFeed, log *logger.Logger) *TickerStream {
	return &TickerStream{
		url:      url,
		symbols:  symbols,
		maxAge:   maxAge,
		fallback: fallback,
		log:      log,
		now:      time.Now,
		prices:   make(map[string]tick),
	}
}

// Run connects, subscribes and reads until ctx ends, reconnecting after failures.
func (s *TickerStream) Run(ctx context.Context) {
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.LogWarning("ticker stream", "%v, reconnecting in %s", err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *TickerStream) session(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	args := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		args[i] = "tickers." + sym
	}
	if err := conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("subscribed to %v on %s", args, s.url)

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		s.handleMessage(message)
	}
}

// keepAlive sends Bybit's application-level ping and closes the connection on
// shutdown so the blocked read returns.
func (s *TickerStream) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			s.mu.Lock()
			err := conn.WriteJSON(map[string]string{"op": "ping"})
			s.mu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *TickerStream) handleMessage(message []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil || msg.Topic == "" {
		// subscription acks and pongs
		return
	}
	if msg.Data.LastPrice == "" {
		return
	}
	price, err := parseFloat64(msg.Data.LastPrice)
	if err != nil || price <= 0 {
		s.log.LogDebugOnly("ignoring ticker %s: %q", msg.Data.Symbol, msg.Data.LastPrice)
		return
	}

	s.mu.Lock()
	s.prices[msg.Data.Symbol] = tick{price: price, at: s.now()}
	s.mu.Unlock()
}

func (s *TickerStream) MarketPrice(ctx context.Context, symbol string) (float64, error) {
	s.mu.RLock()
	t, ok := s.prices[symbol]
	s.mu.RUnlock()

	if ok && s.now().Sub(t.at) <= s.maxAge {
		return t.price, nil
	}
	if s.fallback == nil {
		return 0, fmt.Errorf("no fresh price for %s", symbol)
	}
	return s.fallback.MarketPrice(ctx, symbol)
}

// Connected reports whether a stream session is open.
func (s *TickerStream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}
