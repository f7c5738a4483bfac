package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/api"
	"github.com/ducminhle1904/crypto-risk-core/internal/engine"
	"github.com/ducminhle1904/crypto-risk-core/internal/performance"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

// APIError is a non-2xx answer from the control API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("control API returned %d", e.Status)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// Client talks to a running risk engine.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(base, token string, timeout time.Duration) *Client {
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, header http.Header) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = payload.Code, payload.Error, payload.Details
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Status(ctx context.Context) (risk.Status, error) {
	var s risk.Status
	err := c.do(ctx, http.MethodGet, "/risk/status", nil, &s, nil)
	return s, err
}

func (c *Client) Engine(ctx context.Context) (engine.Stats, error) {
	var s engine.Stats
	err := c.do(ctx, http.MethodGet, "/risk/engine", nil, &s, nil)
	return s, err
}

func (c *Client) Stop(ctx context.Context, reason string) (api.StopResponse, error) {
	var r api.StopResponse
	err := c.do(ctx, http.MethodPost, "/risk/emergency-stop", api.StopRequest{Reason: reason}, &r, nil)
	return r, err
}

func (c *Client) Resume(ctx context.Context) (risk.Status, error) {
	var s risk.Status
	err := c.do(ctx, http.MethodPost, "/risk/resume", nil, &s, nil)
	return s, err
}

func (c *Client) Arm(ctx context.Context, reason string, resetPeak bool) (risk.Status, error) {
	var s risk.Status
	header := http.Header{}
	header.Set(api.OverrideTokenHeader, c.token)
	err := c.do(ctx, http.MethodPost, "/risk/override/arm", api.ArmRequest{Reason: reason, ResetPeak: resetPeak}, &s, header)
	return s, err
}

func (c *Client) Performance(ctx context.Context) (performance.PerformanceSnapshot, error) {
	var snap performance.PerformanceSnapshot
	err := c.do(ctx, http.MethodGet, "/risk/performance", nil, &snap, nil)
	return snap, err
}

func (c *Client) History(ctx context.Context, limit int) ([]performance.PerformanceSnapshot, error) {
	path := "/risk/performance/history"
	if limit > 0 {
		path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	var h api.HistoryResponse
	err := c.do(ctx, http.MethodGet, path, nil, &h, nil)
	return h.Snapshots, err
}

func (c *Client) Trips(ctx context.Context) ([]safety.TripRecord, error) {
	var t api.TripsResponse
	err := c.do(ctx, http.MethodGet, "/risk/trips", nil, &t, nil)
	return t.Trips, err
}
