// Package waclient adapts the WhatsApp bridge sidecar (the process that owns
// the actual headless-browser automation) to the session.Client interface.
// All bridge callbacks are converted into lifecycle events on one channel.
package waclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
	sharedConfig "github.com/wakeeper/wakeeper/internal/shared/config"
	"github.com/wakeeper/wakeeper/internal/shared/logger"
)

// bridgeStatus mirrors the sidecar's /status response.
type bridgeStatus struct {
	IsReady          bool   `json:"isReady"`
	IsAuthenticated  bool   `json:"isAuthenticated"`
	HasQrCode        bool   `json:"hasQrCode"`
	QrCode           string `json:"qrCode,omitempty"`
	DisconnectReason string `json:"disconnectReason,omitempty"`
	Error            string `json:"error,omitempty"`
}

type initRequest struct {
	Credential []byte `json:"credential"`
	Version    string `json:"version"`
}

type bridgeResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BridgeClient drives sessions on the bridge sidecar over HTTP and watches
// their status, emitting lifecycle events for the orchestrator loop.
type BridgeClient struct {
	baseURL string
	http    *http.Client
	poll    time.Duration
	events  chan session.LifecycleEvent
	logger  logger.Interface

	mu      sync.Mutex
	watched map[string]bridgeStatus
}

func NewBridgeClient(cfg *sharedConfig.BridgeConfig, log logger.Interface) *BridgeClient {
	return &BridgeClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout()},
		poll:    cfg.PollInterval(),
		events:  make(chan session.LifecycleEvent, 64),
		logger:  log.Named("wa-bridge"),
		watched: make(map[string]bridgeStatus),
	}
}

// Events returns the lifecycle event stream for all accounts.
func (c *BridgeClient) Events() <-chan session.LifecycleEvent {
	return c.events
}

// Initialize pushes the stored credential to the bridge and blocks until the
// session reports ready, authentication fails, or ctx expires. QR demands
// observed while waiting are surfaced as lifecycle events.
func (c *BridgeClient) Initialize(ctx context.Context, accountID string, auth session.AuthState) error {
	req := initRequest{Credential: auth.CredentialBlob, Version: auth.Version}
	var result bridgeResult
	if err := c.post(ctx, fmt.Sprintf("/session/%s/init", accountID), req, &result); err != nil {
		return fmt.Errorf("bridge init request failed: %w", err)
	}
	if !result.Success {
		c.emit(accountID, session.LifecycleAuthFailure, result.Error, "")
		return fmt.Errorf("bridge rejected init: %s", result.Error)
	}

	ticker := time.NewTicker(c.poll / 4)
	defer ticker.Stop()

	sawQr := false
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("bridge init timed out: %w", ctx.Err())
		case <-ticker.C:
		}

		status, err := c.status(ctx, accountID)
		if err != nil {
			c.logger.Debugw("status poll failed during init", "account_id", accountID, "error", err)
			continue
		}

		switch {
		case status.IsReady:
			if status.IsAuthenticated {
				c.emit(accountID, session.LifecycleAuthenticated, "", "")
			}
			c.emit(accountID, session.LifecycleReady, "", "")
			c.watch(accountID, *status)
			return nil
		case status.HasQrCode && !sawQr:
			// The bridge wants a fresh scan: the stored credential is gone.
			sawQr = true
			c.emit(accountID, session.LifecycleQRRequired, "", status.QrCode)
			return fmt.Errorf("bridge requires QR re-authentication")
		case status.Error != "":
			c.emit(accountID, session.LifecycleAuthFailure, status.Error, "")
			return fmt.Errorf("bridge init failed: %s", status.Error)
		}
	}
}

// Destroy tears down the live session on the bridge.
func (c *BridgeClient) Destroy(ctx context.Context, accountID string) error {
	var result bridgeResult
	if err := c.post(ctx, fmt.Sprintf("/session/%s/destroy", accountID), nil, &result); err != nil {
		return fmt.Errorf("bridge destroy request failed: %w", err)
	}
	c.unwatch(accountID)
	return nil
}

// Watch polls the status of initialized sessions until ctx is cancelled,
// converting still-ready sweeps into heartbeats and observed disconnects
// into lifecycle events. Run it once from the orchestrator's process.
func (c *BridgeClient) Watch(ctx context.Context) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *BridgeClient) sweep(ctx context.Context) {
	c.mu.Lock()
	accounts := make([]string, 0, len(c.watched))
	for id := range c.watched {
		accounts = append(accounts, id)
	}
	c.mu.Unlock()

	for _, accountID := range accounts {
		status, err := c.status(ctx, accountID)
		if err != nil {
			// Unreachable bridge is indistinguishable from a dead session;
			// report a lost connection and let the orchestrator decide.
			c.unwatch(accountID)
			c.emit(accountID, session.LifecycleDisconnected, session.ReasonConnectionLost, "")
			continue
		}
		if status.IsReady {
			c.emit(accountID, session.LifecycleHeartbeat, "", "")
			continue
		}
		reason := status.DisconnectReason
		if reason == "" {
			reason = session.ReasonConnectionLost
		}
		c.unwatch(accountID)
		c.emit(accountID, session.LifecycleDisconnected, reason, "")
	}
}

func (c *BridgeClient) watch(accountID string, status bridgeStatus) {
	c.mu.Lock()
	c.watched[accountID] = status
	c.mu.Unlock()
}

func (c *BridgeClient) unwatch(accountID string) {
	c.mu.Lock()
	delete(c.watched, accountID)
	c.mu.Unlock()
}

func (c *BridgeClient) emit(accountID string, kind session.LifecycleEventKind, reason, payload string) {
	event := session.LifecycleEvent{
		AccountID: accountID,
		Kind:      kind,
		Reason:    reason,
		Payload:   payload,
		At:        biztime.NowUTC(),
	}
	select {
	case c.events <- event:
	default:
		c.logger.Warnw("lifecycle event dropped, channel full",
			"account_id", accountID, "kind", kind)
	}
}

func (c *BridgeClient) status(ctx context.Context, accountID string) (*bridgeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+fmt.Sprintf("/session/%s/status", accountID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge status returned %d", resp.StatusCode)
	}

	var status bridgeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode bridge status: %w", err)
	}
	return &status, nil
}

func (c *BridgeClient) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned %d for %s", resp.StatusCode, path)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode bridge response: %w", err)
		}
	}
	return nil
}
