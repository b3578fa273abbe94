package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client over a unix socket. Each call dials anew.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for its response.
func (c *UDSClient) Call(ctx context.Context, method string, params any) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  raw,
		ID:      reqID,
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &rpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	respID := fmt.Sprintf("%v", rpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     respID,
		Result: rpcResp.Result,
		Error:  rpcResp.Error,
	}, nil
}

// Reset ends the current encounter.
func (c *UDSClient) Reset(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodReset, nil)
}

// TogglePause flips the pause flag.
func (c *UDSClient) TogglePause(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodTogglePause, nil)
}

// SetBossOnly switches boss-only damage views.
func (c *UDSClient) SetBossOnly(ctx context.Context, enabled bool) (*Response, error) {
	return c.Call(ctx, MethodSetBossOnly, SetBossOnlyParams{Enabled: enabled})
}

// Subscribe requests per-skill rows for uid and metric.
func (c *UDSClient) Subscribe(ctx context.Context, uid int64, metric string) (*Response, error) {
	return c.Call(ctx, MethodSubscribe, SubscribeParams{UID: uid, Metric: metric})
}

// Unsubscribe drops a subscription.
func (c *UDSClient) Unsubscribe(ctx context.Context, uid int64, metric string) (*Response, error) {
	return c.Call(ctx, MethodUnsubscribe, SubscribeParams{UID: uid, Metric: metric})
}

// RestartCapture asks the capture supervisor to reopen its source.
func (c *UDSClient) RestartCapture(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodRestartCapture, nil)
}

// ResetMetrics zeroes the player metrics without ending the encounter.
func (c *UDSClient) ResetMetrics(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodResetMetrics, nil)
}

// SetWipeDetection turns wipe splitting on or off.
func (c *UDSClient) SetWipeDetection(ctx context.Context, enabled bool) (*Response, error) {
	return c.Call(ctx, MethodSetWipeDetection, ToggleParams{Enabled: enabled})
}

// SetDungeonSegments turns dungeon segment tracking on or off.
func (c *UDSClient) SetDungeonSegments(ctx context.Context, enabled bool) (*Response, error) {
	return c.Call(ctx, MethodSetDungeonSegments, ToggleParams{Enabled: enabled})
}

// DungeonLog returns the segment history of the current scene.
func (c *UDSClient) DungeonLog(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodDungeonLog, nil)
}

// LiveBuffs returns the buff uptime of every player in the encounter.
func (c *UDSClient) LiveBuffs(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodLiveBuffs, nil)
}

// Status returns the running encounter summary.
func (c *UDSClient) Status(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodStatus, nil)
}

// Shutdown stops the daemon.
func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, MethodShutdown, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
