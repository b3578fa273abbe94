// Package command implements control command handling for every command
// channel: WebSocket, unix socket and Kafka.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/metrics"
)

// Method names.
const (
	MethodReset          = "reset"
	MethodTogglePause    = "toggle_pause"
	MethodSetBossOnly    = "set_boss_only"
	MethodSubscribe      = "subscribe"
	MethodUnsubscribe    = "unsubscribe"
	MethodRestartCapture = "restart_capture"
	MethodStatus         = "status"
	MethodShutdown       = "shutdown"

	MethodResetMetrics       = "reset_player_metrics"
	MethodSetWipeDetection   = "set_wipe_detection"
	MethodSetDungeonSegments = "set_dungeon_segments"
	MethodDungeonLog         = "dungeon_log"
	MethodLiveBuffs          = "live_buffs"
)

// Handler handles control commands.
type Handler struct {
	controller   Controller
	views        ViewSettings
	status       StatusSource
	tracking     Tracking
	version      string
	shutdownFunc func() // Called by shutdown to trigger graceful stop
	startTime    time.Time
	logger       *slog.Logger
}

// NewHandler creates a command handler. views and status may be nil, in which
// case the commands that need them fail with an internal error.
func NewHandler(controller Controller, views ViewSettings, status StatusSource) *Handler {
	return &Handler{
		controller: controller,
		views:      views,
		status:     status,
		startTime:  time.Now(),
		logger:     slog.Default().With("component", "command"),
	}
}

// SetShutdownFunc sets the callback invoked by the shutdown command.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// SetViews sets the presentation settings target.
func (h *Handler) SetViews(v ViewSettings) {
	h.views = v
}

// SetTracking sets the target of the tracker toggles and queries.
func (h *Handler) SetTracking(t Tracking) {
	h.tracking = t
}

// SetVersion sets the version reported by status.
func (h *Handler) SetVersion(v string) {
	h.version = v
}

// Command represents a control command.
type Command struct {
	Method string          `json:"method"` // e.g. "reset", "subscribe"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string     `json:"id"`               // matches request ID
	Result any        `json:"result,omitempty"` // success result
	Error  *ErrorInfo `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// SetBossOnlyParams are the parameters of set_boss_only.
type SetBossOnlyParams struct {
	Enabled bool `json:"enabled"`
}

// ToggleParams are the parameters of set_wipe_detection and
// set_dungeon_segments.
type ToggleParams struct {
	Enabled bool `json:"enabled"`
}

// SubscribeParams are the parameters of subscribe and unsubscribe.
type SubscribeParams struct {
	UID    int64  `json:"uid"`
	Metric string `json:"metric"`
}

// StatusResult is the result of status.
type StatusResult struct {
	Version   string            `json:"version,omitempty"`
	UptimeSec int64             `json:"uptime_sec"`
	Encounter encounter.Summary `json:"encounter"`
}

// Handle processes a command and returns the response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	h.logger.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	var resp Response
	switch cmd.Method {
	case MethodReset:
		resp = h.handleControl(ctx, cmd, ControlReset)
	case MethodTogglePause:
		resp = h.handleControl(ctx, cmd, ControlTogglePause)
	case MethodRestartCapture:
		resp = h.handleControl(ctx, cmd, ControlRestartCapture)
	case MethodSetBossOnly:
		resp = h.handleSetBossOnly(cmd)
	case MethodSubscribe:
		resp = h.handleSubscribe(cmd, true)
	case MethodUnsubscribe:
		resp = h.handleSubscribe(cmd, false)
	case MethodResetMetrics:
		resp = h.handleResetMetrics(ctx, cmd)
	case MethodSetWipeDetection, MethodSetDungeonSegments:
		resp = h.handleToggle(cmd)
	case MethodDungeonLog:
		resp = h.handleDungeonLog(cmd)
	case MethodLiveBuffs:
		resp = h.handleLiveBuffs(cmd)
	case MethodStatus:
		resp = h.handleStatus(cmd)
	case MethodShutdown:
		resp = h.handleShutdown(cmd)
	default:
		resp = errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", cmd.Method))
		metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
		return resp
	}

	result := "ok"
	if resp.Error != nil {
		result = "error"
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Method, result).Inc()
	return resp
}

func (h *Handler) handleControl(ctx context.Context, cmd Command, kind ControlKind) Response {
	if h.controller == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "controller not registered")
	}
	if err := h.controller.Submit(ctx, Control{Kind: kind, Reason: "command"}); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("submit %s: %v", kind, err))
	}
	h.logger.Info("control submitted", "kind", kind, "id", cmd.ID)
	return Response{
		ID:     cmd.ID,
		Result: map[string]any{"status": "accepted"},
	}
}

func (h *Handler) handleSetBossOnly(cmd Command) Response {
	var params SetBossOnlyParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	if h.views == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "view settings not registered")
	}
	h.views.SetBossOnly(params.Enabled)
	return Response{
		ID:     cmd.ID,
		Result: map[string]any{"boss_only": params.Enabled},
	}
}

func (h *Handler) handleSubscribe(cmd Command, subscribe bool) Response {
	var params SubscribeParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	if params.UID == 0 {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "uid is required")
	}
	metric, ok := encounter.ParseMetric(params.Metric)
	if !ok {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("unknown metric %q", params.Metric))
	}
	if h.views == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "view settings not registered")
	}
	if subscribe {
		h.views.Subscribe(params.UID, metric)
	} else {
		h.views.Unsubscribe(params.UID, metric)
	}
	return Response{
		ID: cmd.ID,
		Result: map[string]any{
			"uid":        params.UID,
			"metric":     metric,
			"subscribed": subscribe,
		},
	}
}

// handleResetMetrics zeroes the player metrics of the running encounter and
// drops the per-skill subscriptions that pointed into them.
func (h *Handler) handleResetMetrics(ctx context.Context, cmd Command) Response {
	resp := h.handleControl(ctx, cmd, ControlResetMetrics)
	if resp.Error == nil && h.views != nil {
		h.views.ClearSubscriptions()
	}
	return resp
}

func (h *Handler) handleToggle(cmd Command) Response {
	var params ToggleParams
	if err := decodeParams(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
	}
	if h.tracking == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "tracking not registered")
	}
	key := "wipe_detection"
	if cmd.Method == MethodSetDungeonSegments {
		key = "dungeon_segments"
		h.tracking.SetDungeonSegments(params.Enabled)
	} else {
		h.tracking.SetWipeDetection(params.Enabled)
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]any{key: params.Enabled},
	}
}

func (h *Handler) handleDungeonLog(cmd Command) Response {
	if h.tracking == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "tracking not registered")
	}
	return Response{ID: cmd.ID, Result: h.tracking.DungeonLog()}
}

func (h *Handler) handleLiveBuffs(cmd Command) Response {
	if h.tracking == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "tracking not registered")
	}
	return Response{ID: cmd.ID, Result: h.tracking.LiveBuffs(time.Now().UnixMilli())}
}

func (h *Handler) handleStatus(cmd Command) Response {
	res := StatusResult{
		Version:   h.version,
		UptimeSec: int64(time.Since(h.startTime).Seconds()),
	}
	if h.status != nil {
		res.Encounter = h.status.Snapshot()
	}
	return Response{ID: cmd.ID, Result: res}
}

// handleShutdown triggers graceful shutdown via the registered callback.
func (h *Handler) handleShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	h.logger.Info("shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return Response{
		ID:     cmd.ID,
		Result: map[string]any{"status": "shutting_down"},
	}
}

// decodeParams unmarshals params into v. Empty params leave v zeroed.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: msg},
	}
}
