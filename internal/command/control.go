package command

import (
	"context"

	"firestige.xyz/meter/internal/encounter"
)

// ControlKind names a control that must run on the processing loop.
type ControlKind string

const (
	ControlReset          ControlKind = "reset"
	ControlTogglePause    ControlKind = "toggle_pause"
	ControlRestartCapture ControlKind = "restart_capture"
	ControlResetMetrics   ControlKind = "reset_player_metrics"
)

// Control is a request for the single writer.
type Control struct {
	Kind   ControlKind
	Reason string
}

// Controller accepts controls for the processing loop. Submit returns once the
// control is queued, not once it is applied.
type Controller interface {
	Submit(ctx context.Context, c Control) error
}

// ViewSettings holds the presentation settings changed by commands.
type ViewSettings interface {
	SetBossOnly(enabled bool)
	Subscribe(uid int64, m encounter.Metric)
	Unsubscribe(uid int64, m encounter.Metric)
	ClearSubscriptions()
}

// Tracking exposes the encounter trackers that commands toggle and query.
type Tracking interface {
	SetWipeDetection(enabled bool)
	SetDungeonSegments(enabled bool)
	DungeonLog() encounter.DungeonLog
	LiveBuffs(nowMs int64) []encounter.EntityBuffs
}

// StatusSource provides the summary reported by the status command.
type StatusSource interface {
	Snapshot() encounter.Summary
}
