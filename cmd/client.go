package cmd

import (
	"context"
	"time"

	"firestige.xyz/meter/internal/command"
)

// ControlClient is the daemon control surface used by ctl commands.
type ControlClient interface {
	Reset(ctx context.Context) (*command.Response, error)
	TogglePause(ctx context.Context) (*command.Response, error)
	SetBossOnly(ctx context.Context, enabled bool) (*command.Response, error)
	Subscribe(ctx context.Context, uid int64, metric string) (*command.Response, error)
	Unsubscribe(ctx context.Context, uid int64, metric string) (*command.Response, error)
	RestartCapture(ctx context.Context) (*command.Response, error)
	ResetMetrics(ctx context.Context) (*command.Response, error)
	SetWipeDetection(ctx context.Context, enabled bool) (*command.Response, error)
	SetDungeonSegments(ctx context.Context, enabled bool) (*command.Response, error)
	DungeonLog(ctx context.Context) (*command.Response, error)
	LiveBuffs(ctx context.Context) (*command.Response, error)
	Status(ctx context.Context) (*command.Response, error)
	Shutdown(ctx context.Context) (*command.Response, error)
}

var ctlTimeout = 10 * time.Second

// newClient is replaced in tests.
var newClient = func() ControlClient {
	return command.NewUDSClient(socketPath, ctlTimeout)
}

// GetClient returns the client factory.
func GetClient() func() ControlClient { return newClient }

// SetClient replaces the client factory.
func SetClient(f func() ControlClient) { newClient = f }
