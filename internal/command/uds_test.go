package command

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meter/internal/encounter"
)

func startServer(t *testing.T, h *Handler) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "meter.sock")
	server := NewUDSServer(socketPath, h)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return socketPath, cancel, errCh
}

func TestUDSServerClient_Integration(t *testing.T) {
	h, ctrl, views := newTestHandler()
	tr := &fakeTracking{log: encounter.DungeonLog{Enabled: true, SceneID: 1001}}
	h.SetTracking(tr)
	socketPath, cancel, errCh := startServer(t, h)
	defer cancel()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	client := NewUDSClient(socketPath, 5*time.Second)
	ctx := context.Background()

	t.Run("status", func(t *testing.T) {
		resp, err := client.Status(ctx)
		require.NoError(t, err)
		require.Nil(t, resp.Error)

		result, ok := resp.Result.(map[string]any)
		require.True(t, ok)
		enc, ok := result["encounter"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "enc-1", enc["encounter_id"])
	})

	t.Run("controls", func(t *testing.T) {
		_, err := client.Reset(ctx)
		require.NoError(t, err)
		_, err = client.TogglePause(ctx)
		require.NoError(t, err)
		_, err = client.RestartCapture(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ControlKind{ControlReset, ControlTogglePause, ControlRestartCapture}, ctrl.kinds())
	})

	t.Run("views", func(t *testing.T) {
		resp, err := client.SetBossOnly(ctx, true)
		require.NoError(t, err)
		require.Nil(t, resp.Error)
		resp, err = client.Subscribe(ctx, 7, "dps")
		require.NoError(t, err)
		require.Nil(t, resp.Error)

		views.mu.Lock()
		assert.True(t, views.bossOnly)
		assert.Len(t, views.subs, 1)
		views.mu.Unlock()
	})

	t.Run("tracking", func(t *testing.T) {
		resp, err := client.SetWipeDetection(ctx, true)
		require.NoError(t, err)
		require.Nil(t, resp.Error)
		resp, err = client.SetDungeonSegments(ctx, true)
		require.NoError(t, err)
		require.Nil(t, resp.Error)
		wipes, segments := tr.toggles()
		assert.True(t, wipes)
		assert.True(t, segments)

		resp, err = client.DungeonLog(ctx)
		require.NoError(t, err)
		result, ok := resp.Result.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, float64(1001), result["scene_id"])

		resp, err = client.LiveBuffs(ctx)
		require.NoError(t, err)
		require.Nil(t, resp.Error)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
	})

	t.Run("unknown method", func(t *testing.T) {
		resp, err := client.Call(ctx, "task_list", nil)
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	})

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err), "socket removed on stop")
}

func TestUDSServer_ParseError(t *testing.T) {
	h, _, _ := newTestHandler()
	socketPath, cancel, _ := startServer(t, h)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())
	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)

	// the connection stays usable
	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"","id":1}` + "\n"))
	require.NoError(t, err)
	require.True(t, scanner.Scan())
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestUDSClient_NoServer(t *testing.T) {
	client := NewUDSClient(filepath.Join(t.TempDir(), "missing.sock"), 100*time.Millisecond)
	_, err := client.Status(context.Background())
	assert.Error(t, err)
}
