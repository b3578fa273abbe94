package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meter/internal/encounter"
)

type fakeController struct {
	mu       sync.Mutex
	controls []Control
	err      error
}

func (f *fakeController) Submit(_ context.Context, c Control) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, c)
	return nil
}

func (f *fakeController) kinds() []ControlKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ControlKind
	for _, c := range f.controls {
		out = append(out, c.Kind)
	}
	return out
}

type sub struct {
	uid    int64
	metric encounter.Metric
}

type fakeViews struct {
	mu       sync.Mutex
	bossOnly bool
	subs     map[sub]bool
}

func newFakeViews() *fakeViews { return &fakeViews{subs: make(map[sub]bool)} }

func (f *fakeViews) SetBossOnly(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bossOnly = enabled
}

func (f *fakeViews) Subscribe(uid int64, m encounter.Metric) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub{uid, m}] = true
}

func (f *fakeViews) Unsubscribe(uid int64, m encounter.Metric) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub{uid, m})
}

func (f *fakeViews) ClearSubscriptions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.subs)
}

type fakeTracking struct {
	mu       sync.Mutex
	wipes    bool
	segments bool
	log      encounter.DungeonLog
	buffs    []encounter.EntityBuffs
}

func (f *fakeTracking) SetWipeDetection(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wipes = enabled
}

func (f *fakeTracking) SetDungeonSegments(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = enabled
}

func (f *fakeTracking) DungeonLog() encounter.DungeonLog { return f.log }

func (f *fakeTracking) LiveBuffs(int64) []encounter.EntityBuffs { return f.buffs }

func (f *fakeTracking) toggles() (wipes, segments bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wipes, f.segments
}

type fakeStatus struct{ s encounter.Summary }

func (f fakeStatus) Snapshot() encounter.Summary { return f.s }

func newTestHandler() (*Handler, *fakeController, *fakeViews) {
	ctrl := &fakeController{}
	views := newFakeViews()
	h := NewHandler(ctrl, views, fakeStatus{s: encounter.Summary{EncounterID: "enc-1", TotalDamage: 150}})
	return h, ctrl, views
}

func TestHandler_ControlMethods(t *testing.T) {
	h, ctrl, _ := newTestHandler()

	for i, method := range []string{MethodReset, MethodTogglePause, MethodRestartCapture} {
		resp := h.Handle(context.Background(), Command{Method: method, ID: string(rune('a' + i))})
		require.Nil(t, resp.Error, method)
		assert.Equal(t, string(rune('a'+i)), resp.ID)
	}
	assert.Equal(t, []ControlKind{ControlReset, ControlTogglePause, ControlRestartCapture}, ctrl.kinds())
}

func TestHandler_ControlSubmitError(t *testing.T) {
	ctrl := &fakeController{err: errors.New("loop stopped")}
	h := NewHandler(ctrl, nil, nil)

	resp := h.Handle(context.Background(), Command{Method: MethodReset, ID: "r1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "loop stopped")
}

func TestHandler_SetBossOnly(t *testing.T) {
	h, _, views := newTestHandler()

	resp := h.Handle(context.Background(), Command{
		Method: MethodSetBossOnly,
		Params: json.RawMessage(`{"enabled":true}`),
		ID:     "b1",
	})
	require.Nil(t, resp.Error)
	assert.True(t, views.bossOnly)

	resp = h.Handle(context.Background(), Command{
		Method: MethodSetBossOnly,
		Params: json.RawMessage(`{"enabled":false}`),
		ID:     "b2",
	})
	require.Nil(t, resp.Error)
	assert.False(t, views.bossOnly)
}

func TestHandler_SubscribeUnsubscribe(t *testing.T) {
	h, _, views := newTestHandler()

	resp := h.Handle(context.Background(), Command{
		Method: MethodSubscribe,
		Params: json.RawMessage(`{"uid":42,"metric":"heal"}`),
		ID:     "s1",
	})
	require.Nil(t, resp.Error)
	assert.True(t, views.subs[sub{42, encounter.MetricHeal}])

	resp = h.Handle(context.Background(), Command{
		Method: MethodUnsubscribe,
		Params: json.RawMessage(`{"uid":42,"metric":"heal"}`),
		ID:     "s2",
	})
	require.Nil(t, resp.Error)
	assert.Empty(t, views.subs)
}

func TestHandler_SubscribeValidation(t *testing.T) {
	h, _, views := newTestHandler()

	tests := []struct {
		name   string
		params string
	}{
		{"unknown metric", `{"uid":42,"metric":"mana"}`},
		{"missing uid", `{"metric":"dps"}`},
		{"bad json", `{invalid json}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.Handle(context.Background(), Command{
				Method: MethodSubscribe,
				Params: json.RawMessage(tt.params),
				ID:     "v",
			})
			require.NotNil(t, resp.Error)
			assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
		})
	}
	assert.Empty(t, views.subs)
}

func TestHandler_Status(t *testing.T) {
	h, _, _ := newTestHandler()
	h.SetVersion("1.2.3")

	resp := h.Handle(context.Background(), Command{Method: MethodStatus, ID: "st"})
	require.Nil(t, resp.Error)

	res, ok := resp.Result.(StatusResult)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", res.Version)
	assert.Equal(t, "enc-1", res.Encounter.EncounterID)
	assert.Equal(t, int64(150), res.Encounter.TotalDamage)
}

func TestHandler_Shutdown(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: MethodShutdown, ID: "x"})
	require.NotNil(t, resp.Error, "no shutdown func registered")

	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })
	resp = h.Handle(context.Background(), Command{Method: MethodShutdown, ID: "y"})
	require.Nil(t, resp.Error)
	<-done
}

func TestHandler_UnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: "task_create", ID: "u"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "u", resp.ID)
}

func TestHandler_MissingViews(t *testing.T) {
	h := NewHandler(&fakeController{}, nil, nil)

	resp := h.Handle(context.Background(), Command{
		Method: MethodSetBossOnly,
		Params: json.RawMessage(`{"enabled":true}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)
}

func TestHandler_ResetMetrics(t *testing.T) {
	h, ctrl, views := newTestHandler()
	views.Subscribe(42, encounter.MetricDamage)

	resp := h.Handle(context.Background(), Command{Method: MethodResetMetrics, ID: "rm"})
	require.Nil(t, resp.Error)
	assert.Equal(t, []ControlKind{ControlResetMetrics}, ctrl.kinds())
	assert.Empty(t, views.subs)
}

func TestHandler_ResetMetricsSubmitError(t *testing.T) {
	views := newFakeViews()
	views.Subscribe(42, encounter.MetricDamage)
	h := NewHandler(&fakeController{err: errors.New("loop stopped")}, views, nil)

	resp := h.Handle(context.Background(), Command{Method: MethodResetMetrics, ID: "rm"})
	require.NotNil(t, resp.Error)
	assert.Len(t, views.subs, 1, "subscriptions kept when nothing was reset")
}

func TestHandler_TrackingToggles(t *testing.T) {
	h, _, _ := newTestHandler()
	tr := &fakeTracking{wipes: true, segments: true}
	h.SetTracking(tr)

	resp := h.Handle(context.Background(), Command{
		Method: MethodSetWipeDetection,
		Params: json.RawMessage(`{"enabled":false}`),
		ID:     "w",
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"wipe_detection": false}, resp.Result)
	wipes, segments := tr.toggles()
	assert.False(t, wipes)
	assert.True(t, segments)

	resp = h.Handle(context.Background(), Command{
		Method: MethodSetDungeonSegments,
		Params: json.RawMessage(`{"enabled":false}`),
		ID:     "d",
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]any{"dungeon_segments": false}, resp.Result)
	_, segments = tr.toggles()
	assert.False(t, segments)

	resp = h.Handle(context.Background(), Command{
		Method: MethodSetDungeonSegments,
		Params: json.RawMessage(`{enabled}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandler_TrackingQueries(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: MethodDungeonLog, ID: "q"})
	require.NotNil(t, resp.Error, "no tracking registered")
	assert.Equal(t, ErrCodeInternalError, resp.Error.Code)

	tr := &fakeTracking{
		log:   encounter.DungeonLog{Enabled: true, SceneID: 1001, Segments: []encounter.Segment{{ID: 1, Type: encounter.SegmentTrash}}},
		buffs: []encounter.EntityBuffs{{UID: 1, Name: "Alice"}},
	}
	h.SetTracking(tr)

	resp = h.Handle(context.Background(), Command{Method: MethodDungeonLog, ID: "q"})
	require.Nil(t, resp.Error)
	assert.Equal(t, tr.log, resp.Result)

	resp = h.Handle(context.Background(), Command{Method: MethodLiveBuffs, ID: "b"})
	require.Nil(t, resp.Error)
	assert.Equal(t, tr.buffs, resp.Result)
}
