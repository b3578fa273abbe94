package encounter

// NotificationKind names a lifecycle notification.
type NotificationKind string

const (
	NotifyReset            NotificationKind = "reset"
	NotifyPause            NotificationKind = "pause"
	NotifyResume           NotificationKind = "resume"
	NotifySceneChange      NotificationKind = "scene_change"
	NotifyBossDeath        NotificationKind = "boss_death"
	NotifyServerChange     NotificationKind = "server_change"
	NotifyCaptureError     NotificationKind = "capture_error"
	NotifyCaptureRestarted NotificationKind = "capture_restarted"
	NotifyMetricsReset     NotificationKind = "reset_player_metrics"
)

// Notification is pushed to the presentation boundary as soon as it happens,
// outside the snapshot cadence.
type Notification struct {
	Kind NotificationKind `json:"type"`
	Data any              `json:"data,omitempty"`
}

// Notifier receives lifecycle notifications. Notify is never called with the
// encounter lock held.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// SceneInfo is the payload of a scene_change notification.
type SceneInfo struct {
	SceneID int32  `json:"scene_id"`
	Known   bool   `json:"known"`
	Name    string `json:"scene_name"`
}

// BossDeathInfo is the payload of a boss_death notification.
type BossDeathInfo struct {
	UID  int64  `json:"uid"`
	Name string `json:"name"`
	AtMs int64  `json:"at_ms"`
}

// ResetInfo is the payload of a reset notification.
type ResetInfo struct {
	EncounterID string `json:"encounter_id,omitempty"`
	Manual      bool   `json:"manual"`
	Reason      string `json:"reason"`
}

// MetricsResetInfo is the payload of a reset_player_metrics notification.
type MetricsResetInfo struct {
	EncounterID string `json:"encounter_id,omitempty"`
	SegmentName string `json:"segment_name,omitempty"`
}
