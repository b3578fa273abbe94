package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"firestige.xyz/meter/internal/capture"
	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/gamedata"
	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/pipeline"
)

// ReplayResult is the outcome of replaying a capture file.
type ReplayResult struct {
	Summary       encounter.Summary                  `json:"summary"`
	Stats         pipeline.Stats                     `json:"stats"`
	Notifications map[encounter.NotificationKind]int `json:"notifications,omitempty"`
}

// Replay runs src through the pipeline on packet time and returns the state
// of the last encounter. The encounter is closed afterwards so its records
// reach the configured persist sink.
func Replay(ctx context.Context, cfg *config.GlobalConfig, src capture.Capturer) (*ReplayResult, error) {
	tables, err := gamedata.Load(cfg.GameData.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load game data: %w", err)
	}
	sink, err := persist.NewSink(cfg.Persist)
	if err != nil {
		return nil, fmt.Errorf("failed to create persist sink: %w", err)
	}
	queue := persist.NewQueue(cfg.Persist.QueueCapacity, sink)

	var mu sync.Mutex
	counts := make(map[encounter.NotificationKind]int)
	notifier := encounter.NotifierFunc(func(n encounter.Notification) {
		mu.Lock()
		counts[n.Kind]++
		mu.Unlock()
	})

	manager := encounter.NewManager(encounter.ConfigFrom(cfg.Encounter, cfg.Phase), tables, queue, notifier)

	pcfg := pipeline.ConfigFrom(cfg)
	pcfg.Replay = true
	p, err := pipeline.New(pcfg, src, manager, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	queueCtx, queueCancel := context.WithCancel(context.Background())
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		if err := queue.Run(queueCtx); err != nil {
			slog.Warn("persist queue stopped with error", "error", err)
		}
	}()

	runErr := p.Run(ctx)

	res := &ReplayResult{
		Summary: manager.Snapshot(),
		Stats:   p.Stats(),
	}
	manager.Close(p.Now())
	queueCancel()
	<-queueDone

	mu.Lock()
	if len(counts) > 0 {
		res.Notifications = counts
	}
	mu.Unlock()

	if runErr != nil {
		return res, fmt.Errorf("replay: %w", runErr)
	}
	return res, nil
}
