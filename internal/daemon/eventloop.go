package daemon

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/stepwise/pkg/session"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const defaultStatsInterval = 30 * time.Second

// EventLoop runs periodic maintenance while the daemon is up: session stats
// every interval and transcript pruning on the configured cron schedule.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
	log      zerolog.Logger
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon, interval time.Duration) *EventLoop {
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	return &EventLoop{
		daemon:   d,
		interval: interval,
		log:      d.logger.Component("eventloop"),
	}
}

// Run schedules the maintenance jobs and blocks until ctx ends. Running jobs
// are allowed to finish before it returns.
func (e *EventLoop) Run(ctx context.Context) {
	scheduler := e.scheduler()
	scheduler.Start()
	e.log.Debug().Dur("interval", e.interval).Int("jobs", len(scheduler.Entries())).Msg("Event loop started")

	<-ctx.Done()
	e.log.Debug().Msg("Event loop stopping")
	<-scheduler.Stop().Done()
}

func (e *EventLoop) scheduler() *cron.Cron {
	cl := cronLogger{log: e.log}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Schedule(cron.Every(e.interval), cron.FuncJob(e.processTasks))

	engineCfg := e.daemon.config.Engine
	if engineCfg.TranscriptRetention > 0 && engineCfg.PruneSchedule != "" && e.daemon.config.TranscriptDir() != "" {
		if _, err := c.AddFunc(engineCfg.PruneSchedule, e.pruneJob); err != nil {
			e.log.Error().Err(err).Str("schedule", engineCfg.PruneSchedule).Msg("Transcript pruning disabled")
		}
	}
	return c
}

// SessionStats summarizes the live sessions.
type SessionStats struct {
	Sessions   int
	Processing int
	Pending    int
	Streams    int
}

// Stats collects session and gateway counters.
func (e *EventLoop) Stats() SessionStats {
	var stats SessionStats
	eng := e.daemon.engine
	for _, id := range eng.Sessions() {
		s, err := eng.Session(id)
		if err != nil {
			continue
		}
		stats.Sessions++
		if s.State() == session.StateProcessing {
			stats.Processing++
		}
		stats.Pending += s.Pending()
	}
	if gw := e.daemon.gateway; gw != nil {
		stats.Streams = len(gw.Clients())
	}
	return stats
}

// processTasks logs session stats for monitoring
func (e *EventLoop) processTasks() {
	stats := e.Stats()
	if stats.Sessions == 0 {
		return
	}
	e.log.Debug().
		Int("sessions", stats.Sessions).
		Int("processing", stats.Processing).
		Int("pending_events", stats.Pending).
		Int("streams", stats.Streams).
		Msg("Session stats")
}

func (e *EventLoop) pruneJob() {
	removed, err := e.PruneTranscripts(time.Now())
	if err != nil {
		e.log.Warn().Err(err).Msg("Transcript pruning failed")
		return
	}
	if removed > 0 {
		e.log.Info().Int("removed", removed).Msg("Pruned old transcripts")
	}
}

// PruneTranscripts deletes transcript files last written before
// now minus the retention window. Transcripts of live sessions are kept.
func (e *EventLoop) PruneTranscripts(now time.Time) (int, error) {
	dir := e.daemon.config.TranscriptDir()
	retention := e.daemon.config.Engine.TranscriptRetention
	if dir == "" || retention <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	live := make(map[string]bool)
	for _, id := range e.daemon.engine.Sessions() {
		live[id] = true
	}

	cutoff := now.Add(-retention)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") || live[strings.TrimSuffix(name, ".jsonl")] {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			e.log.Warn().Err(err).Str("file", name).Msg("Failed to remove transcript")
			continue
		}
		removed++
	}
	return removed, nil
}

// cronLogger routes scheduler messages into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
