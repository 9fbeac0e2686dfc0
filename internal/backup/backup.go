// Package backup periodically exports the ledger as a snapshot file.
package backup

import (
	"fmt"
	"time"

	"github.com/pathakanu/remindbot/internal/model"
	"github.com/pathakanu/remindbot/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Source provides the state to export.
type Source interface {
	Snapshot() model.LedgerState
}

// Job writes snapshots of a Source on a cron schedule.
type Job struct {
	cron   *cron.Cron
	source Source
	path   string
	logger *zap.Logger
}

// New registers the export on schedule (standard five-field cron syntax).
func New(schedule, path string, source Source, loc *time.Location, logger *zap.Logger) (*Job, error) {
	if loc == nil {
		loc = time.Local
	}
	j := &Job{
		cron:   cron.New(cron.WithLocation(loc)),
		source: source,
		path:   path,
		logger: logger,
	}
	if _, err := j.cron.AddFunc(schedule, j.runLogged); err != nil {
		return nil, fmt.Errorf("backup schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start starts the scheduler loop.
func (j *Job) Start() {
	j.cron.Start()
}

// Stop stops the cron scheduler and waits for a running export to finish.
func (j *Job) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Run exports one snapshot now.
func (j *Job) Run() error {
	data, err := store.Encode(j.source.Snapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := store.WriteSnapshotFile(j.path, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", j.path, err)
	}
	return nil
}

func (j *Job) runLogged() {
	if err := j.Run(); err != nil {
		j.logger.Error("backup failed", zap.Error(err))
		return
	}
	j.logger.Info("backup written", zap.String("path", j.path))
}
