// Package janitor purges expired state from the stores on a timer.
package janitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PurgeFunc deletes expired entries and returns how many went.
type PurgeFunc func(ctx context.Context) (int, error)

type task struct {
	name  string
	purge PurgeFunc
}

type Janitor struct {
	interval time.Duration
	tasks    []task
}

func New(interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{interval: interval}
}

// Add registers a purge to run on every sweep.
func (j *Janitor) Add(name string, purge PurgeFunc) *Janitor {
	j.tasks = append(j.tasks, task{name: name, purge: purge})
	return j
}

// Sweep runs every purge once, concurrently. A failing purge does not stop
// the others; the first error is returned.
func (j *Janitor) Sweep(ctx context.Context) error {
	var g errgroup.Group
	for _, t := range j.tasks {
		g.Go(func() error {
			n, err := t.purge(ctx)
			if err != nil {
				log.Warn().Err(err).Str("task", t.name).Msg("purge failed")
				return errors.Wrapf(err, "[Sweep] %s", t.name)
			}
			if n > 0 {
				log.Debug().Str("task", t.name).Int("deleted", n).Msg("purged expired entries")
			}
			return nil
		})
	}
	return g.Wait()
}

// Run sweeps every interval until ctx is done. It always returns nil so it
// can sit in an errgroup beside the HTTP server.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("janitor started")
	for {
		select {
		case <-ticker.C:
			_ = j.Sweep(ctx)
		case <-ctx.Done():
			log.Info().Msg("janitor stopped")
			return nil
		}
	}
}
