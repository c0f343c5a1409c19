package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// CleanupFunc removes expired state and reports how many items went away.
type CleanupFunc func(context.Context) (int64, error)

type cleanupTask struct {
	name string
	fn   CleanupFunc
}

// CleanupJob runs a fixed set of cleanup tasks on an interval, once at start
// and then on every tick.
type CleanupJob struct {
	tasks    []cleanupTask
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewCleanupJob(interval time.Duration) *CleanupJob {
	return &CleanupJob{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Add registers a task. It must be called before Start.
func (j *CleanupJob) Add(name string, fn CleanupFunc) *CleanupJob {
	j.tasks = append(j.tasks, cleanupTask{name: name, fn: fn})
	return j
}

func (j *CleanupJob) Len() int {
	return len(j.tasks)
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, task := range j.tasks {
		j.runCleanup(ctx, task.name, task.fn)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn CleanupFunc) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
