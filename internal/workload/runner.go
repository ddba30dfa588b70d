package workload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Executor runs one command
type Executor interface {
	Execute(ctx context.Context, cmd Command) error
}

// Summary counts the outcome of a run
type Summary struct {
	Total    int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Run executes commands across workers. Commands of one user run in file
// order on a single worker; different users run concurrently. Failures are
// logged and counted, they never stop the run.
func Run(ctx context.Context, exec Executor, commands []Command, workers int) Summary {
	if workers < 1 {
		workers = 1
	}

	var order []string
	byUser := make(map[string][]Command)
	for _, cmd := range commands {
		if _, ok := byUser[cmd.User]; !ok {
			order = append(order, cmd.User)
		}
		byUser[cmd.User] = append(byUser[cmd.User], cmd)
	}

	start := time.Now()
	queue := make(chan []Command)
	var mu sync.Mutex
	summary := Summary{Total: len(commands)}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for batch := range queue {
				for _, cmd := range batch {
					if ctx.Err() != nil {
						return
					}
					err := exec.Execute(ctx, cmd)
					if err == nil {
						continue
					}

					mu.Lock()
					if errors.Is(err, ErrSkipped) {
						summary.Skipped++
					} else {
						summary.Failed++
					}
					mu.Unlock()

					if !errors.Is(err, ErrSkipped) {
						log.Warn().
							Err(err).
							Int("worker_id", workerID).
							Int("transaction_num", cmd.Num).
							Str("command", string(cmd.Name)).
							Str("user", cmd.User).
							Msg("command failed")
					}
				}
			}
		}(i)
	}

	for _, user := range order {
		select {
		case queue <- byUser[user]:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()

	summary.Duration = time.Since(start)
	return summary
}
