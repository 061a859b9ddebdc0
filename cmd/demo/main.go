// Command demo wires a task queue and a resource pool together end to end:
// every task leases a (simulated) connection from the pool, does a little
// work with it, and releases it. Tuning knobs load from YAML files named in
// the environment, with a .env file honored for local runs.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/patrickhulce/asyncronaut/pool"
	"github.com/patrickhulce/asyncronaut/queue"
)

type conn struct {
	id int
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using process environment")
	}

	poolCfg := pool.Config{
		MaxResources:            4,
		RetireResourceAfterUses: 10,
	}
	if path := os.Getenv("DEMO_POOL_CONFIG"); path != "" {
		loaded, err := pool.LoadConfig(path)
		if err != nil {
			slog.Error("failed to load pool config", slog.String("path", path), slog.String("error", err.Error()))
			os.Exit(1)
		}
		poolCfg = loaded
	}

	var nextConn int
	poolCfg.Create = func() (any, error) {
		nextConn++
		c := &conn{id: nextConn}
		slog.Info("opened connection", slog.Int("conn", c.id))
		return c, nil
	}
	poolCfg.Destroy = func(res any) error {
		slog.Info("closed connection", slog.Int("conn", res.(*conn).id))
		return nil
	}
	connections := pool.New(poolCfg)
	if err := connections.Initialize(); err != nil {
		slog.Error("failed to initialize pool", slog.String("error", err.Error()))
		os.Exit(1)
	}

	queueCfg := queue.Config{
		MaxConcurrentTasks: 2,
	}
	if path := os.Getenv("DEMO_QUEUE_CONFIG"); path != "" {
		loaded, err := queue.LoadConfig(path)
		if err != nil {
			slog.Error("failed to load queue config", slog.String("path", path), slog.String("error", err.Error()))
			os.Exit(1)
		}
		queueCfg = loaded
	}

	queueCfg.OnTask = func(task *queue.Task) (any, error) {
		lease, err := connections.Acquire(pool.AcquireOptions{TimeoutMs: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		defer connections.Release(lease, pool.ReleaseOptions{})

		if err := task.Signal().ThrowIfAborted(); err != nil {
			return nil, err
		}
		c := lease.Resource.(*conn)
		slog.Info("handled task",
			slog.String("task", task.ID()),
			slog.Any("input", task.Input()),
			slog.Int("conn", c.id))
		return fmt.Sprintf("handled by conn %d", c.id), nil
	}
	tasks := queue.New(queueCfg)
	tasks.OnError(func(e *queue.TaskFailureError) {
		slog.Error("task failed",
			slog.String("task", e.Ref.ID()),
			slog.String("error", e.Reason.Error()))
	})

	for i := 1; i <= 20; i++ {
		if _, err := tasks.Enqueue(i, queue.EnqueueOptions{}); err != nil {
			slog.Error("enqueue failed", slog.Int("input", i), slog.String("error", err.Error()))
		}
	}
	if err := tasks.Start(); err != nil {
		slog.Error("failed to start queue", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-stopChan:
		slog.Info("interrupted, draining")
	case <-tasks.WaitForCompletion().Done():
		slog.Info("all tasks completed, draining")
	}

	tasks.Drain().Wait()
	connections.Drain().Wait()

	diag := tasks.GetDiagnostics()
	slog.Info("done",
		slog.Int("succeeded", len(diag.Tasks[queue.Succeeded])),
		slog.Int("failed", len(diag.Tasks[queue.Failed])),
		slog.Int("cancelled", len(diag.Tasks[queue.Cancelled])))
}
