package queue

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/patrickhulce/asyncronaut/clock"
	"github.com/patrickhulce/asyncronaut/future"
)

// OnTaskFunc handles one admitted task and returns its output or an error.
// It is invoked with the Task itself so a handler can read its Input(),
// watch Signal() for cooperative cancellation, and call EmitProgress.
type OnTaskFunc func(*Task) (any, error)

// Config configures a Queue. Only OnTask has no usable default.
type Config struct {
	MaxConcurrentTasks     int
	MaxQueuedTasks         int // <= 0 means unlimited
	MaxCompletedTaskMemory int
	PerTaskTimeoutMs       time.Duration

	OnTask   OnTaskFunc
	Now      clock.Clock
	Executor future.Executor
	Logger   *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 1
	}
	if c.MaxCompletedTaskMemory <= 0 {
		c.MaxCompletedTaskMemory = 100
	}
	if c.PerTaskTimeoutMs <= 0 {
		c.PerTaskTimeoutMs = 60 * time.Second
	}
	if c.Now == nil {
		c.Now = clock.Wall{}
	}
	if c.Executor == nil {
		c.Executor = future.NewGoroutineExecutor(c.MaxConcurrentTasks)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// yamlConfig is the serializable subset of Config: OnTask, Now, Executor and
// Logger carry behavior and cannot round-trip through YAML.
type yamlConfig struct {
	MaxConcurrentTasks     int `yaml:"maxConcurrentTasks"`
	MaxQueuedTasks         int `yaml:"maxQueuedTasks"`
	MaxCompletedTaskMemory int `yaml:"maxCompletedTaskMemory"`
	PerTaskTimeoutMs       int `yaml:"perTaskTimeoutMs"`
}

// LoadConfig reads the numeric/duration knobs of Config from a YAML file at
// path. The caller must still set OnTask (and may override Now/Executor/
// Logger) before passing the result to New.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, err
	}
	return Config{
		MaxConcurrentTasks:     yc.MaxConcurrentTasks,
		MaxQueuedTasks:         yc.MaxQueuedTasks,
		MaxCompletedTaskMemory: yc.MaxCompletedTaskMemory,
		PerTaskTimeoutMs:       time.Duration(yc.PerTaskTimeoutMs) * time.Millisecond,
	}, nil
}
