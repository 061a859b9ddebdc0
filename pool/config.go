package pool

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/patrickhulce/asyncronaut/clock"
)

// AllocationMethod picks between reusing and creating resources under
// spare capacity.
type AllocationMethod int

const (
	// Lazy reuses an existing record with spare capacity before creating
	// a new one.
	Lazy AllocationMethod = iota
	// Eager creates new records until maxResources, then falls back to
	// reuse.
	Eager
)

// CreateFunc constructs a pool resource. Runs async; may be slow.
type CreateFunc func() (any, error)

// DestroyFunc tears a pool resource down.
type DestroyFunc func(resource any) error

// OnAcquireFunc runs before a lease is handed to its caller. A rejection
// aborts the acquire.
type OnAcquireFunc func(*ExternalLease) error

// OnReleaseFunc runs during release. A rejection still releases the lease.
type OnReleaseFunc func(*ExternalLease) error

// Config configures a Pool. Create and Destroy have no usable default;
// every duration field defaults to 0, meaning unlimited/no-timeout.
type Config struct {
	Create  CreateFunc
	Destroy DestroyFunc

	OnAcquire OnAcquireFunc
	OnRelease OnReleaseFunc

	AllocationMethod               AllocationMethod
	MaxConcurrentLeasesPerResource int
	MinResources                   int
	MaxResources                   int // <= 0 means unlimited
	MaxQueuedAcquireRequests       int // <= 0 means unlimited

	RetireResourceAfterUses                    int           // <= 0 means unlimited
	RetireResourceAfterSeconds                 time.Duration // <= 0 means unlimited
	DestroyRetiredResourceForciblyAfterSeconds time.Duration // <= 0 means unlimited

	CreateTimeoutMs         time.Duration
	DestroyTimeoutMs        time.Duration
	DefaultAcquireTimeoutMs time.Duration
	DefaultReleaseTimeoutMs time.Duration

	SilenceReleaseErrors bool

	Now    clock.Clock
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentLeasesPerResource <= 0 {
		c.MaxConcurrentLeasesPerResource = 1
	}
	if c.Now == nil {
		c.Now = clock.Wall{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// yamlConfig is the serializable subset of Config: the lifecycle callbacks,
// clock and logger carry behavior and cannot round-trip through YAML.
type yamlConfig struct {
	AllocationMethod               string `yaml:"allocationMethod"`
	MaxConcurrentLeasesPerResource int    `yaml:"maxConcurrentLeasesPerResource"`
	MinResources                   int    `yaml:"minResources"`
	MaxResources                   int    `yaml:"maxResources"`
	MaxQueuedAcquireRequests       int    `yaml:"maxQueuedAcquireRequests"`

	RetireResourceAfterUses                    int `yaml:"retireResourceAfterUses"`
	RetireResourceAfterSeconds                 int `yaml:"retireResourceAfterSeconds"`
	DestroyRetiredResourceForciblyAfterSeconds int `yaml:"destroyRetiredResourceForciblyAfterSeconds"`

	CreateTimeoutMs         int `yaml:"createTimeoutMs"`
	DestroyTimeoutMs        int `yaml:"destroyTimeoutMs"`
	DefaultAcquireTimeoutMs int `yaml:"defaultAcquireTimeoutMs"`
	DefaultReleaseTimeoutMs int `yaml:"defaultReleaseTimeoutMs"`

	SilenceReleaseErrors bool `yaml:"silenceReleaseErrors"`
}

// LoadConfig reads the numeric/duration knobs of Config from a YAML file at
// path. The caller must still set Create and Destroy (and may override the
// other callbacks, Now and Logger) before passing the result to New.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, err
	}
	method := Lazy
	if yc.AllocationMethod == "eager" {
		method = Eager
	}
	return Config{
		AllocationMethod:               method,
		MaxConcurrentLeasesPerResource: yc.MaxConcurrentLeasesPerResource,
		MinResources:                   yc.MinResources,
		MaxResources:                   yc.MaxResources,
		MaxQueuedAcquireRequests:       yc.MaxQueuedAcquireRequests,

		RetireResourceAfterUses:                    yc.RetireResourceAfterUses,
		RetireResourceAfterSeconds:                 time.Duration(yc.RetireResourceAfterSeconds) * time.Second,
		DestroyRetiredResourceForciblyAfterSeconds: time.Duration(yc.DestroyRetiredResourceForciblyAfterSeconds) * time.Second,

		CreateTimeoutMs:         time.Duration(yc.CreateTimeoutMs) * time.Millisecond,
		DestroyTimeoutMs:        time.Duration(yc.DestroyTimeoutMs) * time.Millisecond,
		DefaultAcquireTimeoutMs: time.Duration(yc.DefaultAcquireTimeoutMs) * time.Millisecond,
		DefaultReleaseTimeoutMs: time.Duration(yc.DefaultReleaseTimeoutMs) * time.Millisecond,

		SilenceReleaseErrors: yc.SilenceReleaseErrors,
	}, nil
}
