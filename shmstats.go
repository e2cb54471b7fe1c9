// Package shmstats is an interprocess application-metrics store backed by
// System V shared memory.
//
// Producer processes record monotonic counters and histogram-style timers;
// consumer processes (a Performance Co-Pilot PMDA, or any compatible reader)
// poll the same segments and map each value to a PCP {cluster, item,
// instance} triple. Any number of unrelated processes may share one store:
// first-time registration of a metric is serialized by an advisory lock on
// the rendezvous file, while reads and established-metric writes stay
// lock-free.
//
// # Basic Usage
//
//	reg, err := shmstats.New("soapxml", []shmstats.Config{
//	    {Type: shmstats.TypeCounter, Name: "requests", Cluster: 0, Item: shmstats.Item(0)},
//	    {Type: shmstats.TypeTimer, Name: "fetch", Cluster: 0, Item: shmstats.Item(1)},
//	}, shmstats.WithVersion(100))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reg.Close()
//
//	reg.Increment("requests")
//	reg.Timing("fetch", 2000)
//
// A counter occupies one uint32 slot under its own name. A timer expands to
// eight physical metrics named <name>.service_time, <name>.time_taken_0
// through <name>.time_taken_5, and <name>.timings_count, at items base
// through base+7.
//
// # Concurrency
//
// Counter updates are read-modify-write and are not atomic across processes;
// concurrent increments of the same metric from different processes can lose
// updates. Registration of new metrics is fully serialized and safe.
package shmstats

import (
	"math"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pcpkit/shmstats/store"
)

// Defaults for the constructor options.
const (
	// DefaultKeyFilePath is the directory rendezvous files are created in.
	DefaultKeyFilePath = "/var/tmp/"

	// DefaultIdentifier is the rendezvous file suffix.
	DefaultIdentifier = "metrics"

	// DefaultVersion is the store layout version used when none is given.
	DefaultVersion = 1
)

// valueWrapBound is the threshold at which stored values wrap to zero: the
// platform's max int or the uint32 ceiling, whichever is smaller.
const valueWrapBound = int64(min(math.MaxInt, math.MaxUint32))

// Item wraps an item id for the Config.Item optional field.
func Item(item int) *int {
	return &item
}

// Instance wraps an instance id for the Config.Instance optional field.
func Instance(instance int) *int {
	return &instance
}

// Registry is the public API applications record metrics through.
//
// A Registry is safe for concurrent use within one process. Across
// processes, see the package documentation for the atomicity caveats.
type Registry struct {
	name        string
	identifier  string
	dir         string
	version     uint32
	readOnly    bool
	devMode     bool
	lockTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	store   *store.Store
	metrics map[string]*physicalMetric
	order   []string

	// hasError latches on initialization-class failures; once set, reads
	// return the sentinel and writes are no-ops. It is never reset.
	hasError bool
}

// New creates a registry for the given logical metric configs and opens the
// shared store behind it.
//
// A configuration mistake (bad option value) returns an error. A shared
// memory or rendezvous failure does not: per the degraded-mode contract the
// registry is still returned with its error latch set, every read yields the
// sentinel, and every write is a no-op, so an instrumented application keeps
// running when the metrics substrate is broken.
func New(name string, configs []Config, opts ...Option) (*Registry, error) {
	r := &Registry{
		name:       name,
		identifier: DefaultIdentifier,
		dir:        DefaultKeyFilePath,
		version:    DefaultVersion,
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	physicals := expandConfigs(configs, r.devMode, r.logger)
	r.metrics = make(map[string]*physicalMetric, len(physicals))
	r.order = make([]string, 0, len(physicals))
	for _, p := range physicals {
		r.metrics[p.name] = p
		r.order = append(r.order, p.name)
	}

	st, err := store.Open(store.Config{
		Path:          r.Path(),
		Version:       r.version,
		PhysicalCount: len(physicals),
		ReadOnly:      r.readOnly,
		LockTimeout:   r.lockTimeout,
		Logger:        r.logger,
	})
	if err != nil {
		r.logger.Error("metrics store unavailable, degrading to no-op",
			zap.String("path", r.Path()),
			zap.Error(err))
		r.hasError = true

		return r, nil
	}
	r.store = st

	return r, nil
}

// Path returns the rendezvous file path the registry coordinates on.
func (r *Registry) Path() string {
	return filepath.Join(r.dir, r.name+"."+r.identifier)
}

// Names returns every expanded physical metric name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)

	return out
}

// Get returns the current value of a physical metric.
//
// An unknown name returns (0, false). A known name whose entry cannot be
// materialized (segment full, lock timeout) returns (0, true): the metric is
// registered, its value just is not observable yet.
func (r *Registry) Get(name string) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.get(name)
}

func (r *Registry) get(name string) (uint32, bool) {
	if r.hasError {
		return 0, false
	}

	p, ok := r.metrics[name]
	if !ok {
		return 0, false
	}

	if !r.materialize(p) {
		return 0, true
	}

	v, err := r.store.ReadValue(p.entry)
	if err != nil {
		r.logger.Warn("cannot read metric value",
			zap.String("metric", name),
			zap.Error(err))

		return 0, true
	}

	return uint32(v), true //nolint: gosec
}

// Set stores v as the metric's current value. Negative values are rewritten
// to zero with a logged warning, and values at or above the wrap bound are
// rewritten to zero with an info-level "wrapping value" message. Returns false
// when the name is unregistered or the write could not be performed.
func (r *Registry) Set(name string, v int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.set(name, v)
}

func (r *Registry) set(name string, v int64) bool {
	if r.hasError {
		return false
	}

	p, ok := r.metrics[name]
	if !ok {
		// Unregistered names are silently ignored.
		return false
	}

	if r.store.ReadOnly() {
		r.logger.Error("write to read-only metrics store ignored",
			zap.String("metric", name))

		return false
	}

	if !r.materialize(p) {
		return false
	}

	v = r.validateValue(v, name)
	if err := r.store.WriteValue(p.entry, v); err != nil {
		r.logger.Warn("cannot write metric value",
			zap.String("metric", name),
			zap.Error(err))

		return false
	}

	return true
}

// Increment adds 1 to the metric. Equivalent to IncrementBy(name, 1).
func (r *Registry) Increment(name string) bool {
	return r.IncrementBy(name, 1)
}

// IncrementBy adds delta to the metric's current value.
//
// The update is read-modify-write: within one process calls are serialized,
// but concurrent increments from different processes can lose updates.
func (r *Registry) IncrementBy(name string, delta int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.get(name)
	if !ok {
		return false
	}

	return r.set(name, int64(v)+delta)
}

// SetFloat stores a float value after integer validation: a non-integral,
// NaN, or infinite value is rewritten to zero with a logged warning.
func (r *Registry) SetFloat(name string, v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		r.logger.Warn("non-integer metric value rewritten to zero",
			zap.String("metric", name),
			zap.Float64("value", v))
		v = 0
	}

	return r.Set(name, int64(v))
}

// Timing records one timed operation of ms milliseconds against a timer:
// ms is added to <name>.service_time, the histogram bucket counter for ms is
// incremented, and <name>.timings_count is incremented by one. Each field is
// updated independently.
func (r *Registry) Timing(name string, ms int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasError {
		return false
	}

	// The base name must have been registered as a timer.
	serviceTime := name + "." + timingFields[0]
	if _, ok := r.metrics[serviceTime]; !ok {
		return false
	}

	if ms < 0 {
		r.logger.Warn("negative timing rewritten to zero",
			zap.String("metric", name),
			zap.Int64("ms", ms))
		ms = 0
	}

	current, ok := r.get(serviceTime)
	if !ok {
		return false
	}
	ok = r.set(serviceTime, int64(current)+ms)

	bucket := name + "." + timingFields[1+timingBucket(ms)]
	if v, bucketOK := r.get(bucket); bucketOK {
		ok = r.set(bucket, int64(v)+1) && ok
	} else {
		ok = false
	}

	count := name + "." + timingFields[7]
	if v, countOK := r.get(count); countOK {
		ok = r.set(count, int64(v)+1) && ok
	} else {
		ok = false
	}

	return ok
}

// All returns a snapshot of every expanded physical metric name and its
// current value.
func (r *Registry) All() map[string]uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hasError {
		return map[string]uint32{}
	}

	out := make(map[string]uint32, len(r.order))
	for _, name := range r.order {
		v, _ := r.get(name)
		out[name] = v
	}

	return out
}

// Clear sets every registered physical metric to zero.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		r.set(name, 0)
	}
}

// HasError reports whether the registry latched an initialization failure.
func (r *Registry) HasError() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hasError
}

// Close detaches from the segments without destroying them; other processes
// keep using the store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}

	err := r.store.Close()
	r.store = nil
	r.hasError = true

	return err
}

// DeleteSharedMemory destroys both segments and, when dropKeyFile is set,
// unlinks the rendezvous file. Idempotent. The registry is unusable
// afterwards.
func (r *Registry) DeleteSharedMemory(dropKeyFile bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}

	err := r.store.Delete(dropKeyFile)
	r.store = nil
	r.hasError = true

	return err
}

// materialize resolves the metric's index entry, appending it on first
// touch. Returns false when the entry cannot be resolved; the failure is
// logged and the metric stays unmaterialized for a later retry.
func (r *Registry) materialize(p *physicalMetric) bool {
	if p.materialized {
		return true
	}

	entry, found, err := r.store.Find(p.cluster, p.item, p.instance)
	if err != nil {
		r.logger.Warn("metric lookup failed",
			zap.String("metric", p.name),
			zap.Error(err))

		return false
	}

	if !found {
		if r.store.ReadOnly() {
			return false
		}

		entry, err = r.store.Append(p.cluster, p.item, p.instance, p.code)
		if err != nil {
			r.logger.Warn("cannot register metric in store",
				zap.String("metric", p.name),
				zap.Error(err))

			return false
		}
	}

	p.entry = entry
	p.materialized = true

	return true
}

// validateValue applies the range discipline of the store: values must be
// non-negative and below the wrap bound, anything else is rewritten to zero.
func (r *Registry) validateValue(v int64, name string) int64 {
	if v < 0 {
		r.logger.Warn("negative metric value rewritten to zero",
			zap.String("metric", name),
			zap.Int64("value", v))

		return 0
	}

	if v >= valueWrapBound {
		r.logger.Info("wrapping value for metric",
			zap.String("metric", name),
			zap.Int64("value", v))

		return 0
	}

	return v
}
