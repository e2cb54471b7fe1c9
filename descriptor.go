package shmstats

import (
	"math"

	"go.uber.org/zap"

	"github.com/pcpkit/shmstats/codec"
	"github.com/pcpkit/shmstats/internal/hash"
	"github.com/pcpkit/shmstats/section"
)

// Metric type names accepted in configs.
const (
	TypeCounter = "counter"
	TypeTimer   = "timer"
)

// InstanceDomainNull is the instance id meaning "no instance domain".
const InstanceDomainNull int32 = -1

// timingFields are the eight physical metrics one timer expands to, in item
// order: base item for service_time, then one histogram bucket per following
// item, then the occurrence counter.
var timingFields = [8]string{
	"service_time",
	"time_taken_0",
	"time_taken_1",
	"time_taken_2",
	"time_taken_3",
	"time_taken_4",
	"time_taken_5",
	"timings_count",
}

// timingBucketBounds are the upper bounds (exclusive, in milliseconds) of the
// first five histogram buckets; everything at or above the last bound falls
// into bucket 5.
var timingBucketBounds = [5]int64{1000, 5000, 10000, 20000, 40000}

// timingBucket maps a duration in milliseconds to its histogram bucket index.
func timingBucket(ms int64) int {
	for i, bound := range timingBucketBounds {
		if ms < bound {
			return i
		}
	}

	return len(timingBucketBounds)
}

// Config describes one logical metric supplied by the application.
//
// Item and Instance are pointers so that "absent" is distinguishable from
// zero: pcp_item is required for counters but optional for timers (default
// 0), and pcp_instance defaults to InstanceDomainNull.
type Config struct {
	// Type is TypeCounter or TypeTimer.
	Type string `mapstructure:"type"`

	// Name is the logical metric name applications address it by.
	Name string `mapstructure:"name"`

	// Cluster is the PCP cluster id, 0-65535.
	Cluster int `mapstructure:"pcp_cluster"`

	// Item is the PCP item id, 0-65535. Timers occupy items Item..Item+7.
	Item *int `mapstructure:"pcp_item"`

	// Instance is the PCP instance id.
	Instance *int `mapstructure:"pcp_instance"`
}

// physicalMetric is one expanded slot-backed metric: a counter itself, or one
// field of a timer.
type physicalMetric struct {
	name     string
	cluster  uint16
	item     uint16
	instance int32
	code     codec.TypeCode

	// entry caches the published index entry once the metric is
	// materialized in the segments.
	entry        section.IndexEntry
	materialized bool
}

// expandConfigs turns the logical config list into the flat physical metric
// list. The input configs are never modified.
//
// In development mode each config runs through the validation rules in order,
// logging and dropping on the first failure, and duplicate triples are dropped
// with a warning, first registration wins. Outside development mode validation
// and the duplicate-triple check are skipped. In every mode duplicate physical
// names are dropped with a warning, first registration wins.
func expandConfigs(configs []Config, devMode bool, logger *zap.Logger) []*physicalMetric {
	physicals := make([]*physicalMetric, 0, len(configs))
	seenTriples := make(map[uint64]struct{})
	seenNames := make(map[string]struct{})

	for _, cfg := range configs {
		if devMode && !validConfig(cfg, logger) {
			continue
		}

		item := 0
		if cfg.Item != nil {
			item = *cfg.Item
		}
		instance := InstanceDomainNull
		if cfg.Instance != nil {
			instance = int32(*cfg.Instance) //nolint: gosec
		}

		cluster := uint16(cfg.Cluster) //nolint: gosec

		var expanded []*physicalMetric
		if cfg.Type == TypeTimer {
			expanded = make([]*physicalMetric, 0, len(timingFields))
			for k, field := range timingFields {
				expanded = append(expanded, &physicalMetric{
					name:     cfg.Name + "." + field,
					cluster:  cluster,
					item:     uint16(item + k), //nolint: gosec
					instance: instance,
					code:     codec.Uint32,
				})
			}
		} else {
			expanded = []*physicalMetric{{
				name:     cfg.Name,
				cluster:  cluster,
				item:     uint16(item), //nolint: gosec
				instance: instance,
				code:     codec.Uint32,
			}}
		}

		dropped := false
		if devMode {
			for _, p := range expanded {
				id := hash.TripleID(p.cluster, p.item, p.instance)
				if _, dup := seenTriples[id]; dup {
					logger.Warn("duplicate metric triple, dropping",
						zap.String("metric", p.name),
						zap.Uint16("cluster", p.cluster),
						zap.Uint16("item", p.item),
						zap.Int32("instance", p.instance))
					dropped = true

					break
				}
			}
			if dropped {
				continue
			}
			for _, p := range expanded {
				seenTriples[hash.TripleID(p.cluster, p.item, p.instance)] = struct{}{}
			}
		}

		for _, p := range expanded {
			if _, dup := seenNames[p.name]; dup {
				// First registration wins.
				logger.Warn("duplicate metric name, keeping first registration",
					zap.String("metric", p.name))

				continue
			}
			seenNames[p.name] = struct{}{}
			physicals = append(physicals, p)
		}
	}

	return physicals
}

// validConfig applies the development-mode validation rules in order and
// logs the first failure.
func validConfig(cfg Config, logger *zap.Logger) bool {
	if cfg.Type != TypeCounter && cfg.Type != TypeTimer {
		logger.Warn("metric config has invalid type, dropping",
			zap.String("metric", cfg.Name),
			zap.String("type", cfg.Type))

		return false
	}

	if cfg.Name == "" {
		logger.Warn("metric config has empty name, dropping",
			zap.String("type", cfg.Type))

		return false
	}

	if cfg.Cluster < 0 || cfg.Cluster > math.MaxUint16 {
		logger.Warn("metric cluster out of range, dropping",
			zap.String("metric", cfg.Name),
			zap.Int("cluster", cfg.Cluster))

		return false
	}

	if cfg.Type != TypeTimer {
		if cfg.Item == nil {
			logger.Warn("counter config missing item, dropping",
				zap.String("metric", cfg.Name))

			return false
		}
		if *cfg.Item < 0 || *cfg.Item > math.MaxUint16 {
			logger.Warn("metric item out of range, dropping",
				zap.String("metric", cfg.Name),
				zap.Int("item", *cfg.Item))

			return false
		}
	} else if cfg.Item != nil && (*cfg.Item < 0 || *cfg.Item > math.MaxUint16) {
		logger.Warn("metric item out of range, dropping",
			zap.String("metric", cfg.Name),
			zap.Int("item", *cfg.Item))

		return false
	}

	if cfg.Instance != nil && (int64(*cfg.Instance) < math.MinInt32 || int64(*cfg.Instance) > math.MaxInt32) {
		logger.Warn("metric instance out of range, dropping",
			zap.String("metric", cfg.Name),
			zap.Int("instance", *cfg.Instance))

		return false
	}

	return true
}
