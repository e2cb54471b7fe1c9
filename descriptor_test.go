package shmstats

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTimingBucket(t *testing.T) {
	tests := []struct {
		name   string
		ms     int64
		bucket int
	}{
		{"zero", 0, 0},
		{"just below first bound", 999, 0},
		{"first bound", 1000, 1},
		{"two seconds", 2000, 1},
		{"five seconds", 5000, 2},
		{"ten seconds", 10000, 3},
		{"fifteen seconds", 15000, 3},
		{"twenty seconds", 20000, 4},
		{"forty seconds", 40000, 5},
		{"a minute", 60000, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.bucket, timingBucket(tt.ms))
		})
	}
}

func TestExpandConfigs_Counter(t *testing.T) {
	physicals := expandConfigs([]Config{
		{Type: TypeCounter, Name: "things", Cluster: 3, Item: Item(9)},
	}, true, zap.NewNop())

	require.Len(t, physicals, 1)
	p := physicals[0]
	require.Equal(t, "things", p.name)
	require.Equal(t, uint16(3), p.cluster)
	require.Equal(t, uint16(9), p.item)
	require.Equal(t, InstanceDomainNull, p.instance)
}

func TestExpandConfigs_TimerItemAutoIncrement(t *testing.T) {
	physicals := expandConfigs([]Config{
		{Type: TypeTimer, Name: "t", Cluster: 1, Item: Item(10), Instance: Instance(1)},
	}, true, zap.NewNop())

	require.Len(t, physicals, 8)

	wantNames := []string{
		"t.service_time",
		"t.time_taken_0", "t.time_taken_1", "t.time_taken_2",
		"t.time_taken_3", "t.time_taken_4", "t.time_taken_5",
		"t.timings_count",
	}
	for k, p := range physicals {
		require.Equal(t, wantNames[k], p.name)
		require.Equal(t, uint16(10+k), p.item)
		require.Equal(t, uint16(1), p.cluster)
		require.Equal(t, int32(1), p.instance)
	}
}

func TestExpandConfigs_TimerItemDefaultsToZero(t *testing.T) {
	physicals := expandConfigs([]Config{
		{Type: TypeTimer, Name: "t", Cluster: 0},
	}, true, zap.NewNop())

	require.Len(t, physicals, 8)
	require.Equal(t, uint16(0), physicals[0].item)
	require.Equal(t, uint16(7), physicals[7].item)
}

func TestExpandConfigs_InputNotModified(t *testing.T) {
	item := 10
	configs := []Config{{Type: TypeTimer, Name: "t", Cluster: 0, Item: &item}}

	expandConfigs(configs, true, zap.NewNop())

	require.Equal(t, 10, item)
	require.Same(t, &item, configs[0].Item)
}

func TestExpandConfigs_DuplicateTripleDropped(t *testing.T) {
	physicals := expandConfigs([]Config{
		{Type: TypeCounter, Name: "first", Cluster: 0, Item: Item(0), Instance: Instance(0)},
		{Type: TypeCounter, Name: "second", Cluster: 0, Item: Item(0), Instance: Instance(0)},
	}, true, zap.NewNop())

	require.Len(t, physicals, 1)
	require.Equal(t, "first", physicals[0].name)
}

func TestExpandConfigs_ValidationRules(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing type", Config{Name: "m", Cluster: 0, Item: Item(0)}},
		{"bogus type", Config{Type: "gauge", Name: "m", Cluster: 0, Item: Item(0)}},
		{"empty name", Config{Type: TypeCounter, Cluster: 0, Item: Item(0)}},
		{"cluster too large", Config{Type: TypeCounter, Name: "m", Cluster: 70000, Item: Item(0)}},
		{"negative cluster", Config{Type: TypeCounter, Name: "m", Cluster: -1, Item: Item(0)}},
		{"counter missing item", Config{Type: TypeCounter, Name: "m", Cluster: 0}},
		{"item too large", Config{Type: TypeCounter, Name: "m", Cluster: 0, Item: Item(65536)}},
		{"timer item negative", Config{Type: TypeTimer, Name: "m", Cluster: 0, Item: Item(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			physicals := expandConfigs([]Config{tt.cfg}, true, zap.NewNop())
			require.Empty(t, physicals)
		})
	}
}

func TestExpandConfigs_ValidationSkippedOutsideDevMode(t *testing.T) {
	// Outside development mode broken configs are not vetted; only
	// defaulting applies.
	physicals := expandConfigs([]Config{
		{Type: TypeCounter, Name: "m", Cluster: 0, Item: Item(0)},
		{Type: TypeCounter, Name: "rejected-in-dev-only", Cluster: 0},
	}, false, zap.NewNop())

	require.Len(t, physicals, 2)
}

func TestExpandConfigs_DuplicateNameFirstWins(t *testing.T) {
	physicals := expandConfigs([]Config{
		{Type: TypeCounter, Name: "same", Cluster: 0, Item: Item(0)},
		{Type: TypeCounter, Name: "same", Cluster: 0, Item: Item(1)},
	}, true, zap.NewNop())

	require.Len(t, physicals, 1)
	require.Equal(t, uint16(0), physicals[0].item)
}
