package shmstats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newRegistry builds a registry rooted in a per-test temp directory so the
// rendezvous inode, and therefore the IPC keys, are unique per test.
func newRegistry(t *testing.T, configs []Config, opts ...Option) *Registry {
	t.Helper()

	opts = append([]Option{
		WithKeyFilePath(t.TempDir()),
		WithVersion(100),
		WithDevelopmentMode(true),
	}, opts...)

	r, err := New("testapp", configs, opts...)
	require.NoError(t, err)
	require.False(t, r.HasError())
	t.Cleanup(func() { r.DeleteSharedMemory(true) })

	return r
}

func counterConfig(name string, item int) Config {
	return Config{Type: TypeCounter, Name: name, Cluster: 0, Item: Item(item)}
}

func TestCounterLifecycle(t *testing.T) {
	r := newRegistry(t, []Config{counterConfig("things", 0)})

	v, ok := r.Get("things")
	require.True(t, ok)
	require.Equal(t, uint32(0), v)

	require.True(t, r.Set("things", 10))
	v, _ = r.Get("things")
	require.Equal(t, uint32(10), v)

	require.True(t, r.Increment("things"))
	v, _ = r.Get("things")
	require.Equal(t, uint32(11), v)
}

func TestSetGetRoundTrip(t *testing.T) {
	r := newRegistry(t, []Config{counterConfig("c", 0)})

	// Valid in-range values come back exactly (P1).
	for _, v := range []int64{0, 1, 4096, 4294967294} {
		require.True(t, r.Set("c", v))
		got, ok := r.Get("c")
		require.True(t, ok)
		require.Equal(t, uint32(v), got) //nolint: gosec
	}
}

func TestRangeEnforcement(t *testing.T) {
	r := newRegistry(t, []Config{counterConfig("things", 0)})

	r.Set("things", 10)

	// Negative values are rewritten to zero.
	require.True(t, r.Set("things", -1))
	v, _ := r.Get("things")
	require.Equal(t, uint32(0), v)

	// Values at the uint32 ceiling wrap to zero.
	r.Set("things", 10)
	require.True(t, r.Set("things", 4294967295))
	v, _ = r.Get("things")
	require.Equal(t, uint32(0), v)

	// Fractional floats are rewritten to zero.
	r.Set("things", 10)
	require.True(t, r.SetFloat("things", 1.5))
	v, _ = r.Get("things")
	require.Equal(t, uint32(0), v)

	// Integral floats pass through.
	require.True(t, r.SetFloat("things", 42))
	v, _ = r.Get("things")
	require.Equal(t, uint32(42), v)
}

func TestIncrementSequence(t *testing.T) {
	r := newRegistry(t, []Config{counterConfig("hits", 0)})

	// P3: N back-to-back increments from one process read back as N.
	const n = 100
	for range n {
		require.True(t, r.Increment("hits"))
	}

	v, _ := r.Get("hits")
	require.Equal(t, uint32(n), v)

	require.True(t, r.IncrementBy("hits", 25))
	v, _ = r.Get("hits")
	require.Equal(t, uint32(n+25), v)
}

func TestUnknownNameSentinel(t *testing.T) {
	r := newRegistry(t, []Config{counterConfig("known", 0)})

	_, ok := r.Get("unknown")
	require.False(t, ok)

	require.False(t, r.Set("unknown", 1))
	require.False(t, r.Increment("unknown"))
	require.False(t, r.Timing("unknown", 100))
}

func TestTimerBuckets(t *testing.T) {
	r := newRegistry(t, []Config{
		{Type: TypeTimer, Name: "time", Cluster: 0, Item: Item(0)},
	})

	require.True(t, r.Timing("time", 2000))

	get := func(name string) uint32 {
		t.Helper()
		v, ok := r.Get(name)
		require.True(t, ok)
		return v
	}

	require.Equal(t, uint32(2000), get("time.service_time"))
	require.Equal(t, uint32(1), get("time.time_taken_1"))
	require.Equal(t, uint32(1), get("time.timings_count"))
	require.Equal(t, uint32(0), get("time.time_taken_0"))
	require.Equal(t, uint32(0), get("time.time_taken_3"))

	require.True(t, r.Timing("time", 15000))

	require.Equal(t, uint32(17000), get("time.service_time"))
	require.Equal(t, uint32(1), get("time.time_taken_1"))
	require.Equal(t, uint32(1), get("time.time_taken_3"))
	require.Equal(t, uint32(2), get("time.timings_count"))
}

func TestTimerInvariants(t *testing.T) {
	r := newRegistry(t, []Config{
		{Type: TypeTimer, Name: "op", Cluster: 0, Item: Item(0)},
	})

	// P2: sum of bucket counters equals timings_count, service_time equals
	// the summed durations.
	durations := []int64{0, 500, 1000, 4999, 9000, 19999, 39999, 40000, 120000}
	var total int64
	for _, ms := range durations {
		require.True(t, r.Timing("op", ms))
		total += ms
	}

	all := r.All()
	var bucketSum uint32
	for k := range 6 {
		bucketSum += all["op.time_taken_"+string(rune('0'+k))]
	}
	require.Equal(t, all["op.timings_count"], bucketSum)
	require.Equal(t, uint32(total), all["op.service_time"]) //nolint: gosec
	require.Equal(t, uint32(len(durations)), all["op.timings_count"])
}

func TestDuplicateTriple(t *testing.T) {
	r := newRegistry(t, []Config{
		{Type: TypeCounter, Name: "first", Cluster: 0, Item: Item(0), Instance: Instance(0)},
		{Type: TypeCounter, Name: "second", Cluster: 0, Item: Item(0), Instance: Instance(0)},
	})

	v, ok := r.Get("first")
	require.True(t, ok)
	require.Equal(t, uint32(0), v)

	// The colliding registration was dropped entirely.
	_, ok = r.Get("second")
	require.False(t, ok)
}

func TestAllMetrics(t *testing.T) {
	r := newRegistry(t, []Config{
		counterConfig("a", 0),
		counterConfig("b", 1),
		{Type: TypeTimer, Name: "t", Cluster: 1, Item: Item(0)},
	})

	// P4: 1 entry per counter, 8 per timer.
	all := r.All()
	require.Len(t, all, 2+8)

	r.Set("a", 5)
	r.Timing("t", 100)

	all = r.All()
	require.Equal(t, uint32(5), all["a"])
	require.Equal(t, uint32(100), all["t.service_time"])
	require.Equal(t, uint32(1), all["t.time_taken_0"])
}

func TestClearAllMetrics(t *testing.T) {
	r := newRegistry(t, []Config{
		counterConfig("a", 0),
		{Type: TypeTimer, Name: "t", Cluster: 1, Item: Item(0)},
	})

	r.Set("a", 9)
	r.Timing("t", 7000)

	r.Clear()

	// P5: everything reads zero after a clear.
	for name, v := range r.All() {
		require.Equal(t, uint32(0), v, "metric %s", name)
	}
}

func TestTwoRegistriesShareStore(t *testing.T) {
	dir := t.TempDir()
	configs := []Config{counterConfig("shared", 0)}

	a, err := New("app", configs, WithKeyFilePath(dir), WithVersion(100))
	require.NoError(t, err)
	require.False(t, a.HasError())
	t.Cleanup(func() { a.DeleteSharedMemory(true) })

	b, err := New("app", configs, WithKeyFilePath(dir), WithVersion(100))
	require.NoError(t, err)
	require.False(t, b.HasError())
	t.Cleanup(func() { b.Close() })

	// P6: registries with the same (name, identifier) observe each other.
	require.True(t, a.Set("shared", 41))
	v, ok := b.Get("shared")
	require.True(t, ok)
	require.Equal(t, uint32(41), v)

	require.True(t, b.Increment("shared"))
	v, _ = a.Get("shared")
	require.Equal(t, uint32(42), v)
}

func TestReadOnlyRegistry(t *testing.T) {
	dir := t.TempDir()
	configs := []Config{counterConfig("c", 0)}

	producer, err := New("app", configs, WithKeyFilePath(dir), WithVersion(100))
	require.NoError(t, err)
	require.False(t, producer.HasError())
	t.Cleanup(func() { producer.DeleteSharedMemory(true) })
	require.True(t, producer.Set("c", 7))

	consumer, err := New("app", configs, WithKeyFilePath(dir), WithVersion(100), WithReadOnly())
	require.NoError(t, err)
	require.False(t, consumer.HasError())
	t.Cleanup(func() { consumer.Close() })

	v, ok := consumer.Get("c")
	require.True(t, ok)
	require.Equal(t, uint32(7), v)

	// Writes on the consumer side are logged no-ops.
	require.False(t, consumer.Set("c", 100))
	v, _ = producer.Get("c")
	require.Equal(t, uint32(7), v)
}

func TestDegradedModeLatches(t *testing.T) {
	// A read-only registry over a store nobody created cannot initialize;
	// it must degrade rather than fail construction.
	r, err := New("ghost", []Config{counterConfig("c", 0)},
		WithKeyFilePath(t.TempDir()),
		WithReadOnly())
	require.NoError(t, err)
	require.True(t, r.HasError())

	_, ok := r.Get("c")
	require.False(t, ok)
	require.False(t, r.Set("c", 1))
	require.Empty(t, r.All())
}

func TestDeleteSharedMemoryIdempotent(t *testing.T) {
	r := newRegistry(t, []Config{counterConfig("c", 0)})

	require.NoError(t, r.DeleteSharedMemory(true))
	require.NoError(t, r.DeleteSharedMemory(true))

	// After deletion the registry is inert.
	_, ok := r.Get("c")
	require.False(t, ok)
}

func TestInvalidOptions(t *testing.T) {
	_, err := New("x", nil, WithVersion(0))
	require.Error(t, err)

	_, err = New("x", nil, WithKeyFilePath(""))
	require.Error(t, err)

	_, err = New("x", nil, WithIdentifier(""))
	require.Error(t, err)

	_, err = New("x", nil, WithLogger(nil))
	require.Error(t, err)
}

func TestPath(t *testing.T) {
	// Read-only construction never creates files or segments, so the
	// default /var/tmp location is safe to exercise here.
	r, err := New("soapxml", nil, WithReadOnly())
	require.NoError(t, err)

	require.Equal(t, "/var/tmp/soapxml.metrics", r.Path())
}
