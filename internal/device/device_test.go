package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtdev/chardevd/internal/logging"
	"github.com/virtdev/chardevd/internal/monitoring"
	"github.com/virtdev/chardevd/internal/registry"
)

func testConfig() Config {
	return Config{
		ID:          1,
		BaseName:    "dummycdd",
		ClassName:   "dummycdd",
		BufferSize:  256,
		JournalSize: 64,
	}
}

func newTestDevice(t *testing.T, cfg Config, provider registry.Provider) *Device {
	t.Helper()
	metrics := monitoring.NewMetrics()
	t.Cleanup(metrics.Close)

	dev, err := New(cfg, provider, logging.NewNop(), metrics)
	require.NoError(t, err)
	return dev
}

func TestInitializeSuccess(t *testing.T) {
	mem := registry.NewMem()
	dev := newTestDevice(t, testConfig(), mem)

	require.NoError(t, dev.Initialize())

	st := dev.Status()
	assert.Equal(t, "registered", st.State)
	assert.Equal(t, registry.FirstMajor, st.Major)
	assert.Equal(t, "dummycdd1", st.Name)

	assert.Equal(t, []string{
		"allocate_major dummycdd1",
		"create_class dummycdd",
		"create_node dummycdd1",
	}, mem.Calls)
}

func TestInitializeTwice(t *testing.T) {
	mem := registry.NewMem()
	dev := newTestDevice(t, testConfig(), mem)

	require.NoError(t, dev.Initialize())
	assert.Error(t, dev.Initialize())
}

func TestClassFailureRollsBackMajor(t *testing.T) {
	mem := registry.NewMem()
	mem.CreateClassErr = errors.New("class table full")
	dev := newTestDevice(t, testConfig(), mem)

	err := dev.Initialize()
	assert.ErrorIs(t, err, ErrClassCreation)

	// The major allocated in phase one must be observably released.
	assert.Equal(t, 0, mem.LiveMajors())
	assert.Equal(t, []string{
		"allocate_major dummycdd1",
		"create_class dummycdd",
		"release_major 240",
	}, mem.Calls)

	// A fresh attempt starts clean, as if nothing had been taken.
	mem.CreateClassErr = nil
	mem.Calls = nil
	require.NoError(t, dev.Initialize())
}

func TestNodeFailureRollsBackClassAndMajor(t *testing.T) {
	mem := registry.NewMem()
	mem.CreateNodeErr = errors.New("node space exhausted")
	dev := newTestDevice(t, testConfig(), mem)

	err := dev.Initialize()
	assert.ErrorIs(t, err, ErrNodeCreation)

	assert.Equal(t, 0, mem.LiveMajors())
	assert.Equal(t, 0, mem.LiveClasses())
	assert.Equal(t, []string{
		"allocate_major dummycdd1",
		"create_class dummycdd",
		"create_node dummycdd1",
		"destroy_class dummycdd",
		"release_major 240",
	}, mem.Calls)
}

func TestRepeatedInitFailureDoesNotLeak(t *testing.T) {
	mem := registry.NewMem()
	mem.CreateNodeErr = errors.New("node space exhausted")
	dev := newTestDevice(t, testConfig(), mem)

	for i := 0; i < 10; i++ {
		assert.Error(t, dev.Initialize())
	}
	assert.Equal(t, 0, mem.LiveMajors())
	assert.Equal(t, 0, mem.LiveClasses())
}

func TestMajorFailure(t *testing.T) {
	mem := registry.NewMem()
	mem.AllocateMajorErr = errors.New("out of majors")
	dev := newTestDevice(t, testConfig(), mem)

	err := dev.Initialize()
	assert.ErrorIs(t, err, ErrMajorAllocation)
	assert.Equal(t, []string{"allocate_major dummycdd1"}, mem.Calls)
}

func TestShutdownOrder(t *testing.T) {
	mem := registry.NewMem()
	dev := newTestDevice(t, testConfig(), mem)

	require.NoError(t, dev.Initialize())
	mem.Calls = nil

	dev.Shutdown()

	// Exact reverse of acquisition order, each released exactly once.
	assert.Equal(t, []string{
		"destroy_node dummycdd1",
		"destroy_class dummycdd",
		"release_major 240",
	}, mem.Calls)

	// A second shutdown finds nothing set and releases nothing.
	mem.Calls = nil
	dev.Shutdown()
	assert.Empty(t, mem.Calls)
}

func TestSessionCounting(t *testing.T) {
	mem := registry.NewMem()
	dev := newTestDevice(t, testConfig(), mem)
	require.NoError(t, dev.Initialize())

	for i := int64(1); i <= 5; i++ {
		s := dev.Open()
		assert.Equal(t, i, s.Number)
		assert.NotEmpty(t, s.ID)
	}
	assert.Equal(t, int64(5), dev.OpenCount())

	// Releases never change the counter.
	dev.Release(Session{ID: "s", Number: 1})
	dev.Release(Session{ID: "s", Number: 2})
	assert.Equal(t, int64(5), dev.OpenCount())

	s := dev.Open()
	assert.Equal(t, int64(6), s.Number)
}

func TestWriteChunking(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 8
	dev := newTestDevice(t, cfg, registry.NewMem())
	require.NoError(t, dev.Initialize())

	// 2C + 5 bytes must yield exactly three chunks: C, C, 5.
	input := bytes.Repeat([]byte{'a'}, 8)
	input = append(input, bytes.Repeat([]byte{'b'}, 8)...)
	input = append(input, []byte("hello")...)

	consumed := dev.Write(input)
	assert.Equal(t, len(input), consumed)

	recs := dev.Journal().Recent(10)
	require.Len(t, recs, 3)

	// Recent returns newest first.
	assert.Equal(t, []byte("hello"), recs[0].Data)
	assert.Equal(t, 16, recs[0].Offset)
	assert.Equal(t, bytes.Repeat([]byte{'b'}, 8), recs[1].Data)
	assert.Equal(t, 8, recs[1].Offset)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, 8), recs[2].Data)
	assert.Equal(t, 0, recs[2].Offset)
}

func TestWriteEmpty(t *testing.T) {
	dev := newTestDevice(t, testConfig(), registry.NewMem())
	require.NoError(t, dev.Initialize())

	assert.Equal(t, 0, dev.Write(nil))
	assert.Equal(t, 0, dev.Journal().Len())
}

func TestWriteExactMultiple(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 4
	dev := newTestDevice(t, cfg, registry.NewMem())
	require.NoError(t, dev.Initialize())

	consumed := dev.Write([]byte("abcdefgh"))
	assert.Equal(t, 8, consumed)

	recs := dev.Journal().Recent(10)
	require.Len(t, recs, 2)
	assert.Equal(t, []byte("efgh"), recs[0].Data)
	assert.Equal(t, []byte("abcd"), recs[1].Data)
}

func TestShortChunkNeverExposesStaleBytes(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 8
	dev := newTestDevice(t, cfg, registry.NewMem())
	require.NoError(t, dev.Initialize())

	// Fill the holding buffer's capacity with a known pattern, then
	// write a short message. The short chunk must carry exactly its
	// logical length, none of the earlier bytes.
	dev.Write(bytes.Repeat([]byte{'X'}, 8))
	dev.Write([]byte("hi"))

	recs := dev.Journal().Recent(1)
	require.Len(t, recs, 1)
	assert.Equal(t, []byte("hi"), recs[0].Data)
	assert.Len(t, recs[0].Data, 2)
	assert.NotContains(t, string(recs[0].Data), "X")
}

func TestNewRejectsBadConfig(t *testing.T) {
	metrics := monitoring.NewMetrics()
	t.Cleanup(metrics.Close)

	cfg := testConfig()
	cfg.BufferSize = 0
	_, err := New(cfg, registry.NewMem(), logging.NewNop(), metrics)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.BaseName = "this-base-name-is-far-too-long-to-fit"
	_, err = New(cfg, registry.NewMem(), logging.NewNop(), metrics)
	assert.ErrorIs(t, err, ErrNameTooLong)
}
