package device

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virtdev/chardevd/internal/logging"
	"github.com/virtdev/chardevd/internal/monitoring"
	"github.com/virtdev/chardevd/internal/registry"
)

// State tracks how far registration has progressed. Rollback and
// teardown release only the handles the current state says are set.
type State int

const (
	StateUnregistered State = iota
	StateMajorSet
	StateClassSet
	StateRegistered
)

// String returns the state name for logs and the status API.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateMajorSet:
		return "major_set"
	case StateClassSet:
		return "class_set"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Config holds the device's immutable identity and buffer sizing.
type Config struct {
	ID          int
	BaseName    string
	ClassName   string
	BufferSize  int
	JournalSize int
}

// Session is the handle returned by Open. Number is the value of the
// session counter at open time; the counter only ever grows.
type Session struct {
	ID     string `json:"id"`
	Number int64  `json:"number"`
}

// Device is one virtual character device instance: its identity, its
// registration handles, its session counter and its ingestion path.
type Device struct {
	name     string
	cfg      Config
	provider registry.Provider
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	journal  *Journal

	opens  atomic.Int64
	writes atomic.Uint64

	// mu guards the registration handles and serializes writers. The
	// original raced concurrent writers on a shared buffer; one writer
	// at a time is the deliberate strengthening here.
	mu    sync.Mutex
	state State
	major int
	class *registry.Class
	node  *registry.Node
}

// New creates a device from its configuration. The name is derived
// immediately and is immutable afterwards.
func New(cfg Config, provider registry.Provider, logger *logging.Logger, metrics *monitoring.Metrics) (*Device, error) {
	name, err := DeviceName(cfg.BaseName, cfg.ID)
	if err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.JournalSize <= 0 {
		cfg.JournalSize = 1000
	}
	return &Device{
		name:     name,
		cfg:      cfg,
		provider: provider,
		logger:   logger.ForDevice(name),
		metrics:  metrics,
		journal:  NewJournal(cfg.JournalSize),
	}, nil
}

// Name returns the derived device name.
func (d *Device) Name() string {
	return d.name
}

// Journal returns the chunk journal.
func (d *Device) Journal() *Journal {
	return d.journal
}

// Node returns the live device node, or nil before registration.
func (d *Device) Node() *registry.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.node
}

// Initialize acquires the three registration resources in strict order:
// major number, class, node. If a later phase fails, every handle set
// by an earlier phase is released before the typed error is returned,
// so a failed load leaves nothing allocated.
func (d *Device) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateUnregistered {
		return fmt.Errorf("device %s is already registered", d.name)
	}

	major, err := d.provider.AllocateMajor(d.name)
	if err != nil {
		d.logger.Error("major number allocation failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrMajorAllocation, err)
	}
	d.major = major
	d.state = StateMajorSet
	d.logger.Info("registered major number", zap.Int("major", major))

	class, err := d.provider.CreateClass(d.cfg.ClassName)
	if err != nil {
		d.logger.Error("device class creation failed", zap.Error(err))
		d.teardownLocked()
		return fmt.Errorf("%w: %v", ErrClassCreation, err)
	}
	d.class = class
	d.state = StateClassSet
	d.logger.Info("registered device class", zap.String("class", class.Name))

	node, err := d.provider.CreateNode(class, major, 0, d.name)
	if err != nil {
		d.logger.Error("device node creation failed", zap.Error(err))
		d.teardownLocked()
		return fmt.Errorf("%w: %v", ErrNodeCreation, err)
	}
	d.node = node
	d.state = StateRegistered
	d.logger.Info("device initialized",
		zap.Int("major", major),
		zap.Int("minor", 0),
		zap.String("path", node.Path),
	)
	return nil
}

// Shutdown releases the registration resources in exact reverse order
// of acquisition: node, class, major. Only handles that are set are
// released, and each at most once.
func (d *Device) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	d.logger.Info("device shut down")
}

// teardownLocked releases whatever the current state says is live,
// clearing each handle as it goes. Shared by Shutdown and the rollback
// paths of Initialize. Caller holds d.mu.
func (d *Device) teardownLocked() {
	if d.node != nil {
		if err := d.provider.DestroyNode(d.node); err != nil {
			d.logger.Warn("failed to destroy node", zap.Error(err))
		}
		d.node = nil
	}
	if d.class != nil {
		if err := d.provider.DestroyClass(d.class); err != nil {
			d.logger.Warn("failed to destroy class", zap.Error(err))
		}
		d.class = nil
	}
	if d.state >= StateMajorSet {
		if err := d.provider.ReleaseMajor(d.major); err != nil {
			d.logger.Warn("failed to release major", zap.Error(err))
		}
		d.major = 0
	}
	d.state = StateUnregistered
}

// Open starts a session. The counter increments unconditionally and
// without bound; concurrent openers are permitted and not arbitrated.
func (d *Device) Open() Session {
	n := d.opens.Add(1)
	s := Session{ID: uuid.NewString(), Number: n}

	d.metrics.RecordOpen()
	d.logger.Info("device opened",
		zap.Int64("open_count", n),
		zap.String("session", s.ID),
	)
	return s
}

// Release ends a session. It never fails and leaves the open counter
// untouched.
func (d *Device) Release(s Session) {
	d.metrics.RecordRelease()
	d.logger.Info("device released", zap.String("session", s.ID))
}

// OpenCount reports how many times the device has been opened since
// load.
func (d *Device) OpenCount() int64 {
	return d.opens.Load()
}

// Write ingests p in chunks of at most BufferSize bytes, journaling and
// logging each chunk. The full input is always consumed and len(p) is
// always returned; there is no failure mode on this path. Each emitted
// chunk carries exactly its logical length, so a short final chunk can
// never expose bytes left over from an earlier chunk.
func (d *Device) Write(p []byte) int {
	start := time.Now()
	seq := d.writes.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("received data",
		zap.Uint64("write", seq),
		zap.Int("len", len(p)),
	)

	buf := make([]byte, d.cfg.BufferSize)
	chunks := 0
	for i := 0; i < len(p); i += d.cfg.BufferSize {
		n := len(p) - i
		if n > d.cfg.BufferSize {
			n = d.cfg.BufferSize
		}
		copy(buf[:n], p[i:i+n])

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		d.journal.Append(&ChunkRecord{
			Write:     seq,
			Offset:    i,
			Data:      chunk,
			Timestamp: time.Now(),
		})
		d.logger.Info("chunk",
			zap.Uint64("write", seq),
			zap.Int("offset", i),
			zap.ByteString("data", chunk),
		)
		chunks++
	}

	d.metrics.RecordWrite(len(p), chunks, time.Since(start))
	return len(p)
}

// Status is the observable device state for the HTTP surface.
type Status struct {
	Name      string `json:"name"`
	ID        int    `json:"id"`
	State     string `json:"state"`
	Major     int    `json:"major"`
	NodePath  string `json:"node_path,omitempty"`
	OpenCount int64  `json:"open_count"`
}

// Status returns a snapshot of the device's observable state.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		Name:      d.name,
		ID:        d.cfg.ID,
		State:     d.state.String(),
		Major:     d.major,
		OpenCount: d.opens.Load(),
	}
	if d.node != nil {
		st.NodePath = d.node.Path
	}
	return st
}
