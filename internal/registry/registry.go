package registry

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/virtdev/chardevd/internal/logging"
)

// FirstMajor is the lowest major number handed out by the allocator.
// Matches the start of the local/experimental major range.
const FirstMajor = 240

// Class is a live device class: a named grouping directory that device
// nodes are created inside.
type Class struct {
	Name string
	Dir  string
}

// Node is a live device node: a named socket special file bound to a
// listener that user-space programs connect to.
type Node struct {
	Name     string
	Path     string
	Major    int
	Minor    int
	Listener net.Listener
}

// Provider hands out the three resources a device registration needs:
// a major number, a class, and a node. Implementations must keep each
// allocation unique while it is live and make released resources
// immediately reusable.
type Provider interface {
	AllocateMajor(name string) (int, error)
	ReleaseMajor(major int) error
	CreateClass(name string) (*Class, error)
	DestroyClass(class *Class) error
	CreateNode(class *Class, major, minor int, name string) (*Node, error)
	DestroyNode(node *Node) error
}

// FS is the filesystem-backed Provider: classes are directories under a
// root, nodes are unix socket files inside their class directory, and
// majors come from an in-process allocator.
type FS struct {
	root   string
	logger *logging.Logger

	mu     sync.Mutex
	majors map[int]string // major -> owner name
}

// NewFS creates a filesystem-backed provider rooted at dir.
func NewFS(dir string, logger *logging.Logger) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create device root: %w", err)
	}
	return &FS{
		root:   dir,
		logger: logger,
		majors: make(map[int]string),
	}, nil
}

// Root returns the directory device classes live under.
func (f *FS) Root() string {
	return f.root
}

// AllocateMajor hands out the lowest free major number, recording the
// owner name for diagnostics.
func (f *FS) AllocateMajor(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for major := FirstMajor; major < FirstMajor+256; major++ {
		if _, taken := f.majors[major]; !taken {
			f.majors[major] = name
			f.logger.Debug("allocated major number",
				zap.Int("major", major),
				zap.String("owner", name),
			)
			return major, nil
		}
	}
	return 0, errors.New("major number space exhausted")
}

// ReleaseMajor frees a previously allocated major number. Releasing a
// major that is not live is a caller bug and reported as an error.
func (f *FS) ReleaseMajor(major int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	owner, taken := f.majors[major]
	if !taken {
		return fmt.Errorf("major %d is not allocated", major)
	}
	delete(f.majors, major)
	f.logger.Debug("released major number",
		zap.Int("major", major),
		zap.String("owner", owner),
	)
	return nil
}

// CreateClass creates the class directory. An already existing class
// with the same name is an error; classes are single-owner.
func (f *FS) CreateClass(name string) (*Class, error) {
	dir := filepath.Join(f.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create class %s: %w", name, err)
	}
	f.logger.Debug("created device class", zap.String("class", name))
	return &Class{Name: name, Dir: dir}, nil
}

// DestroyClass removes the class directory. The class must be empty:
// nodes are destroyed before their class.
func (f *FS) DestroyClass(class *Class) error {
	if err := os.Remove(class.Dir); err != nil {
		return fmt.Errorf("failed to destroy class %s: %w", class.Name, err)
	}
	f.logger.Debug("destroyed device class", zap.String("class", class.Name))
	return nil
}

// CreateNode binds a unix socket file inside the class directory. The
// listener is what the accept loop serves connections from.
func (f *FS) CreateNode(class *Class, major, minor int, name string) (*Node, error) {
	path := filepath.Join(class.Dir, name)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", name, err)
	}
	f.logger.Debug("created device node",
		zap.String("node", name),
		zap.String("path", path),
		zap.Int("major", major),
		zap.Int("minor", minor),
	)
	return &Node{Name: name, Path: path, Major: major, Minor: minor, Listener: ln}, nil
}

// DestroyNode closes the node's listener and removes the socket file.
func (f *FS) DestroyNode(node *Node) error {
	err := node.Listener.Close()
	if rmErr := os.Remove(node.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	if err != nil {
		return fmt.Errorf("failed to destroy node %s: %w", node.Name, err)
	}
	f.logger.Debug("destroyed device node", zap.String("node", node.Name))
	return nil
}
