package registry

import (
	"fmt"
	"sync"
)

// Mem is an in-memory Provider with injectable failures, used to test
// registration rollback without touching the filesystem. Every call is
// appended to Calls so tests can assert acquisition and release order.
type Mem struct {
	AllocateMajorErr error
	CreateClassErr   error
	CreateNodeErr    error

	mu      sync.Mutex
	next    int
	majors  map[int]bool
	classes map[string]bool
	Calls   []string
}

// NewMem creates an in-memory provider.
func NewMem() *Mem {
	return &Mem{
		next:    FirstMajor,
		majors:  make(map[int]bool),
		classes: make(map[string]bool),
	}
}

func (m *Mem) record(format string, args ...interface{}) {
	m.Calls = append(m.Calls, fmt.Sprintf(format, args...))
}

func (m *Mem) AllocateMajor(name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("allocate_major %s", name)
	if m.AllocateMajorErr != nil {
		return 0, m.AllocateMajorErr
	}
	for major := FirstMajor; ; major++ {
		if !m.majors[major] {
			m.majors[major] = true
			return major, nil
		}
	}
}

func (m *Mem) ReleaseMajor(major int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("release_major %d", major)
	if !m.majors[major] {
		return fmt.Errorf("major %d is not allocated", major)
	}
	delete(m.majors, major)
	return nil
}

func (m *Mem) CreateClass(name string) (*Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("create_class %s", name)
	if m.CreateClassErr != nil {
		return nil, m.CreateClassErr
	}
	if m.classes[name] {
		return nil, fmt.Errorf("class %s already exists", name)
	}
	m.classes[name] = true
	return &Class{Name: name}, nil
}

func (m *Mem) DestroyClass(class *Class) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("destroy_class %s", class.Name)
	if !m.classes[class.Name] {
		return fmt.Errorf("class %s does not exist", class.Name)
	}
	delete(m.classes, class.Name)
	return nil
}

func (m *Mem) CreateNode(class *Class, major, minor int, name string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("create_node %s", name)
	if m.CreateNodeErr != nil {
		return nil, m.CreateNodeErr
	}
	return &Node{Name: name, Major: major, Minor: minor}, nil
}

func (m *Mem) DestroyNode(node *Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("destroy_node %s", node.Name)
	return nil
}

// LiveMajors reports how many major numbers are currently allocated.
func (m *Mem) LiveMajors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.majors)
}

// LiveClasses reports how many classes currently exist.
func (m *Mem) LiveClasses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.classes)
}
