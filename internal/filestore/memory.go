package filestore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. The root directory always exists.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		files: make(map[string][]byte),
		dirs:  map[string]struct{}{"/": {}},
	}
}

func (m *Memory) Exists(name string) (bool, error) {
	p, err := Clean(name)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, isFile := m.files[p]
	_, isDir := m.dirs[p]
	return isFile || isDir, nil
}

func (m *Memory) ReadFile(name string) ([]byte, error) {
	p, err := Clean(name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) WriteFile(name string, data []byte) error {
	p, err := Clean(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireParentLocked(p); err != nil {
		return err
	}
	if _, ok := m.files[p]; ok {
		return fmt.Errorf("%w: %s", ErrExists, p)
	}
	if _, ok := m.dirs[p]; ok {
		return fmt.Errorf("%w: %s is a directory", ErrExists, p)
	}
	m.files[p] = append([]byte{}, data...)
	return nil
}

func (m *Memory) DeleteFile(name string) error {
	p, err := Clean(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	delete(m.files, p)
	return nil
}

func (m *Memory) RenameFile(from, to string) error {
	src, err := Clean(from)
	if err != nil {
		return err
	}
	dst, err := Clean(to)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, src)
	}
	if _, ok := m.files[dst]; ok {
		return fmt.Errorf("%w: %s", ErrExists, dst)
	}
	if err := m.requireParentLocked(dst); err != nil {
		return err
	}
	m.files[dst] = data
	delete(m.files, src)
	return nil
}

func (m *Memory) AppendFile(dst, src string) error {
	d, err := Clean(dst)
	if err != nil {
		return err
	}
	s, err := Clean(src)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	head, ok := m.files[d]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, d)
	}
	tail, ok := m.files[s]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, s)
	}
	m.files[d] = append(head, tail...)
	return nil
}

// CreateDirectory creates name and any missing parents.
func (m *Memory) CreateDirectory(name string) error {
	p, err := Clean(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for dir := p; ; dir = Parent(dir) {
		if _, ok := m.files[dir]; ok {
			return fmt.Errorf("%w: %s is a file", ErrExists, dir)
		}
		m.dirs[dir] = struct{}{}
		if dir == "/" {
			return nil
		}
	}
}

func (m *Memory) RemoveDirectory(name string) error {
	p, err := Clean(name)
	if err != nil {
		return err
	}
	if p == "/" {
		return fmt.Errorf("%w: cannot remove root", ErrNotAllowed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dirs[p]; !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	prefix := p + "/"
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return fmt.Errorf("%w: %s is not empty", ErrNotAllowed, p)
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, prefix) {
			return fmt.Errorf("%w: %s is not empty", ErrNotAllowed, p)
		}
	}
	delete(m.dirs, p)
	return nil
}

// Files lists stored file paths in sorted order.
func (m *Memory) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.files))
	for f := range m.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) requireParentLocked(p string) error {
	if _, ok := m.dirs[Parent(p)]; !ok {
		return fmt.Errorf("%w: directory %s", ErrNotExist, Parent(p))
	}
	return nil
}
