// Package storagetest provides an in-memory storage.Client for tests.
package storagetest

import (
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"sftpmirror/pkg/storage"
)

var _ storage.Client = (*MemClient)(nil)

// MemClient is a storage.Client backed by an afero in-memory filesystem.
// Unlike afero, it refuses to create entries whose parent directory is
// missing, which is how SFTP servers behave.
type MemClient struct {
	Fs afero.Fs

	mu       sync.Mutex
	ops      []string
	failures map[string]error
	closed   bool
}

func NewMemClient() *MemClient {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/", 0o755)
	return &MemClient{
		Fs:       fs,
		failures: make(map[string]error),
	}
}

// WriteFile creates p with content, creating parents as needed.
func (m *MemClient) WriteFile(p, content string) error {
	if err := m.Fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(m.Fs, p, []byte(content), 0o644)
}

// ReadFile returns the content of p.
func (m *MemClient) ReadFile(p string) (string, error) {
	data, err := afero.ReadFile(m.Fs, p)
	return string(data), err
}

// Exists reports whether p exists.
func (m *MemClient) Exists(p string) bool {
	ok, _ := afero.Exists(m.Fs, p)
	return ok
}

// FailOn makes the next calls of op on p return err. op is the method name.
func (m *MemClient) FailOn(op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+" "+p] = err
}

// Ops returns the recorded calls as "Method path".
func (m *MemClient) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *MemClient) ResetOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}

func (m *MemClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MemClient) record(op, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op+" "+p)
	if err, ok := m.failures[op+" "+p]; ok {
		return &os.PathError{Op: op, Path: p, Err: err}
	}
	if m.closed {
		return &os.PathError{Op: op, Path: p, Err: os.ErrClosed}
	}
	return nil
}

func (m *MemClient) requireParent(op, p string) error {
	info, err := m.Fs.Stat(path.Dir(p))
	if err != nil {
		return &os.PathError{Op: op, Path: p, Err: os.ErrNotExist}
	}
	if !info.IsDir() {
		return &os.PathError{Op: op, Path: p, Err: os.ErrInvalid}
	}
	return nil
}

func (m *MemClient) ReadDir(p string) ([]os.FileInfo, error) {
	if err := m.record("ReadDir", p); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(m.Fs, p)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (m *MemClient) Stat(p string) (os.FileInfo, error) {
	if err := m.record("Stat", p); err != nil {
		return nil, err
	}
	return m.Fs.Stat(p)
}

func (m *MemClient) Mkdir(p string) error {
	if err := m.record("Mkdir", p); err != nil {
		return err
	}
	if err := m.requireParent("mkdir", p); err != nil {
		return err
	}
	return m.Fs.Mkdir(p, 0o755)
}

func (m *MemClient) Open(p string) (io.ReadCloser, error) {
	if err := m.record("Open", p); err != nil {
		return nil, err
	}
	return m.Fs.Open(p)
}

func (m *MemClient) Create(p string) (io.WriteCloser, error) {
	if err := m.record("Create", p); err != nil {
		return nil, err
	}
	if err := m.requireParent("create", p); err != nil {
		return nil, err
	}
	return m.Fs.Create(p)
}

func (m *MemClient) OpenFile(p string, f int) (io.WriteCloser, error) {
	if err := m.record("OpenFile", p); err != nil {
		return nil, err
	}
	if err := m.requireParent("open", p); err != nil {
		return nil, err
	}
	return m.Fs.OpenFile(p, f, 0o644)
}

func (m *MemClient) Rename(oldname, newname string) error {
	if err := m.record("Rename", oldname); err != nil {
		return err
	}
	if err := m.requireParent("rename", newname); err != nil {
		return err
	}
	if m.Exists(newname) {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: os.ErrExist}
	}
	return m.Fs.Rename(oldname, newname)
}

func (m *MemClient) Remove(p string) error {
	if err := m.record("Remove", p); err != nil {
		return err
	}
	return m.Fs.Remove(p)
}

func (m *MemClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
