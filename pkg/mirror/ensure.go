package mirror

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"sftpmirror/pkg/storage"
)

// LocalEnsurer creates the staging directory that will hold a file.
type LocalEnsurer struct {
	fs afero.Fs
}

func NewLocalEnsurer(fs afero.Fs) *LocalEnsurer {
	return &LocalEnsurer{fs: fs}
}

// EnsureFor makes sure the directory for target exists: target itself when it
// is an existing directory, its parent otherwise.
func (e *LocalEnsurer) EnsureFor(target string) error {
	dir := target
	if info, err := e.fs.Stat(target); err != nil || !info.IsDir() {
		dir = filepath.Dir(target)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return newError(ErrorTypeDirectoryCreation, "failed to resolve staging directory", dir, err)
	}

	if err := e.fs.MkdirAll(abs, 0o755); err != nil {
		return newError(ErrorTypeDirectoryCreation, "failed to create staging directory", abs, err)
	}
	if ok, err := afero.DirExists(e.fs, abs); err != nil || !ok {
		return newError(ErrorTypeDirectoryCreation, "staging path is not a directory", abs, err)
	}
	return nil
}

// RemoteEnsurer creates directory trees over an SFTP session, one segment at
// a time, since SFTP has no recursive mkdir. Directories it has seen are
// remembered so repeated calls cost no round trips.
type RemoteEnsurer struct {
	client   storage.Client
	maxDepth int
	ensured  map[string]struct{}
}

func NewRemoteEnsurer(client storage.Client, maxDepth int) *RemoteEnsurer {
	return &RemoteEnsurer{
		client:   client,
		maxDepth: maxDepth,
		ensured:  make(map[string]struct{}),
	}
}

// EnsureFor makes sure the directory for target exists on the remote side:
// target itself when it is an existing directory, its parent otherwise.
func (e *RemoteEnsurer) EnsureFor(target string) error {
	target = path.Clean(target)
	if e.known(target) || e.known(path.Dir(target)) {
		return nil
	}

	dir := path.Dir(target)
	if info, err := e.client.Stat(target); err == nil && info.IsDir() {
		dir = target
	}
	return e.EnsureDir(dir)
}

// EnsureDir creates dir and every missing ancestor.
func (e *RemoteEnsurer) EnsureDir(dir string) error {
	dir = path.Clean(dir)
	if e.known(dir) {
		return nil
	}

	chain := ancestors(dir)
	if e.maxDepth > 0 && len(chain) > e.maxDepth {
		return newError(ErrorTypeDirectoryCreation,
			fmt.Sprintf("directory has more than %d segments", e.maxDepth), dir, nil)
	}

	if info, err := e.client.Stat(dir); err == nil {
		if !info.IsDir() {
			return newError(ErrorTypeDirectoryCreation, "path exists and is not a directory", dir, nil)
		}
		e.remember(chain...)
		return nil
	}

	for _, p := range chain {
		if e.known(p) {
			continue
		}
		if err := e.ensureOne(p); err != nil {
			return err
		}
		e.remember(p)
	}
	return nil
}

func (e *RemoteEnsurer) ensureOne(p string) error {
	info, err := e.client.Stat(p)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return newError(ErrorTypeDirectoryCreation, "path exists and is not a directory", p, nil)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return newError(ErrorTypeDirectoryCreation, "failed to stat directory", p, err)
	}

	if mkErr := e.client.Mkdir(p); mkErr != nil {
		// another writer may have created it in the meantime
		if info, err := e.client.Stat(p); err == nil && info.IsDir() {
			return nil
		}
		return newError(ErrorTypeDirectoryCreation, "failed to create directory", p, mkErr)
	}
	return nil
}

func (e *RemoteEnsurer) known(p string) bool {
	_, ok := e.ensured[p]
	return ok
}

func (e *RemoteEnsurer) remember(paths ...string) {
	for _, p := range paths {
		e.ensured[p] = struct{}{}
	}
}

// ancestors returns every directory from the top of p down to p itself,
// excluding "/" and ".".
func ancestors(p string) []string {
	if p == "/" || p == "." {
		return nil
	}

	prefix := ""
	rest := p
	if strings.HasPrefix(p, "/") {
		prefix = "/"
		rest = p[1:]
	}

	segments := strings.Split(rest, "/")
	chain := make([]string, 0, len(segments))
	current := prefix
	for _, seg := range segments {
		current = path.Join(current, seg)
		chain = append(chain, current)
	}
	return chain
}
