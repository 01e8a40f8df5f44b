package mirror

import (
	"context"
	"fmt"
	"path"
	"strings"

	"sftpmirror/pkg/logger"
	"sftpmirror/pkg/storage"
)

// Entry is one regular file found under a listing root.
type Entry struct {
	AbsPath string `json:"abs_path"`
	RelPath string `json:"rel_path"`
	Size    int64  `json:"size"`
}

// Listing is a snapshot of every regular file under Root.
type Listing struct {
	Root    string
	Entries []Entry
}

// Keys returns the normalized relative paths of the listing as a set.
func (l *Listing) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(l.Entries))
	for _, e := range l.Entries {
		keys[relKey(e.RelPath)] = struct{}{}
	}
	return keys
}

// relKey normalizes a relative path for comparison and joining, so that
// "x/y" and "/x/y" name the same file.
func relKey(rel string) string {
	return path.Clean("/" + rel)
}

type ListOptions struct {
	// LegacyRelativePaths derives relative paths by removing the first textual
	// occurrence of the root string instead of stripping the root segments.
	LegacyRelativePaths bool
	// MaxDepth bounds directory recursion. Zero means unbounded.
	MaxDepth int
	Logger   *logger.Logger
}

// ListFiles walks root depth first. The regular files of a directory come
// before the contents of its subdirectories. A failure anywhere is returned
// as a listing error, never as a shorter listing.
func ListFiles(ctx context.Context, client storage.Client, root string, opts ListOptions) (*Listing, error) {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}

	walkRoot := root
	if !opts.LegacyRelativePaths {
		walkRoot = path.Clean(root)
	}

	var files []Entry
	if err := walk(ctx, client, walkRoot, 0, opts, &files); err != nil {
		return nil, err
	}

	for i := range files {
		rel, err := RelativePath(walkRoot, files[i].AbsPath, opts.LegacyRelativePaths)
		if err != nil {
			return nil, newError(ErrorTypeListing, "failed to derive relative path for", files[i].AbsPath, err)
		}
		files[i].RelPath = rel
	}

	return &Listing{Root: walkRoot, Entries: files}, nil
}

func walk(ctx context.Context, client storage.Client, dir string, depth int, opts ListOptions, files *[]Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("listing interrupted at %s: %w", dir, err)
	}
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return newError(ErrorTypeListing, fmt.Sprintf("maximum depth %d exceeded at", opts.MaxDepth), dir, nil)
	}

	infos, err := client.ReadDir(dir)
	if err != nil {
		return newError(ErrorTypeListing, "failed to read directory", dir, err)
	}

	var subdirs []string
	for _, info := range infos {
		p := childPath(dir, info.Name(), opts.LegacyRelativePaths)
		switch {
		case info.IsDir():
			subdirs = append(subdirs, p)
		case info.Mode().IsRegular():
			*files = append(*files, Entry{AbsPath: p, Size: info.Size()})
		default:
			opts.Logger.Debug("skipping non-regular file", map[string]any{
				"path": p,
				"mode": info.Mode().String(),
			})
		}
	}

	for _, sub := range subdirs {
		if err := walk(ctx, client, sub, depth+1, opts, files); err != nil {
			return err
		}
	}

	return nil
}

// childPath joins a directory entry onto dir. In legacy mode the result keeps
// dir spelled exactly as given, so the listing root stays a substring of every
// path found under it.
func childPath(dir, name string, legacy bool) string {
	if !legacy {
		return path.Join(dir, name)
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

// RelativePath derives the path of abs relative to root.
//
// By default the root is stripped segment-wise and the result keeps its
// leading slash: root "/a/b" and "/a/b/c/d.txt" give "/c/d.txt". With legacy
// set, the first occurrence of the root string is removed wherever it
// appears, which yields wrong results when a file name repeats the root.
func RelativePath(root, abs string, legacy bool) (string, error) {
	if legacy {
		return strings.Replace(abs, root, "", 1), nil
	}

	root = path.Clean(root)
	abs = path.Clean(abs)

	switch root {
	case "/":
		if !strings.HasPrefix(abs, "/") || abs == "/" {
			return "", fmt.Errorf("%q is not under %q", abs, root)
		}
		return abs, nil
	case ".":
		if strings.HasPrefix(abs, "/") || abs == "." || strings.HasPrefix(abs, "../") {
			return "", fmt.Errorf("%q is not under %q", abs, root)
		}
		return "/" + abs, nil
	}

	if !strings.HasPrefix(abs, root+"/") {
		return "", fmt.Errorf("%q is not under %q", abs, root)
	}
	return abs[len(root):], nil
}
