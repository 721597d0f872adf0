// Package discovery walks a plugin tree and loads every source unit in it.
//
// A unit is one file the loaders recognize. Its identifier is the path
// relative to the root, without extension, with separators replaced by
// dots: chat/hello.yaml becomes "chat.hello". Directory names and file stems
// may not contain dots, so two paths never map to one identifier. A unit
// either loads whole or is reported as a Failure; partial units are never
// returned.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sort"
	"strings"

	"willbot/internal/plugin"
	logx "willbot/pkg/logx"
)

// IndexStem marks a directory as a plugin package: _index.yaml, _index.yml
// and _index.json are never loaded, whatever loader handles the extension.
const IndexStem = "_index"

// Unit is one successfully loaded plugin source file.
type Unit struct {
	Name    string
	Path    string
	Classes []plugin.Class
}

// Failure is a unit that could not be loaded.
type Failure struct {
	Unit string
	Path string
	Err  error
}

func (f Failure) Error() string { return fmt.Sprintf("loading %s: %v", f.Unit, f.Err) }
func (f Failure) Unwrap() error { return f.Err }

// Loader turns one file into plugin classes.
type Loader interface {
	// Extensions lists the lower-case file extensions (with dot) handled.
	Extensions() []string
	Load(ctx context.Context, path string) ([]plugin.Class, error)
}

type Options struct {
	Loaders []Loader
	Log     logx.Logger
}

// DefaultLoaders handles manifests (.yaml, .yml, .json) and Go shared objects (.so).
func DefaultLoaders() []Loader {
	return []Loader{ManifestLoader{}, ObjectLoader{}}
}

var (
	ErrDuplicateUnit = errors.New("duplicate plugin identifier")
	ErrDottedSegment = errors.New("directory or file stem contains a dot")
)

// Walk loads every unit under root. Files are visited in lexical order, so
// the result and the failure order are deterministic. An error is returned
// only when root itself cannot be walked.
func Walk(ctx context.Context, root string, opts Options) (map[string]Unit, []Failure, error) {
	loaders := opts.Loaders
	if loaders == nil {
		loaders = DefaultLoaders()
	}
	byExt := map[string]Loader{}
	for _, l := range loaders {
		for _, ext := range l.Extensions() {
			byExt[strings.ToLower(ext)] = l
		}
	}
	log := opts.Log

	units := map[string]Unit{}
	var failures []Failure

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			failures = append(failures, Failure{Unit: relName(root, path), Path: path, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if path != root && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(name)
		if d.IsDir() || strings.TrimSuffix(name, ext) == IndexStem {
			return nil
		}
		loader, ok := byExt[strings.ToLower(ext)]
		if !ok {
			return nil
		}

		segs := segments(root, path)
		if i := slices.IndexFunc(segs, func(s string) bool { return strings.Contains(s, ".") }); i >= 0 {
			failures = append(failures, Failure{Unit: strings.Join(segs, "/"), Path: path, Err: fmt.Errorf("%w: %q", ErrDottedSegment, segs[i])})
			return nil
		}
		id := strings.Join(segs, ".")
		if prev, dup := units[id]; dup {
			failures = append(failures, Failure{Unit: id, Path: path, Err: fmt.Errorf("%w (already loaded from %s)", ErrDuplicateUnit, prev.Path)})
			return nil
		}
		classes, err := safeLoad(ctx, loader, path)
		if err != nil {
			log.Warn("plugin unit failed to load", logx.String("unit", id), logx.Err(err))
			failures = append(failures, Failure{Unit: id, Path: path, Err: err})
			return nil
		}
		units[id] = Unit{Name: id, Path: path, Classes: classes}
		log.Debug("plugin unit loaded", logx.String("unit", id), logx.Int("classes", len(classes)))
		return nil
	})
	if err != nil {
		return nil, failures, fmt.Errorf("walk plugin tree %s: %w", root, err)
	}
	return units, failures, nil
}

// SortedNames returns the unit identifiers in ascending order.
func SortedNames(units map[string]Unit) []string {
	out := make([]string, 0, len(units))
	for k := range units {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// segments splits path, relative to root and without extension, into its
// directory names and file stem.
func segments(root, path string) []string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.Split(filepath.ToSlash(rel), "/")
}

func relName(root, path string) string { return strings.Join(segments(root, path), ".") }

func safeLoad(ctx context.Context, l Loader, path string) (classes []plugin.Class, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while loading: %v\n%s", r, debug.Stack())
		}
	}()
	return l.Load(ctx, path)
}
