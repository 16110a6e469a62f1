package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"pylon/pkg/logging"
)

// ArchiveLoader presents a plugin bundle packed as a zip archive held
// entirely in memory. Member names are indexed once at construction so
// HasFile/HasDirectory/GetData answer existence queries without scanning
// the archive again.
type ArchiveLoader struct {
	moduleName string
	data       []byte
	files      map[string]int // normalized path -> index into zip.Reader.File
	dirs       map[string]bool
	reader     *zip.Reader

	materializedRoot string // set once GetLocalLoader has extracted to disk
}

// NewArchiveLoader indexes data (the raw bytes of a .zip plugin bundle) for
// moduleName.
func NewArchiveLoader(moduleName string, data []byte) (*ArchiveLoader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("loader: malformed plugin archive for %q: %w", moduleName, err)
	}
	l := &ArchiveLoader{
		moduleName: moduleName,
		data:       data,
		files:      make(map[string]int, len(zr.File)),
		dirs:       make(map[string]bool),
		reader:     zr,
	}
	for i, f := range zr.File {
		name := strings.TrimSuffix(path.Clean("/"+f.Name)[1:], "/")
		if f.FileInfo().IsDir() {
			l.dirs[name] = true
			continue
		}
		l.files[name] = i
		for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
			l.dirs[dir] = true
		}
	}
	return l, nil
}

func normalize(p string) string {
	return strings.TrimSuffix(path.Clean("/"+filepath.ToSlash(p))[1:], "/")
}

func (l *ArchiveLoader) FindSpec(fullName string) bool {
	return fullName == l.moduleName || strings.HasPrefix(fullName, l.moduleName+".")
}

func (l *ArchiveLoader) ExecModule() ([]byte, error) {
	return l.GetData("module.so")
}

func (l *ArchiveLoader) GetData(p string) ([]byte, error) {
	idx, ok := l.files[normalize(p)]
	if !ok {
		return nil, fmt.Errorf("loader: %q not found in archive for %q", p, l.moduleName)
	}
	rc, err := l.reader.File[idx].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (l *ArchiveLoader) HasFile(p string) bool {
	_, ok := l.files[normalize(p)]
	return ok
}

func (l *ArchiveLoader) HasDirectory(p string) bool {
	return l.dirs[normalize(p)]
}

func (l *ArchiveLoader) GetLocalPath() (string, bool) {
	if l.materializedRoot != "" {
		return l.materializedRoot, true
	}
	return "", false
}

// GetLocalLoader extracts the archive to a fresh temp directory (unless
// already materialized) and returns an FSLoader over it, recording the temp
// directory in scratch so the lifecycle supervisor deletes it at shutdown.
func (l *ArchiveLoader) GetLocalLoader(scratch *Scratch) (Loader, error) {
	if l.materializedRoot != "" {
		return NewFSLoader(l.moduleName, l.materializedRoot), nil
	}

	root, err := os.MkdirTemp("", "pylon-plugin-*")
	if err != nil {
		return nil, fmt.Errorf("loader: cannot create extraction dir for %q: %w", l.moduleName, err)
	}

	names := make([]string, 0, len(l.files))
	for name := range l.files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		idx := l.files[name]
		dest := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}
		if err := extractZipFile(l.reader.File[idx], dest); err != nil {
			return nil, fmt.Errorf("loader: extracting %q: %w", name, err)
		}
	}

	l.materializedRoot = root
	if scratch != nil {
		scratch.Add(root)
	}
	logging.Debug("Loader", "materialized archive for %s at %s", l.moduleName, root)
	return NewFSLoader(l.moduleName, root), nil
}

func extractZipFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// ModuleName returns the loader's declared plugin namespace.
func (l *ArchiveLoader) ModuleName() string { return l.moduleName }

var _ Loader = (*ArchiveLoader)(nil)
