package app

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"s3syncdash/internal/model"
)

// FileLister enumerates the local files of a selected folder
type FileLister struct {
	useFind    bool
	extensions map[string]bool
	logger     *zap.Logger
}

// NewFileLister creates a lister. useFind selects the native find command when it
// is available. extensions is a case-insensitive allow-list; empty allows every file.
func NewFileLister(useFind bool, extensions []string, logger *zap.Logger) *FileLister {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &FileLister{useFind: useFind, logger: logger}
	if len(extensions) > 0 {
		l.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			l.extensions[ext] = true
		}
	}
	return l
}

// List returns the files under dir sorted by relative path. Relative paths start
// with the folder's base name, e.g. "C1/sub/a.wav" for dir ".../C1".
func (l *FileLister) List(ctx context.Context, dir string) ([]model.FileSpec, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	var paths []string
	if l.useFind && canUseFind() {
		paths, err = l.listWithFind(ctx, root)
		if err != nil {
			l.logger.Warn("find failed, walking directory instead", zap.Error(err))
			paths, err = l.listWithWalk(ctx, root)
		}
	} else {
		paths, err = l.listWithWalk(ctx, root)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Base(root)
	files := make([]model.FileSpec, 0, len(paths))
	for _, p := range paths {
		if !l.allowed(p) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil, err
		}
		files = append(files, model.FileSpec{
			RelativePath: base + "/" + filepath.ToSlash(rel),
			LocalPath:    p,
			Size:         info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelativePath < files[j].RelativePath
	})

	l.logger.Info("Finished listing files",
		zap.String("directory", root),
		zap.Int("total_files", len(files)),
		zap.Bool("find", l.useFind && canUseFind()),
	)

	return files, nil
}

// CountFiles returns the number of files and their total size
func CountFiles(files []model.FileSpec) (int64, int64) {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return int64(len(files)), total
}

func (l *FileLister) allowed(path string) bool {
	if l.extensions == nil {
		return true
	}
	return l.extensions[strings.ToLower(filepath.Ext(path))]
}

func canUseFind() bool {
	if runtime.GOOS == "windows" {
		return false
	}
	_, err := exec.LookPath("find")
	return err == nil
}

func (l *FileLister) listWithFind(ctx context.Context, root string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "find", root, "-type", "f", "-print0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("find: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, p := range bytes.Split(out, []byte{0}) {
		if len(p) > 0 {
			paths = append(paths, string(p))
		}
	}
	return paths, nil
}

func (l *FileLister) listWithWalk(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return paths, nil
}
