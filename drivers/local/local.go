// Package local is the filesystem storage driver (§5): every path it
// serves is resolved under one configured root_path, with atomic writes
// via temp-file-then-rename the same way cmn/jsp's config writer persists
// its own files.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/ios"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeLocal,
		DisplayName: "Local filesystem",
		Constructor: construct,
		Test:        runTest,
		POSIXOnly:   true,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapAtomic,
		},
		ConfigSchema: []registry.Option{
			{Name: "root_path", Type: registry.OptionString, Required: true, Rule: registry.RuleAbsPath},
			{Name: "dir_mode", Type: registry.OptionString, Rule: registry.RuleOctalPermission, DefaultValue: "0755"},
			{Name: "file_mode", Type: registry.OptionString, Rule: registry.RuleOctalPermission, DefaultValue: "0644"},
		},
	})
}

type config struct {
	RootPath string `json:"root_path"`
	DirMode  string `json:"dir_mode"`
	FileMode string `json:"file_mode"`
}

// Driver is a Reader+Writer+QuotaProber rooted at one local directory.
type Driver struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
}

func construct(rawConfig, _ []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("local: invalid config_json: %v", err)
		}
	}
	if cfg.RootPath == "" {
		return nil, ferrors.ValidationError("local: root_path is required")
	}
	dirMode := parseMode(cfg.DirMode, 0o755)
	fileMode := parseMode(cfg.FileMode, 0o644)
	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, ferrors.ValidationError("local: root_path %q is invalid: %v", cfg.RootPath, err)
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, ferrors.DriverError(500, err, "local: creating root_path %q", root)
	}
	return &Driver{root: root, dirMode: dirMode, fileMode: fileMode}, nil
}

func parseMode(s string, fallback os.FileMode) os.FileMode {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return fallback
	}
	return os.FileMode(v)
}

func (d *Driver) GetType() store.StorageType { return store.TypeLocal }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapAtomic}
}

// resolve maps a driver-visible path onto a real filesystem path beneath
// the configured root, rejecting any attempt to climb above it.
func (d *Driver) resolve(p string) (string, error) {
	clean := filepath.Clean("/" + p)
	full := filepath.Join(d.root, clean)
	if full != d.root && !strings.HasPrefix(full, d.root+string(os.PathSeparator)) {
		return "", ferrors.ValidationError("local: path %q escapes root_path", p)
	}
	return full, nil
}

func (d *Driver) ListDirectory(ctx context.Context, path string) (*registry.ListDirectoryResult, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, toDriverErr(err, "listing directory %s", path)
	}
	items := make([]registry.Item, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		size := info.Size()
		mod := info.ModTime().UnixMilli()
		items = append(items, registry.Item{
			Path:        joinPath(path, e.Name()),
			Name:        e.Name(),
			IsDirectory: e.IsDir(),
			Size:        &size,
			Modified:    &mod,
		})
	}
	return &registry.ListDirectoryResult{Path: path, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, path string) (*registry.FileInfoResult, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, toDriverErr(err, "stat %s", path)
	}
	size := info.Size()
	mod := info.ModTime().UnixMilli()
	res := &registry.FileInfoResult{
		Path:        path,
		Name:        info.Name(),
		IsDirectory: info.IsDir(),
		Size:        &size,
		Modified:    &mod,
	}
	if !info.IsDir() {
		if etag, err := fileETag(full); err == nil {
			res.ETag = etag
		}
	}
	return res, nil
}

func (d *Driver) DownloadFile(ctx context.Context, path string) (*registry.DownloadResult, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, toDriverErr(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, ferrors.ValidationError("local: %q is a directory", path)
	}
	size := info.Size()
	etag, _ := fileETag(full)
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{
			Size:         &size,
			ETag:         etag,
			LastModified: info.ModTime(),
			ContentType:  "application/octet-stream",
		},
		Downloadable: &localStream{full: full},
	}, nil
}

type localStream struct{ full string }

func (s *localStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.full)
	if err != nil {
		return nil, toDriverErr(err, "opening %s", s.full)
	}
	return f, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, path string) (*registry.CreateDirectoryResult, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		return &registry.CreateDirectoryResult{Success: true, Path: path, AlreadyExists: true}, nil
	}
	if err := os.MkdirAll(full, d.dirMode); err != nil {
		return nil, toDriverErr(err, "creating directory %s", path)
	}
	return &registry.CreateDirectoryResult{Success: true, Path: path}, nil
}

func (d *Driver) UploadFile(ctx context.Context, path string, content io.Reader, size int64) (*registry.UploadResult, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := d.writeAtomic(full, content); err != nil {
		return nil, toDriverErr(err, "uploading %s", path)
	}
	return &registry.UploadResult{Success: true, StoragePath: path}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, path string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	full, err := d.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := d.writeAtomic(full, content); err != nil {
		return nil, toDriverErr(err, "updating %s", path)
	}
	return &registry.UpdateResult{Success: true, Path: path}, nil
}

// writeAtomic writes content to a sibling temp file and renames it over
// dest, so a reader never observes a partially written file.
func (d *Driver) writeAtomic(dest string, content io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dest), d.dirMode); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, d.fileMode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	fullSrc, err := d.resolve(source)
	if err != nil {
		return nil, err
	}
	fullDst, err := d.resolve(target)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullDst), d.dirMode); err != nil {
		return nil, toDriverErr(err, "renaming %s", source)
	}
	if err := os.Rename(fullSrc, fullDst); err != nil {
		return nil, toDriverErr(err, "renaming %s to %s", source, target)
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	fullSrc, err := d.resolve(source)
	if err != nil {
		return nil, err
	}
	fullDst, err := d.resolve(target)
	if err != nil {
		return nil, err
	}
	in, err := os.Open(fullSrc)
	if err != nil {
		if os.IsNotExist(err) {
			return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
		}
		return nil, toDriverErr(err, "copying %s", source)
	}
	defer in.Close()
	if err := d.writeAtomic(fullDst, in); err != nil {
		return nil, toDriverErr(err, "copying %s to %s", source, target)
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		full, err := d.resolve(p)
		if err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success++
	}
	return res, nil
}

// GetStats implements registry.QuotaProber over the host filesystem the
// root_path is mounted on.
func (d *Driver) GetStats(ctx context.Context) (*registry.QuotaStats, error) {
	blocks, bavail, bsize, err := ios.GetFSStats(d.root)
	if err != nil {
		return &registry.QuotaStats{Supported: false, Message: err.Error()}, nil
	}
	total := int64(blocks) * bsize
	avail := int64(bavail) * bsize
	used := total - avail
	var pct float64
	if total > 0 {
		pct = float64(used) / float64(total) * 100
	}
	return &registry.QuotaStats{
		Supported:      true,
		TotalBytes:     &total,
		UsedBytes:      &used,
		RemainingBytes: &avail,
		PercentUsed:    &pct,
		SnapshotAt:     time.Now(),
	}, nil
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("local: Test called with a non-local driver")
	}
	checks := []registry.TestCheck{}
	if info, err := os.Stat(d.root); err == nil && info.IsDir() {
		checks = append(checks, registry.TestCheck{Name: "root_path exists", Passed: true})
	} else {
		checks = append(checks, registry.TestCheck{Name: "root_path exists", Passed: false, Detail: fmt.Sprintf("%v", err)})
	}
	probe := filepath.Join(d.root, ".filehaven-write-test")
	writeErr := os.WriteFile(probe, []byte("ok"), d.fileMode)
	checks = append(checks, registry.TestCheck{Name: "root_path is writable", Passed: writeErr == nil})
	if writeErr == nil {
		os.Remove(probe)
	}
	return &registry.TestReport{
		Version:     1,
		StorageType: store.TypeLocal,
		Checks:      checks,
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

func fileETag(full string) (string, error) {
	f, err := os.Open(full)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New64()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

func toDriverErr(err error, format string, a ...interface{}) error {
	status := 500
	if os.IsNotExist(err) {
		status = 404
	}
	return ferrors.DriverError(status, err, format, a...)
}
