package copyengine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

// fakeBackendDriver is a minimal in-memory Reader+Writer used to exercise
// both the native-copy and stream-and-put paths.
type fakeBackendDriver struct {
	storageType store.StorageType
	mu          sync.Mutex
	files       map[string][]byte
}

func newFakeBackend(st store.StorageType) *fakeBackendDriver {
	return &fakeBackendDriver{storageType: st, files: map[string][]byte{}}
}

func (d *fakeBackendDriver) GetType() store.StorageType { return d.storageType }
func (d *fakeBackendDriver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter}
}

func (d *fakeBackendDriver) ListDirectory(ctx context.Context, path string) (*registry.ListDirectoryResult, error) {
	return &registry.ListDirectoryResult{Path: path, Type: "directory"}, nil
}

func (d *fakeBackendDriver) GetFileInfo(ctx context.Context, path string) (*registry.FileInfoResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[path]
	if !ok {
		return nil, errNotFoundFor(path)
	}
	size := int64(len(data))
	return &registry.FileInfoResult{Path: path, Name: path, Size: &size}, nil
}

func (d *fakeBackendDriver) DownloadFile(ctx context.Context, path string) (*registry.DownloadResult, error) {
	d.mu.Lock()
	data := append([]byte(nil), d.files[path]...)
	d.mu.Unlock()
	size := int64(len(data))
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size},
		Downloadable:     bytesDownloadable{data: data},
	}, nil
}

type bytesDownloadable struct{ data []byte }

func (b bytesDownloadable) GetStream(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (d *fakeBackendDriver) UploadFile(ctx context.Context, path string, content io.Reader, size int64) (*registry.UploadResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.files[path] = data
	d.mu.Unlock()
	return &registry.UploadResult{Success: true, StoragePath: path}, nil
}

func (d *fakeBackendDriver) UpdateFile(ctx context.Context, path string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	return &registry.UpdateResult{Success: true, Path: path}, nil
}
func (d *fakeBackendDriver) CreateDirectory(ctx context.Context, path string) (*registry.CreateDirectoryResult, error) {
	return &registry.CreateDirectoryResult{Success: true, Path: path}, nil
}
func (d *fakeBackendDriver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *fakeBackendDriver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[source]
	if !ok {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	d.files[target] = append([]byte(nil), data...)
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *fakeBackendDriver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	return &registry.BatchRemoveResult{Success: len(paths)}, nil
}

func errNotFoundFor(path string) error {
	return &notFoundErr{path: path}
}

type notFoundErr struct{ path string }

func (e *notFoundErr) Error() string { return "not found: " + e.path }

type fakeResolver struct {
	mu      sync.Mutex
	drivers map[string]*registry.Enforcer
}

func (r *fakeResolver) Resolve(ctx context.Context, storageConfigID string) (*registry.Enforcer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	enf, ok := r.drivers[storageConfigID]
	if !ok {
		return nil, errNotFoundFor(storageConfigID)
	}
	return enf, nil
}

func createTestEnforcer(t *testing.T, st store.StorageType, backend *fakeBackendDriver) *registry.Enforcer {
	t.Helper()
	registry.Register(&registry.Record{
		StorageType:  st,
		Capabilities: backend.GetCapabilities(),
		Constructor: func(rawConfig, secret []byte) (registry.Driver, error) {
			return backend, nil
		},
	})
	enf, err := registry.CreateDriver(context.Background(), st, nil, nil)
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	return enf
}

func TestNativeCopySameStorageConfig(t *testing.T) {
	backend := newFakeBackend(store.StorageType("TEST_NATIVE"))
	backend.files["/a"] = []byte("hello")
	enf := createTestEnforcer(t, store.StorageType("TEST_NATIVE"), backend)

	resolver := &fakeResolver{drivers: map[string]*registry.Enforcer{"sc1": enf}}
	worker := NewWorker(resolver, Config{})

	payload, _ := json.Marshal(Pair{SourceStorageConfigID: "sc1", SourcePath: "/a", TargetStorageConfigID: "sc1", TargetPath: "/b"})
	var lastProgress int64
	if err := worker(context.Background(), "item1", payload, func(b int64) { lastProgress = b }); err != nil {
		t.Fatalf("worker: %v", err)
	}
	if string(backend.files["/b"]) != "hello" {
		t.Fatalf("expected native copy to have populated /b, got %q", backend.files["/b"])
	}
	if lastProgress != 1 {
		t.Fatalf("expected native copy to report a terminal progress signal")
	}
}

func TestStreamAndPutAcrossStorageConfigs(t *testing.T) {
	src := newFakeBackend(store.StorageType("TEST_SRC"))
	src.files["/a"] = []byte("cross-backend payload")
	dst := newFakeBackend(store.StorageType("TEST_DST"))

	srcEnf := createTestEnforcer(t, store.StorageType("TEST_SRC"), src)
	dstEnf := createTestEnforcer(t, store.StorageType("TEST_DST"), dst)

	resolver := &fakeResolver{drivers: map[string]*registry.Enforcer{"src-sc": srcEnf, "dst-sc": dstEnf}}
	worker := NewWorker(resolver, Config{})

	payload, _ := json.Marshal(Pair{SourceStorageConfigID: "src-sc", SourcePath: "/a", TargetStorageConfigID: "dst-sc", TargetPath: "/a"})
	var totalSeen int64
	if err := worker(context.Background(), "item1", payload, func(b int64) { totalSeen = b }); err != nil {
		t.Fatalf("worker: %v", err)
	}
	if string(dst.files["/a"]) != "cross-backend payload" {
		t.Fatalf("expected stream-and-put to have copied bytes, got %q", dst.files["/a"])
	}
	if totalSeen != int64(len("cross-backend payload")) {
		t.Fatalf("expected progress to track total bytes copied, got %d", totalSeen)
	}
}

func TestStreamAndPutSkipPolicy(t *testing.T) {
	src := newFakeBackend(store.StorageType("TEST_SRC2"))
	src.files["/a"] = []byte("new content")
	dst := newFakeBackend(store.StorageType("TEST_DST2"))
	dst.files["/a"] = []byte("existing content")

	srcEnf := createTestEnforcer(t, store.StorageType("TEST_SRC2"), src)
	dstEnf := createTestEnforcer(t, store.StorageType("TEST_DST2"), dst)

	resolver := &fakeResolver{drivers: map[string]*registry.Enforcer{"src-sc": srcEnf, "dst-sc": dstEnf}}
	worker := NewWorker(resolver, Config{ExistingPolicy: ExistingSkip})

	payload, _ := json.Marshal(Pair{SourceStorageConfigID: "src-sc", SourcePath: "/a", TargetStorageConfigID: "dst-sc", TargetPath: "/a"})
	err := worker(context.Background(), "item1", payload, func(int64) {})
	if err == nil || err.Error() != "jobrunner: item skipped" {
		t.Fatalf("expected ErrSkip when target exists under skip policy, got %v", err)
	}
	if string(dst.files["/a"]) != "existing content" {
		t.Fatalf("expected existing target to be left untouched under skip policy")
	}
}

func TestCopyFailedSurfacesAsError(t *testing.T) {
	backend := newFakeBackend(store.StorageType("TEST_FAIL"))
	enf := createTestEnforcer(t, store.StorageType("TEST_FAIL"), backend)

	resolver := &fakeResolver{drivers: map[string]*registry.Enforcer{"sc1": enf}}
	worker := NewWorker(resolver, Config{})

	payload, _ := json.Marshal(Pair{SourceStorageConfigID: "sc1", SourcePath: "/missing", TargetStorageConfigID: "sc1", TargetPath: "/b"})
	if err := worker(context.Background(), "item1", payload, func(int64) {}); err == nil {
		t.Fatalf("expected an error when the native copy reports status=failed")
	}
}
