package registry

import (
	"context"
	"io"
	"testing"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/store"
)

type fakeDriver struct {
	storageType  store.StorageType
	capabilities []store.Capability
	initErr      error
}

func (d *fakeDriver) GetType() store.StorageType        { return d.storageType }
func (d *fakeDriver) GetCapabilities() []store.Capability { return d.capabilities }
func (d *fakeDriver) Initialize(ctx context.Context) error { return d.initErr }

func (d *fakeDriver) ListDirectory(ctx context.Context, path string) (*ListDirectoryResult, error) {
	return &ListDirectoryResult{Path: path, Type: "directory"}, nil
}
func (d *fakeDriver) GetFileInfo(ctx context.Context, path string) (*FileInfoResult, error) {
	return &FileInfoResult{Path: path, Name: "f"}, nil
}
func (d *fakeDriver) DownloadFile(ctx context.Context, path string) (*DownloadResult, error) {
	return &DownloadResult{Downloadable: noopDownloadable{}}, nil
}

type noopDownloadable struct{}

func (noopDownloadable) GetStream(ctx context.Context) (io.ReadCloser, error) { return nil, nil }

func (d *fakeDriver) UploadFile(ctx context.Context, path string, content io.Reader, size int64) (*UploadResult, error) {
	return &UploadResult{Success: true, StoragePath: path}, nil
}
func (d *fakeDriver) UpdateFile(ctx context.Context, path string, content io.Reader, size int64) (*UpdateResult, error) {
	return &UpdateResult{Success: true, Path: path}, nil
}
func (d *fakeDriver) CreateDirectory(ctx context.Context, path string) (*CreateDirectoryResult, error) {
	return &CreateDirectoryResult{Success: true, Path: path}, nil
}
func (d *fakeDriver) RenameItem(ctx context.Context, source, target string) (*RenameResult, error) {
	return &RenameResult{Success: true, Source: source, Target: target}, nil
}
func (d *fakeDriver) CopyItem(ctx context.Context, source, target string) (*CopyResult, error) {
	return &CopyResult{Status: CopySuccess, Source: source, Target: target}, nil
}
func (d *fakeDriver) BatchRemoveItems(ctx context.Context, paths []string) (*BatchRemoveResult, error) {
	return &BatchRemoveResult{Success: len(paths)}, nil
}

func registerFake(t *testing.T, st store.StorageType, caps []store.Capability) {
	t.Helper()
	Register(&Record{
		StorageType:  st,
		DisplayName:  string(st),
		Capabilities: caps,
		Constructor: func(rawConfig, secret []byte) (Driver, error) {
			return &fakeDriver{storageType: st, capabilities: caps}, nil
		},
	})
}

func TestCreateDriverSuccess(t *testing.T) {
	st := store.StorageType("TEST_OK")
	registerFake(t, st, []store.Capability{store.CapReader, store.CapWriter})

	enf, err := CreateDriver(context.Background(), st, nil, nil)
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	if !enf.HasCapability(store.CapReader) || !enf.HasCapability(store.CapWriter) {
		t.Fatalf("expected capabilities to round-trip")
	}

	res, err := enf.ListDirectory(context.Background(), "/a")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if res.Path != "/a" {
		t.Fatalf("unexpected path %q", res.Path)
	}
}

func TestCreateDriverRejectsAdvertisedCapabilityWithoutMethods(t *testing.T) {
	st := store.StorageType("TEST_MISSING_MULTIPART")
	Register(&Record{
		StorageType:  st,
		Capabilities: []store.Capability{store.CapMultipart},
		Constructor: func(rawConfig, secret []byte) (Driver, error) {
			return &fakeDriver{storageType: st, capabilities: []store.Capability{store.CapMultipart}}, nil
		},
	})

	_, err := CreateDriver(context.Background(), st, nil, nil)
	if err == nil {
		t.Fatalf("expected contract error, got nil")
	}
	de, ok := ferrors.As(err)
	if !ok || de.Code != ferrors.CodeDriverContract {
		t.Fatalf("expected DRIVER_CONTRACT error, got %v", err)
	}
}

func TestEnforcerRejectsPathMismatch(t *testing.T) {
	st := store.StorageType("TEST_BAD_SHAPE")
	registerFake(t, st, []store.Capability{store.CapReader})
	enf, err := CreateDriver(context.Background(), st, nil, nil)
	if err != nil {
		t.Fatalf("CreateDriver: %v", err)
	}
	// swap in a driver whose ListDirectory lies about its path
	enf.driver = &liarDriver{st: st}

	_, err = enf.ListDirectory(context.Background(), "/requested")
	if err == nil {
		t.Fatalf("expected contract violation for path mismatch")
	}
}

type liarDriver struct{ st store.StorageType }

func (l *liarDriver) GetType() store.StorageType          { return l.st }
func (l *liarDriver) GetCapabilities() []store.Capability { return []store.Capability{store.CapReader} }
func (l *liarDriver) ListDirectory(ctx context.Context, path string) (*ListDirectoryResult, error) {
	return &ListDirectoryResult{Path: "/something-else", Type: "directory"}, nil
}
func (l *liarDriver) GetFileInfo(ctx context.Context, path string) (*FileInfoResult, error) {
	return &FileInfoResult{Path: path}, nil
}
func (l *liarDriver) DownloadFile(ctx context.Context, path string) (*DownloadResult, error) {
	return &DownloadResult{Downloadable: noopDownloadable{}}, nil
}

