package local

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/filehaven/engine/registry"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	cfg, err := json.Marshal(config{RootPath: t.TempDir()})
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	drv, err := construct(cfg, nil)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	return drv.(*Driver)
}

func TestUploadThenDownloadRoundTrips(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	content := []byte("hello filehaven")
	if _, err := d.UploadFile(ctx, "/a/b.txt", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}

	dl, err := d.DownloadFile(ctx, "/a/b.txt")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if dl.Size == nil || *dl.Size != int64(len(content)) {
		t.Fatalf("expected size %d, got %+v", len(content), dl.Size)
	}
	rc, err := dl.GetStream(ctx)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("expected %q, got %q", content, got)
	}
}

func TestUploadIsAtomicNoPartialFileOnRename(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	content := []byte("atomic content")
	if _, err := d.UploadFile(ctx, "/f.txt", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	entries, err := os.ReadDir(d.root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == "" && e.Name() != "f.txt" {
			t.Fatalf("unexpected leftover entry in root: %s", e.Name())
		}
	}
}

func TestListDirectoryReturnsChildren(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	if _, err := d.UploadFile(ctx, "/dir/one.txt", bytes.NewReader([]byte("1")), 1); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if _, err := d.UploadFile(ctx, "/dir/two.txt", bytes.NewReader([]byte("22")), 2); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	res, err := d.ListDirectory(ctx, "/dir")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(res.Items))
	}
}

func TestGetFileInfoReportsETag(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	if _, err := d.UploadFile(ctx, "/x.txt", bytes.NewReader([]byte("data")), 4); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	info, err := d.GetFileInfo(ctx, "/x.txt")
	if err != nil {
		t.Fatalf("GetFileInfo: %v", err)
	}
	if info.ETag == "" {
		t.Fatalf("expected a non-empty etag")
	}
	if info.Size == nil || *info.Size != 4 {
		t.Fatalf("expected size 4, got %+v", info.Size)
	}
}

func TestCopyItemWithinSameRoot(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	if _, err := d.UploadFile(ctx, "/src.txt", bytes.NewReader([]byte("copy me")), 7); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	res, err := d.CopyItem(ctx, "/src.txt", "/dst.txt")
	if err != nil {
		t.Fatalf("CopyItem: %v", err)
	}
	if res.Status != registry.CopySuccess {
		t.Fatalf("expected copy success, got %s", res.Status)
	}
	dl, err := d.DownloadFile(ctx, "/dst.txt")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	rc, _ := dl.GetStream(ctx)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "copy me" {
		t.Fatalf("expected copied content, got %q", got)
	}
}

func TestCopyItemMissingSourceReportsFailed(t *testing.T) {
	d := newTestDriver(t)
	res, err := d.CopyItem(context.Background(), "/missing.txt", "/dst.txt")
	if err != nil {
		t.Fatalf("CopyItem: %v", err)
	}
	if res.Status != registry.CopyFailed {
		t.Fatalf("expected copy failed status, got %s", res.Status)
	}
}

func TestPathCannotEscapeRoot(t *testing.T) {
	d := newTestDriver(t)
	if _, err := d.resolve("../../etc/passwd"); err == nil {
		t.Fatalf("expected an escape attempt to be rejected")
	}
}

func TestBatchRemoveItems(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	if _, err := d.UploadFile(ctx, "/a.txt", bytes.NewReader([]byte("a")), 1); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	res, err := d.BatchRemoveItems(ctx, []string{"/a.txt", "/does-not-exist.txt"})
	if err != nil {
		t.Fatalf("BatchRemoveItems: %v", err)
	}
	if res.Success != 2 {
		t.Fatalf("expected RemoveAll to treat a missing path as success, got success=%d failed=%v", res.Success, res.Failed)
	}
}

func TestGetStatsReportsFilesystemUsage(t *testing.T) {
	d := newTestDriver(t)
	stats, err := d.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if !stats.Supported {
		t.Fatalf("expected local driver to support quota stats on this host")
	}
	if stats.TotalBytes == nil || *stats.TotalBytes <= 0 {
		t.Fatalf("expected a positive total byte count, got %+v", stats.TotalBytes)
	}
}
