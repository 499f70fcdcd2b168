package stream

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/filehaven/engine/registry"
)

type fakeDownload struct {
	data         []byte
	rangeCapable bool
	rangeStatus  int // status reported by GetRange, default 206
}

func (f *fakeDownload) GetStream(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (f *fakeDownload) GetRange(ctx context.Context, start, end int64) (*RangeProbeResult, error) {
	if !f.rangeCapable {
		return &RangeProbeResult{Body: io.NopCloser(bytes.NewReader(f.data)), Status: 200}, nil
	}
	status := f.rangeStatus
	if status == 0 {
		status = 206
	}
	slice := f.data[start : end+1]
	return &RangeProbeResult{
		Body:         io.NopCloser(bytes.NewReader(slice)),
		Status:       status,
		ContentRange: contentRangeHeader(start, end, int64(len(f.data))),
	}, nil
}

func contentRangeHeader(start, end, size int64) string {
	return "bytes " + itoaForTest(start) + "-" + itoaForTest(end) + "/" + itoaForTest(size)
}

func itoaForTest(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf []byte
	for v > 0 {
		buf = append([]byte{byte('0' + v%10)}, buf...)
		v /= 10
	}
	return string(buf)
}

func makeDR(data []byte, rangeCapable bool) *registry.DownloadResult {
	size := int64(len(data))
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{
			Size:         &size,
			ETag:         `"abc123"`,
			LastModified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			ContentType:  "text/plain",
		},
		Downloadable: &fakeDownload{data: data, rangeCapable: rangeCapable},
	}
}

func TestServeFullNoRange(t *testing.T) {
	data := []byte("0123456789")
	dr := makeDR(data, false)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f", Channel: ChannelFSWeb}, dr, Config{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != string(data) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "private, no-cache" {
		t.Fatalf("unexpected cache-control %q", rec.Header().Get("Cache-Control"))
	}
}

func TestServeIfNoneMatch304(t *testing.T) {
	data := []byte("hello")
	dr := makeDR(data, false)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	req.Header.Set("If-None-Match", `"abc123"`)
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f"}, dr, Config{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body on 304")
	}
}

func TestServeIfMatch412(t *testing.T) {
	data := []byte("hello")
	dr := makeDR(data, false)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	req.Header.Set("If-Match", `"different"`)
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f"}, dr, Config{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rec.Code)
	}
}

func TestServeSingleRangeSoftwareFallback(t *testing.T) {
	data := []byte("0123456789")
	dr := makeDR(data, false)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f"}, dr, Config{FallbackPolicy: FallbackSoftware}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Fatalf("software-sliced 206 must omit Content-Length, got %q", rec.Header().Get("Content-Length"))
	}
	if rec.Header().Get("Content-Range") != "bytes 2-5/10" {
		t.Fatalf("unexpected content-range %q", rec.Header().Get("Content-Range"))
	}
}

func TestServeSingleRangeNative(t *testing.T) {
	data := []byte("0123456789")
	dr := makeDR(data, true)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f"}, dr, Config{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != "4" {
		t.Fatalf("native 206 should carry Content-Length, got %q", rec.Header().Get("Content-Length"))
	}
}

func TestServeSingleRangeUnsatisfiable416(t *testing.T) {
	data := []byte("0123456789")
	dr := makeDR(data, false)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	req.Header.Set("Range", "bytes=5000-6000")
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f"}, dr, Config{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Range") != "bytes */10" {
		t.Fatalf("unexpected content-range %q", rec.Header().Get("Content-Range"))
	}
}

func TestServeVideoSeekGuardFallsBackWhenNotHonest(t *testing.T) {
	// a 300MiB logical file, driver claims range capability but always
	// answers 200 with no useful Content-Range: the guard must refuse to
	// trust it for a late seek and serve 200 instead of reading 200MiB
	// through a fake 206.
	size := int64(300 << 20)
	fd := &fakeDownload{data: make([]byte, 16), rangeCapable: false}
	dr := &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size, ContentType: "video/mp4"},
		Downloadable:     fd,
	}
	req := httptest.NewRequest(http.MethodGet, "/movie.mp4", nil)
	req.Header.Set("Range", "bytes=209715200-209715215") // 200MiB in, past the 100MiB threshold
	rec := httptest.NewRecorder()

	err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/movie.mp4"}, dr, Config{VideoThresholdBytes: 100 << 20})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected guard to fall back to 200, got %d", rec.Code)
	}
}

func TestServeMultiRangeByteranges(t *testing.T) {
	data := []byte("0123456789ABCDEF")
	dr := makeDR(data, true)
	req := httptest.NewRequest(http.MethodGet, "/f", nil)
	req.Header.Set("Range", "bytes=0-1,4-5")
	rec := httptest.NewRecorder()
	if err := Serve(context.Background(), rec, &Request{Method: "GET", Header: req.Header, Path: "/f"}, dr, Config{}); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	ct := rec.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/byteranges") {
		t.Fatalf("expected multipart/byteranges content-type, got %q", ct)
	}
}
