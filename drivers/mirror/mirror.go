// Package mirror is the static mirror-list storage driver (§5): the
// backend holds no credentials and no writable state at all, just a
// configured table of virtual paths to external download URLs that the
// driver proxies reads through and exposes directly via DirectLinker.
// It is grounded on the same Reader-only, capability-gated shape as
// aistore's read-through remote-bucket backends.
package mirror

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeMirror,
		DisplayName: "Static Mirror List",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapDirectLink, store.CapProxy,
		},
		ConfigSchema: []registry.Option{
			{Name: "entries_json", Type: registry.OptionString, Required: true},
		},
	})
}

// entry is one configured path-to-URL mapping.
type entry struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type config struct {
	Entries []entry `json:"entries"`
}

// Driver is a read-only proxy over a fixed URL table, handing out both the
// mirror URLs themselves as direct links and signed proxy URLs.
// It carries no secret at all: every entry is a public mirror URL.
type Driver struct {
	http    *http.Client
	entries map[string]entry
}

func construct(rawConfig, _ []byte) (registry.Driver, error) {
	var cfg config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, ferrors.ValidationError("mirror: invalid config_json: %v", err)
	}
	if len(cfg.Entries) == 0 {
		return nil, ferrors.ValidationError("mirror: at least one entry is required")
	}
	byPath := map[string]entry{}
	for _, e := range cfg.Entries {
		if e.Path == "" || e.URL == "" {
			return nil, ferrors.ValidationError("mirror: entries require both path and url")
		}
		byPath[normalize(e.Path)] = e
	}
	return &Driver{http: &http.Client{Timeout: 30 * time.Second}, entries: byPath}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeMirror }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapDirectLink, store.CapProxy}
}

func normalize(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func parentOf(p string) string {
	p = normalize(p)
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

func baseName(p string) string {
	p = normalize(p)
	idx := strings.LastIndex(p, "/")
	return p[idx+1:]
}

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	dir := normalize(p)
	seen := map[string]bool{}
	var items []registry.Item
	for path, e := range d.entries {
		if parentOf(path) != dir {
			continue
		}
		name := baseName(path)
		if seen[name] {
			continue
		}
		seen[name] = true
		size := e.Size
		items = append(items, registry.Item{Path: path, Name: name, IsDirectory: false, Size: &size})
	}
	return &registry.ListDirectoryResult{Path: dir, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	e, ok := d.entries[normalize(p)]
	if !ok {
		return nil, ferrors.NotFoundError("mirror: %s not found", p)
	}
	size := e.Size
	return &registry.FileInfoResult{Path: normalize(p), Name: baseName(p), Size: &size}, nil
}

type mirrorStream struct {
	driver *Driver
	url    string
}

func (s *mirrorStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.driver.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "mirror: fetching %s failed", s.url)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ferrors.DriverError(resp.StatusCode, nil, "mirror: upstream returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	e, ok := d.entries[normalize(p)]
	if !ok {
		return nil, ferrors.NotFoundError("mirror: %s not found", p)
	}
	size := e.Size
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size},
		Downloadable:     &mirrorStream{driver: d, url: e.URL},
	}, nil
}

func (d *Driver) GenerateDownloadURL(ctx context.Context, p string) (*registry.DownloadURLResult, error) {
	e, ok := d.entries[normalize(p)]
	if !ok {
		return nil, ferrors.NotFoundError("mirror: %s not found", p)
	}
	return &registry.DownloadURLResult{URL: e.URL, Type: registry.URLNativeDirect}, nil
}

// GenerateProxyURL mints a signed token for callers that want the request
// routed back through this process (e.g. to apply range/transcode
// handling) rather than hitting the mirror URL directly.
func (d *Driver) GenerateProxyURL(ctx context.Context, p string) (*registry.ProxyURLResult, error) {
	if _, ok := d.entries[normalize(p)]; !ok {
		return nil, ferrors.NotFoundError("mirror: %s not found", p)
	}
	return registry.MintProxyURLResult(string(store.TypeMirror), p)
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("mirror: Test called with a non-mirror driver")
	}
	var checks []registry.TestCheck
	reachable := 0
	for path, e := range d.entries {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.URL, nil)
		if err != nil {
			checks = append(checks, registry.TestCheck{Name: "HEAD " + path, Passed: false, Detail: err.Error()})
			continue
		}
		resp, err := d.http.Do(req)
		passed := err == nil && resp != nil && resp.StatusCode < 400
		detail := ""
		if err != nil {
			detail = err.Error()
		} else {
			detail = "status " + strconv.Itoa(resp.StatusCode)
			resp.Body.Close()
		}
		if passed {
			reachable++
		}
		checks = append(checks, registry.TestCheck{Name: "HEAD " + path, Passed: passed, Detail: detail})
	}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeMirror, Checks: checks,
		Info:       strconv.Itoa(reachable) + "/" + strconv.Itoa(len(d.entries)) + " mirrors reachable",
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
