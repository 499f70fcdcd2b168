// Package webdav is the WebDAV storage driver (§5): a thin net/http
// client issuing PROPFIND/PUT/GET/MKCOL/MOVE/COPY/DELETE against a
// remote DAV server. No WebDAV client library appears anywhere in the
// retrieved pack (golang.org/x/net/webdav is a server, not a client), so
// this is one of the deliberately stdlib-only drivers; see DESIGN.md.
package webdav

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeWebDAV,
		DisplayName: "WebDAV",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter,
		},
		ConfigSchema: []registry.Option{
			{Name: "base_url", Type: registry.OptionString, Required: true, Rule: registry.RuleURL},
			{Name: "username", Type: registry.OptionString},
			{Name: "password", Type: registry.OptionSecret},
		},
	})
}

type config struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username"`
}

type secret struct {
	Password string `json:"password"`
}

// Driver is a Reader+Writer talking WebDAV to one remote base URL.
type Driver struct {
	base     *url.URL
	username string
	password string
	client   *http.Client
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("webdav: invalid config_json: %v", err)
		}
	}
	if cfg.BaseURL == "" {
		return nil, ferrors.ValidationError("webdav: base_url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, ferrors.ValidationError("webdav: invalid base_url: %v", err)
	}
	var sec secret
	if len(rawSecret) > 0 {
		if err := json.Unmarshal(rawSecret, &sec); err != nil {
			return nil, ferrors.ValidationError("webdav: invalid secret blob: %v", err)
		}
	}
	return &Driver{
		base:     base,
		username: cfg.Username,
		password: sec.Password,
		client:   &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeWebDAV }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter}
}

func (d *Driver) resolve(p string) string {
	ref := &url.URL{Path: path.Join(d.base.Path, p)}
	return d.base.ResolveReference(ref).String()
}

func (d *Driver) do(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return d.client.Do(req)
}

type davMultiStatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string       `xml:"href"`
	Propstat davPropstat  `xml:"propstat"`
}

type davPropstat struct {
	Prop davProp `xml:"prop"`
}

type davProp struct {
	DisplayName      string `xml:"displayname"`
	ContentLength    int64  `xml:"getcontentlength"`
	LastModified     string `xml:"getlastmodified"`
	ResourceType     struct {
		Collection *struct{} `xml:"collection"`
	} `xml:"resourcetype"`
	ETag string `xml:"getetag"`
}

func (d *Driver) propfind(ctx context.Context, p string, depth string) (*davMultiStatus, error) {
	target := d.resolve(p)
	resp, err := d.do(ctx, "PROPFIND", target, strings.NewReader(propfindBody), map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml",
	})
	if err != nil {
		return nil, ferrors.DriverError(502, err, "PROPFIND %s", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ferrors.NotFoundError("webdav: %s not found", p)
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "PROPFIND %s", p)
	}
	var ms davMultiStatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, ferrors.DriverError(502, err, "decoding PROPFIND response for %s", p)
	}
	return &ms, nil
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:"><D:allprop/></D:propfind>`

func (d *Driver) ListDirectory(ctx context.Context, dirPath string) (*registry.ListDirectoryResult, error) {
	ms, err := d.propfind(ctx, dirPath, "1")
	if err != nil {
		return nil, err
	}
	selfHref := d.resolve(dirPath)
	var items []registry.Item
	for _, r := range ms.Responses {
		if hrefMatches(r.Href, selfHref) {
			continue
		}
		name := path.Base(strings.TrimSuffix(r.Href, "/"))
		isDir := r.Propstat.Prop.ResourceType.Collection != nil
		item := registry.Item{
			Path:        joinPath(dirPath, name),
			Name:        name,
			IsDirectory: isDir,
		}
		if !isDir {
			size := r.Propstat.Prop.ContentLength
			item.Size = &size
			if mod, ok := parseHTTPDate(r.Propstat.Prop.LastModified); ok {
				ms := mod.UnixMilli()
				item.Modified = &ms
			}
		}
		items = append(items, item)
	}
	return &registry.ListDirectoryResult{Path: dirPath, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	ms, err := d.propfind(ctx, p, "0")
	if err != nil {
		return nil, err
	}
	if len(ms.Responses) == 0 {
		return nil, ferrors.NotFoundError("webdav: %s not found", p)
	}
	prop := ms.Responses[0].Propstat.Prop
	size := prop.ContentLength
	res := &registry.FileInfoResult{
		Path: p, Name: path.Base(p),
		IsDirectory: prop.ResourceType.Collection != nil,
		Size:        &size,
		ETag:        strings.Trim(prop.ETag, `"`),
	}
	if mod, ok := parseHTTPDate(prop.LastModified); ok {
		v := mod.UnixMilli()
		res.Modified = &v
	}
	return res, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	info, err := d.GetFileInfo(ctx, p)
	if err != nil {
		return nil, err
	}
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: info.Size},
		Downloadable:      &webdavStream{d: d, path: p},
	}, nil
}

type webdavStream struct {
	d    *Driver
	path string
}

func (s *webdavStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.d.do(ctx, http.MethodGet, s.d.resolve(s.path), nil, nil)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "GET %s", s.path)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "GET %s", s.path)
	}
	return resp.Body, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	resp, err := d.do(ctx, "MKCOL", d.resolve(p), nil, nil)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "MKCOL %s", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "MKCOL %s", p)
	}
	return &registry.CreateDirectoryResult{Success: true, Path: p}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	resp, err := d.do(ctx, http.MethodPut, d.resolve(p), content, map[string]string{
		"Content-Length": strconv.FormatInt(size, 10),
	})
	if err != nil {
		return nil, ferrors.DriverError(502, err, "PUT %s", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "PUT %s", p)
	}
	return &registry.UploadResult{Success: true, StoragePath: p}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	res, err := d.UploadFile(ctx, p, content, size)
	if err != nil {
		return nil, err
	}
	return &registry.UpdateResult{Success: res.Success, Path: p}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	resp, err := d.do(ctx, "MOVE", d.resolve(source), nil, map[string]string{
		"Destination": d.resolve(target),
		"Overwrite":   "T",
	})
	if err != nil {
		return nil, ferrors.DriverError(502, err, "MOVE %s", source)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "MOVE %s", source)
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	resp, err := d.do(ctx, "COPY", d.resolve(source), nil, map[string]string{
		"Destination": d.resolve(target),
		"Overwrite":   "T",
	})
	if err != nil {
		return nil, ferrors.DriverError(502, err, "COPY %s", source)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "COPY %s", source)
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		resp, err := d.do(ctx, http.MethodDelete, d.resolve(p), nil, nil)
		if err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: fmt.Sprintf("unexpected status %d", resp.StatusCode)})
			continue
		}
		res.Success++
	}
	return res, nil
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("webdav: Test called with a non-webdav driver")
	}
	_, err := d.propfind(ctx, "/", "0")
	checks := []registry.TestCheck{{Name: "base_url is reachable via PROPFIND", Passed: err == nil, Detail: errDetail(err)}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeWebDAV, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func hrefMatches(href, self string) bool {
	return strings.TrimSuffix(href, "/") == strings.TrimSuffix(self, "/") ||
		strings.HasSuffix(strings.TrimSuffix(self, "/"), strings.TrimSuffix(href, "/"))
}

func parseHTTPDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}
