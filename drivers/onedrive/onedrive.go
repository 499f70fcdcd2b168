// Package onedrive is the Microsoft OneDrive storage driver (§5), talking
// to the Microsoft Graph REST API over an oauth2.Client (golang.org/x/oauth2
// is already a teacher dependency; no Microsoft Graph Go SDK appears
// anywhere in the retrieved pack, so the Graph calls themselves are a
// thin net/http client — see DESIGN.md).
package onedrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

const graphBase = "https://graph.microsoft.com/v1.0"

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeOneDrive,
		DisplayName: "Microsoft OneDrive",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapDirectLink,
		},
		ConfigSchema: []registry.Option{
			{Name: "drive_root", Type: registry.OptionString, DefaultValue: "/me/drive"},
			{Name: "refresh_token", Type: registry.OptionSecret, Required: true},
			{Name: "client_id", Type: registry.OptionSecret, Required: true},
			{Name: "client_secret", Type: registry.OptionSecret, Required: true},
			{Name: "tenant_id", Type: registry.OptionSecret, DefaultValue: "common"},
		},
	})
}

type config struct {
	DriveRoot string `json:"drive_root"`
}

type secret struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	TenantID     string `json:"tenant_id"`
}

// Driver is a Reader+Writer+DirectLinker over one Microsoft Graph drive.
type Driver struct {
	http      *http.Client
	driveRoot string
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("onedrive: invalid config_json: %v", err)
		}
	}
	if cfg.DriveRoot == "" {
		cfg.DriveRoot = "/me/drive"
	}
	var sec secret
	if err := json.Unmarshal(rawSecret, &sec); err != nil {
		return nil, ferrors.ValidationError("onedrive: invalid secret blob: %v", err)
	}
	if sec.RefreshToken == "" || sec.ClientID == "" || sec.ClientSecret == "" {
		return nil, ferrors.ValidationError("onedrive: refresh_token, client_id and client_secret are required")
	}
	if sec.TenantID == "" {
		sec.TenantID = "common"
	}

	oauthCfg := &oauth2.Config{
		ClientID:     sec.ClientID,
		ClientSecret: sec.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", sec.TenantID),
			TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", sec.TenantID),
		},
		Scopes: []string{"Files.ReadWrite", "offline_access"},
	}
	ts := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: sec.RefreshToken})

	return &Driver{
		http:      oauth2.NewClient(context.Background(), ts),
		driveRoot: cfg.DriveRoot,
	}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeOneDrive }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapDirectLink}
}

type driveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	ETag                 string `json:"eTag"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	Folder               *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder"`
	File *struct {
		MimeType string `json:"mimeType"`
	} `json:"file"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl"`
}

type driveItemList struct {
	Value []driveItem `json:"value"`
}

func (d *Driver) itemPathURL(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return graphBase + d.driveRoot + "/root"
	}
	return graphBase + d.driveRoot + "/root:/" + url.PathEscape(p)
}

func (d *Driver) doJSON(ctx context.Context, method, target string, body io.Reader, out interface{}) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "%s %s", method, target)
	}
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, ferrors.DriverError(502, err, "decoding response from %s", target)
		}
	}
	return resp, nil
}

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	var list driveItemList
	resp, err := d.doJSON(ctx, http.MethodGet, d.itemPathURL(p)+":/children", nil, &list)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ferrors.NotFoundError("onedrive: %s not found", p)
	}
	if resp.StatusCode >= 300 {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "listing %s", p)
	}
	var items []registry.Item
	for _, it := range list.Value {
		isDir := it.Folder != nil
		item := registry.Item{Path: joinPath(p, it.Name), Name: it.Name, IsDirectory: isDir}
		if !isDir {
			size := it.Size
			item.Size = &size
			if mod, ok := parseRFC3339(it.LastModifiedDateTime); ok {
				ms := mod.UnixMilli()
				item.Modified = &ms
			}
		}
		items = append(items, item)
	}
	return &registry.ListDirectoryResult{Path: p, Type: "directory", Items: items}, nil
}

func (d *Driver) getItem(ctx context.Context, p string) (*driveItem, error) {
	var item driveItem
	resp, err := d.doJSON(ctx, http.MethodGet, d.itemPathURL(p), nil, &item)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ferrors.NotFoundError("onedrive: %s not found", p)
	}
	if resp.StatusCode >= 300 {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "fetching %s", p)
	}
	return &item, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	item, err := d.getItem(ctx, p)
	if err != nil {
		return nil, err
	}
	size := item.Size
	res := &registry.FileInfoResult{
		Path: p, Name: item.Name, IsDirectory: item.Folder != nil,
		Size: &size, ETag: strings.Trim(item.ETag, `"`),
	}
	if mod, ok := parseRFC3339(item.LastModifiedDateTime); ok {
		ms := mod.UnixMilli()
		res.Modified = &ms
	}
	return res, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	item, err := d.getItem(ctx, p)
	if err != nil {
		return nil, err
	}
	size := item.Size
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size, ETag: strings.Trim(item.ETag, `"`)},
		Downloadable:     &oneDriveStream{client: d.http, url: item.DownloadURL, fallback: d, path: p},
	}, nil
}

type oneDriveStream struct {
	client   *http.Client
	url      string
	fallback *Driver
	path     string
}

func (s *oneDriveStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	target := s.url
	if target == "" {
		target = s.fallback.itemPathURL(s.path) + ":/content"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "GET %s", target)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "GET %s", target)
	}
	return resp.Body, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	if _, err := d.getItem(ctx, p); err == nil {
		return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"name":                              baseName(p),
		"folder":                            map[string]interface{}{},
		"@microsoft.graph.conflictBehavior": "fail",
	})
	var created driveItem
	resp, err := d.doJSON(ctx, http.MethodPost, d.itemPathURL(parentOf(p))+":/children", strings.NewReader(string(payload)), &created)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "creating directory %s", p)
	}
	return &registry.CreateDirectoryResult{Success: true, Path: p}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.itemPathURL(p)+":/content", content)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "uploading %s", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "uploading %s", p)
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
	item, err := d.getItem(ctx, source)
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"name":        baseName(target),
		"parentReference": map[string]interface{}{"path": d.driveRoot + "/root:" + parentOf(target)},
	})
	resp, err := d.doJSON(ctx, http.MethodPatch, graphBase+d.driveRoot+"/items/"+item.ID, strings.NewReader(string(payload)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "renaming %s to %s", source, target)
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	item, err := d.getItem(ctx, source)
	if err != nil {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"name":            baseName(target),
		"parentReference": map[string]interface{}{"path": d.driveRoot + "/root:" + parentOf(target)},
	})
	resp, err := d.doJSON(ctx, http.MethodPost, graphBase+d.driveRoot+"/items/"+item.ID+"/copy", strings.NewReader(string(payload)), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, ferrors.DriverError(resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode), "copying %s to %s", source, target)
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		resp, err := d.doJSON(ctx, http.MethodDelete, d.itemPathURL(p), nil, nil)
		if err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: fmt.Sprintf("unexpected status %d", resp.StatusCode)})
			continue
		}
		res.Success++
	}
	return res, nil
}

// GenerateDownloadURL implements registry.DirectLinker via Graph's
// @microsoft.graph.downloadUrl, a short-lived pre-authenticated CDN link.
func (d *Driver) GenerateDownloadURL(ctx context.Context, p string) (*registry.DownloadURLResult, error) {
	item, err := d.getItem(ctx, p)
	if err != nil {
		return nil, err
	}
	if item.DownloadURL == "" {
		return nil, ferrors.ValidationError("onedrive: no direct link available for %s", p)
	}
	expiresIn := int64(55 * time.Minute / time.Second)
	return &registry.DownloadURLResult{URL: item.DownloadURL, Type: registry.URLNativeDirect, ExpiresIn: &expiresIn}, nil
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("onedrive: Test called with a non-onedrive driver")
	}
	resp, err := d.doJSON(ctx, http.MethodGet, graphBase+d.driveRoot, nil, nil)
	passed := err == nil && resp != nil && resp.StatusCode == http.StatusOK
	detail := ""
	if err != nil {
		detail = err.Error()
	} else if resp != nil && resp.StatusCode != http.StatusOK {
		detail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	checks := []registry.TestCheck{{Name: "drive_root is reachable", Passed: passed, Detail: detail}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeOneDrive, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func parentOf(p string) string {
	p = strings.Trim(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return "/"
	}
	return "/" + p[:idx]
}

func baseName(p string) string {
	p = strings.Trim(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

func parseRFC3339(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
