// Package huggingface is the Hugging Face Hub dataset storage driver
// (§5): every path is a file inside one dataset repository at a pinned
// revision, read through the Hub's public tree/resolve REST endpoints and
// written through its commit API.
//
// No Go client for the Hugging Face Hub exists in the retrieved example
// pack (huggingface_hub itself is a Python package), so this driver talks
// to huggingface.co directly over net/http, the same narrowly-scoped
// stdlib exception as webdav, telegram and discord.
package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeHuggingFace,
		DisplayName: "Hugging Face Dataset",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapDirectLink, store.CapProxy,
		},
		ConfigSchema: []registry.Option{
			{Name: "repo_id", Type: registry.OptionString, Required: true},
			{Name: "revision", Type: registry.OptionString, DefaultValue: "main"},
		},
	})
}

const hubBase = "https://huggingface.co"

type config struct {
	RepoID   string `json:"repo_id"`
	Revision string `json:"revision"`
}

type secret struct {
	Token string `json:"token"`
}

// Driver is a Reader+Writer over one dataset repository's file tree.
type Driver struct {
	http     *http.Client
	token    string
	repoID   string
	revision string
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("huggingface: invalid config_json: %v", err)
		}
	}
	if cfg.RepoID == "" {
		return nil, ferrors.ValidationError("huggingface: repo_id is required")
	}
	if cfg.Revision == "" {
		cfg.Revision = "main"
	}
	var sec secret
	if len(rawSecret) > 0 {
		if err := json.Unmarshal(rawSecret, &sec); err != nil {
			return nil, ferrors.ValidationError("huggingface: invalid secret blob: %v", err)
		}
	}
	return &Driver{
		http:     &http.Client{Timeout: 60 * time.Second},
		token:    sec.Token,
		repoID:   cfg.RepoID,
		revision: cfg.Revision,
	}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeHuggingFace }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapDirectLink, store.CapProxy}
}

func repoPath(p string) string { return strings.TrimPrefix(p, "/") }

func (d *Driver) setAuth(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}

type treeEntry struct {
	Type string `json:"type"` // "file" or "directory"
	Path string `json:"path"`
	Size int64  `json:"size"`
	OID  string `json:"oid"`
}

func (d *Driver) tree(ctx context.Context, p string) ([]treeEntry, error) {
	url := fmt.Sprintf("%s/api/datasets/%s/tree/%s/%s", hubBase, d.repoID, d.revision, repoPath(p))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	d.setAuth(req)
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "huggingface: listing %s failed", p)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ferrors.NotFoundError("huggingface: %s not found", p)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.DriverError(resp.StatusCode, nil, "huggingface: listing %s returned status %d", p, resp.StatusCode)
	}
	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	entries, err := d.tree(ctx, p)
	if err != nil {
		return nil, err
	}
	var items []registry.Item
	for _, e := range entries {
		isDir := e.Type == "directory"
		item := registry.Item{Path: joinPath(p, baseName("/"+e.Path)), Name: baseName("/" + e.Path), IsDirectory: isDir}
		if !isDir {
			size := e.Size
			item.Size = &size
		}
		items = append(items, item)
	}
	return &registry.ListDirectoryResult{Path: p, Type: "directory", Items: items}, nil
}

func (d *Driver) statFile(ctx context.Context, p string) (*treeEntry, error) {
	entries, err := d.tree(ctx, parentOf(p))
	if err != nil {
		return nil, err
	}
	target := repoPath(p)
	for i := range entries {
		if entries[i].Path == target {
			return &entries[i], nil
		}
	}
	return nil, ferrors.NotFoundError("huggingface: %s not found", p)
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	entry, err := d.statFile(ctx, p)
	if err != nil {
		return nil, err
	}
	isDir := entry.Type == "directory"
	size := entry.Size
	return &registry.FileInfoResult{Path: p, Name: baseName(p), IsDirectory: isDir, Size: &size, ETag: entry.OID}, nil
}

func (d *Driver) resolveURL(p string) string {
	return fmt.Sprintf("%s/datasets/%s/resolve/%s/%s", hubBase, d.repoID, d.revision, repoPath(p))
}

type hfStream struct {
	driver *Driver
	path   string
}

func (s *hfStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.driver.resolveURL(s.path), nil)
	if err != nil {
		return nil, err
	}
	s.driver.setAuth(req)
	resp, err := s.driver.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "huggingface: downloading %s failed", s.path)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, ferrors.NotFoundError("huggingface: %s not found", s.path)
		}
		return nil, ferrors.DriverError(resp.StatusCode, nil, "huggingface: download returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	entry, err := d.statFile(ctx, p)
	if err != nil {
		return nil, err
	}
	size := entry.Size
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size, ETag: entry.OID},
		Downloadable:     &hfStream{driver: d, path: p},
	}, nil
}

type commitOp struct {
	Operations []commitOpEntry `json:"operations"`
	Summary    string          `json:"summary"`
}

type commitOpEntry struct {
	Key     string `json:"key"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

func (d *Driver) commit(ctx context.Context, path, summary string, data []byte, deleted bool) error {
	var op commitOpEntry
	if deleted {
		op = commitOpEntry{Key: "delete", Path: repoPath(path)}
	} else {
		op = commitOpEntry{Key: "file", Path: repoPath(path), Content: base64.StdEncoding.EncodeToString(data), Encoding: "base64"}
	}
	payload := commitOp{Operations: []commitOpEntry{op}, Summary: summary}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/api/datasets/%s/commit/%s", hubBase, d.repoID, d.revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	d.setAuth(req)
	resp, err := d.http.Do(req)
	if err != nil {
		return ferrors.DriverError(502, err, "huggingface: commit failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ferrors.DriverError(resp.StatusCode, nil, "huggingface: commit returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	// the Hub's git-backed tree has no empty directories; a .gitkeep
	// placeholder file materializes the path the same way githubapi does.
	keepPath := strings.TrimSuffix(p, "/") + "/.gitkeep"
	if _, err := d.statFile(ctx, keepPath); err == nil {
		return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
	}
	if err := d.commit(ctx, keepPath, "filehaven: create "+p, []byte{}, false); err != nil {
		return nil, err
	}
	return &registry.CreateDirectoryResult{Success: true, Path: p}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	if err := d.commit(ctx, p, "filehaven: upload "+p, data, false); err != nil {
		return nil, err
	}
	return &registry.UploadResult{Success: true, StoragePath: p}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	if err := d.commit(ctx, p, "filehaven: update "+p, data, false); err != nil {
		return nil, err
	}
	return &registry.UpdateResult{Success: true, Path: p}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	entry, err := d.statFile(ctx, source)
	if err != nil {
		return nil, err
	}
	stream := &hfStream{driver: d, path: source}
	rc, err := stream.GetStream(ctx)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}
	if err := d.commit(ctx, target, "filehaven: rename "+source+" to "+target, data, false); err != nil {
		return nil, err
	}
	if err := d.commit(ctx, source, "filehaven: remove "+source, nil, true); err != nil {
		return nil, err
	}
	_ = entry
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	stream := &hfStream{driver: d, path: source}
	rc, err := stream.GetStream(ctx)
	if err != nil {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}
	if err := d.commit(ctx, target, "filehaven: copy "+source+" to "+target, data, false); err != nil {
		return nil, err
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		if err := d.commit(ctx, p, "filehaven: remove "+p, nil, true); err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success++
	}
	return res, nil
}

func (d *Driver) GenerateDownloadURL(ctx context.Context, p string) (*registry.DownloadURLResult, error) {
	if _, err := d.statFile(ctx, p); err != nil {
		return nil, err
	}
	return &registry.DownloadURLResult{URL: d.resolveURL(p), Type: registry.URLNativeDirect}, nil
}

// GenerateProxyURL mints a signed token for private dataset repositories,
// where d.resolveURL's native link requires the caller to already hold the
// hub token this process keeps server-side.
func (d *Driver) GenerateProxyURL(ctx context.Context, p string) (*registry.ProxyURLResult, error) {
	if _, err := d.statFile(ctx, p); err != nil {
		return nil, err
	}
	return registry.MintProxyURLResult(string(store.TypeHuggingFace), p)
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("huggingface: Test called with a non-huggingface driver")
	}
	_, err := d.tree(ctx, "/")
	checks := []registry.TestCheck{{Name: "dataset repository is reachable", Passed: err == nil, Detail: errDetail(err)}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeHuggingFace, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
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

func joinPath(dir, name string) string {
	dir = normalize(dir)
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
