// Package githubreleases is the GitHub Releases storage driver (§5): it
// stores every file as a release asset of one configured tag, grounded
// on github.com/google/go-github the way the wider retrieval pack's
// storj repo depends on it for its own GitHub automation.
package githubreleases

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/github"
	"golang.org/x/oauth2"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeGithubRel,
		DisplayName: "GitHub Releases",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapDirectLink,
		},
		ConfigSchema: []registry.Option{
			{Name: "owner", Type: registry.OptionString, Required: true},
			{Name: "repo", Type: registry.OptionString, Required: true},
			{Name: "tag", Type: registry.OptionString, DefaultValue: "filehaven-storage"},
			{Name: "token", Type: registry.OptionSecret, Required: true},
		},
	})
}

type config struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
	Tag   string `json:"tag"`
}

type secret struct {
	Token string `json:"token"`
}

// Driver addresses every "/"-separated path as a flattened release asset
// name (slashes encoded, since GitHub asset names are flat).
type Driver struct {
	client *github.Client
	owner  string
	repo   string
	tag    string
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("githubreleases: invalid config_json: %v", err)
		}
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, ferrors.ValidationError("githubreleases: owner and repo are required")
	}
	if cfg.Tag == "" {
		cfg.Tag = "filehaven-storage"
	}
	var sec secret
	if err := json.Unmarshal(rawSecret, &sec); err != nil {
		return nil, ferrors.ValidationError("githubreleases: invalid secret blob: %v", err)
	}
	if sec.Token == "" {
		return nil, ferrors.ValidationError("githubreleases: token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: sec.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))

	return &Driver{client: client, owner: cfg.Owner, repo: cfg.Repo, tag: cfg.Tag}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeGithubRel }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapDirectLink}
}

func encodeAssetName(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(p, "/"), "/", "__")
}

func decodeAssetName(name string) string {
	return "/" + strings.ReplaceAll(name, "__", "/")
}

func (d *Driver) release(ctx context.Context) (*github.RepositoryRelease, error) {
	rel, resp, err := d.client.Repositories.GetReleaseByTag(ctx, d.owner, d.repo, d.tag)
	if err == nil {
		return rel, nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return nil, toDriverErr(err, "fetching release %s", d.tag)
	}
	rel, _, err = d.client.Repositories.CreateRelease(ctx, d.owner, d.repo, &github.RepositoryRelease{
		TagName: github.String(d.tag), Name: github.String(d.tag), Draft: github.Bool(false),
	})
	if err != nil {
		return nil, toDriverErr(err, "creating release %s", d.tag)
	}
	return rel, nil
}

func (d *Driver) findAsset(ctx context.Context, p string) (*github.ReleaseAsset, error) {
	rel, err := d.release(ctx)
	if err != nil {
		return nil, err
	}
	name := encodeAssetName(p)
	for _, a := range rel.Assets {
		if a.GetName() == name {
			return &a, nil
		}
	}
	return nil, ferrors.NotFoundError("githubreleases: %s not found", p)
}

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	rel, err := d.release(ctx)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(strings.TrimPrefix(p, "/"), "/")
	seen := map[string]bool{}
	var items []registry.Item
	for _, a := range rel.Assets {
		full := decodeAssetName(a.GetName())
		rest := strings.TrimPrefix(strings.TrimPrefix(full, "/"), prefix)
		rest = strings.TrimPrefix(rest, "/")
		if prefix != "" && !strings.HasPrefix(strings.TrimPrefix(full, "/"), prefix+"/") {
			continue
		}
		if prefix == "" {
			rest = strings.TrimPrefix(full, "/")
		}
		if idx := strings.Index(rest, "/"); idx >= 0 {
			name := rest[:idx]
			if seen[name] {
				continue
			}
			seen[name] = true
			items = append(items, registry.Item{Path: joinPath(p, name), Name: name, IsDirectory: true})
			continue
		}
		size := int64(a.GetSize())
		mod := a.GetUpdatedAt().UnixMilli()
		items = append(items, registry.Item{
			Path: joinPath(p, rest), Name: rest, IsDirectory: false, Size: &size, Modified: &mod,
		})
	}
	return &registry.ListDirectoryResult{Path: p, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	a, err := d.findAsset(ctx, p)
	if err != nil {
		return nil, err
	}
	size := int64(a.GetSize())
	mod := a.GetUpdatedAt().UnixMilli()
	return &registry.FileInfoResult{Path: p, Name: baseName(p), Size: &size, Modified: &mod}, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	a, err := d.findAsset(ctx, p)
	if err != nil {
		return nil, err
	}
	size := int64(a.GetSize())
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size, ContentType: a.GetContentType()},
		Downloadable:     &releaseStream{client: d.client, owner: d.owner, repo: d.repo, assetID: a.GetID()},
	}, nil
}

type releaseStream struct {
	client  *github.Client
	owner   string
	repo    string
	assetID int64
}

func (s *releaseStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	rc, _, err := s.client.Repositories.DownloadReleaseAsset(ctx, s.owner, s.repo, s.assetID, http.DefaultClient)
	if err != nil {
		return nil, toDriverErr(err, "downloading asset %d", s.assetID)
	}
	return rc, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	// GitHub Releases has no native directory concept; every intermediate
	// segment is synthesized from asset names at list time.
	return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	rel, err := d.release(ctx)
	if err != nil {
		return nil, err
	}
	if existing, ferr := d.findAsset(ctx, p); ferr == nil {
		if _, err := d.client.Repositories.DeleteReleaseAsset(ctx, d.owner, d.repo, existing.GetID()); err != nil {
			return nil, toDriverErr(err, "replacing existing asset for %s", p)
		}
	}
	rc, ok := content.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(content)
	}
	_, _, err = d.client.Repositories.UploadReleaseAsset(ctx, d.owner, d.repo, rel.GetID(), &github.UploadOptions{
		Name: encodeAssetName(p),
	}, &namedReader{ReadCloser: rc, name: encodeAssetName(p)})
	if err != nil {
		return nil, toDriverErr(err, "uploading %s", p)
	}
	return &registry.UploadResult{Success: true, StoragePath: p}, nil
}

// namedReader satisfies the *os.File-shaped parameter go-github's
// UploadReleaseAsset expects (it only actually calls Read and Name).
type namedReader struct {
	io.ReadCloser
	name string
}

func (n *namedReader) Name() string { return n.name }

func (d *Driver) UpdateFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	res, err := d.UploadFile(ctx, p, content, size)
	if err != nil {
		return nil, err
	}
	return &registry.UpdateResult{Success: res.Success, Path: p}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	a, err := d.findAsset(ctx, source)
	if err != nil {
		return nil, err
	}
	newName := encodeAssetName(target)
	_, _, err = d.client.Repositories.EditReleaseAsset(ctx, d.owner, d.repo, a.GetID(), &github.ReleaseAsset{Name: &newName})
	if err != nil {
		return nil, toDriverErr(err, "renaming %s to %s", source, target)
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	a, err := d.findAsset(ctx, source)
	if err != nil {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	rc, _, err := d.client.Repositories.DownloadReleaseAsset(ctx, d.owner, d.repo, a.GetID(), http.DefaultClient)
	if err != nil {
		return nil, toDriverErr(err, "reading %s for copy", source)
	}
	defer rc.Close()
	if _, err := d.UploadFile(ctx, target, rc, int64(a.GetSize())); err != nil {
		return nil, err
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		a, err := d.findAsset(ctx, p)
		if err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		if _, err := d.client.Repositories.DeleteReleaseAsset(ctx, d.owner, d.repo, a.GetID()); err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success++
	}
	return res, nil
}

// GenerateDownloadURL implements registry.DirectLinker via the asset's
// browser_download_url (public only for public repositories).
func (d *Driver) GenerateDownloadURL(ctx context.Context, p string) (*registry.DownloadURLResult, error) {
	a, err := d.findAsset(ctx, p)
	if err != nil {
		return nil, err
	}
	return &registry.DownloadURLResult{URL: a.GetBrowserDownloadURL(), Type: registry.URLNativeDirect}, nil
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("githubreleases: Test called with a non-githubreleases driver")
	}
	_, err := d.release(ctx)
	checks := []registry.TestCheck{{Name: "release exists or can be created", Passed: err == nil, Detail: errDetail(err)}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeGithubRel, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func toDriverErr(err error, format string, a ...interface{}) error {
	return ferrors.DriverError(502, err, format, a...)
}

func baseName(p string) string {
	idx := strings.LastIndex(strings.TrimRight(p, "/"), "/")
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
