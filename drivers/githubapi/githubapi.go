// Package githubapi is the GitHub repository-contents storage driver
// (§5): every path is a file committed straight into one branch of a
// repository via the Contents API, grounded on github.com/google/go-github
// like its githubreleases sibling.
package githubapi

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
		StorageType: store.TypeGithubAPI,
		DisplayName: "GitHub Repository Contents",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapProxy,
		},
		ConfigSchema: []registry.Option{
			{Name: "owner", Type: registry.OptionString, Required: true},
			{Name: "repo", Type: registry.OptionString, Required: true},
			{Name: "branch", Type: registry.OptionString, DefaultValue: "main"},
			{Name: "commit_author", Type: registry.OptionString, DefaultValue: "filehaven-bot"},
			{Name: "token", Type: registry.OptionSecret, Required: true},
		},
	})
}

type config struct {
	Owner        string `json:"owner"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	CommitAuthor string `json:"commit_author"`
}

type secret struct {
	Token string `json:"token"`
}

// Driver is a Reader+Writer over one repository's file tree.
type Driver struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	author string
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("githubapi: invalid config_json: %v", err)
		}
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, ferrors.ValidationError("githubapi: owner and repo are required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.CommitAuthor == "" {
		cfg.CommitAuthor = "filehaven-bot"
	}
	var sec secret
	if err := json.Unmarshal(rawSecret, &sec); err != nil {
		return nil, ferrors.ValidationError("githubapi: invalid secret blob: %v", err)
	}
	if sec.Token == "" {
		return nil, ferrors.ValidationError("githubapi: token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: sec.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))

	return &Driver{client: client, owner: cfg.Owner, repo: cfg.Repo, branch: cfg.Branch, author: cfg.CommitAuthor}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeGithubAPI }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapProxy}
}

// GenerateProxyURL mints a signed token authorizing a later proxied
// download of p: the Contents API has no presigned-URL concept of its
// own, so this is the only way to hand out a time-limited link.
func (d *Driver) GenerateProxyURL(ctx context.Context, p string) (*registry.ProxyURLResult, error) {
	if _, err := d.GetFileInfo(ctx, p); err != nil {
		return nil, err
	}
	return registry.MintProxyURLResult(string(store.TypeGithubAPI), p)
}

func repoPath(p string) string { return strings.TrimPrefix(p, "/") }

func (d *Driver) opts() *github.RepositoryContentGetOptions {
	return &github.RepositoryContentGetOptions{Ref: d.branch}
}

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	_, dirContents, resp, err := d.client.Repositories.GetContents(ctx, d.owner, d.repo, repoPath(p), d.opts())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ferrors.NotFoundError("githubapi: %s not found", p)
		}
		return nil, toDriverErr(err, "listing %s", p)
	}
	var items []registry.Item
	for _, c := range dirContents {
		isDir := c.GetType() == "dir"
		item := registry.Item{Path: joinPath(p, c.GetName()), Name: c.GetName(), IsDirectory: isDir}
		if !isDir {
			size := int64(c.GetSize())
			item.Size = &size
		}
		items = append(items, item)
	}
	return &registry.ListDirectoryResult{Path: p, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	file, _, resp, err := d.client.Repositories.GetContents(ctx, d.owner, d.repo, repoPath(p), d.opts())
	if err != nil || file == nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ferrors.NotFoundError("githubapi: %s not found", p)
		}
		return nil, toDriverErr(err, "stat %s", p)
	}
	size := int64(file.GetSize())
	return &registry.FileInfoResult{Path: p, Name: file.GetName(), Size: &size, ETag: file.GetSHA()}, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	file, _, resp, err := d.client.Repositories.GetContents(ctx, d.owner, d.repo, repoPath(p), d.opts())
	if err != nil || file == nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ferrors.NotFoundError("githubapi: %s not found", p)
		}
		return nil, toDriverErr(err, "downloading %s", p)
	}
	size := int64(file.GetSize())
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size, ETag: file.GetSHA()},
		Downloadable:     &contentsStream{driver: d, path: p},
	}, nil
}

type contentsStream struct {
	driver *Driver
	path   string
}

func (s *contentsStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	file, _, _, err := s.driver.client.Repositories.GetContents(ctx, s.driver.owner, s.driver.repo, repoPath(s.path), s.driver.opts())
	if err != nil || file == nil {
		return nil, toDriverErr(err, "downloading %s", s.path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, toDriverErr(err, "decoding %s", s.path)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	// git trees have no empty directories; this driver commits a .gitkeep
	// placeholder the same way most git-native tooling does.
	keepPath := strings.TrimSuffix(p, "/") + "/.gitkeep"
	if _, _, _, err := d.client.Repositories.GetContents(ctx, d.owner, d.repo, repoPath(keepPath), d.opts()); err == nil {
		return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
	}
	_, _, err := d.client.Repositories.CreateFile(ctx, d.owner, d.repo, repoPath(keepPath), &github.RepositoryContentFileOptions{
		Message: github.String("filehaven: create " + p),
		Content: []byte{},
		Branch:  github.String(d.branch),
	})
	if err != nil {
		return nil, toDriverErr(err, "creating directory %s", p)
	}
	return &registry.CreateDirectoryResult{Success: true, Path: p}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	_, _, err = d.client.Repositories.CreateFile(ctx, d.owner, d.repo, repoPath(p), &github.RepositoryContentFileOptions{
		Message: github.String("filehaven: upload " + p),
		Content: data,
		Branch:  github.String(d.branch),
	})
	if err != nil {
		return nil, toDriverErr(err, "uploading %s", p)
	}
	return &registry.UploadResult{Success: true, StoragePath: p}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	existing, _, _, err := d.client.Repositories.GetContents(ctx, d.owner, d.repo, repoPath(p), d.opts())
	if err != nil || existing == nil {
		return nil, toDriverErr(err, "locating %s to update", p)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	_, _, err = d.client.Repositories.UpdateFile(ctx, d.owner, d.repo, repoPath(p), &github.RepositoryContentFileOptions{
		Message: github.String("filehaven: update " + p),
		Content: data,
		SHA:     existing.SHA,
		Branch:  github.String(d.branch),
	})
	if err != nil {
		return nil, toDriverErr(err, "updating %s", p)
	}
	return &registry.UpdateResult{Success: true, Path: p}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	stream, err := d.DownloadFile(ctx, source)
	if err != nil {
		return nil, err
	}
	rc, err := stream.GetStream(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if _, err := d.UploadFile(ctx, target, rc, 0); err != nil {
		return nil, err
	}
	if _, err := d.BatchRemoveItems(ctx, []string{source}); err != nil {
		return nil, err
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	stream, err := d.DownloadFile(ctx, source)
	if err != nil {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	rc, err := stream.GetStream(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	if _, err := d.UploadFile(ctx, target, rc, 0); err != nil {
		return nil, err
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		file, _, _, err := d.client.Repositories.GetContents(ctx, d.owner, d.repo, repoPath(p), d.opts())
		if err != nil || file == nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: "not found"})
			continue
		}
		_, _, err = d.client.Repositories.DeleteFile(ctx, d.owner, d.repo, repoPath(p), &github.RepositoryContentFileOptions{
			Message: github.String("filehaven: remove " + p),
			SHA:     file.SHA,
			Branch:  github.String(d.branch),
		})
		if err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
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
		return nil, ferrors.ValidationError("githubapi: Test called with a non-githubapi driver")
	}
	_, _, err := d.client.Repositories.Get(ctx, d.owner, d.repo)
	checks := []registry.TestCheck{{Name: "repository is reachable", Passed: err == nil, Detail: errDetail(err)}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeGithubAPI, Checks: checks,
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

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}
