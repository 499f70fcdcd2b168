// Package googledrive is the Google Drive storage driver (§5), built on
// google.golang.org/api/drive/v3 and golang.org/x/oauth2 the way the
// teacher already depends on google.golang.org/api for its GCP cloud
// backend tier.
package googledrive

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeGoogleDrive,
		DisplayName: "Google Drive",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapDirectLink,
		},
		ConfigSchema: []registry.Option{
			{Name: "root_folder_id", Type: registry.OptionString},
			{Name: "refresh_token", Type: registry.OptionSecret, Required: true},
			{Name: "client_id", Type: registry.OptionSecret, Required: true},
			{Name: "client_secret", Type: registry.OptionSecret, Required: true},
		},
	})
}

type config struct {
	RootFolderID string `json:"root_folder_id"`
}

type secret struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Driver is a Reader+Writer+DirectLinker backed by one Drive account,
// addressing items by a "/"-separated path resolved folder-by-folder
// against the Drive API's flat parent/child graph.
type Driver struct {
	svc      *drive.Service
	rootID   string
	dirCache map[string]string
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("googledrive: invalid config_json: %v", err)
		}
	}
	var sec secret
	if err := json.Unmarshal(rawSecret, &sec); err != nil {
		return nil, ferrors.ValidationError("googledrive: invalid secret blob: %v", err)
	}
	if sec.RefreshToken == "" || sec.ClientID == "" || sec.ClientSecret == "" {
		return nil, ferrors.ValidationError("googledrive: refresh_token, client_id and client_secret are required")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     sec.ClientID,
		ClientSecret: sec.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{drive.DriveScope},
	}
	ts := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: sec.RefreshToken})

	svc, err := drive.NewService(context.Background(), option.WithTokenSource(ts))
	if err != nil {
		return nil, ferrors.DriverError(500, err, "googledrive: building drive service")
	}

	root := cfg.RootFolderID
	if root == "" {
		root = "root"
	}
	return &Driver{svc: svc, rootID: root, dirCache: map[string]string{"/": root}}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeGoogleDrive }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapDirectLink}
}

// resolveDir walks p component by component, caching each folder's Drive
// file ID so repeated operations under the same directory avoid re-listing.
func (d *Driver) resolveDir(ctx context.Context, p string) (string, error) {
	p = normalize(p)
	if id, ok := d.dirCache[p]; ok {
		return id, nil
	}
	parentID, err := d.resolveDir(ctx, parentOf(p))
	if err != nil {
		return "", err
	}
	name := baseName(p)
	id, err := d.findChild(ctx, parentID, name, true)
	if err != nil {
		return "", err
	}
	d.dirCache[p] = id
	return id, nil
}

func (d *Driver) findChild(ctx context.Context, parentID, name string, dirOnly bool) (string, error) {
	q := "'" + parentID + "' in parents and name = '" + escapeQuery(name) + "' and trashed = false"
	if dirOnly {
		q += " and mimeType = 'application/vnd.google-apps.folder'"
	}
	res, err := d.svc.Files.List().Q(q).Fields("files(id,name,mimeType,size,modifiedTime,md5Checksum)").
		Context(ctx).Do()
	if err != nil {
		return "", toDriverErr(err, "listing children of %s", parentID)
	}
	if len(res.Files) == 0 {
		return "", ferrors.NotFoundError("googledrive: %q not found", name)
	}
	return res.Files[0].Id, nil
}

func (d *Driver) findFile(ctx context.Context, p string) (*drive.File, error) {
	p = normalize(p)
	parentID, err := d.resolveDir(ctx, parentOf(p))
	if err != nil {
		return nil, err
	}
	name := baseName(p)
	q := "'" + parentID + "' in parents and name = '" + escapeQuery(name) + "' and trashed = false"
	res, err := d.svc.Files.List().Q(q).Fields("files(id,name,mimeType,size,modifiedTime,md5Checksum)").
		Context(ctx).Do()
	if err != nil {
		return nil, toDriverErr(err, "finding %s", p)
	}
	if len(res.Files) == 0 {
		return nil, ferrors.NotFoundError("googledrive: %q not found", p)
	}
	return res.Files[0], nil
}

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	dirID, err := d.resolveDir(ctx, p)
	if err != nil {
		return nil, err
	}
	var items []registry.Item
	call := d.svc.Files.List().Q("'" + dirID + "' in parents and trashed = false").
		Fields("files(id,name,mimeType,size,modifiedTime)").Context(ctx)
	if err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			isDir := f.MimeType == "application/vnd.google-apps.folder"
			item := registry.Item{Path: joinPath(p, f.Name), Name: f.Name, IsDirectory: isDir}
			if !isDir {
				item.Size = &f.Size
				if mod, ok := parseRFC3339(f.ModifiedTime); ok {
					ms := mod.UnixMilli()
					item.Modified = &ms
				}
			}
			items = append(items, item)
		}
		return nil
	}); err != nil {
		return nil, toDriverErr(err, "listing %s", p)
	}
	return &registry.ListDirectoryResult{Path: p, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	f, err := d.findFile(ctx, p)
	if err != nil {
		return nil, err
	}
	size := f.Size
	res := &registry.FileInfoResult{
		Path: p, Name: f.Name,
		IsDirectory: f.MimeType == "application/vnd.google-apps.folder",
		Size:        &size, ETag: f.Md5Checksum,
	}
	if mod, ok := parseRFC3339(f.ModifiedTime); ok {
		ms := mod.UnixMilli()
		res.Modified = &ms
	}
	return res, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	f, err := d.findFile(ctx, p)
	if err != nil {
		return nil, err
	}
	size := f.Size
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size, ETag: f.Md5Checksum, ContentType: f.MimeType},
		Downloadable:     &driveStream{svc: d.svc, fileID: f.Id},
	}, nil
}

type driveStream struct {
	svc    *drive.Service
	fileID string
}

func (s *driveStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.svc.Files.Get(s.fileID).Context(ctx).Download()
	if err != nil {
		return nil, toDriverErr(err, "downloading file %s", s.fileID)
	}
	return resp.Body, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	p = normalize(p)
	if _, err := d.resolveDir(ctx, p); err == nil {
		return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
	}
	parentID, err := d.resolveDir(ctx, parentOf(p))
	if err != nil {
		return nil, err
	}
	f, err := d.svc.Files.Create(&drive.File{
		Name: baseName(p), MimeType: "application/vnd.google-apps.folder",
		Parents: []string{parentID},
	}).Context(ctx).Do()
	if err != nil {
		return nil, toDriverErr(err, "creating directory %s", p)
	}
	d.dirCache[p] = f.Id
	return &registry.CreateDirectoryResult{Success: true, Path: p}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	p = normalize(p)
	parentID, err := d.resolveDir(ctx, parentOf(p))
	if err != nil {
		return nil, err
	}
	_, err = d.svc.Files.Create(&drive.File{Name: baseName(p), Parents: []string{parentID}}).
		Media(content).Context(ctx).Do()
	if err != nil {
		return nil, toDriverErr(err, "uploading %s", p)
	}
	return &registry.UploadResult{Success: true, StoragePath: p}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	f, err := d.findFile(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, err := d.svc.Files.Update(f.Id, &drive.File{}).Media(content).Context(ctx).Do(); err != nil {
		return nil, toDriverErr(err, "updating %s", p)
	}
	return &registry.UpdateResult{Success: true, Path: p}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	f, err := d.findFile(ctx, source)
	if err != nil {
		return nil, err
	}
	target = normalize(target)
	newParentID, err := d.resolveDir(ctx, parentOf(target))
	if err != nil {
		return nil, err
	}
	oldParentID, err := d.resolveDir(ctx, parentOf(normalize(source)))
	if err != nil {
		return nil, err
	}
	_, err = d.svc.Files.Update(f.Id, &drive.File{Name: baseName(target)}).
		AddParents(newParentID).RemoveParents(oldParentID).Context(ctx).Do()
	if err != nil {
		return nil, toDriverErr(err, "renaming %s to %s", source, target)
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	f, err := d.findFile(ctx, source)
	if err != nil {
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	target = normalize(target)
	parentID, err := d.resolveDir(ctx, parentOf(target))
	if err != nil {
		return nil, err
	}
	_, err = d.svc.Files.Copy(f.Id, &drive.File{Name: baseName(target), Parents: []string{parentID}}).Context(ctx).Do()
	if err != nil {
		return nil, toDriverErr(err, "copying %s to %s", source, target)
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		f, err := d.findFile(ctx, p)
		if err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		if err := d.svc.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: err.Error()})
			continue
		}
		res.Success++
	}
	return res, nil
}

// GenerateDownloadURL implements registry.DirectLinker via Drive's
// webContentLink, valid as long as the file stays shared appropriately.
func (d *Driver) GenerateDownloadURL(ctx context.Context, p string) (*registry.DownloadURLResult, error) {
	f, err := d.svc.Files.Get(mustFileID(ctx, d, p)).Fields("webContentLink").Context(ctx).Do()
	if err != nil {
		return nil, toDriverErr(err, "fetching download link for %s", p)
	}
	if f.WebContentLink == "" {
		return nil, ferrors.ValidationError("googledrive: no direct link available for %s", p)
	}
	return &registry.DownloadURLResult{URL: f.WebContentLink, Type: registry.URLNativeDirect}, nil
}

func mustFileID(ctx context.Context, d *Driver, p string) string {
	f, err := d.findFile(ctx, p)
	if err != nil {
		return ""
	}
	return f.Id
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("googledrive: Test called with a non-googledrive driver")
	}
	_, err := d.svc.About.Get().Fields("user").Context(ctx).Do()
	checks := []registry.TestCheck{{Name: "token exchanges for an account identity", Passed: err == nil, Detail: errDetail(err)}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeGoogleDrive, Checks: checks,
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

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func parentOf(p string) string {
	p = normalize(p)
	if p == "/" {
		return "/"
	}
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
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
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
