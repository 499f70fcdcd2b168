// Package s3 is the AWS S3 (and S3-compatible) storage driver (§5),
// grounded on aws-sdk-go's session/service/s3 and s3manager idiom the
// teacher already depends on for its cloud backend tier.
package s3

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeS3,
		DisplayName: "Amazon S3",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapDirectLink, store.CapPagedList,
		},
		ConfigSchema: []registry.Option{
			{Name: "bucket", Type: registry.OptionString, Required: true},
			{Name: "region", Type: registry.OptionString, DefaultValue: "us-east-1"},
			{Name: "endpoint", Type: registry.OptionString, Rule: registry.RuleURL},
			{Name: "force_path_style", Type: registry.OptionBool, DefaultValue: false},
			{Name: "prefix", Type: registry.OptionString},
			{Name: "access_key_id", Type: registry.OptionSecret},
			{Name: "secret_access_key", Type: registry.OptionSecret},
		},
	})
}

type config struct {
	Bucket         string `json:"bucket"`
	Region         string `json:"region"`
	Endpoint       string `json:"endpoint"`
	ForcePathStyle bool   `json:"force_path_style"`
	Prefix         string `json:"prefix"`
}

type secret struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

// Driver is a Reader+Writer+DirectLinker over one S3 bucket/prefix.
type Driver struct {
	cfg    config
	bucket string
	prefix string
	svc    *s3.S3
	up     *s3manager.Uploader
	down   *s3manager.Downloader
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("s3: invalid config_json: %v", err)
		}
	}
	if cfg.Bucket == "" {
		return nil, ferrors.ValidationError("s3: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var sec secret
	if len(rawSecret) > 0 {
		if err := json.Unmarshal(rawSecret, &sec); err != nil {
			return nil, ferrors.ValidationError("s3: invalid secret blob: %v", err)
		}
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Region).WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if sec.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(sec.AccessKeyID, sec.SecretAccessKey, sec.SessionToken))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, ferrors.DriverError(500, err, "s3: building session")
	}
	svc := s3.New(sess)

	return &Driver{
		cfg:    cfg,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		svc:    svc,
		up:     s3manager.NewUploaderWithClient(svc),
		down:   s3manager.NewDownloaderWithClient(svc),
	}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeS3 }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapDirectLink, store.CapPagedList}
}

// key maps a driver-visible path onto the underlying S3 object key,
// respecting the configured bucket prefix.
func (d *Driver) key(path string) string {
	trimmed := strings.TrimLeft(path, "/")
	if d.prefix == "" {
		return trimmed
	}
	return d.prefix + "/" + trimmed
}

func (d *Driver) ListDirectory(ctx context.Context, path string) (*registry.ListDirectoryResult, error) {
	prefix := d.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var items []registry.Item
	err := d.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.StringValue(cp.Prefix), prefix), "/")
			items = append(items, registry.Item{
				Path: joinPath(path, name), Name: name, IsDirectory: true,
			})
		}
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix {
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			size := aws.Int64Value(obj.Size)
			mod := obj.LastModified.UnixMilli()
			items = append(items, registry.Item{
				Path: joinPath(path, name), Name: name, IsDirectory: false,
				Size: &size, Modified: &mod,
			})
		}
		return true
	})
	if err != nil {
		return nil, toDriverErr(err, "listing %s", path)
	}
	return &registry.ListDirectoryResult{Path: path, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, path string) (*registry.FileInfoResult, error) {
	out, err := d.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket), Key: aws.String(d.key(path)),
	})
	if err != nil {
		return nil, toDriverErr(err, "stat %s", path)
	}
	size := aws.Int64Value(out.ContentLength)
	mod := out.LastModified.UnixMilli()
	return &registry.FileInfoResult{
		Path: path, Name: baseName(path), IsDirectory: false,
		Size: &size, Modified: &mod, ETag: strings.Trim(aws.StringValue(out.ETag), `"`),
	}, nil
}

func (d *Driver) DownloadFile(ctx context.Context, path string) (*registry.DownloadResult, error) {
	out, err := d.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket), Key: aws.String(d.key(path)),
	})
	if err != nil {
		return nil, toDriverErr(err, "stat %s", path)
	}
	size := aws.Int64Value(out.ContentLength)
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{
			Size:         &size,
			ETag:         strings.Trim(aws.StringValue(out.ETag), `"`),
			LastModified: aws.TimeValue(out.LastModified),
			ContentType:  aws.StringValue(out.ContentType),
		},
		Downloadable: &s3Stream{svc: d.svc, bucket: d.bucket, key: d.key(path)},
	}, nil
}

type s3Stream struct {
	svc    *s3.S3
	bucket string
	key    string
}

func (s *s3Stream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket), Key: aws.String(s.key),
	})
	if err != nil {
		return nil, toDriverErr(err, "opening %s", s.key)
	}
	return out.Body, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, path string) (*registry.CreateDirectoryResult, error) {
	key := d.key(path)
	if !strings.HasSuffix(key, "/") {
		key += "/"
	}
	_, err := d.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket), Key: aws.String(key), Body: strings.NewReader(""),
	})
	if err != nil {
		return nil, toDriverErr(err, "creating directory marker %s", path)
	}
	return &registry.CreateDirectoryResult{Success: true, Path: path}, nil
}

func (d *Driver) UploadFile(ctx context.Context, path string, content io.Reader, size int64) (*registry.UploadResult, error) {
	_, err := d.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(d.bucket), Key: aws.String(d.key(path)), Body: content,
	})
	if err != nil {
		return nil, toDriverErr(err, "uploading %s", path)
	}
	return &registry.UploadResult{Success: true, StoragePath: path}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, path string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	_, err := d.up.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(d.bucket), Key: aws.String(d.key(path)), Body: content,
	})
	if err != nil {
		return nil, toDriverErr(err, "updating %s", path)
	}
	return &registry.UpdateResult{Success: true, Path: path}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	if _, err := d.svc.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(d.bucket + "/" + d.key(source)),
		Key:        aws.String(d.key(target)),
	}); err != nil {
		return nil, toDriverErr(err, "renaming %s to %s", source, target)
	}
	if _, err := d.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket), Key: aws.String(d.key(source)),
	}); err != nil {
		return nil, toDriverErr(err, "removing rename source %s", source)
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	_, err := d.svc.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(d.bucket + "/" + d.key(source)),
		Key:        aws.String(d.key(target)),
	})
	if err != nil {
		if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
		}
		return nil, toDriverErr(err, "copying %s to %s", source, target)
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	objects := make([]*s3.ObjectIdentifier, len(paths))
	for i, p := range paths {
		objects[i] = &s3.ObjectIdentifier{Key: aws.String(d.key(p))}
	}
	out, err := d.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(d.bucket),
		Delete: &s3.Delete{Objects: objects},
	})
	if err != nil {
		return nil, toDriverErr(err, "batch removing %d objects", len(paths))
	}
	res := &registry.BatchRemoveResult{Success: len(out.Deleted)}
	for _, e := range out.Errors {
		res.Failed = append(res.Failed, registry.RemoveFailure{
			Path: aws.StringValue(e.Key), Error: aws.StringValue(e.Message),
		})
	}
	return res, nil
}

// GenerateDownloadURL implements registry.DirectLinker via a presigned GET.
func (d *Driver) GenerateDownloadURL(ctx context.Context, path string) (*registry.DownloadURLResult, error) {
	const ttl = 15 * time.Minute
	req, _ := d.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(d.bucket), Key: aws.String(d.key(path)),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return nil, toDriverErr(err, "presigning download for %s", path)
	}
	expiresIn := int64(ttl.Seconds())
	return &registry.DownloadURLResult{URL: url, Type: registry.URLNativeDirect, ExpiresIn: &expiresIn}, nil
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("s3: Test called with a non-s3 driver")
	}
	checks := []registry.TestCheck{}
	_, err := d.svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	checks = append(checks, registry.TestCheck{Name: "bucket is reachable", Passed: err == nil, Detail: errDetail(err)})
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeS3, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func baseName(path string) string {
	idx := strings.LastIndex(strings.TrimRight(path, "/"), "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func joinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

func toDriverErr(err error, format string, a ...interface{}) error {
	status := 500
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			status = http.StatusNotFound
		}
	}
	return ferrors.DriverError(status, err, format, a...)
}
