package registry

import (
	"context"
	"io"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/store"
)

// Enforcer is the transparent wrapper §4.1 describes: every call the rest
// of the engine makes against a driver goes through here, which checks
// pre-call path coherence and post-call result shape before handing the
// result back. Unlike the JS original's Proxy-based interception, Go has
// no dynamic method trap; the Enforcer instead exposes one typed method
// per contract operation and type-asserts the wrapped driver against the
// matching optional interface, which collapses the "both positional
// subPath and options.subPath must agree" check down to "path must be
// non-empty" since every method here already takes a single canonical
// path parameter rather than a positional value plus an options bag.
type Enforcer struct {
	driver       Driver
	storageType  store.StorageType
	capabilities []store.Capability
}

func (e *Enforcer) StorageType() store.StorageType   { return e.storageType }
func (e *Enforcer) Capabilities() []store.Capability { return e.capabilities }

func (e *Enforcer) HasCapability(c store.Capability) bool {
	for _, got := range e.capabilities {
		if got == c {
			return true
		}
	}
	return false
}

func requirePath(path string) error {
	if path == "" {
		return ferrors.ValidationError("path must be a non-empty string")
	}
	return nil
}

func contractErr(storageType store.StorageType, method string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["method"] = method
	return ferrors.DriverContractError(details, "driver %s returned a malformed %s result", storageType, method)
}

func (e *Enforcer) reader() (Reader, error) {
	r, ok := e.driver.(Reader)
	if !ok {
		return nil, contractErr(e.storageType, "Reader", nil)
	}
	return r, nil
}

func (e *Enforcer) writer() (Writer, error) {
	w, ok := e.driver.(Writer)
	if !ok {
		return nil, contractErr(e.storageType, "Writer", nil)
	}
	return w, nil
}

// ListDirectory enforces path coherence and the §4.1 listDirectory shape.
func (e *Enforcer) ListDirectory(ctx context.Context, path string) (*ListDirectoryResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	r, err := e.reader()
	if err != nil {
		return nil, err
	}
	res, err := r.ListDirectory(ctx, path)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Path != path || res.Type != "directory" {
		return nil, contractErr(e.storageType, "listDirectory", map[string]interface{}{"expectedPath": path})
	}
	return res, nil
}

// GetFileInfo enforces the §4.1 getFileInfo shape.
func (e *Enforcer) GetFileInfo(ctx context.Context, path string) (*FileInfoResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	r, err := e.reader()
	if err != nil {
		return nil, err
	}
	res, err := r.GetFileInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Path != path {
		return nil, contractErr(e.storageType, "getFileInfo", map[string]interface{}{"expectedPath": path})
	}
	return res, nil
}

// DownloadFile hands back the driver's stream descriptor unvalidated
// beyond path presence: the body of the enforcement (conditional/range
// evaluation) lives in package stream, which consumes this result.
func (e *Enforcer) DownloadFile(ctx context.Context, path string) (*DownloadResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	r, err := e.reader()
	if err != nil {
		return nil, err
	}
	res, err := r.DownloadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Downloadable == nil {
		return nil, contractErr(e.storageType, "downloadFile", nil)
	}
	return res, nil
}

// CreateDirectory enforces the §4.1 createDirectory shape.
func (e *Enforcer) CreateDirectory(ctx context.Context, path string) (*CreateDirectoryResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	res, err := w.CreateDirectory(ctx, path)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Path != path {
		return nil, contractErr(e.storageType, "createDirectory", map[string]interface{}{"expectedPath": path})
	}
	return res, nil
}

// UploadFile enforces the §4.1 uploadFile shape.
func (e *Enforcer) UploadFile(ctx context.Context, path string, content io.Reader, size int64) (*UploadResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	res, err := w.UploadFile(ctx, path, content, size)
	if err != nil {
		return nil, err
	}
	if res == nil || res.StoragePath == "" {
		return nil, contractErr(e.storageType, "uploadFile", nil)
	}
	return res, nil
}

// UpdateFile enforces the §4.1 updateFile shape.
func (e *Enforcer) UpdateFile(ctx context.Context, path string, content io.Reader, size int64) (*UpdateResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	res, err := w.UpdateFile(ctx, path, content, size)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Path != path {
		return nil, contractErr(e.storageType, "updateFile", map[string]interface{}{"expectedPath": path})
	}
	return res, nil
}

// RenameItem checks the (source,target) pair independently, per §4.1.
func (e *Enforcer) RenameItem(ctx context.Context, source, target string) (*RenameResult, error) {
	if err := requirePath(source); err != nil {
		return nil, err
	}
	if err := requirePath(target); err != nil {
		return nil, err
	}
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	res, err := w.RenameItem(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Source != source || res.Target != target {
		return nil, contractErr(e.storageType, "renameItem", map[string]interface{}{"expectedSource": source, "expectedTarget": target})
	}
	return res, nil
}

// CopyItem enforces the §4.1 copyItem shape, including the skipped/status
// coupling rule.
func (e *Enforcer) CopyItem(ctx context.Context, source, target string) (*CopyResult, error) {
	if err := requirePath(source); err != nil {
		return nil, err
	}
	if err := requirePath(target); err != nil {
		return nil, err
	}
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	res, err := w.CopyItem(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Source != source || res.Target != target {
		return nil, contractErr(e.storageType, "copyItem", map[string]interface{}{"expectedSource": source, "expectedTarget": target})
	}
	switch res.Status {
	case CopySuccess, CopyFailed:
		// nothing further required
	case CopySkipped:
		if !res.Skipped || res.Reason == "" {
			return nil, contractErr(e.storageType, "copyItem", map[string]interface{}{"reason": "skipped status requires skipped=true and a reason"})
		}
	default:
		return nil, contractErr(e.storageType, "copyItem", map[string]interface{}{"status": res.Status})
	}
	return res, nil
}

// BatchRemoveItems enforces the §4.1 batchRemoveItems shape.
func (e *Enforcer) BatchRemoveItems(ctx context.Context, paths []string) (*BatchRemoveResult, error) {
	if len(paths) == 0 {
		return nil, ferrors.ValidationError("paths must be non-empty")
	}
	w, err := e.writer()
	if err != nil {
		return nil, err
	}
	res, err := w.BatchRemoveItems(ctx, paths)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Success < 0 {
		return nil, contractErr(e.storageType, "batchRemoveItems", nil)
	}
	return res, nil
}

// GenerateDownloadURL enforces the §4.1 generateDownloadUrl shape.
func (e *Enforcer) GenerateDownloadURL(ctx context.Context, path string) (*DownloadURLResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	d, ok := e.driver.(DirectLinker)
	if !ok {
		return nil, contractErr(e.storageType, "DirectLinker", nil)
	}
	res, err := d.GenerateDownloadURL(ctx, path)
	if err != nil {
		return nil, err
	}
	if res == nil || res.URL == "" || (res.Type != URLCustomHost && res.Type != URLNativeDirect) {
		return nil, contractErr(e.storageType, "generateDownloadUrl", nil)
	}
	return res, nil
}

// GenerateProxyURL enforces the §4.1 generateProxyUrl shape.
func (e *Enforcer) GenerateProxyURL(ctx context.Context, path string) (*ProxyURLResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	p, ok := e.driver.(Proxyer)
	if !ok {
		return nil, contractErr(e.storageType, "Proxyer", nil)
	}
	res, err := p.GenerateProxyURL(ctx, path)
	if err != nil {
		return nil, err
	}
	if res == nil || res.URL == "" || res.Type != "proxy" {
		return nil, contractErr(e.storageType, "generateProxyUrl", nil)
	}
	return res, nil
}

// GenerateUploadURL enforces the §4.1 generateUploadUrl shape, including
// the "uploadUrl empty iff skipUpload" rule.
func (e *Enforcer) GenerateUploadURL(ctx context.Context, path, contentType string) (*UploadURLResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	g, ok := e.driver.(UploadURLGenerator)
	if !ok {
		return nil, contractErr(e.storageType, "UploadURLGenerator", nil)
	}
	res, err := g.GenerateUploadURL(ctx, path, contentType)
	if err != nil {
		return nil, err
	}
	if res == nil || res.StoragePath == "" {
		return nil, contractErr(e.storageType, "generateUploadUrl", nil)
	}
	if res.UploadURL == "" && !res.SkipUpload {
		return nil, contractErr(e.storageType, "generateUploadUrl", map[string]interface{}{"reason": "uploadUrl empty but skipUpload is false"})
	}
	return res, nil
}

func (e *Enforcer) multiparter() (Multiparter, error) {
	m, ok := e.driver.(Multiparter)
	if !ok {
		return nil, contractErr(e.storageType, "Multiparter", nil)
	}
	return m, nil
}

// InitializeFrontendMultipartUpload enforces the multipart-init shape,
// including the per-strategy required fields.
func (e *Enforcer) InitializeFrontendMultipartUpload(ctx context.Context, path string, size int64) (*MultipartInitResult, error) {
	if err := requirePath(path); err != nil {
		return nil, err
	}
	m, err := e.multiparter()
	if err != nil {
		return nil, err
	}
	res, err := m.InitializeFrontendMultipartUpload(ctx, path, size)
	if err != nil {
		return nil, err
	}
	if err := validateMultipartStrategy(e.storageType, "initializeFrontendMultipartUpload", res); err != nil {
		return nil, err
	}
	return res, nil
}

func validateMultipartStrategy(st store.StorageType, method string, res *MultipartInitResult) error {
	if res == nil || !res.Success || res.UploadID == "" {
		return contractErr(st, method, nil)
	}
	switch res.Strategy {
	case StrategyPerPartURL:
		if len(res.PartURLs) == 0 {
			return contractErr(st, method, map[string]interface{}{"reason": "per_part_url strategy requires partUrls"})
		}
	case StrategySingleSession:
		if len(res.SessionMeta) == 0 {
			return contractErr(st, method, map[string]interface{}{"reason": "single_session strategy requires sessionMeta"})
		}
	default:
		return contractErr(st, method, map[string]interface{}{"strategy": res.Strategy})
	}
	return nil
}

// SignMultipartParts enforces the multipart-sign shape.
func (e *Enforcer) SignMultipartParts(ctx context.Context, uploadID string, partNumbers []int) (*MultipartSignResult, error) {
	if uploadID == "" {
		return nil, ferrors.ValidationError("uploadId must be non-empty")
	}
	m, err := e.multiparter()
	if err != nil {
		return nil, err
	}
	res, err := m.SignMultipartParts(ctx, uploadID, partNumbers)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Success || res.UploadID != uploadID {
		return nil, contractErr(e.storageType, "signMultipartParts", nil)
	}
	if res.Strategy == StrategyPerPartURL && len(res.PartURLs) == 0 {
		return nil, contractErr(e.storageType, "signMultipartParts", map[string]interface{}{"reason": "per_part_url strategy requires partUrls"})
	}
	return res, nil
}

func (e *Enforcer) ListMultipartUploads(ctx context.Context) ([]MultipartUploadSummary, error) {
	m, err := e.multiparter()
	if err != nil {
		return nil, err
	}
	return m.ListMultipartUploads(ctx)
}

func (e *Enforcer) ListMultipartParts(ctx context.Context, uploadID string) ([]MultipartPartSummary, error) {
	if uploadID == "" {
		return nil, ferrors.ValidationError("uploadId must be non-empty")
	}
	m, err := e.multiparter()
	if err != nil {
		return nil, err
	}
	return m.ListMultipartParts(ctx, uploadID)
}

func (e *Enforcer) CompleteFrontendMultipartUpload(ctx context.Context, uploadID string, parts []MultipartPartSummary) (*CompleteMultipartResult, error) {
	if uploadID == "" {
		return nil, ferrors.ValidationError("uploadId must be non-empty")
	}
	m, err := e.multiparter()
	if err != nil {
		return nil, err
	}
	res, err := m.CompleteFrontendMultipartUpload(ctx, uploadID, parts)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Success || res.StoragePath == "" {
		return nil, contractErr(e.storageType, "completeFrontendMultipartUpload", nil)
	}
	return res, nil
}

func (e *Enforcer) AbortFrontendMultipartUpload(ctx context.Context, uploadID string) error {
	if uploadID == "" {
		return ferrors.ValidationError("uploadId must be non-empty")
	}
	m, err := e.multiparter()
	if err != nil {
		return err
	}
	return m.AbortFrontendMultipartUpload(ctx, uploadID)
}

func (e *Enforcer) ProxyFrontendMultipartChunk(ctx context.Context, uploadID string, partNumber int, chunk io.Reader) error {
	if uploadID == "" {
		return ferrors.ValidationError("uploadId must be non-empty")
	}
	m, err := e.multiparter()
	if err != nil {
		return err
	}
	return m.ProxyFrontendMultipartChunk(ctx, uploadID, partNumber, chunk)
}
