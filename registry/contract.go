package registry

import (
	"context"
	"io"

	"github.com/filehaven/engine/store"
)

// Driver is the base contract every registered backend must satisfy
// regardless of capability (§4.1 "Base contract on every driver").
type Driver interface {
	GetType() store.StorageType
	GetCapabilities() []store.Capability
}

// Initializer is implemented by drivers with async setup to perform
// before first use (connection probes, token refresh, etc). Optional:
// CreateDriver calls it when present.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Reader is the READER capability's required method set.
type Reader interface {
	ListDirectory(ctx context.Context, path string) (*ListDirectoryResult, error)
	GetFileInfo(ctx context.Context, path string) (*FileInfoResult, error)
	DownloadFile(ctx context.Context, path string) (*DownloadResult, error)
}

// Writer is the WRITER capability's required method set.
type Writer interface {
	UploadFile(ctx context.Context, path string, content io.Reader, size int64) (*UploadResult, error)
	UpdateFile(ctx context.Context, path string, content io.Reader, size int64) (*UpdateResult, error)
	CreateDirectory(ctx context.Context, path string) (*CreateDirectoryResult, error)
	RenameItem(ctx context.Context, source, target string) (*RenameResult, error)
	CopyItem(ctx context.Context, source, target string) (*CopyResult, error)
	BatchRemoveItems(ctx context.Context, paths []string) (*BatchRemoveResult, error)
}

// DirectLinker is the DIRECT_LINK capability's required method set.
type DirectLinker interface {
	GenerateDownloadURL(ctx context.Context, path string) (*DownloadURLResult, error)
}

// Proxyer is the PROXY capability's required method set.
type Proxyer interface {
	GenerateProxyURL(ctx context.Context, path string) (*ProxyURLResult, error)
}

// UploadURLGenerator is an ancillary direct-upload capability some
// writers additionally expose. Not its own capability flag; a driver that
// implements it is reached through Enforcer.GenerateUploadURL, which checks
// for it by interface assertion on each call.
type UploadURLGenerator interface {
	GenerateUploadURL(ctx context.Context, path string, contentType string) (*UploadURLResult, error)
}

// Multiparter is the MULTIPART capability's required method set.
type Multiparter interface {
	InitializeFrontendMultipartUpload(ctx context.Context, path string, size int64) (*MultipartInitResult, error)
	SignMultipartParts(ctx context.Context, uploadID string, partNumbers []int) (*MultipartSignResult, error)
	ListMultipartUploads(ctx context.Context) ([]MultipartUploadSummary, error)
	ListMultipartParts(ctx context.Context, uploadID string) ([]MultipartPartSummary, error)
	CompleteFrontendMultipartUpload(ctx context.Context, uploadID string, parts []MultipartPartSummary) (*CompleteMultipartResult, error)
	AbortFrontendMultipartUpload(ctx context.Context, uploadID string) error
	ProxyFrontendMultipartChunk(ctx context.Context, uploadID string, partNumber int, chunk io.Reader) error
}

// requiredMethods documents, for each capability, the contract method set
// CreateDriver checks for via interface assertion (§4.1 table). It exists
// for diagnostics, not dispatch: dispatch uses the typed interfaces above
// directly.
var requiredMethods = map[store.Capability][]string{
	store.CapWriter:     {"UploadFile", "UpdateFile", "CreateDirectory", "RenameItem", "CopyItem", "BatchRemoveItems"},
	store.CapReader:     {"ListDirectory", "GetFileInfo", "DownloadFile"},
	store.CapDirectLink: {"GenerateDownloadURL"},
	store.CapProxy:      {"GenerateProxyURL"},
	store.CapMultipart: {
		"InitializeFrontendMultipartUpload", "SignMultipartParts", "ListMultipartUploads",
		"ListMultipartParts", "CompleteFrontendMultipartUpload", "AbortFrontendMultipartUpload",
		"ProxyFrontendMultipartChunk",
	},
}

// satisfiesCapability reports whether drv implements the Go interface
// corresponding to cap. CapAtomic and CapPagedList carry no extra method
// requirement of their own — they modify the behavior of Writer/Reader
// methods the driver already implements — so they are always considered
// satisfied at this layer.
func satisfiesCapability(drv Driver, cap store.Capability) bool {
	switch cap {
	case store.CapReader:
		_, ok := drv.(Reader)
		return ok
	case store.CapWriter:
		_, ok := drv.(Writer)
		return ok
	case store.CapDirectLink:
		_, ok := drv.(DirectLinker)
		return ok
	case store.CapProxy:
		_, ok := drv.(Proxyer)
		return ok
	case store.CapMultipart:
		_, ok := drv.(Multiparter)
		return ok
	case store.CapAtomic, store.CapPagedList:
		return true
	default:
		return false
	}
}
