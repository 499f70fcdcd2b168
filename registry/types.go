// Package registry is the engine's driver registry and contract enforcer
// (§4.1): a process-wide map from storage_type to a registration record,
// and a decorator that verifies every driver call against its declared
// result shape before the caller ever sees it. It is grounded on the
// factory.Register/factory.Create idiom from the distribution storage
// driver family (see e.g. registry/storage/driver/{us3,obs,bos}) adapted
// to Go's optional-interface idiom instead of a single untyped
// map[string]interface{} parameter bag.
package registry

import (
	"context"
	"io"
	"time"

	"github.com/filehaven/engine/store"
)

// Item is one entry in a listDirectory result.
type Item struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
	Size        *int64 `json:"size,omitempty"`
	Modified    *int64 `json:"modified,omitempty"`
}

// ListDirectoryResult is the required shape of Reader.ListDirectory (§4.1 table).
type ListDirectoryResult struct {
	Path  string `json:"path"`
	Type  string `json:"type"` // always "directory"
	Items []Item `json:"items"`
}

// FileInfoResult is the required shape of Reader.GetFileInfo.
type FileInfoResult struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
	Size        *int64 `json:"size"`
	Modified    *int64 `json:"modified"`
	ETag        string `json:"etag,omitempty"`
}

// CreateDirectoryResult is the required shape of Writer.CreateDirectory.
type CreateDirectoryResult struct {
	Success       bool   `json:"success"`
	Path          string `json:"path"`
	AlreadyExists bool   `json:"alreadyExists,omitempty"`
}

// UploadResult is the required shape of Writer.UploadFile.
type UploadResult struct {
	Success     bool   `json:"success"`
	StoragePath string `json:"storagePath"`
	Message     string `json:"message,omitempty"`
}

// UpdateResult is the required shape of Writer.UpdateFile.
type UpdateResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Message string `json:"message,omitempty"`
}

// RenameResult is the required shape of Writer.RenameItem.
type RenameResult struct {
	Success bool   `json:"success"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Message string `json:"message,omitempty"`
}

// CopyStatus is the outcome of a single copyItem call.
type CopyStatus string

const (
	CopySuccess CopyStatus = "success"
	CopySkipped CopyStatus = "skipped"
	CopyFailed  CopyStatus = "failed"
)

// CopyResult is the required shape of Writer.CopyItem. When Status is
// CopySkipped, Skipped and Reason are required; Error/Success are
// forbidden fields under the spec and are therefore simply absent from
// this type.
type CopyResult struct {
	Status  CopyStatus `json:"status"`
	Source  string     `json:"source"`
	Target  string     `json:"target"`
	Message string     `json:"message,omitempty"`
	Skipped bool       `json:"skipped,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

// RemoveFailure is one entry of BatchRemoveResult.Failed.
type RemoveFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// BatchRemoveResult is the required shape of Writer.BatchRemoveItems.
type BatchRemoveResult struct {
	Success int             `json:"success"`
	Failed  []RemoveFailure `json:"failed"`
}

// Downloadable is the required shape of Reader.DownloadFile: an object
// whose GetStream method hands back a ReadCloser plus the descriptor the
// range streaming service needs (§4.2).
type Downloadable interface {
	GetStream(ctx context.Context) (io.ReadCloser, error)
}

// StreamDescriptor is the metadata side of a DownloadFile result.
type StreamDescriptor struct {
	Size         *int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// DownloadResult couples the descriptor with the lazy stream opener.
type DownloadResult struct {
	StreamDescriptor
	Downloadable
}

// DownloadURLType distinguishes a fully custom-hosted link from a native
// provider direct link.
type DownloadURLType string

const (
	URLCustomHost    DownloadURLType = "custom_host"
	URLNativeDirect  DownloadURLType = "native_direct"
)

// DownloadURLResult is the required shape of DirectLinker.GenerateDownloadURL.
type DownloadURLResult struct {
	URL       string          `json:"url"`
	Type      DownloadURLType `json:"type"`
	ExpiresIn *int64          `json:"expiresIn,omitempty"`
	ExpiresAt *int64          `json:"expiresAt,omitempty"`
}

// ProxyURLResult is the required shape of Proxyer.GenerateProxyURL.
type ProxyURLResult struct {
	URL       string `json:"url"`
	Type      string `json:"type"` // always "proxy"
	Channel   string `json:"channel,omitempty"`
	ExpiresIn *int64 `json:"expiresIn,omitempty"`
}

// UploadURLResult is the required shape of UploadURLGenerator.GenerateUploadURL.
// UploadURL may only be empty when SkipUpload is true.
type UploadURLResult struct {
	UploadURL   string            `json:"uploadUrl"`
	StoragePath string            `json:"storagePath"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	ExpiresIn   *int64            `json:"expiresIn,omitempty"`
	SkipUpload  bool              `json:"skipUpload,omitempty"`
}

// MultipartStrategy distinguishes per-part presigned URLs from a
// single-session proxied upload.
type MultipartStrategy string

const (
	StrategyPerPartURL      MultipartStrategy = "per_part_url"
	StrategySingleSession   MultipartStrategy = "single_session"
)

// MultipartInitResult is the required shape of
// Multiparter.InitializeFrontendMultipartUpload.
type MultipartInitResult struct {
	Success     bool              `json:"success"`
	UploadID    string            `json:"uploadId"`
	Strategy    MultipartStrategy `json:"strategy"`
	PartURLs    []string          `json:"partUrls,omitempty"`    // required when Strategy == per_part_url
	SessionMeta map[string]string `json:"sessionMeta,omitempty"` // required when Strategy == single_session
}

// MultipartSignResult is the required shape of Multiparter.SignMultipartParts.
type MultipartSignResult struct {
	Success  bool              `json:"success"`
	UploadID string            `json:"uploadId"`
	Strategy MultipartStrategy `json:"strategy"`
	PartURLs []string          `json:"partUrls,omitempty"`
}

// MultipartUploadSummary is one entry of a ListMultipartUploads result.
type MultipartUploadSummary struct {
	UploadID string `json:"uploadId"`
	Path     string `json:"path"`
	Started  int64  `json:"started"`
}

// MultipartPartSummary is one entry of a ListMultipartParts result.
type MultipartPartSummary struct {
	PartNumber int    `json:"partNumber"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
}

// CompleteMultipartResult is the required shape of
// Multiparter.CompleteFrontendMultipartUpload.
type CompleteMultipartResult struct {
	Success     bool   `json:"success"`
	StoragePath string `json:"storagePath"`
	Message     string `json:"message,omitempty"`
}
