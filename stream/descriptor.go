package stream

import (
	"context"
	"io"
	"strconv"
	"strings"
)

// Channel names one of the response contexts §4.2 assigns a distinct
// Cache-Control policy to.
type Channel string

const (
	ChannelFSWeb    Channel = "fs-web"
	ChannelWebDAV   Channel = "webdav"
	ChannelProxy    Channel = "proxy"
	ChannelShare    Channel = "share"
	ChannelInternal Channel = "internal"
)

// cacheControl returns the exact header value for ch, or "" when the
// channel (internal) sends no Cache-Control header at all.
func cacheControl(ch Channel) string {
	switch ch {
	case ChannelFSWeb, ChannelWebDAV:
		return "private, no-cache"
	case ChannelProxy, ChannelShare:
		return "public, max-age=3600"
	default:
		return ""
	}
}

// RangeFallbackPolicy controls what happens when a driver can't honor a
// native byte range (§4.2 "Fallback path").
type RangeFallbackPolicy string

const (
	FallbackFull     RangeFallbackPolicy = "full"
	FallbackSoftware RangeFallbackPolicy = "software"
)

// RangeProbeResult is what a RangeDownloadable reports back for one
// GetRange call: enough for the service to tell a truthful 206 from a
// driver that always answers 200.
type RangeProbeResult struct {
	Body         io.ReadCloser
	Status       int    // upstream status observed, e.g. 206 or 200
	ContentRange string // upstream Content-Range header, if any
}

// RangeDownloadable is implemented by a download handle whose driver can
// serve a native byte range instead of the engine slicing the full
// stream in software.
type RangeDownloadable interface {
	GetRange(ctx context.Context, start, end int64) (*RangeProbeResult, error)
}

// supportsRangeHonestly implements the video-seek-guard truthfulness
// check (§4.2): a 206 with any Content-Range is trusted outright; a 200
// is trusted only if its Content-Range (when present) is consistent with
// the requested offset.
func supportsRangeHonestly(res *RangeProbeResult, start int64) bool {
	if res == nil {
		return false
	}
	switch res.Status {
	case 206:
		return res.ContentRange != ""
	case 200:
		if res.ContentRange == "" {
			return false
		}
		return contentRangeStartsAt(res.ContentRange, start)
	default:
		return false
	}
}

func contentRangeStartsAt(cr string, start int64) bool {
	cr = strings.TrimPrefix(cr, "bytes ")
	dash := strings.IndexByte(cr, '-')
	if dash <= 0 {
		return false
	}
	return cr[:dash] == strconv.FormatInt(start, 10)
}

var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true,
}

// looksLikeVideo implements the §4.2 video-seek-guard request-shape test.
func looksLikeVideo(path, contentType, secFetchDest, accept string) bool {
	if strings.HasPrefix(contentType, "video/") {
		return true
	}
	if secFetchDest == "video" {
		return true
	}
	if strings.Contains(accept, "video/") {
		return true
	}
	for ext := range videoExtensions {
		if strings.HasSuffix(strings.ToLower(path), ext) {
			return true
		}
	}
	return false
}
