// Package discord is the Discord bot storage driver (§5): files are sent
// as message attachments into one channel, and a JSON manifest pinned in
// the same channel tracks the virtual path to attachment mapping. It
// mirrors telegram's design closely since both backends are chat APIs
// with no native filesystem.
//
// No Discord Go client exists anywhere in the retrieved example pack, so
// this driver talks to discord.com/api directly over net/http, the same
// narrowly-scoped stdlib exception as telegram and webdav.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/store"
)

func init() {
	registry.Register(&registry.Record{
		StorageType: store.TypeDiscord,
		DisplayName: "Discord Bot Storage",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter, store.CapDirectLink,
		},
		ConfigSchema: []registry.Option{
			{Name: "channel_id", Type: registry.OptionString, Required: true},
		},
	})
}

const apiBase = "https://discord.com/api/v10"

type config struct {
	ChannelID string `json:"channel_id"`
}

type secret struct {
	BotToken string `json:"bot_token"`
}

type manifestEntry struct {
	MessageID  string `json:"messageId"`
	URL        string `json:"url"`
	Size       int64  `json:"size"`
	IsDir      bool   `json:"isDir"`
	ModifiedAt int64  `json:"modifiedAt"`
}

// Driver is a Reader+Writer backed by one Discord channel's attachment history.
type Driver struct {
	http      *http.Client
	token     string
	channelID string

	mu             sync.Mutex
	manifest       map[string]manifestEntry
	manifestMsgID  string
	loaded         bool
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("discord: invalid config_json: %v", err)
		}
	}
	if cfg.ChannelID == "" {
		return nil, ferrors.ValidationError("discord: channel_id is required")
	}
	var sec secret
	if err := json.Unmarshal(rawSecret, &sec); err != nil {
		return nil, ferrors.ValidationError("discord: invalid secret blob: %v", err)
	}
	if sec.BotToken == "" {
		return nil, ferrors.ValidationError("discord: bot_token is required")
	}
	return &Driver{
		http:      &http.Client{Timeout: 60 * time.Second},
		token:     sec.BotToken,
		channelID: cfg.ChannelID,
		manifest:  map[string]manifestEntry{},
	}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeDiscord }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter, store.CapDirectLink}
}

func (d *Driver) authHeader(req *http.Request) {
	req.Header.Set("Authorization", "Bot "+d.token)
}

type attachment struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type message struct {
	ID          string       `json:"id"`
	Attachments []attachment `json:"attachments"`
	Pinned      bool         `json:"pinned"`
}

func (d *Driver) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, body)
	if err != nil {
		return nil, err
	}
	d.authHeader(req)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "discord: %s %s failed", method, path)
	}
	return resp, nil
}

// loadManifest finds the pinned manifest message in the channel and caches
// its contents for the lifetime of the driver instance.
func (d *Driver) loadManifest(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}
	d.loaded = true

	resp, err := d.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s/pins", d.channelID), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ferrors.DriverError(resp.StatusCode, nil, "discord: listing pins returned status %d", resp.StatusCode)
	}
	var pins []message
	if err := json.NewDecoder(resp.Body).Decode(&pins); err != nil {
		return err
	}
	for _, m := range pins {
		for _, a := range m.Attachments {
			if a.URL == "" {
				continue
			}
			if !strings.HasSuffix(a.URL, "manifest.json") {
				continue
			}
			data, err := d.downloadURL(ctx, a.URL)
			if err != nil {
				return err
			}
			var parsed map[string]manifestEntry
			if err := json.Unmarshal(data, &parsed); err != nil {
				return ferrors.DriverError(502, err, "discord: corrupt manifest document")
			}
			d.manifest = parsed
			d.manifestMsgID = m.ID
			return nil
		}
	}
	return nil
}

func (d *Driver) downloadURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "discord: downloading attachment")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ferrors.DriverError(resp.StatusCode, nil, "discord: attachment download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *Driver) saveManifest(ctx context.Context) error {
	data, err := json.Marshal(d.manifest)
	if err != nil {
		return err
	}
	msgID, _, err := d.sendAttachment(ctx, "manifest.json", bytes.NewReader(data), "filehaven manifest")
	if err != nil {
		return err
	}
	if err := d.pin(ctx, msgID); err != nil {
		return err
	}
	if d.manifestMsgID != "" && d.manifestMsgID != msgID {
		_ = d.unpin(ctx, d.manifestMsgID)
	}
	d.manifestMsgID = msgID
	return nil
}

func (d *Driver) pin(ctx context.Context, msgID string) error {
	resp, err := d.do(ctx, http.MethodPut, fmt.Sprintf("/channels/%s/pins/%s", d.channelID, msgID), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return ferrors.DriverError(resp.StatusCode, nil, "discord: pinning message returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Driver) unpin(ctx context.Context, msgID string) error {
	resp, err := d.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/pins/%s", d.channelID, msgID), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (d *Driver) sendAttachment(ctx context.Context, name string, content io.Reader, comment string) (msgID, url string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if comment != "" {
		if err := w.WriteField("content", comment); err != nil {
			return "", "", err
		}
	}
	part, err := w.CreateFormFile("files[0]", name)
	if err != nil {
		return "", "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", "", err
	}
	if err := w.Close(); err != nil {
		return "", "", err
	}
	resp, err := d.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", d.channelID), &buf, w.FormDataContentType())
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", "", ferrors.DriverError(resp.StatusCode, nil, "discord: sending attachment returned status %d", resp.StatusCode)
	}
	var msg message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", "", err
	}
	if len(msg.Attachments) == 0 {
		return "", "", ferrors.DriverError(502, nil, "discord: message has no attachment")
	}
	return msg.ID, msg.Attachments[0].URL, nil
}

func (d *Driver) deleteMessage(ctx context.Context, msgID string) error {
	resp, err := d.do(ctx, http.MethodDelete, fmt.Sprintf("/channels/%s/messages/%s", d.channelID, msgID), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
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

func (d *Driver) ListDirectory(ctx context.Context, p string) (*registry.ListDirectoryResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	dir := normalize(p)
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := map[string]bool{}
	var items []registry.Item
	for path, entry := range d.manifest {
		if parentOf(path) != dir {
			continue
		}
		name := baseName(path)
		if seen[name] {
			continue
		}
		seen[name] = true
		size := entry.Size
		items = append(items, registry.Item{Path: path, Name: name, IsDirectory: entry.IsDir, Size: &size})
	}
	return &registry.ListDirectoryResult{Path: dir, Type: "directory", Items: items}, nil
}

func (d *Driver) GetFileInfo(ctx context.Context, p string) (*registry.FileInfoResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	p = normalize(p)
	d.mu.Lock()
	entry, ok := d.manifest[p]
	d.mu.Unlock()
	if !ok {
		return nil, ferrors.NotFoundError("discord: %s not found", p)
	}
	size := entry.Size
	return &registry.FileInfoResult{Path: p, Name: baseName(p), IsDirectory: entry.IsDir, Size: &size}, nil
}

type discordStream struct {
	driver *Driver
	url    string
}

func (s *discordStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.driver.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "discord: downloading attachment")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ferrors.DriverError(resp.StatusCode, nil, "discord: attachment download returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (d *Driver) DownloadFile(ctx context.Context, p string) (*registry.DownloadResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	p = normalize(p)
	d.mu.Lock()
	entry, ok := d.manifest[p]
	d.mu.Unlock()
	if !ok || entry.IsDir {
		return nil, ferrors.NotFoundError("discord: %s not found", p)
	}
	size := entry.Size
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size},
		Downloadable:     &discordStream{driver: d, url: entry.URL},
	}, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) (*registry.CreateDirectoryResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	p = normalize(p)
	d.mu.Lock()
	if _, ok := d.manifest[p]; ok {
		d.mu.Unlock()
		return &registry.CreateDirectoryResult{Success: true, Path: p, AlreadyExists: true}, nil
	}
	d.manifest[p] = manifestEntry{IsDir: true, ModifiedAt: time.Now().Unix()}
	d.mu.Unlock()
	if err := d.saveManifest(ctx); err != nil {
		return nil, err
	}
	return &registry.CreateDirectoryResult{Success: true, Path: p}, nil
}

func (d *Driver) UploadFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UploadResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	p = normalize(p)
	msgID, url, err := d.sendAttachment(ctx, baseName(p), content, p)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.manifest[p] = manifestEntry{MessageID: msgID, URL: url, Size: size, ModifiedAt: time.Now().Unix()}
	d.mu.Unlock()
	if err := d.saveManifest(ctx); err != nil {
		return nil, err
	}
	return &registry.UploadResult{Success: true, StoragePath: p}, nil
}

func (d *Driver) UpdateFile(ctx context.Context, p string, content io.Reader, size int64) (*registry.UpdateResult, error) {
	if _, err := d.UploadFile(ctx, p, content, size); err != nil {
		return nil, err
	}
	return &registry.UpdateResult{Success: true, Path: normalize(p)}, nil
}

func (d *Driver) RenameItem(ctx context.Context, source, target string) (*registry.RenameResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	source, target = normalize(source), normalize(target)
	d.mu.Lock()
	entry, ok := d.manifest[source]
	if !ok {
		d.mu.Unlock()
		return nil, ferrors.NotFoundError("discord: %s not found", source)
	}
	delete(d.manifest, source)
	d.manifest[target] = entry
	d.mu.Unlock()
	if err := d.saveManifest(ctx); err != nil {
		return nil, err
	}
	return &registry.RenameResult{Success: true, Source: source, Target: target}, nil
}

func (d *Driver) CopyItem(ctx context.Context, source, target string) (*registry.CopyResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	source, target = normalize(source), normalize(target)
	d.mu.Lock()
	entry, ok := d.manifest[source]
	if !ok {
		d.mu.Unlock()
		return &registry.CopyResult{Status: registry.CopyFailed, Source: source, Target: target, Message: "source not found"}, nil
	}
	// the attachment URL is shared by reference; Discord CDN links are
	// stable for the lifetime of the message that carries them.
	d.manifest[target] = manifestEntry{URL: entry.URL, Size: entry.Size, IsDir: entry.IsDir, ModifiedAt: time.Now().Unix()}
	d.mu.Unlock()
	if err := d.saveManifest(ctx); err != nil {
		return nil, err
	}
	return &registry.CopyResult{Status: registry.CopySuccess, Source: source, Target: target}, nil
}

func (d *Driver) BatchRemoveItems(ctx context.Context, paths []string) (*registry.BatchRemoveResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	res := &registry.BatchRemoveResult{}
	for _, p := range paths {
		p = normalize(p)
		d.mu.Lock()
		entry, ok := d.manifest[p]
		if ok {
			delete(d.manifest, p)
		}
		d.mu.Unlock()
		if !ok {
			res.Failed = append(res.Failed, registry.RemoveFailure{Path: p, Error: "not found"})
			continue
		}
		if entry.MessageID != "" {
			_ = d.deleteMessage(ctx, entry.MessageID)
		}
		res.Success++
	}
	if res.Success > 0 {
		if err := d.saveManifest(ctx); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (d *Driver) GenerateDownloadURL(ctx context.Context, p string) (*registry.DownloadURLResult, error) {
	if err := d.loadManifest(ctx); err != nil {
		return nil, err
	}
	p = normalize(p)
	d.mu.Lock()
	entry, ok := d.manifest[p]
	d.mu.Unlock()
	if !ok || entry.IsDir {
		return nil, ferrors.NotFoundError("discord: %s not found", p)
	}
	return &registry.DownloadURLResult{URL: entry.URL, Type: registry.URLNativeDirect}, nil
}

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("discord: Test called with a non-discord driver")
	}
	resp, err := d.do(ctx, http.MethodGet, fmt.Sprintf("/channels/%s", d.channelID), nil, "")
	passed := err == nil
	detail := ""
	if err != nil {
		detail = err.Error()
	} else {
		defer resp.Body.Close()
		passed = resp.StatusCode == http.StatusOK
		if !passed {
			detail = fmt.Sprintf("channel lookup returned status %d", resp.StatusCode)
		}
	}
	checks := []registry.TestCheck{{Name: "channel is reachable", Passed: passed, Detail: detail}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeDiscord, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
