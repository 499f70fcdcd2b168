// Package telegram is the Telegram Bot API storage driver (§5): files are
// sent as documents into one chat, and a small JSON manifest — itself
// stored as a pinned document in the same chat — tracks the virtual path
// to message/file mapping, the same way githubreleases keeps its asset
// index inside a single tagged release rather than a side database.
//
// No Telegram Bot API client exists anywhere in the retrieved example
// pack, so this driver talks to api.telegram.org directly over
// net/http, the same narrowly-scoped stdlib exception as webdav and the
// onedrive Graph calls.
package telegram

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
		StorageType: store.TypeTelegram,
		DisplayName: "Telegram Bot Storage",
		Constructor: construct,
		Test:        runTest,
		Capabilities: []store.Capability{
			store.CapReader, store.CapWriter,
		},
		ConfigSchema: []registry.Option{
			{Name: "chat_id", Type: registry.OptionString, Required: true},
		},
	})
}

const apiBase = "https://api.telegram.org"

type config struct {
	ChatID string `json:"chat_id"`
}

type secret struct {
	BotToken string `json:"bot_token"`
}

type manifestEntry struct {
	MessageID  int    `json:"messageId"`
	FileID     string `json:"fileId"`
	Size       int64  `json:"size"`
	IsDir      bool   `json:"isDir"`
	ModifiedAt int64  `json:"modifiedAt"`
}

// Driver is a Reader+Writer backed by one Telegram chat's document history.
type Driver struct {
	http   *http.Client
	token  string
	chatID string

	mu            sync.Mutex
	manifest      map[string]manifestEntry
	manifestMsgID int
	loaded        bool
}

func construct(rawConfig, rawSecret []byte) (registry.Driver, error) {
	var cfg config
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return nil, ferrors.ValidationError("telegram: invalid config_json: %v", err)
		}
	}
	if cfg.ChatID == "" {
		return nil, ferrors.ValidationError("telegram: chat_id is required")
	}
	var sec secret
	if err := json.Unmarshal(rawSecret, &sec); err != nil {
		return nil, ferrors.ValidationError("telegram: invalid secret blob: %v", err)
	}
	if sec.BotToken == "" {
		return nil, ferrors.ValidationError("telegram: bot_token is required")
	}
	return &Driver{
		http:     &http.Client{Timeout: 60 * time.Second},
		token:    sec.BotToken,
		chatID:   cfg.ChatID,
		manifest: map[string]manifestEntry{},
	}, nil
}

func (d *Driver) GetType() store.StorageType { return store.TypeTelegram }

func (d *Driver) GetCapabilities() []store.Capability {
	return []store.Capability{store.CapReader, store.CapWriter}
}

func (d *Driver) method(name string) string {
	return fmt.Sprintf("%s/bot%s/%s", apiBase, d.token, name)
}

type apiResult struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (d *Driver) call(ctx context.Context, name string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.method(name), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return ferrors.DriverError(502, err, "telegram: %s request failed", name)
	}
	defer resp.Body.Close()
	var res apiResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return ferrors.DriverError(502, err, "telegram: decoding %s response", name)
	}
	if !res.OK {
		return ferrors.DriverError(resp.StatusCode, nil, "telegram: %s: %s", name, res.Description)
	}
	if out != nil {
		return json.Unmarshal(res.Result, out)
	}
	return nil
}

type chatResult struct {
	PinnedMessage *messageResult `json:"pinned_message"`
}

type messageResult struct {
	MessageID int           `json:"message_id"`
	Document  *documentInfo `json:"document"`
}

type documentInfo struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
}

// loadManifest fetches the pinned manifest document once per driver
// instance and caches it in memory for the rest of its lifetime.
func (d *Driver) loadManifest(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}
	d.loaded = true

	var chat chatResult
	if err := d.call(ctx, "getChat", map[string]string{"chat_id": d.chatID}, &chat); err != nil {
		return err
	}
	if chat.PinnedMessage == nil || chat.PinnedMessage.Document == nil {
		return nil
	}
	d.manifestMsgID = chat.PinnedMessage.MessageID
	raw, err := d.downloadFileID(ctx, chat.PinnedMessage.Document.FileID)
	if err != nil {
		return err
	}
	defer raw.Close()
	data, err := io.ReadAll(raw)
	if err != nil {
		return err
	}
	var m map[string]manifestEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return ferrors.DriverError(502, err, "telegram: corrupt manifest document")
	}
	d.manifest = m
	return nil
}

// saveManifest uploads the current in-memory manifest as a fresh document
// and pins it, superseding whatever was previously pinned.
func (d *Driver) saveManifest(ctx context.Context) error {
	data, err := json.Marshal(d.manifest)
	if err != nil {
		return err
	}
	msgID, _, err := d.sendDocument(ctx, "manifest.json", bytes.NewReader(data), "filehaven manifest")
	if err != nil {
		return err
	}
	if err := d.call(ctx, "pinChatMessage", map[string]interface{}{
		"chat_id":              d.chatID,
		"message_id":           msgID,
		"disable_notification": true,
	}, nil); err != nil {
		return err
	}
	d.manifestMsgID = msgID
	return nil
}

func (d *Driver) sendDocument(ctx context.Context, name string, content io.Reader, caption string) (msgID int, fileID string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", d.chatID); err != nil {
		return 0, "", err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return 0, "", err
		}
	}
	part, err := w.CreateFormFile("document", name)
	if err != nil {
		return 0, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return 0, "", err
	}
	if err := w.Close(); err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.method("sendDocument"), &buf)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := d.http.Do(req)
	if err != nil {
		return 0, "", ferrors.DriverError(502, err, "telegram: sendDocument failed")
	}
	defer resp.Body.Close()
	var res apiResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, "", err
	}
	if !res.OK {
		return 0, "", ferrors.DriverError(resp.StatusCode, nil, "telegram: sendDocument: %s", res.Description)
	}
	var msg messageResult
	if err := json.Unmarshal(res.Result, &msg); err != nil {
		return 0, "", err
	}
	if msg.Document == nil {
		return 0, "", ferrors.DriverError(502, nil, "telegram: sendDocument returned no document")
	}
	return msg.MessageID, msg.Document.FileID, nil
}

type fileResult struct {
	FilePath string `json:"file_path"`
}

func (d *Driver) downloadFileID(ctx context.Context, fileID string) (io.ReadCloser, error) {
	var fr fileResult
	if err := d.call(ctx, "getFile", map[string]string{"file_id": fileID}, &fr); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/file/bot%s/%s", apiBase, d.token, fr.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, ferrors.DriverError(502, err, "telegram: downloading file content")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ferrors.DriverError(resp.StatusCode, nil, "telegram: file download returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
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
		return nil, ferrors.NotFoundError("telegram: %s not found", p)
	}
	size := entry.Size
	return &registry.FileInfoResult{Path: p, Name: baseName(p), IsDirectory: entry.IsDir, Size: &size}, nil
}

type telegramStream struct {
	driver *Driver
	fileID string
}

func (s *telegramStream) GetStream(ctx context.Context) (io.ReadCloser, error) {
	return s.driver.downloadFileID(ctx, s.fileID)
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
		return nil, ferrors.NotFoundError("telegram: %s not found", p)
	}
	size := entry.Size
	return &registry.DownloadResult{
		StreamDescriptor: registry.StreamDescriptor{Size: &size},
		Downloadable:     &telegramStream{driver: d, fileID: entry.FileID},
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
	msgID, fileID, err := d.sendDocument(ctx, baseName(p), content, p)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.manifest[p] = manifestEntry{MessageID: msgID, FileID: fileID, Size: size, ModifiedAt: time.Now().Unix()}
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
		return nil, ferrors.NotFoundError("telegram: %s not found", source)
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
	// Telegram file_ids are reusable across messages so the copy needs no
	// re-upload, just a new manifest entry pointing at the same file_id.
	d.manifest[target] = manifestEntry{FileID: entry.FileID, Size: entry.Size, IsDir: entry.IsDir, ModifiedAt: time.Now().Unix()}
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
		if entry.MessageID != 0 {
			_ = d.call(ctx, "deleteMessage", map[string]interface{}{
				"chat_id":    d.chatID,
				"message_id": entry.MessageID,
			}, nil)
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

func runTest(ctx context.Context, drv registry.Driver) (*registry.TestReport, error) {
	start := time.Now()
	d, ok := drv.(*Driver)
	if !ok {
		return nil, ferrors.ValidationError("telegram: Test called with a non-telegram driver")
	}
	var me json.RawMessage
	err := d.call(ctx, "getMe", map[string]string{}, &me)
	checks := []registry.TestCheck{{Name: "bot token is valid", Passed: err == nil, Detail: errDetail(err)}}
	return &registry.TestReport{
		Version: 1, StorageType: store.TypeTelegram, Checks: checks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
