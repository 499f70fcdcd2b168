// Package store is the engine's persistence layer (§3, §6 "Persisted
// state"). It stands in for the spec's SQL tables with
// github.com/tidwall/buntdb — an embedded, transactional, indexed KV store
// — giving every "table" a buntdb collection (a key prefix) and every
// range-scan query (due jobs, stale mounts, bounded JobRun history) a
// buntdb secondary index.
package store

import "encoding/json"

// StorageType is one of the case-sensitive, persisted backend identifiers
// from spec §6.
type StorageType string

const (
	TypeS3          StorageType = "S3"
	TypeWebDAV      StorageType = "WEBDAV"
	TypeLocal       StorageType = "LOCAL"
	TypeOneDrive    StorageType = "ONEDRIVE"
	TypeGoogleDrive StorageType = "GOOGLE_DRIVE"
	TypeGithubRel   StorageType = "GITHUB_RELEASES"
	TypeGithubAPI   StorageType = "GITHUB_API"
	TypeTelegram    StorageType = "TELEGRAM"
	TypeDiscord     StorageType = "DISCORD"
	TypeHuggingFace StorageType = "HUGGINGFACE_DATASETS"
	TypeMirror      StorageType = "MIRROR"
)

// Capability is a named feature set a driver advertises (§3).
type Capability string

const (
	CapReader      Capability = "READER"
	CapWriter      Capability = "WRITER"
	CapDirectLink  Capability = "DIRECT_LINK"
	CapMultipart   Capability = "MULTIPART"
	CapAtomic      Capability = "ATOMIC"
	CapProxy       Capability = "PROXY"
	CapPagedList   Capability = "PAGED_LIST"
)

// StorageConfig is the identity of one backend mount (§3).
type StorageConfig struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	StorageType       StorageType     `json:"storage_type"`
	ConfigJSON        json.RawMessage `json:"config_json"`
	EncryptedSecrets  []byte          `json:"encrypted_secrets,omitempty"`
	TotalStorageBytes int64           `json:"total_storage_bytes,omitempty"` // 0 = unlimited
	EnableDiskUsage   bool            `json:"enable_disk_usage"`
	IsDefault         bool            `json:"is_default"`
	IsPublic          bool            `json:"is_public"`
	CreatedAt         int64           `json:"created_at"` // unix ms
	LastUsed          int64           `json:"last_used"`  // unix ms
}

// Mount is a path-prefix binding of a StorageConfig into the logical VFS (§3).
type Mount struct {
	ID               string `json:"id"`
	StorageConfigID  string `json:"storage_config_id"`
	MountPath        string `json:"mount_path"` // unique
	DefaultSubfolder string `json:"default_subfolder"`
}

// MetricsSnapshot is one row per StorageConfig, scope=storage_config,
// key=computed_usage (§3).
type MetricsSnapshot struct {
	ScopeType     string `json:"scope_type"`
	ScopeID       string `json:"scope_id"`
	MetricKey     string `json:"metric_key"`
	ValueNum      int64  `json:"value_num"`
	ValueText     string `json:"value_text"`
	ValueJSONText string `json:"value_json_text,omitempty"`
	SnapshotAtMs  int64  `json:"snapshot_at_ms"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// SchemaMigration is a single-table schema version chain entry (§4.5).
type SchemaMigration struct {
	ID        string `json:"id"`
	AppliedAt int64  `json:"applied_at"`
}

// ScheduledJob is a persistent, leased, cron- or interval-driven job (§3, §4.4).
type ScheduledJob struct {
	TaskID             string          `json:"task_id"`
	HandlerName        string          `json:"handler_name"`
	CronExpr           string          `json:"cron_expr,omitempty"`
	IntervalSeconds    int64           `json:"interval_seconds,omitempty"`
	Enabled            bool            `json:"enabled"`
	LastRunStartedAt   int64           `json:"last_run_started_at,omitempty"`
	LastRunFinishedAt  int64           `json:"last_run_finished_at,omitempty"`
	NextRunAfter       int64           `json:"next_run_after"`
	LockUntil          int64           `json:"lock_until,omitempty"`
	RunCount           int64           `json:"run_count"`
	PayloadJSON        json.RawMessage `json:"payload_json,omitempty"`
	MetaJSON           json.RawMessage `json:"meta_json,omitempty"`
}

// JobRunStatus is the terminal/in-flight state of one JobRun (§3).
type JobRunStatus string

const (
	RunStatusRunning   JobRunStatus = "running"
	RunStatusSuccess   JobRunStatus = "success"
	RunStatusFailed    JobRunStatus = "failed"
	RunStatusCancelled JobRunStatus = "cancelled"
)

// JobRun is one execution record in a bounded, per-task ring buffer (§3).
type JobRun struct {
	TaskID     string          `json:"task_id"`
	RunID      string          `json:"run_id"`
	StartedAt  int64           `json:"started_at"`
	FinishedAt int64           `json:"finished_at,omitempty"`
	Status     JobRunStatus    `json:"status"`
	StatsJSON  json.RawMessage `json:"stats_json,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// DirtyOp is the operation recorded by a DirtyQueue entry.
type DirtyOp string

const (
	DirtyUpsert DirtyOp = "upsert"
	DirtyDelete DirtyOp = "delete"
)

// DirtyEntry is one pending filesystem-change event awaiting index
// reconciliation, FIFO within a mount (§3).
type DirtyEntry struct {
	Seq         int64   `json:"seq"` // monotonic, gives FIFO order within a mount
	MountID     string  `json:"mount_id"`
	Path        string  `json:"path"`
	Op          DirtyOp `json:"op"`
	EnqueuedAt  int64   `json:"enqueued_at"`
}

// VfsNodeType distinguishes file vs directory inventory rows.
type VfsNodeType string

const (
	NodeFile VfsNodeType = "file"
	NodeDir  VfsNodeType = "dir"
)

// VfsNodeStatus distinguishes a live node from a tombstone.
type VfsNodeStatus string

const (
	NodeActive  VfsNodeStatus = "active"
	NodeDeleted VfsNodeStatus = "deleted"
)

// VfsNode is the engine's own logical inventory, used by quota's
// vfs-inventory fallback tier (§3, §4.3).
type VfsNode struct {
	ScopeType string        `json:"scope_type"` // "storage_config" | "mount"
	ScopeID   string        `json:"scope_id"`
	NodeType  VfsNodeType   `json:"node_type"`
	Path      string        `json:"path"`
	Size      *int64        `json:"size,omitempty"`
	Status    VfsNodeStatus `json:"status"`
}

// SearchIndexEntry backs quota's search-index fallback tier (§4.3).
type SearchIndexEntry struct {
	MountID string `json:"mount_id"`
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	State   string `json:"state"` // "ready" | "indexing" | "stale"
}

// TriggerType records whether a Task was submitted by an admin action or
// fired by the scheduler (§4.6).
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// TaskStatus is the overall state of one jobrunner Task (§4.6).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSuccess   TaskStatus = "success"
	TaskFailed    TaskStatus = "failed"
	TaskPartial   TaskStatus = "partial" // some items failed, others succeeded
	TaskCancelled TaskStatus = "cancelled"
)

// ItemStatus is one item's position in the §4.6 status machine.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemSuccess    ItemStatus = "success"
	ItemFailed     ItemStatus = "failed"
	ItemSkipped    ItemStatus = "skipped"
	ItemRetrying   ItemStatus = "retrying"
)

// ItemResult is one task item's streamed progress row (§4.6). PayloadJSON
// carries the item's own work spec (e.g. a copy's {sourcePath,targetPath})
// so a later retry-file/retry-all-failed action can re-run it without the
// caller having to resubmit anything; this is the "remember item identity
// across retries" requirement.
type ItemResult struct {
	ItemID           string          `json:"item_id"`
	PayloadJSON      json.RawMessage `json:"payload_json,omitempty"`
	Status           ItemStatus      `json:"status"`
	Progress         float64         `json:"progress"` // 0..1
	BytesTransferred int64           `json:"bytes_transferred"`
	FileSize         int64           `json:"file_size,omitempty"`
	RetryCount       int             `json:"retry_count"`
	Error            string          `json:"error,omitempty"`
}

// Task is one job-runner submission: {jobId,taskType,userId,triggerType,
// payload,allowedActions} plus its streamed item results (§4.6).
type Task struct {
	JobID          string          `json:"job_id"`
	TaskType       string          `json:"task_type"`
	UserID         string          `json:"user_id,omitempty"`
	TriggerType    TriggerType     `json:"trigger_type"`
	PayloadJSON    json.RawMessage `json:"payload_json,omitempty"`
	AllowedActions []string        `json:"allowed_actions,omitempty"`
	Status         TaskStatus      `json:"status"`
	ItemResults    []ItemResult    `json:"item_results"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
	FinishedAt     int64           `json:"finished_at,omitempty"`
	Error          string          `json:"error,omitempty"`
}
