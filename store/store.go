package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"

	ferrors "github.com/filehaven/engine/cmn/errors"
)

// key prefixes double as buntdb "collections" (§6 table names)
const (
	prefixStorageConfig  = "storage_configs:"
	prefixMount          = "mounts:"
	prefixMetrics        = "metrics_cache:"
	prefixMigration      = "schema_migrations:"
	prefixScheduledJob   = "scheduled_jobs:"
	prefixJobRun         = "scheduled_job_runs:"
	prefixDirty          = "dirty:"
	prefixVfsNode        = "vfs_nodes:"
	prefixSearchIndex    = "fs_search_index_entries:"
	prefixSystemSettings = "system_settings:"
	prefixTask           = "jobrunner_tasks:"

	indexJobsNextRun = "jobs_next_run"
	indexMountPath   = "mounts_by_path"
	indexRunStarted  = "job_runs_started"
)

// Store wraps a single buntdb handle providing the persisted tables in §6.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if necessary) the buntdb file at path and installs
// the secondary indexes the scheduler and admin surface rely on for
// range-scans (due jobs, per-path mount lookup, bounded run history).
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.ensureIndexes(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes() error {
	if err := s.db.CreateIndex(indexJobsNextRun, prefixScheduledJob+"*",
		buntdb.IndexJSON("next_run_after")); err != nil && err != buntdb.ErrIndexExists {
		return err
	}
	if err := s.db.CreateIndex(indexMountPath, prefixMount+"*",
		buntdb.IndexJSON("mount_path")); err != nil && err != buntdb.ErrIndexExists {
		return err
	}
	if err := s.db.CreateIndex(indexRunStarted, prefixJobRun+"*",
		buntdb.IndexJSON("started_at")); err != nil && err != buntdb.ErrIndexExists {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func put(tx *buntdb.Tx, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(body), nil)
	return err
}

func get(tx *buntdb.Tx, key string, v interface{}) error {
	raw, err := tx.Get(key)
	if err != nil {
		if err == buntdb.ErrNotFound {
			return ferrors.NotFoundError("%s not found", key)
		}
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// --- StorageConfig ---------------------------------------------------------

func (s *Store) PutStorageConfig(c *StorageConfig) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return put(tx, prefixStorageConfig+c.ID, c)
	})
}

func (s *Store) GetStorageConfig(id string) (*StorageConfig, error) {
	var c StorageConfig
	err := s.db.View(func(tx *buntdb.Tx) error { return get(tx, prefixStorageConfig+id, &c) })
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteStorageConfig(id string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(prefixStorageConfig + id)
		if err == buntdb.ErrNotFound {
			return ferrors.NotFoundError("storage config %s not found", id)
		}
		return err
	})
}

func (s *Store) ListStorageConfigs() ([]*StorageConfig, error) {
	var out []*StorageConfig
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixStorageConfig+"*", func(_, value string) bool {
			var c StorageConfig
			if json.Unmarshal([]byte(value), &c) == nil {
				out = append(out, &c)
			}
			return true
		})
	})
	return out, err
}

// --- Mount ------------------------------------------------------------------

func (s *Store) PutMount(m *Mount) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var conflict error
		tx.AscendIndex(indexMountPath, func(key, value string) bool {
			var other Mount
			if json.Unmarshal([]byte(value), &other) == nil && other.MountPath == m.MountPath && other.ID != m.ID {
				conflict = ferrors.ValidationError("mount_path %q already bound", m.MountPath)
				return false
			}
			return true
		})
		if conflict != nil {
			return conflict
		}
		return put(tx, prefixMount+m.ID, m)
	})
}

func (s *Store) GetMount(id string) (*Mount, error) {
	var m Mount
	err := s.db.View(func(tx *buntdb.Tx) error { return get(tx, prefixMount+id, &m) })
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) DeleteMount(id string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(prefixMount + id)
		if err == buntdb.ErrNotFound {
			return ferrors.NotFoundError("mount %s not found", id)
		}
		return err
	})
}

func (s *Store) ListMountsByStorageConfig(storageConfigID string) ([]*Mount, error) {
	var out []*Mount
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixMount+"*", func(_, value string) bool {
			var m Mount
			if json.Unmarshal([]byte(value), &m) == nil && m.StorageConfigID == storageConfigID {
				out = append(out, &m)
			}
			return true
		})
	})
	return out, err
}

func (s *Store) ListMounts() ([]*Mount, error) {
	var out []*Mount
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixMount+"*", func(_, value string) bool {
			var m Mount
			if json.Unmarshal([]byte(value), &m) == nil {
				out = append(out, &m)
			}
			return true
		})
	})
	return out, err
}

// --- MetricsSnapshot ---------------------------------------------------------

func metricsKey(scopeType, scopeID, metricKey string) string {
	return fmt.Sprintf("%s%s:%s:%s", prefixMetrics, scopeType, scopeID, metricKey)
}

// UpsertMetricsSnapshot writes snap, but never lets a failed refresh
// (ValueNum < 0, by convention the caller's sentinel for "computation
// failed") clobber a prior non-null ValueNum — the monotonicity invariant
// from §3/§8 property 5.
func (s *Store) UpsertMetricsSnapshot(snap *MetricsSnapshot) error {
	key := metricsKey(snap.ScopeType, snap.ScopeID, snap.MetricKey)
	return s.db.Update(func(tx *buntdb.Tx) error {
		var prev MetricsSnapshot
		err := get(tx, key, &prev)
		if snap.ValueNum < 0 {
			if err == nil {
				// caller signals "computation failed": preserve prior value/text/json,
				// bump updated_at and attach the error message.
				prev.UpdatedAtMs = snap.UpdatedAtMs
				prev.ErrorMessage = snap.ErrorMessage
				return put(tx, key, &prev)
			}
			// no prior row to fall back on: a negative value_num would violate
			// the monotone-non-negative invariant, so the first-ever failure
			// records 0 rather than the sentinel.
			snap.ValueNum = 0
		}
		return put(tx, key, snap)
	})
}

func (s *Store) GetMetricsSnapshot(scopeType, scopeID, metricKey string) (*MetricsSnapshot, error) {
	var snap MetricsSnapshot
	err := s.db.View(func(tx *buntdb.Tx) error {
		return get(tx, metricsKey(scopeType, scopeID, metricKey), &snap)
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- SchemaMigration ---------------------------------------------------------

func (s *Store) MarkMigrationApplied(id string, appliedAt int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return put(tx, prefixMigration+id, &SchemaMigration{ID: id, AppliedAt: appliedAt})
	})
}

func (s *Store) ListAppliedMigrations() ([]*SchemaMigration, error) {
	var out []*SchemaMigration
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixMigration+"*", func(_, value string) bool {
			var m SchemaMigration
			if json.Unmarshal([]byte(value), &m) == nil {
				out = append(out, &m)
			}
			return true
		})
	})
	return out, err
}

// HasAnyTable reports whether any of the core "required tables" already
// hold rows — used by the §4.5 schema-adopt decision matrix.
func (s *Store) HasAnyTable() (bool, error) {
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		for _, prefix := range []string{prefixStorageConfig, prefixMount, prefixScheduledJob} {
			_ = tx.AscendKeys(prefix+"*", func(_, _ string) bool {
				found = true
				return false
			})
			if found {
				break
			}
		}
		return nil
	})
	return found, err
}

// HasBusinessRows reports whether any non-schema, non-settings rows exist
// (used by §4.5's second decision column).
func (s *Store) HasBusinessRows() (bool, error) {
	return s.HasAnyTable()
}

// LegacySchemaVersion reads system_settings.schema_version, returning
// (0, false) if absent.
func (s *Store) LegacySchemaVersion() (int, bool, error) {
	var v int
	found := false
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(prefixSystemSettings + "schema_version")
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		n, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return nil
		}
		v, found = n, true
		return nil
	})
	return v, found, err
}

// ClearLegacySchemaVersion removes the legacy key after a successful adopt.
func (s *Store) ClearLegacySchemaVersion() error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(prefixSystemSettings + "schema_version")
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (s *Store) SetLegacySchemaVersion(v int) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(prefixSystemSettings+"schema_version", strconv.Itoa(v), nil)
		return err
	})
}

// --- ScheduledJob -------------------------------------------------------------

func (s *Store) PutScheduledJob(j *ScheduledJob) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return put(tx, prefixScheduledJob+j.TaskID, j)
	})
}

func (s *Store) GetScheduledJob(taskID string) (*ScheduledJob, error) {
	var j ScheduledJob
	err := s.db.View(func(tx *buntdb.Tx) error { return get(tx, prefixScheduledJob+taskID, &j) })
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) ListScheduledJobs() ([]*ScheduledJob, error) {
	var out []*ScheduledJob
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendIndex(indexJobsNextRun, func(_, value string) bool {
			var j ScheduledJob
			if json.Unmarshal([]byte(value), &j) == nil {
				out = append(out, &j)
			}
			return true
		})
	})
	return out, err
}

// DueJobs returns enabled jobs whose next_run_after <= nowMs and whose
// lock_until is unset or already expired — the candidate set a scheduler
// tick attempts to lease (§4.4).
func (s *Store) DueJobs(nowMs int64) ([]*ScheduledJob, error) {
	all, err := s.ListScheduledJobs()
	if err != nil {
		return nil, err
	}
	var due []*ScheduledJob
	for _, j := range all {
		if !j.Enabled {
			continue
		}
		if j.NextRunAfter > nowMs {
			continue
		}
		if j.LockUntil > nowMs {
			continue
		}
		due = append(due, j)
	}
	return due, nil
}

// TryAcquireLease performs the CAS described in §4.4: it re-reads the job
// inside the transaction and only installs the new lock_until if the
// on-disk lock_until still equals expectedLockUntil (the value the caller
// observed when it decided to race for the lease). Returns (true, job) on
// a win; (false, nil) when another runner already holds or renewed the lease.
func (s *Store) TryAcquireLease(taskID string, expectedLockUntil, newLockUntil int64) (bool, *ScheduledJob, error) {
	var won bool
	var result *ScheduledJob
	err := s.db.Update(func(tx *buntdb.Tx) error {
		var j ScheduledJob
		if err := get(tx, prefixScheduledJob+taskID, &j); err != nil {
			return err
		}
		if j.LockUntil != expectedLockUntil {
			return nil // lost the race
		}
		j.LockUntil = newLockUntil
		if err := put(tx, prefixScheduledJob+taskID, &j); err != nil {
			return err
		}
		won = true
		result = &j
		return nil
	})
	return won, result, err
}

// ReleaseLease clears the lease and records completion bookkeeping.
func (s *Store) ReleaseLease(taskID string, finishedAtMs, nextRunAfterMs int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var j ScheduledJob
		if err := get(tx, prefixScheduledJob+taskID, &j); err != nil {
			return err
		}
		j.LockUntil = 0
		j.LastRunFinishedAt = finishedAtMs
		j.NextRunAfter = nextRunAfterMs
		j.RunCount++
		return put(tx, prefixScheduledJob+taskID, &j)
	})
}

// --- JobRun --------------------------------------------------------------------

func (s *Store) PutJobRun(r *JobRun) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return put(tx, prefixJobRun+r.TaskID+":"+r.RunID, r)
	})
}

func (s *Store) ListJobRuns(taskID string) ([]*JobRun, error) {
	var out []*JobRun
	prefix := prefixJobRun + taskID + ":"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendIndex(indexRunStarted, func(key, value string) bool {
			if !strings.HasPrefix(key, prefix) {
				return true
			}
			var r JobRun
			if json.Unmarshal([]byte(value), &r) == nil {
				out = append(out, &r)
			}
			return true
		})
	})
	return out, err
}

// EvictOldestRuns enforces the bounded-ring invariant: once a task has more
// than cap runs, the oldest (by started_at) are deleted.
func (s *Store) EvictOldestRuns(taskID string, cap int) error {
	runs, err := s.ListJobRuns(taskID)
	if err != nil {
		return err
	}
	if len(runs) <= cap {
		return nil
	}
	toEvict := runs[:len(runs)-cap]
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, r := range toEvict {
			if _, err := tx.Delete(prefixJobRun + r.TaskID + ":" + r.RunID); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// --- DirtyQueue ------------------------------------------------------------------

func (s *Store) EnqueueDirty(e *DirtyEntry) error {
	key := fmt.Sprintf("%s%s:%020d", prefixDirty, e.MountID, e.Seq)
	return s.db.Update(func(tx *buntdb.Tx) error { return put(tx, key, e) })
}

// DequeueDirtyBatch returns up to n pending entries for mountID in FIFO
// order (oldest sequence first), without removing them — the caller
// removes each entry once its reconciliation has been applied, preserving
// at-least-once semantics across a crash.
func (s *Store) DequeueDirtyBatch(mountID string, n int) ([]*DirtyEntry, error) {
	var out []*DirtyEntry
	prefix := prefixDirty + mountID + ":"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, value string) bool {
			var e DirtyEntry
			if json.Unmarshal([]byte(value), &e) == nil {
				out = append(out, &e)
			}
			return len(out) < n
		})
	})
	return out, err
}

func (s *Store) RemoveDirty(mountID string, seq int64) error {
	key := fmt.Sprintf("%s%s:%020d", prefixDirty, mountID, seq)
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (s *Store) CountDirty(mountID string) (int, error) {
	n := 0
	prefix := prefixDirty + mountID + ":"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, _ string) bool {
			n++
			return true
		})
	})
	return n, err
}

// --- VfsNode / SearchIndexEntry (quota's vfs-inventory / search-index tiers) ---

func (s *Store) PutVfsNode(n *VfsNode) error {
	key := prefixVfsNode + n.ScopeType + ":" + n.ScopeID + ":" + n.Path
	return s.db.Update(func(tx *buntdb.Tx) error { return put(tx, key, n) })
}

// SumVfsNodeSizes implements the vfs-inventory tier: sum of size over
// active file-nodes scoped to scopeID. Returns (0, false) if no file nodes
// exist for this scope at all (so the caller can tell "legitimately empty"
// from "not the source of truth").
func (s *Store) SumVfsNodeSizes(scopeType, scopeID string) (int64, bool, error) {
	var sum int64
	any := false
	prefix := prefixVfsNode + scopeType + ":" + scopeID + ":"
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(_, value string) bool {
			var n VfsNode
			if json.Unmarshal([]byte(value), &n) != nil {
				return true
			}
			if n.NodeType != NodeFile || n.Status != NodeActive {
				return true
			}
			any = true
			if n.Size != nil {
				sum += *n.Size
			}
			return true
		})
	})
	return sum, any, err
}

func (s *Store) PutSearchIndexEntry(e *SearchIndexEntry) error {
	key := prefixSearchIndex + e.MountID + ":" + e.Path
	return s.db.Update(func(tx *buntdb.Tx) error { return put(tx, key, e) })
}

// DeleteSearchIndexEntry removes one mount's index row for path, used by
// the dirty-queue reconciler when a DirtyDelete entry is applied.
func (s *Store) DeleteSearchIndexEntry(mountID, path string) error {
	key := prefixSearchIndex + mountID + ":" + path
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// SumSearchIndexSizes implements the search-index tier: sum of size across
// all mounts in mountIDs whose entries are in "ready" state, surfacing the
// set of mounts that are NOT ready (stale) so callers can report them.
func (s *Store) SumSearchIndexSizes(mountIDs []string) (sum int64, staleMountIDs []string, err error) {
	readyByMount := map[string]bool{}
	anyEntryByMount := map[string]bool{}
	err = s.db.View(func(tx *buntdb.Tx) error {
		for _, mid := range mountIDs {
			prefix := prefixSearchIndex + mid + ":"
			walkErr := tx.AscendKeys(prefix+"*", func(_, value string) bool {
				var e SearchIndexEntry
				if json.Unmarshal([]byte(value), &e) != nil {
					return true
				}
				anyEntryByMount[mid] = true
				if e.State == "ready" && !e.IsDir {
					sum += e.Size
					readyByMount[mid] = true
				}
				return true
			})
			if walkErr != nil {
				return walkErr
			}
		}
		return nil
	})
	for _, mid := range mountIDs {
		if anyEntryByMount[mid] && !readyByMount[mid] {
			staleMountIDs = append(staleMountIDs, mid)
		}
	}
	return sum, staleMountIDs, err
}

// --- Task (jobrunner) -------------------------------------------------------

func (s *Store) PutTask(t *Task) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return put(tx, prefixTask+t.JobID, t)
	})
}

func (s *Store) GetTask(jobID string) (*Task, error) {
	var t Task
	err := s.db.View(func(tx *buntdb.Tx) error { return get(tx, prefixTask+jobID, &t) })
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasksByUserAndType returns every stored Task for (userID, taskType),
// whatever its status; terminal tasks are not filtered out. The jobrunner's
// one-job-per-(userId,taskType) check does not call it: it keeps its own
// in-memory set of active keys.
func (s *Store) ListTasksByUserAndType(userID, taskType string) ([]*Task, error) {
	var out []*Task
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixTask+"*", func(_, value string) bool {
			var t Task
			if json.Unmarshal([]byte(value), &t) == nil && t.UserID == userID && t.TaskType == taskType {
				out = append(out, &t)
			}
			return true
		})
	})
	return out, err
}

func (s *Store) ListTasks() ([]*Task, error) {
	var out []*Task
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixTask+"*", func(_, value string) bool {
			var t Task
			if json.Unmarshal([]byte(value), &t) == nil {
				out = append(out, &t)
			}
			return true
		})
	})
	return out, err
}
