// Package adopt implements the §4.5 first-run schema decision: deciding,
// against an arbitrary pre-existing buntdb file, whether to initialize a
// fresh schema or adopt an already-populated one, squash-marking the
// historical migration chain rather than replaying it step by step.
package adopt

import (
	"fmt"
	"time"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/store"
	"github.com/golang/glog"
)

// CurrentSchemaVersion is the highest migration this build knows about.
// Squash-marking installs v01..CurrentSchemaVersion (or fewer, when a
// legacy version caps it) as already-applied.
const CurrentSchemaVersion = 1

func migrationID(n int) string { return fmt.Sprintf("v%02d", n) }

// Result records which branch of the decision matrix fired, for logging
// and for the admin surface to display.
type Result struct {
	Action        string // "initialized" | "squash_marked" | "squash_marked_legacy" | "refused"
	MarkedUpTo    int
	LegacyVersion int
	Refused       bool
}

// Adopt runs the §4.5 decision matrix once against s, idempotently: a
// second call against an already-adopted store is a no-op that reports
// "squash_marked" with the number of already-applied migrations, without
// re-marking anything.
func Adopt(s *store.Store) (*Result, error) {
	applied, err := s.ListAppliedMigrations()
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		return &Result{Action: "squash_marked", MarkedUpTo: len(applied)}, nil
	}

	hasTables, err := s.HasAnyTable()
	if err != nil {
		return nil, err
	}
	if !hasTables {
		if err := squashMark(s, CurrentSchemaVersion); err != nil {
			return nil, err
		}
		glog.Infof("adopt: no existing tables, initialized fresh schema up to %s", migrationID(CurrentSchemaVersion))
		return &Result{Action: "initialized", MarkedUpTo: CurrentSchemaVersion}, nil
	}

	hasRows, err := s.HasBusinessRows()
	if err != nil {
		return nil, err
	}
	if !hasRows {
		if err := squashMark(s, CurrentSchemaVersion); err != nil {
			return nil, err
		}
		glog.Infof("adopt: tables present but empty, squash-marked up to %s", migrationID(CurrentSchemaVersion))
		return &Result{Action: "squash_marked", MarkedUpTo: CurrentSchemaVersion}, nil
	}

	legacy, found, err := s.LegacySchemaVersion()
	if err != nil {
		return nil, err
	}
	if !found || legacy <= 0 {
		glog.Errorf("adopt: refusing to adopt populated store with no legacy schema_version")
		return &Result{Action: "refused", Refused: true}, ferrors.ValidationError(
			"cannot adopt an already-populated store with no legacy schema_version; manual intervention required")
	}

	markUpTo := legacy
	if markUpTo > CurrentSchemaVersion {
		markUpTo = CurrentSchemaVersion
	}
	if err := squashMark(s, markUpTo); err != nil {
		return nil, err
	}
	if err := s.ClearLegacySchemaVersion(); err != nil {
		return nil, err
	}
	glog.Infof("adopt: populated store with legacy schema_version=%d, squash-marked up to %s", legacy, migrationID(markUpTo))
	return &Result{Action: "squash_marked_legacy", MarkedUpTo: markUpTo, LegacyVersion: legacy}, nil
}

func squashMark(s *store.Store, upTo int) error {
	now := nowFn()
	for n := 1; n <= upTo; n++ {
		if err := s.MarkMigrationApplied(migrationID(n), now); err != nil {
			return err
		}
	}
	return nil
}

// nowFn is overridable by tests; production uses wall-clock milliseconds.
var nowFn = defaultNow

func defaultNow() int64 { return time.Now().UnixMilli() }
