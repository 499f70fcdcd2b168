package registry

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	ferrors "github.com/filehaven/engine/cmn/errors"
	"github.com/filehaven/engine/store"
)

// OptionType is the declared type of one configuration option (§4.1).
type OptionType string

const (
	OptionString  OptionType = "string"
	OptionBool    OptionType = "boolean"
	OptionNumber  OptionType = "number"
	OptionEnum    OptionType = "enum"
	OptionSecret  OptionType = "secret"
)

// ValidationRule names a cross-cutting validation applied to an option's
// value (§6 "Validation rules").
type ValidationRule string

const (
	RuleURL             ValidationRule = "url"
	RuleAbsPath         ValidationRule = "abs_path"
	RuleOctalPermission ValidationRule = "octal_permission"
)

// Option describes one entry of a driver's configSchema.
type Option struct {
	Name             string
	Type             OptionType
	DefaultValue     interface{}
	Required         bool
	RequiredOnCreate bool
	RequiredWhen     func(cfg map[string]interface{}) bool
	EnumValues       []string
	Rule             ValidationRule
}

// ValidationResult is the outcome of a Record.Validate call.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Constructor builds an unverified driver instance from raw JSON config
// and a decrypted secret blob.
type Constructor func(rawConfig []byte, secret []byte) (Driver, error)

// TestFunc performs the live connectivity probe behind
// POST /api/admin/storage-config/{id}/test (§6).
type TestFunc func(ctx context.Context, drv Driver) (*TestReport, error)

// TestCheck is one line item of a TestReport.
type TestCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

// TestReport is the contract behind the admin "test storage config" action.
type TestReport struct {
	Version     int               `json:"version"`
	StorageType store.StorageType `json:"storageType"`
	Info        string            `json:"info,omitempty"`
	Checks      []TestCheck       `json:"checks"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
	DurationMs  int64             `json:"timing.durationMs"`
}

// ConfigProjector redacts or reshapes a stored config for API responses:
// withSecrets controls whether secret-typed fields are included verbatim.
type ConfigProjector func(cfg map[string]interface{}, withSecrets bool, row *store.StorageConfig) map[string]interface{}

// Record is one driver's full registration (§4.1).
type Record struct {
	StorageType     store.StorageType
	DisplayName     string
	Constructor     Constructor
	Test            TestFunc
	Validate        func(cfg map[string]interface{}) ValidationResult
	Capabilities    []store.Capability
	ConfigSchema    []Option
	ProviderOptions map[string]interface{}
	ConfigProjector ConfigProjector
	// POSIXOnly hides the type from the public type list when the process
	// is not running on a POSIX/Node-style host (§4.1 "LOCAL is hidden...").
	POSIXOnly bool
}

var (
	mu       sync.RWMutex
	records  = map[store.StorageType]*Record{}
)

// Register installs rec into the process-wide registry. Panics on a
// duplicate storage_type, mirroring the teacher's own init()-time
// factory.Register idiom (and distribution's registry/storage/driver
// factory family) where a second registration is a programmer error
// caught at process startup, not a runtime condition.
func Register(rec *Record) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := records[rec.StorageType]; exists {
		panic(fmt.Sprintf("registry: storage type %s already registered", rec.StorageType))
	}
	records[rec.StorageType] = rec
}

// Lookup returns the Record registered for t, or nil if unregistered.
func Lookup(t store.StorageType) *Record {
	mu.RLock()
	defer mu.RUnlock()
	return records[t]
}

// isPOSIXHost reports whether the runtime host is POSIX/Node-style, the
// one host-environment-dependent rule in §4.1.
func isPOSIXHost() bool {
	return runtime.GOOS != "windows" && runtime.GOOS != "js"
}

// ListTypes returns every registered storage type with its public
// metadata, filtering out POSIX-only types when not on a POSIX host.
func ListTypes() []*Record {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]*Record, 0, len(records))
	posix := isPOSIXHost()
	for _, r := range records {
		if r.POSIXOnly && !posix {
			continue
		}
		out = append(out, r)
	}
	return out
}

// CreateDriver looks up the registry entry for t, instantiates it,
// initializes it, and verifies its shape before handing back an Enforcer
// wrapping it (§4.1 "Creation").
func CreateDriver(ctx context.Context, t store.StorageType, rawConfig []byte, secret []byte) (*Enforcer, error) {
	rec := Lookup(t)
	if rec == nil {
		return nil, ferrors.ValidationError("unknown storage type %q", t)
	}

	drv, err := rec.Constructor(rawConfig, secret)
	if err != nil {
		return nil, ferrors.DriverError(500, err, "constructing %s driver", t)
	}

	if init, ok := drv.(Initializer); ok {
		if err := init.Initialize(ctx); err != nil {
			return nil, ferrors.DriverError(500, err, "initializing %s driver", t)
		}
	}

	if err := verifyShape(rec, drv); err != nil {
		return nil, err
	}

	return &Enforcer{driver: drv, storageType: t, capabilities: rec.Capabilities}, nil
}

// verifyShape implements §4.1's three post-construction checks.
func verifyShape(rec *Record, drv Driver) error {
	details := map[string]interface{}{}

	if drv.GetType() != rec.StorageType {
		details["typeMismatch"] = map[string]string{"expected": string(rec.StorageType), "got": string(drv.GetType())}
	}

	declared := drv.GetCapabilities()
	declaredSet := map[store.Capability]bool{}
	for _, c := range declared {
		declaredSet[c] = true
	}
	registeredSet := map[store.Capability]bool{}
	for _, c := range rec.Capabilities {
		registeredSet[c] = true
	}

	var missingMethods []string
	var advertisedOnly []store.Capability
	var detectedOnly []store.Capability

	for c := range declaredSet {
		if !registeredSet[c] {
			advertisedOnly = append(advertisedOnly, c)
		}
	}
	for c := range registeredSet {
		if !declaredSet[c] {
			detectedOnly = append(detectedOnly, c)
		}
	}

	// the enforced capability set is the intersection: a driver can only
	// be held to methods both the registry and the driver itself agree it
	// supports.
	for c := range declaredSet {
		if !registeredSet[c] {
			continue
		}
		if !satisfiesCapability(drv, c) {
			missingMethods = append(missingMethods, requiredMethods[c]...)
		}
	}

	if len(missingMethods) > 0 {
		details["missingMethods"] = missingMethods
	}
	if len(advertisedOnly) > 0 {
		details["advertisedOnly"] = advertisedOnly
	}
	if len(detectedOnly) > 0 {
		details["registeredOnly"] = detectedOnly
	}

	if len(details) > 0 {
		return ferrors.DriverContractError(details, "driver %s failed contract verification", rec.StorageType)
	}
	return nil
}
