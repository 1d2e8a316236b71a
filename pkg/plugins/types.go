package plugins

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flatbed/pescan/pkg/identity"
)

// ErrBadImage is wrapped by Host.LoadUnit errors for files that are not
// loadable images. The Loader adds such files to the bad file set.
var ErrBadImage = errors.New("bad image format")

// ConnectMode tells the host when a plugin was discovered
type ConnectMode int

const (
	// Startup plugins come from the initial LoadPlugins pass
	Startup ConnectMode = iota
	// AfterStartup plugins come from a change notification or a rescan
	AfterStartup
)

func (m ConnectMode) String() string {
	switch m {
	case Startup:
		return "startup"
	case AfterStartup:
		return "after_startup"
	default:
		return "unknown"
	}
}

// ParseConnectMode parses a mode name as produced by String
func ParseConnectMode(s string) (ConnectMode, error) {
	switch s {
	case "startup":
		return Startup, nil
	case "after_startup":
		return AfterStartup, nil
	default:
		return 0, fmt.Errorf("unknown connect mode: %q", s)
	}
}

// MarshalText encodes the mode by name
func (m ConnectMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Unit is a component loaded by the host
type Unit struct {
	Path     string
	Identity identity.Identity
}

// Description is a plugin the host has loaded
type Description struct {
	TypeName string            `json:"type_name"`
	Source   string            `json:"source"`
	Identity identity.Identity `json:"identity"`
	Mode     ConnectMode       `json:"mode"`
	LoadedAt time.Time         `json:"loaded_at"`
}

// Host loads components and instantiates plugins. The Loader only reads
// Plugins and never modifies the host registry itself.
type Host interface {
	// LoadUnit loads the component at path. Errors wrapping ErrBadImage mark
	// the file as bad.
	LoadUnit(ctx context.Context, path string) (Unit, error)

	// LoadPlugin instantiates typeName from unit
	LoadPlugin(ctx context.Context, unit Unit, typeName, source string, mode ConnectMode)

	// Plugins lists the plugins loaded so far
	Plugins() []Description
}

// Duplicate is a component skipped because its identity was already loaded
// from another path
type Duplicate struct {
	Identity string `json:"identity"`
	Path     string `json:"path"`
	Original string `json:"original"`
}

// Summary reports one LoadPlugins or Rescan run
type Summary struct {
	RunID      string      `json:"run_id"`
	Components []string    `json:"components"`
	Plugins    int         `json:"plugins"`
	Duplicates []Duplicate `json:"duplicates,omitempty"`
}
