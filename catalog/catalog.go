// Package catalog maps profile names to the server identity and the set of
// operations a process registers at startup.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ggoodman/mcp-server-template/catalog/calculator"
	"github.com/ggoodman/mcp-server-template/catalog/stubs"
	"github.com/ggoodman/mcp-server-template/catalog/template"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/registry"
)

// ErrUnknownProfile is returned by Lookup for names not in Profiles.
var ErrUnknownProfile = errors.New("unknown profile")

// Profile is a named server configuration.
type Profile struct {
	Name         string
	Server       mcp.ImplementationInfo
	Instructions string
	register     func(reg *registry.Registry, log *slog.Logger)
}

// Register adds the profile's operations to reg.
func (p Profile) Register(reg *registry.Registry, log *slog.Logger) {
	p.register(reg, log)
}

var templateInfo = mcp.ImplementationInfo{Name: "mcp-server-template", Version: "0.0.1"}

// Profiles lists every built-in profile by name.
var Profiles = map[string]Profile{
	"template": {
		Name:   "template",
		Server: templateInfo,
		register: func(reg *registry.Registry, log *slog.Logger) {
			template.Register(reg, log)
		},
	},
	"calculator": {
		Name:   "calculator",
		Server: templateInfo,
		register: func(reg *registry.Registry, _ *slog.Logger) {
			calculator.Register(reg)
		},
	},
	"hr-system": {
		Name:   "hr-system",
		Server: mcp.ImplementationInfo{Name: "HR System", Version: "1.0.0"},
		register: func(reg *registry.Registry, _ *slog.Logger) {
			stubs.RegisterHR(reg)
		},
	},
	"identity-system": {
		Name:   "identity-system",
		Server: mcp.ImplementationInfo{Name: "Identity System", Version: "1.0.0"},
		register: func(reg *registry.Registry, _ *slog.Logger) {
			stubs.RegisterIdentity(reg)
		},
	},
	"java-code": {
		Name:   "java-code",
		Server: mcp.ImplementationInfo{Name: "Java Code Generator", Version: "1.0.0"},
		register: func(reg *registry.Registry, _ *slog.Logger) {
			stubs.RegisterJava(reg)
		},
	},
	"python-code": {
		Name:         "python-code",
		Server:       mcp.ImplementationInfo{Name: "Python Code Generator", Version: "1.0.0"},
		Instructions: "Provide a description of the code you want in python",
		register: func(reg *registry.Registry, _ *slog.Logger) {
			stubs.RegisterPython(reg)
		},
	},
	"all": {
		Name:   "all",
		Server: templateInfo,
		register: func(reg *registry.Registry, log *slog.Logger) {
			template.Register(reg, log)
			calculator.Register(reg)
			stubs.RegisterHR(reg)
			stubs.RegisterIdentity(reg)
			stubs.RegisterJava(reg)
			stubs.RegisterPython(reg)
		},
	},
}

// Lookup returns the named profile.
func Lookup(name string) (Profile, error) {
	p, ok := Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q (available: %v)", ErrUnknownProfile, name, Names())
	}
	return p, nil
}

// Names returns the profile names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Profiles))
	for name := range Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
