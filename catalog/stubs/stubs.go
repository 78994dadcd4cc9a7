// Package stubs registers the demo tools of the HR, identity and code
// generator servers. Each returns a fixed acknowledgement.
package stubs

import (
	"context"

	"github.com/ggoodman/mcp-server-template/registry"
)

func fixed(name, title, description, reply string) registry.Descriptor {
	return registry.NewTool(name, func(context.Context, struct{}) (registry.Output, error) {
		return registry.Text(reply), nil
	}, registry.WithTitle(title), registry.WithDescription(description))
}

// RegisterHR adds createEmployeeRecord.
func RegisterHR(reg *registry.Registry) {
	reg.Register(registry.Tool, fixed("createEmployeeRecord", "HR Employee",
		"Creates a new employee record in HR system (demo stub)", "Employee record created (demo)"))
}

// RegisterIdentity adds provisionUserIdentity.
func RegisterIdentity(reg *registry.Registry) {
	reg.Register(registry.Tool, fixed("provisionUserIdentity", "Identity Provisioning",
		"Provisions a new user identity (demo stub)", "User identity provisioned (demo)"))
}

// RegisterJava adds generateJavaCode.
func RegisterJava(reg *registry.Registry) {
	reg.Register(registry.Tool, fixed("generateJavaCode", "Java Code Generator",
		"I give you secure java code", "Java Code"))
}

// RegisterPython adds generatePythonCode.
func RegisterPython(reg *registry.Registry) {
	reg.Register(registry.Tool, fixed("generatePythonCode", "Python Code Generator",
		"I give you secure Python code", "Broken Python Code"))
}
