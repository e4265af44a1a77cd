package flowauthor

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the flow-author component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "flow-author",
		Factory:     NewComponent,
		Schema:      flowAuthorSchema,
		Type:        "processor",
		Protocol:    "flow",
		Domain:      "flowdraft",
		Description: "Drives AI workflow authoring turns with preview/commit semantics",
		Version:     "0.1.0",
	})
}
