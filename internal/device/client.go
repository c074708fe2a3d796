package device

import (
	"context"

	"github.com/fleetbridge/backend/internal/inventory"
)

// Client performs exactly one protocol-level action against one device per
// call. Retry policy, if any, belongs to implementations behind this
// interface, never to the orchestration core.
type Client interface {
	// RunCommands executes the commands in order and returns output per command.
	RunCommands(ctx context.Context, host inventory.HostDescriptor, commands []string) (map[string]string, error)
	// FetchConfig retrieves the device's current configuration.
	FetchConfig(ctx context.Context, host inventory.HostDescriptor) (string, error)
	// PushConfig stages a configuration. With commit=false the device returns
	// a preview/diff and changes nothing.
	PushConfig(ctx context.Context, host inventory.HostDescriptor, config string, commit bool) (string, error)
}
