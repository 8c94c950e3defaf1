package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	saved := *Config
	defer func() { *Config = saved }()

	// Node defaults are valid out of the box.
	Config.Role = RoleNode
	require.NoError(t, Validate())
}

func TestValidate_CoordinatorNeedsNodes(t *testing.T) {
	saved := *Config
	defer func() { *Config = saved }()

	Config.Role = RoleCoordinator
	Config.Coordinator.Nodes = nil
	require.Error(t, Validate())

	Config.Coordinator.Nodes = []string{"127.0.0.1:8001"}
	require.NoError(t, Validate())
}

func TestValidate_RejectsBadRole(t *testing.T) {
	saved := *Config
	defer func() { *Config = saved }()

	Config.Role = Role("gateway")
	require.Error(t, Validate())
}

func TestValidate_RejectsBadLockTimeout(t *testing.T) {
	saved := *Config
	defer func() { *Config = saved }()

	Config.Role = RoleNode
	Config.Lock.WaitTimeoutMS = 0
	require.Error(t, Validate())
}
