package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/taxonsync/cmd/taxonsync/cmd/apply"
	"github.com/agentstation/taxonsync/cmd/taxonsync/cmd/mockplatform"
	"github.com/agentstation/taxonsync/cmd/taxonsync/cmd/sync"
)

// CreateSyncCommand creates the sync command with app dependencies.
func (a *App) CreateSyncCommand() *cobra.Command {
	return sync.NewCommand(a)
}

// CreateApplyCommand creates the apply command with app dependencies.
func (a *App) CreateApplyCommand() *cobra.Command {
	return apply.NewCommand(a)
}

// CreateMockPlatformCommand creates the mock-platform command with app
// dependencies.
func (a *App) CreateMockPlatformCommand() *cobra.Command {
	return mockplatform.NewCommand(a)
}
