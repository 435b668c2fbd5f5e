package server

import (
	"fmt"

	"github.com/mwantia/gamevault/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/mwantia/gamevault/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the GameVault agent",
		Long: `Start the GameVault agent.

The agent recovers deletions interrupted by a previous run, then runs the
reaper, content sweep and blob scan schedules until it is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(cmd.Context())
		},
	}

	return cmd
}
