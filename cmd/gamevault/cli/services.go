package cli

import (
	"context"
	"fmt"

	"github.com/mwantia/gamevault/internal/agent"
	config "github.com/mwantia/gamevault/internal/config/server"
	"github.com/mwantia/gamevault/pkg/log"
)

// OpenServices loads the configuration and opens the metadata store for a one-shot
// command. The caller closes the returned services.
func OpenServices(ctx context.Context) (*agent.Services, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load server configuration: %w", err)
	}

	return agent.OpenServices(ctx, cfg, log.NewLoggerService("gamevault", cfg.Log))
}
