// Package mockplatform implements the mock-platform command.
package mockplatform

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/agentstation/taxonsync/internal/cmd/application"
	"github.com/agentstation/taxonsync/internal/cmd/wiring"
	"github.com/agentstation/taxonsync/internal/platforms/memory"
	"github.com/agentstation/taxonsync/internal/platforms/mockserver"
	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
)

// NewCommand creates the mock-platform command using app context.
func NewCommand(app application.Application) *cobra.Command {
	var addr, id string

	cmd := &cobra.Command{
		Use:     "mock-platform",
		GroupID: "tools",
		Short:   "Serve an in-memory platform over the REST contract",
		Long: `Mock-platform serves an empty in-memory platform with the routes the
rest platform type speaks. Unique keys are enforced the way a real
platform would, so conflicts and relocations can be exercised locally.
State is lost when the server stops.`,
		Example: `  taxonsync mock-platform --addr 127.0.0.1:8081
  # then configure a platform with type: rest and base_url: http://127.0.0.1:8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return errors.WrapResource("listen", "mock platform", addr, err)
			}
			handler := mockserver.NewServer(memory.New(catalog.PlatformID(id)),
				mockserver.WithMiddlewares(mockserver.LoggingMiddleware))
			fmt.Fprintf(cmd.OutOrStdout(), "Serving mock platform %q on http://%s\n", id, listener.Addr())
			return wiring.Serve(cmd.Context(), app.Logger(), listener, handler)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8081", "listen address")
	cmd.Flags().StringVar(&id, "id", "mock", "platform id reported by /health")

	return cmd
}
