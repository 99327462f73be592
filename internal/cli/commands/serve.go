package commands

import (
	"fmt"

	"github.com/leapstack-labs/nodebook/internal/server"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the project HTTP API",
		Long: `Start an HTTP server exposing the project store. Each loaded project keeps
one live session, so cell bindings survive between requests.

Run output can be streamed with server-sent events from
/api/projects/{id}/cells/{cellID}/run/stream.`,
		Example: `  # Serve on the configured port
  nodebook serve

  # Serve on a custom port
  nodebook serve --port 3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx := NewCommandContext(cmd)
			srvCfg := cctx.Cfg.GetServerConfig()
			if port != 0 {
				srvCfg.Port = port
			}

			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			srv := server.New(server.Config{
				Store:    st,
				Registry: cctx.Registry(),
				UserID:   cctx.Cfg.User,
				Port:     srvCfg.Port,
				Session:  cctx.SessionConfig(),
				Logger:   cctx.Logger,
			})

			_, _ = fmt.Fprintf(cctx.Renderer.ErrWriter(), "Serving on http://localhost:%d\n", srvCfg.Port)
			_, _ = fmt.Fprintln(cctx.Renderer.ErrWriter(), "Press Ctrl+C to stop")

			return srv.Serve(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to serve on (default: 8787)")

	return cmd
}
