package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/nodebook/internal/cli/config"
	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/leapstack-labs/nodebook/internal/harness"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/registry"
	"github.com/leapstack-labs/nodebook/internal/state"
	"github.com/spf13/cobra"
)

// fetchTimeout bounds a single module download.
const fetchTimeout = 30 * time.Second

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext with a renderer for cmd.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// SessionConfig returns the engine configuration for notebook sessions.
func (c *CommandContext) SessionConfig() engine.Config {
	return engine.Config{
		RelowerDelay: c.Cfg.RelowerDelay,
		MinRunTime:   c.Cfg.MinRunTime,
		Fetcher:      harness.HTTPFetcher{Client: &http.Client{Timeout: fetchTimeout}},
		Logger:       c.Logger,
	}
}

// NewSession starts an engine session over project.
func (c *CommandContext) NewSession(project *notebook.Project) *engine.Session {
	return engine.NewSession(project, c.SessionConfig())
}

// Registry returns a package registry client.
func (c *CommandContext) Registry() *registry.Client {
	return registry.NewClient(registry.Config{
		APIURL: c.Cfg.RegistryURL,
		CDNURL: c.Cfg.CDNURL,
		Logger: c.Logger,
	})
}

// OpenStore opens the project store. The caller must close it.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.Store, error) {
	cfg := state.Config{
		Driver: state.Driver(c.Cfg.StateDriver),
		Path:   c.Cfg.StatePath,
		DSN:    c.Cfg.StateDSN,
		Logger: c.Logger,
	}
	s, err := state.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open project store: %w", err)
	}
	return s, nil
}

// Helper functions shared across commands

// getConfig returns the current configuration, or defaults when none was
// loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return config.Defaults()
}

// readNotebook loads a notebook file; the format follows the extension.
func readNotebook(path string) (*notebook.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	p, err := notebook.Import(data, notebook.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return p, nil
}

// writeNotebook replaces a notebook file through a temporary file in the
// same directory.
func writeNotebook(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write notebook: %w", err)
	}
	return nil
}

// saveSession writes the session's project back to path.
func saveSession(path string, sess *engine.Session) error {
	data, err := sess.Export(notebook.FormatFromPath(path))
	if err != nil {
		return err
	}
	return writeNotebook(path, data)
}

// cellLabel names a cell by its name, falling back to its id.
func cellLabel(c *notebook.Cell) string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// findCell resolves a cell by id or name.
func findCell(p *notebook.Project, ref string) (*notebook.Cell, error) {
	if c, err := p.Cell(ref); err == nil {
		return c, nil
	}
	for _, c := range p.Cells {
		if c.Name == ref {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", notebook.ErrCellNotFound, ref)
}
