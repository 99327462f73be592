package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/state"
	"github.com/spf13/cobra"
)

// NewProjectsCommand creates the projects command group.
func NewProjectsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project"},
		Short:   "Manage stored projects",
		Long: `Manage the projects kept in the project store. Projects belong to the
configured user; see the "user" config key.`,
	}

	cmd.AddCommand(newProjectsListCommand())
	cmd.AddCommand(newProjectsNewCommand())
	cmd.AddCommand(newProjectsRemoveCommand())
	cmd.AddCommand(newProjectsRenameCommand())
	cmd.AddCommand(newProjectsPublishCommand())

	return cmd
}

func newProjectsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cctx := NewCommandContext(cmd)
			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			projects, err := st.List(cmd.Context(), cctx.Cfg.User)
			if err != nil {
				return err
			}
			return renderProjects(cctx.Renderer, projects)
		},
	}
}

func renderProjects(r *output.Renderer, projects []*state.Project) error {
	if r.EffectiveMode() == output.ModeJSON {
		if projects == nil {
			projects = []*state.Project{}
		}
		return r.JSON(projects)
	}
	if len(projects) == 0 {
		r.Muted("no projects")
		return nil
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		cells := "?"
		if nb, err := p.Notebook(); err == nil {
			cells = fmt.Sprint(len(nb.Cells))
		}
		visibility := "private"
		if p.Public {
			visibility = "public"
		}
		rows = append(rows, []string{p.ID, p.Name, cells, visibility, p.UpdatedAt.Local().Format(time.DateTime)})
	}
	r.Table([]string{"ID", "Name", "Cells", "Visibility", "Updated"}, rows)
	return nil
}

func newProjectsNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new <name>",
		Short: "Create an empty project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := st.Create(cmd.Context(), cctx.Cfg.User, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return renderCreated(cctx.Renderer, p)
		},
	}
}

func renderCreated(r *output.Renderer, p *state.Project) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(p)
	}
	r.Success(fmt.Sprintf("created project %s (%s)", p.Name, p.ID))
	return nil
}

func newProjectsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete projects",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					return err
				}
				cctx.Renderer.Success("deleted " + id)
			}
			return nil
		},
	}
}

func newProjectsRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			name := strings.Join(args[1:], " ")
			if err := st.Rename(cmd.Context(), args[0], name); err != nil {
				return err
			}
			cctx.Renderer.Success(fmt.Sprintf("renamed %s to %s", args[0], name))
			return nil
		},
	}
}

func newProjectsPublishCommand() *cobra.Command {
	var private bool

	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Make a project public",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.SetPublic(cmd.Context(), args[0], !private); err != nil {
				return err
			}
			if private {
				cctx.Renderer.Success(args[0] + " is private")
			} else {
				cctx.Renderer.Success(args[0] + " is public")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&private, "private", false, "Make the project private again")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "import <notebook>",
		Short: "Store a notebook file as a new project",
		Long: `Create a project from a notebook file. JSON and YAML files are accepted,
including exports of the original web application.`,
		Example: `  nodebook import analysis.json --name "Q3 analysis"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			nb, err := readNotebook(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := st.Create(cmd.Context(), cctx.Cfg.User, name)
			if err != nil {
				return err
			}
			if err := st.Save(cmd.Context(), p.ID, nb); err != nil {
				return err
			}
			p, err = st.Get(cmd.Context(), p.ID)
			if err != nil {
				return err
			}
			return renderCreated(cctx.Renderer, p)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Project name (default: file name)")

	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	var format string
	var outFile string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a stored project as a notebook file",
		Example: `  # Print as JSON
  nodebook export a1b2c3

  # Write YAML to a file
  nodebook export a1b2c3 --file analysis.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			st, err := cctx.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			nb, err := p.Notebook()
			if err != nil {
				return err
			}

			f := notebook.Format(format)
			if format == "" {
				f = notebook.FormatJSON
				if outFile != "" {
					f = notebook.FormatFromPath(outFile)
				}
			}
			data, err := nb.Export(f)
			if err != nil {
				return err
			}

			if outFile == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil { //nolint:gosec // notebook files are not secret
				return fmt.Errorf("failed to write %s: %w", outFile, err)
			}
			cctx.Renderer.Success("wrote " + outFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: json or yaml (default: from file extension, else json)")
	cmd.Flags().StringVar(&outFile, "file", "", "Write to this file instead of stdout")

	return cmd
}
