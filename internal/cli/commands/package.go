package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/spf13/cobra"
)

// NewPackageCommand creates the package command group.
func NewPackageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "package",
		Aliases: []string{"pkg"},
		Short:   "Find npm packages and register them in notebooks",
		Long: `Look up npm packages in the registry and register them in a notebook
file so its cells can import them by name.`,
	}

	cmd.AddCommand(newPackageSearchCommand())
	cmd.AddCommand(newPackageAddCommand())
	cmd.AddCommand(newPackageListCommand())
	cmd.AddCommand(newPackageRemoveCommand())

	return cmd
}

func newPackageSearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <name>",
		Short: "Show the versions of an npm package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			r := cctx.Renderer
			reg := cctx.Registry()

			info, err := reg.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(info)
			}

			r.Header(info.Name)
			rows := make([][]string, 0, len(info.Versions))
			for _, v := range info.Versions {
				var tags []string
				for tag, tv := range info.Tags {
					if tv == v {
						tags = append(tags, tag)
					}
				}
				sort.Strings(tags)
				rows = append(rows, []string{v, strings.Join(tags, ", "), reg.ModuleURL(info.Name, v)})
			}
			r.Table([]string{"Version", "Tags", "URL"}, rows)
			return nil
		},
	}
}

func newPackageAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <notebook> <name>[@version]...",
		Short: "Register packages in a notebook file",
		Example: `  # Latest version
  nodebook package add analysis.json lodash-es

  # Pinned and scoped
  nodebook package add analysis.json date-fns@3.6.0 @observablehq/plot`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			path := args[0]
			nb, err := readNotebook(path)
			if err != nil {
				return err
			}

			reg := cctx.Registry()
			for _, ref := range args[1:] {
				name, version := splitPackageRef(ref)
				pkg, err := reg.Package(cmd.Context(), name, version)
				if err != nil {
					return err
				}
				nb.AddPackage(pkg)
				cctx.Renderer.Success(fmt.Sprintf("added %s@%s", pkg.Name, pkg.Version))
			}
			return exportTo(path, nb)
		},
	}
}

func newPackageListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list <notebook>",
		Aliases: []string{"ls"},
		Short:   "List the packages of a notebook file",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			r := cctx.Renderer
			nb, err := readNotebook(args[0])
			if err != nil {
				return err
			}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(nb.Packages)
			}
			if len(nb.Packages) == 0 {
				r.Muted("no packages")
				return nil
			}
			rows := make([][]string, 0, len(nb.Packages))
			for _, pkg := range nb.Packages {
				rows = append(rows, []string{pkg.Name, pkg.Version, pkg.URL})
			}
			r.Table([]string{"Name", "Version", "URL"}, rows)
			return nil
		},
	}
}

func newPackageRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <notebook> <name>...",
		Aliases: []string{"remove"},
		Short:   "Unregister packages from a notebook file",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx := NewCommandContext(cmd)
			path := args[0]
			nb, err := readNotebook(path)
			if err != nil {
				return err
			}
			for _, name := range args[1:] {
				if err := nb.RemovePackage(name); err != nil {
					return err
				}
				cctx.Renderer.Success("removed " + name)
			}
			return exportTo(path, nb)
		},
	}
}

// exportTo writes nb to path in the format its extension selects.
func exportTo(path string, nb *notebook.Project) error {
	data, err := nb.Export(notebook.FormatFromPath(path))
	if err != nil {
		return err
	}
	return writeNotebook(path, data)
}
