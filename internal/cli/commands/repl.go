package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/nodebook/internal/cli/output"
	"github.com/leapstack-labs/nodebook/internal/engine"
	"github.com/leapstack-labs/nodebook/internal/harness"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/registry"
	"github.com/leapstack-labs/nodebook/internal/store"
	"github.com/spf13/cobra"
)

const (
	replPrompt         = "nodebook> "
	replContinuePrompt = "     ...> "
	previewWidth       = 60
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl [notebook]",
		Short: "Evaluate TypeScript interactively",
		Long: `Start an interactive session. Every input becomes a new cell that sees the
bindings of the inputs before it. When a notebook file is given its cells are
run first.

End a line with a backslash to continue the input on the next line.`,
		Example: `  # Start an empty session
  nodebook repl

  # Continue from a notebook
  nodebook repl analysis.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runREPL(cmd, path)
		},
	}
}

// replSession evaluates REPL input against an engine session.
type replSession struct {
	sess     *engine.Session
	registry *registry.Client
	r        *output.Renderer
	path     string
}

func runREPL(cmd *cobra.Command, path string) error {
	ctx := cmd.Context()
	cctx := NewCommandContext(cmd)

	project := notebook.New()
	if path != "" {
		p, err := readNotebook(path)
		if err != nil {
			return err
		}
		project = p
	}

	sess := cctx.NewSession(project)
	defer sess.Close()

	repl := &replSession{sess: sess, registry: cctx.Registry(), r: cctx.Renderer, path: path}
	if path != "" {
		if _, err := sess.RunAll(ctx); err != nil {
			cctx.Renderer.Warning(err.Error())
		}
	}

	// Setup history file (project-local)
	historyFile := filepath.Join(filepath.Dir(cctx.Cfg.StatePath), "repl_history")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    repl.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".exit",
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "nodebook REPL")
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .exit to quit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		if buf.Len() == 0 && strings.HasPrefix(strings.TrimSpace(line), ".") {
			if quit := repl.dot(ctx, strings.TrimSpace(line)); quit {
				break
			}
			continue
		}

		if rest, ok := strings.CutSuffix(line, "\\"); ok {
			buf.WriteString(rest)
			buf.WriteString("\n")
			rl.SetPrompt(replContinuePrompt)
			continue
		}
		buf.WriteString(line)
		rl.SetPrompt(replPrompt)

		source := buf.String()
		buf.Reset()
		if strings.TrimSpace(source) == "" {
			continue
		}
		repl.eval(ctx, source)
	}

	return nil
}

// eval runs source as a new cell. Cells that cannot be lowered are dropped
// again so they do not linger in the notebook.
func (s *replSession) eval(ctx context.Context, source string) {
	c := s.sess.AddCell("", source)
	res, err := s.sess.RunCell(ctx, c.ID)
	if err != nil {
		_ = s.sess.RemoveCell(c.ID)
		s.r.Error(err.Error())
		return
	}
	if out := strings.TrimPrefix(res.Output, harness.OutputMarker+"\n"); strings.TrimSpace(out) != "" {
		s.r.Println(strings.TrimRight(out, "\n"))
	}
	if res.Failed {
		s.r.Muted("(bindings not stored)")
	}
}

// dot handles a dot-command and reports whether the REPL should exit.
func (s *replSession) dot(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(s.r.Writer())

	case ".cells":
		s.printCells()

	case ".store":
		s.printStore()

	case ".packages":
		s.printPackages()

	case ".package":
		if len(parts) < 2 {
			s.r.Error("Usage: .package <name>[@version]")
			return false
		}
		name, version := splitPackageRef(parts[1])
		pkg, err := s.registry.Package(ctx, name, version)
		if err != nil {
			s.r.Error(err.Error())
			return false
		}
		_ = s.sess.Update(func(p *notebook.Project) error {
			p.AddPackage(pkg)
			return nil
		})
		s.r.Success(fmt.Sprintf("added %s@%s", pkg.Name, pkg.Version))

	case ".save":
		path := s.path
		if len(parts) > 1 {
			path = parts[1]
		}
		if path == "" {
			s.r.Error("Usage: .save <file>")
			return false
		}
		if err := saveSession(path, s.sess); err != nil {
			s.r.Error(err.Error())
			return false
		}
		s.path = path
		s.r.Success("saved " + path)

	default:
		s.r.Error(fmt.Sprintf("Unknown command: %s (type .help for commands)", command))
	}
	return false
}

func (s *replSession) printCells() {
	var rows [][]string
	s.sess.View(func(p *notebook.Project) {
		for i, c := range p.Cells {
			status := "not run"
			switch {
			case c.LastError != "":
				status = "error"
			case c.HasRun:
				status = "ran"
			}
			rows = append(rows, []string{
				fmt.Sprint(i + 1), cellLabel(c), firstLine(c.Source), listOrNone(c.Store.Names()), status,
			})
		}
	})
	if len(rows) == 0 {
		s.r.Muted("no cells")
		return
	}
	s.r.Table([]string{"#", "Cell", "Source", "Exports", "Status"}, rows)
}

func (s *replSession) printStore() {
	var rows [][]string
	s.sess.View(func(p *notebook.Project) {
		stores := make([]*store.Store, 0, len(p.Cells))
		for _, c := range p.Cells {
			stores = append(stores, c.Store)
		}
		merged := store.Merge(stores...)
		exported := merged.Export()
		for _, name := range merged.Names() {
			rows = append(rows, []string{name, preview(exported[name])})
		}
	})
	if len(rows) == 0 {
		s.r.Muted("no bindings")
		return
	}
	s.r.Table([]string{"Name", "Value"}, rows)
}

func (s *replSession) printPackages() {
	var rows [][]string
	s.sess.View(func(p *notebook.Project) {
		for _, pkg := range p.Packages {
			rows = append(rows, []string{pkg.Name, pkg.Version, pkg.URL})
		}
	})
	if len(rows) == 0 {
		s.r.Muted("no packages")
		return
	}
	s.r.Table([]string{"Name", "Version", "URL"}, rows)
}

func (s *replSession) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".cells"),
		readline.PcItem(".store"),
		readline.PcItem(".packages"),
		readline.PcItem(".package"),
		readline.PcItem(".save"),
		readline.PcItem(".exit"),
	}
	var names []string
	s.sess.View(func(p *notebook.Project) {
		for _, c := range p.Cells {
			names = append(names, c.Store.Names()...)
		}
	})
	sort.Strings(names)
	for _, name := range names {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help                     Show this help message
  .cells                    List the cells evaluated so far
  .store                    Show every binding visible to the next input
  .packages                 List registered packages
  .package <name>[@version] Register an npm package for import
  .save [file]              Write the session as a notebook file
  .exit / .quit             Exit the REPL

Tips:
  - End a line with \ to continue on the next line
  - Bindings from earlier inputs are in scope
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// splitPackageRef splits "name@version", keeping a leading scope "@".
func splitPackageRef(ref string) (name, version string) {
	if i := strings.LastIndex(ref, "@"); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return truncate(line)
}

// preview renders an exported value on one line.
func preview(v any) string {
	if v == nil {
		return "undefined"
	}
	if reflect.TypeOf(v).Kind() == reflect.Func {
		return "[Function]"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return truncate(fmt.Sprint(v))
	}
	return truncate(string(data))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > previewWidth {
		return string(r[:previewWidth-1]) + "…"
	}
	return s
}
