package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lowerc/internal/diag"
	"lowerc/internal/diagfmt"
	"lowerc/internal/driver"
	"lowerc/internal/observ"
	"lowerc/internal/source"
	"lowerc/internal/version"
)

var buildCmd = &cobra.Command{
	Use:   "build [inputs...]",
	Short: "Lower AST modules (*.ast.mp, *.ast.json) to .ll files",
	Long: `Lower every AST module found in the inputs. Directories are searched
recursively. Without inputs, [build].inputs from lowerc.toml is used, then
the project root, then the current directory.`,
	RunE: runBuild,
}

func init() {
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("target", "", "target name or path to a target TOML file")
	f.IntP("jobs", "j", 0, "parallel modules (0 = GOMAXPROCS)")
	f.StringP("out-dir", "o", "", "directory for .ll files")
	f.Bool("no-cache", false, "do not read or write the lowering cache")
	f.Bool("list-symbols", false, "print the symbols of every lowered module")
	f.String("format", "pretty", "diagnostic format (pretty|json|sarif)")
	f.String("ui", "auto", "progress UI (auto|on|off)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, manifest, err := loadSettings(".")
	if err != nil {
		return err
	}
	if err := applyBuildFlags(cmd, &cfg); err != nil {
		return err
	}
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	switch format {
	case "pretty", "json", "sarif":
	default:
		return fmt.Errorf("unsupported format %q (must be pretty, json or sarif)", format)
	}
	uiFlag, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	colors, err := readColorMode(cmd)
	if err != nil {
		return err
	}
	maxDiag, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}
	listSymbols, err := cmd.Flags().GetBool("list-symbols")
	if err != nil {
		return err
	}

	tgt, err := resolveTarget(cfg.Build.Target)
	if err != nil {
		return err
	}
	cleanup, err := setupTracing(cmd, cfg.Trace)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := driver.Options{
		Target:         tgt,
		Jobs:           cfg.Build.Jobs,
		OutDir:         cfg.Build.OutDir,
		MaxDiagnostics: maxDiag,
		Timer:          observ.NewTimer(),
	}
	if cfg.Build.Cache {
		cache, err := driver.OpenDiskCache("lowerc")
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "cache disabled: %v\n", err)
		} else {
			opts.Cache = cache
		}
	}

	files, err := driver.ListInputs(buildInputs(args, cfg, manifest))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no AST modules found")
	}

	var res *driver.Result
	if format == "pretty" && shouldUseTUI(mode) {
		res, err = runBuildWithUI(cmd.Context(), "lowering "+tgt.Name, files, opts)
	} else {
		res, err = driver.BuildAll(cmd.Context(), files, opts)
	}
	if err != nil {
		// внутренняя ошибка: печатаем со стеком
		fmt.Fprintf(cmd.ErrOrStderr(), "internal error: %+v\n", err)
		return errors.New("lowering aborted")
	}

	bag, fs := mergeDiagnostics(res)
	if showTimings && format != "pretty" {
		if d, ok := driver.TimingDiagnostic("build", "", opts.Timer.Report()); ok {
			bag.Add(d)
		}
	}
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		err = diagfmt.JSON(out, bag, fs, diagfmt.JSONOpts{IncludeNotes: true, Max: maxDiag})
	case "sarif":
		err = diagfmt.Sarif(out, bag, fs, diagfmt.SarifRunMeta{
			ToolName:       "lowerc",
			ToolVersion:    version.Version,
			InvocationArgs: os.Args[1:],
		})
	default:
		diagfmt.Pretty(cmd.ErrOrStderr(), bag, fs, diagfmt.PrettyOpts{
			Color:     useColor(colors, os.Stderr),
			ShowNotes: true,
			Max:       maxDiag,
		})
		if listSymbols {
			printSymbols(out, res)
		}
		printSummary(cmd.ErrOrStderr(), res)
		if showTimings {
			fmt.Fprint(cmd.ErrOrStderr(), opts.Timer.Summary())
		}
	}
	if err != nil {
		return err
	}
	if n := res.Failed(); n > 0 {
		return fmt.Errorf("%d of %d module(s) failed", n, len(res.Modules))
	}
	return nil
}

// mergeDiagnostics folds every module's bag into one, re-registering file
// names in a shared FileSet.
func mergeDiagnostics(res *driver.Result) (*diag.Bag, *source.FileSet) {
	fs := source.NewFileSet()
	bag := diag.NewBag(0)
	remap := func(files *source.FileSet, pos source.Pos) source.Pos {
		if pos.File == source.NoFile {
			return pos
		}
		pos.File = fs.Add(files.Path(pos.File))
		return pos
	}
	for _, mr := range res.Modules {
		if mr.Bag == nil {
			continue
		}
		for _, d := range mr.Bag.Items() {
			d.Primary = remap(mr.Files, d.Primary)
			notes := make([]diag.Note, len(d.Notes))
			for i, n := range d.Notes {
				notes[i] = diag.Note{Pos: remap(mr.Files, n.Pos), Msg: n.Msg}
			}
			d.Notes = notes
			bag.Add(d)
		}
	}
	bag.Sort()
	return bag, fs
}

func printSymbols(w io.Writer, res *driver.Result) {
	for _, mr := range res.Modules {
		if mr.Err != nil {
			continue
		}
		fmt.Fprintf(w, "%s:\n", mr.Name)
		for _, sym := range mr.Symbols {
			fmt.Fprintf(w, "  %s\n", sym)
		}
	}
}

func printSummary(w io.Writer, res *driver.Result) {
	cached := 0
	for _, mr := range res.Modules {
		if mr.Cached {
			cached++
		}
	}
	fmt.Fprintf(w, "lowered %d module(s), %d cached, %d failed\n", len(res.Modules)-res.Failed(), cached, res.Failed())
}
