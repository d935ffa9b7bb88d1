// Command routc is the ahead-of-time compiler driver: it runs the full
// lex → parse → analyze → optimize → generate pipeline over one IL
// source file and writes the resulting WebAssembly text module (and,
// if wat2wasm is on PATH, the assembled binary) to an output directory.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"

	"routc/pkg/analyzer"
	"routc/pkg/codegen"
	"routc/pkg/lexer"
	"routc/pkg/optimizer"
	"routc/pkg/parser"
)

// globalOptions holds the flags shared by every subcommand.
type globalOptions struct {
	Verbose bool `short:"v" long:"verbose" description:"include per-stage timing and diagnostic counts"`
}

// compileCommand is `routc compile <input.rout> [<output_dir>]`. go-flags
// calls Execute once the command and its positional args are parsed.
type compileCommand struct {
	Positional struct {
		Input     string `positional-arg-name:"input" description:"path to the .rout source file"`
		OutputDir string `positional-arg-name:"output_dir" description:"directory to write NAME.wat / NAME.wasm into (default: output/)"`
	} `positional-args:"yes" required:"1"`
}

var opts globalOptions

func (c *compileCommand) Execute(args []string) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	outputDir := c.Positional.OutputDir
	if outputDir == "" {
		outputDir = "output"
	}
	return run(logger, c.Positional.Input, outputDir)
}

func main() {
	parserFlags := flags.NewParser(&opts, flags.Default)
	if _, err := parserFlags.AddCommand("compile", "compile one source file to WAT", "compile lexes, parses, analyzes, optimizes, and generates WAT for a single .rout file", &compileCommand{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := parserFlags.Parse(); err != nil {
		code := exitCodeFor(err)
		if code != 0 {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

// exitCodeFor maps a go-flags parse error to a process exit code: 0 for
// the built-in --help request, 1 for everything else.
func exitCodeFor(err error) int {
	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
		return 0
	}
	return 1
}

func run(logger *slog.Logger, inputPath, outputDir string) error {
	start := time.Now()
	src, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	logger.Debug("compiling", "input", inputPath, "name", name)

	p := parser.New(lexer.New(string(src)))
	prog, perr := p.ParseProgram()
	if perr != nil {
		return fmt.Errorf("parsing: %w", perr)
	}
	logger.Debug("parsed", "elapsed", time.Since(start))

	a := analyzer.New()
	warnings, aerr := a.Analyze(prog)
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, w.Error())
	}
	if aerr != nil {
		return fmt.Errorf("analyzing: %w", aerr)
	}
	logger.Debug("analyzed", "warnings", len(warnings), "elapsed", time.Since(start))

	optimized, stats := optimizer.New().Optimize(prog)
	logger.Debug("optimized",
		"folds", stats.FoldsApplied,
		"ifs_simplified", stats.IfsSimplified,
		"dead_statements_removed", stats.DeadStatementsRemoved,
		"elapsed", time.Since(start))

	wat, gerr := codegen.Generate(optimized, a.Context())
	if gerr != nil {
		return fmt.Errorf("generating code: %w", gerr)
	}
	logger.Debug("generated", "elapsed", time.Since(start))

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	watPath := filepath.Join(outputDir, name+".wat")
	if err := os.WriteFile(watPath, []byte(wat), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", watPath, err)
	}
	logger.Info("wrote module", "path", watPath)

	if err := assembleWasm(logger, watPath, outputDir, name); err != nil {
		if !errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("assembling: %w", err)
		}
		logger.Warn("wat2wasm unavailable, skipping .wasm output", "error", err)
	}

	logger.Info("done", "elapsed", time.Since(start))
	return nil
}

// assembleWasm shells out to wat2wasm if it's on PATH. Its absence is a
// warning, not a pipeline failure: the core compiler's contract ends at
// WAT text.
func assembleWasm(logger *slog.Logger, watPath, outputDir, name string) error {
	if _, err := exec.LookPath("wat2wasm"); err != nil {
		return err
	}
	wasmPath := filepath.Join(outputDir, name+".wasm")
	cmd := exec.Command("wat2wasm", watPath, "-o", wasmPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("wat2wasm failed: %w: %s", err, out)
	}
	logger.Info("assembled binary", "path", wasmPath)
	return nil
}
