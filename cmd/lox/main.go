// Command lox is the CLI entry point for the Lox bytecode interpreter:
// compile and run a .lox source file, or drop into an interactive REPL.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/disasm"
	"github.com/kristofer/loxvm/pkg/vm"
)

const version = "0.1.0"

var (
	traceLevel  int
	stressGC    bool
	stackSize   int
	gcThreshold int

	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow)
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "lox [file]",
		Short:   "A bytecode interpreter for Lox",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
		// A bare `lox path/to/script.lox` runs that file; a bare `lox`
		// with no arguments starts the REPL, matching the teacher's
		// own default-to-REPL convention.
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				runREPL()
				return nil
			}
			return runFile(args[0])
		},
	}
	root.PersistentFlags().CountVarP(&traceLevel, "trace", "v", "increase logging verbosity (-v for info, -vv for debug)")
	root.PersistentFlags().BoolVar(&stressGC, "stress-gc", false, "collect garbage on every allocation")
	root.PersistentFlags().IntVar(&stackSize, "stack-size", vm.DefaultStackSize, "value stack capacity, in slots")
	root.PersistentFlags().IntVar(&gcThreshold, "gc-threshold", 0, "initial GC collection threshold, in bytes (0 = VM default)")

	run := &cobra.Command{
		Use:   "run <file.lox>",
		Short: "Run a Lox source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0])
		},
	}

	repl := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive Lox REPL",
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL()
			return nil
		},
	}

	disassemble := &cobra.Command{
		Use:   "disasm <file.lox>",
		Short: "Compile a file and print its disassembled bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disasmFile(args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the interpreter version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lox version %s\n", version)
		},
	}

	root.AddCommand(run, repl, disassemble, versionCmd)
	return root
}

// newLogger maps the graduated -v/--trace count to a zerolog level: off
// by default, info at one -v, debug at two or more.
func newLogger() zerolog.Logger {
	level := zerolog.Disabled
	switch {
	case traceLevel >= 2:
		level = zerolog.DebugLevel
	case traceLevel == 1:
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func runFile(path string) error {
	log := newLogger()
	source, err := os.ReadFile(path)
	if err != nil {
		return reportError(errors.Wrapf(err, "reading %s", path))
	}

	log.Debug().Str("file", path).Msg("compiling")
	script, err := compiler.Compile(string(source))
	if err != nil {
		return reportError(err)
	}

	log.Debug().Str("file", path).Msg("running")
	machine := vm.New(vmOptions(log)...)
	if err := machine.Interpret(script); err != nil {
		return reportError(err)
	}
	return nil
}

// vmOptions assembles the vm.Option set from the CLI flags shared by
// `run` and `repl`.
func vmOptions(log zerolog.Logger) []vm.Option {
	opts := []vm.Option{vm.WithLogger(log), vm.WithStackSize(stackSize), vm.WithGCThreshold(gcThreshold)}
	if stressGC {
		opts = append(opts, vm.WithStressGC())
	}
	return opts
}

func disasmFile(path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return reportError(errors.Wrapf(err, "reading %s", path))
	}
	script, err := compiler.Compile(string(source))
	if err != nil {
		return reportError(err)
	}
	fmt.Print(disasm.Disassemble(script.Chunk, path))
	return nil
}

// reportError prints a colorized diagnostic to stderr and returns an
// error so cobra exits non-zero, matching §6's "non-zero on compile or
// runtime error" contract without dictating the message format.
func reportError(err error) error {
	errColor.Fprintln(os.Stderr, err.Error())
	return err
}

// runREPL reads one line at a time, compiling and running each as its
// own script against a VM whose globals persist across lines — a
// supplement to the single-file contract, in the teacher's own idiom
// of shipping a REPL alongside file execution.
func runREPL() {
	warnColor.Fprintln(os.Stderr, "lox REPL — Ctrl+D to exit")
	machine := vm.New(vmOptions(newLogger())...)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		script, err := compiler.Compile(line)
		if err != nil {
			errColor.Fprintln(os.Stderr, err.Error())
			continue
		}
		if err := machine.Interpret(script); err != nil {
			errColor.Fprintln(os.Stderr, err.Error())
		}
	}
}
