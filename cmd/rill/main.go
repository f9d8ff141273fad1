package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/rill-lang/rill"
)

const historyFile = ".rill_history"

func main() {
	if len(os.Args) > 1 {
		os.Exit(runFile(os.Args[1], os.Args[2:]))
	}
	os.Exit(runREPL())
}

// runFile loads and executes a single script the way a teacher-style
// embedder's standalone launcher does: parse, compile, open the
// standard library into a fresh VM, run.
func runFile(path string, scriptArgs []string) int {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	vm := rill.NewVM(rill.NewConfig())
	env := vm.Globals()
	rill.OpenLibs(vm, env)
	installArgs(vm, env, scriptArgs)

	proto, err := compile(path, string(src))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, err := vm.Run(proto); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// installArgs exposes a script's command-line arguments as the global
// `arg` table (arg[1], arg[2], ...), mirroring how the CLI binds
// invocation arguments into the running chunk's environment.
func installArgs(vm *rill.VM, env *rill.Table, args []string) {
	t := rill.NewTable(len(args), 0)
	for i, a := range args {
		t.Set(rill.NewValueNumber(float64(i+1)), rill.NewValueString(vm.Intern(a)))
	}
	env.Set(rill.NewValueString(vm.Intern("arg")), rill.NewValueTable(t))
}

func compile(chunk, src string) (*rill.Prototype, error) {
	block, err := rill.Parse(chunk, src)
	if err != nil {
		return nil, err
	}
	return rill.Compile(chunk, block)
}

// runREPL is the interactive read-eval-print loop, built on
// peterh/liner for line editing and persistent history and
// fatih/color (through a colorable writer, so Windows consoles still
// render escapes) for result and error styling (the prompt itself is
// plain), in place of the
// teacher's bare bufio.Scanner loop.
func runREPL() int {
	out := colorable.NewColorableStdout()
	errColor := color.New(color.FgRed)
	okColor := color.New(color.FgGreen)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	prompt := "> "
	if !interactive {
		prompt = ""
	}

	vm := rill.NewVM(rill.NewConfig())
	env := vm.Globals()
	rill.OpenLibs(vm, env)

	fmt.Fprintln(out, "rill")

	for {
		text, err := line.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return 0
			}
			fmt.Fprintln(out, err)
			return 1
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		line.AppendHistory(text)

		if text == ".mem" {
			stats := vm.Global().ScanHeap()
			fmt.Fprintf(out, "tracked: %d bytes, heap scan: %s\n", stats.Tracked, stats.HeapScan.Total)
			continue
		}

		proto, err := compile("stdin", text)
		if err != nil {
			errColor.Fprintln(out, err)
			continue
		}
		rets, err := vm.Run(proto)
		if err != nil {
			errColor.Fprintln(out, err)
			continue
		}
		for _, v := range rets {
			if v.Kind() == rill.KindTable {
				okColor.Fprintln(out, rill.HighlightPrettyValue(v))
				continue
			}
			okColor.Fprintln(out, rill.ToStringNoMeta(v))
		}
	}
}
