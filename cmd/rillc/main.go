package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rill-lang/rill"
)

const defaultWritePermission = 0644 // -rw-r--r--

var (
	outputPath  string
	listLevel   int
	parseOnly   bool
	stripDebug  bool
	showVersion bool
)

// version is the compiler's self-reported build string, printed by the
// `--version`/`-V` flag (§6.3); overwritten at release-build time via
// -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "rillc [files...]",
		Short: "compile Rill source into bytecode",
		RunE:  run,
	}
	root.Flags().StringVarP(&outputPath, "output", "o", "/dev/stdout", "path to write the compiled chunk")
	root.Flags().CountVarP(&listLevel, "list", "l", "list bytecode (repeat for verbose)")
	root.Flags().BoolVar(&parseOnly, "parse-only", false, "parse and report syntax errors without compiling")
	root.Flags().BoolVar(&stripDebug, "strip-debug", false, "omit debug info (line numbers, local names) from the output")
	root.Flags().BoolVarP(&showVersion, "version", "V", false, "print the compiler version and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println("rillc", version)
		return nil
	}

	proto, err := compileInputs(args)
	if err != nil {
		return err
	}
	if parseOnly {
		return nil
	}
	if stripDebug {
		stripDebugInfo(proto)
	}

	if listLevel > 0 {
		printListing(cmd.OutOrStdout(), proto, listLevel > 1)
	}

	data, err := rill.Dump(proto, rill.DumpOptions{Compress: true})
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, defaultWritePermission)
}

// compileInputs reads from stdin when no file is given, and
// synthesizes a wrapper prototype for multiple files (§6.3): file i
// (counting from 0) becomes `CLOSURE 0 i; CALL 0 1 1`, the whole chunk
// ending in `RETURN 0 1 0`.
func compileInputs(paths []string) (*rill.Prototype, error) {
	if len(paths) == 0 {
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return compileOne("stdin", string(src))
	}
	if len(paths) == 1 {
		data, err := os.ReadFile(paths[0])
		if err != nil {
			return nil, err
		}
		return compileOne(paths[0], string(data))
	}

	protos := make([]*rill.Prototype, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		proto, err := compileOne(p, string(data))
		if err != nil {
			return nil, err
		}
		protos = append(protos, proto)
	}
	return rill.WrapChunks(protos), nil
}

func compileOne(chunk, src string) (*rill.Prototype, error) {
	block, err := rill.Parse(chunk, src)
	if err != nil {
		return nil, err
	}
	if parseOnly {
		return nil, nil
	}
	return rill.Compile(chunk, block)
}

func stripDebugInfo(p *rill.Prototype) {
	p.Debug = nil
	for _, c := range p.Protos {
		stripDebugInfo(c)
	}
}

func printListing(w io.Writer, p *rill.Prototype, verbose bool) {
	fmt.Fprintf(w, "; function %s, %d params, %d upvalues, %d registers\n",
		p.Source, p.NumParams, len(p.Upvals), p.MaxStackSize)
	fmt.Fprintln(w, rill.Disassemble(p))

	if verbose && len(p.Consts) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"index", "kind", "value"})
		for i, k := range p.Consts {
			table.Append([]string{fmt.Sprintf("%d", i), k.Kind().String(), rill.ToStringNoMeta(k)})
		}
		table.Render()
	}

	for _, child := range p.Protos {
		printListing(w, child, verbose)
	}
}
