package rill

import (
	"fmt"
	"strconv"
)

// valueprinter.go generalizes tree_printer.go's TreePrinter
// (component: "tree-pretty-printing of runtime values" per the
// supplemented-features list) from parse-tree Values to Rill's own
// runtime Values: tables, closures, and threads render as a branching
// tree instead of the flat `tostring` one-liner, for the REPL's
// `inspect` builtin and for debugging.

type valueFormatToken int

const (
	tokNone valueFormatToken = iota
	tokKind
	tokLiteral
	tokAddr
)

var valuePrinterTheme = map[valueFormatToken]string{
	tokNone:    "\033[0m",
	tokKind:    "\033[1;31;5;228m",
	tokLiteral: "\033[1;38;5;245m",
	tokAddr:    "\033[1;38;5;127m",
}

// PrettyValue renders v as an indented tree with no color codes.
func PrettyValue(v Value) string {
	p := newValuePrinter(func(s string, _ valueFormatToken) string { return s })
	p.visit(v, map[*Table]bool{})
	return p.output.String()
}

// HighlightPrettyValue is PrettyValue with ANSI color codes, the
// uncolored/colored pair mirroring the PEG compiler's own
// PrettyString/HighlightPrettyString split.
func HighlightPrettyValue(v Value) string {
	p := newValuePrinter(func(s string, tok valueFormatToken) string {
		return valuePrinterTheme[tok] + s + valuePrinterTheme[tokNone]
	})
	p.visit(v, map[*Table]bool{})
	return p.output.String()
}

type valuePrinter struct {
	*treePrinter[valueFormatToken]
}

func newValuePrinter(format FormatFunc[valueFormatToken]) *valuePrinter {
	return &valuePrinter{newTreePrinter(format)}
}

func (p *valuePrinter) visit(v Value, seen map[*Table]bool) {
	switch v.Kind() {
	case KindNil:
		p.write(p.format("nil", tokLiteral))
	case KindBool:
		p.write(p.format(strconv.FormatBool(v.AsBool()), tokLiteral))
	case KindNumber:
		p.write(p.format(strconv.FormatFloat(v.AsNumber(), 'g', -1, 64), tokLiteral))
	case KindString:
		p.write(p.format(strconv.Quote(v.AsStr().String()), tokLiteral))
	case KindTable:
		p.visitTable(v.AsTable(), seen)
	case KindFunction:
		p.write(p.format(fmt.Sprintf("function: %p", v.AsClosure()), tokAddr))
	case KindUserdata:
		p.write(p.format(fmt.Sprintf("userdata: %p", v.AsUserdata()), tokAddr))
	case KindThread:
		th := v.AsThread()
		p.write(p.format(fmt.Sprintf("thread<%s>: %p", th.status, th), tokAddr))
	}
}

func (p *valuePrinter) visitTable(t *Table, seen map[*Table]bool) {
	if seen[t] {
		p.write(p.format(fmt.Sprintf("table: %p (cycle)", t), tokAddr))
		return
	}
	seen[t] = true

	n := t.Len()
	header := fmt.Sprintf("table: %p (%d)", t, n)
	p.writel(p.format(header, tokKind))

	var k Value
	entries := make([][2]Value, 0, n)
	for {
		nk, nv, ok := t.Next(k)
		if !ok {
			break
		}
		entries = append(entries, [2]Value{nk, nv})
		k = nk
	}

	for i, e := range entries {
		last := i == len(entries)-1
		if last {
			p.pwrite("└── ")
			p.indent("    ")
		} else {
			p.pwrite("├── ")
			p.indent("│   ")
		}
		p.visit(e[0], seen)
		p.write(" = ")
		p.visit(e[1], seen)
		p.unindent()
		if !last {
			p.write("\n")
		}
	}
}
