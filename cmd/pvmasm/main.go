// pvmasm compiles a .pvmasm source file into a raw PVM image.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pvm/pkg/asm"
	"pvm/pkg/exe"
)

var (
	flagOut    = flag.String("o", "", "output path (default: input with .pvm extension)")
	flagDisasm = flag.Bool("disasm", false, "print a disassembly of the compiled code to stdout")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pvmasm [-o out.pvm] [-disasm] <source.pvmasm>")
		os.Exit(2)
	}

	if err := compile(args[0], *flagOut); err != nil {
		fmt.Fprintf(os.Stderr, "pvmasm: %v\n", err)
		os.Exit(1)
	}
}

func compile(in, out string) error {
	src, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in, err)
	}

	data, err := asm.Assemble(string(src))
	if err != nil {
		return err
	}

	if *flagDisasm {
		img, err := exe.Parse(data)
		if err != nil {
			return fmt.Errorf("disassembling %s: %w", in, err)
		}
		fmt.Print(asm.Disassemble(img.Code))
	}

	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + ".pvm"
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	return nil
}
