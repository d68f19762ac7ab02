// pvmrun loads a PVM image and drives its interpreter to completion,
// printing the terminal error code (MainReturn on ordinary exit).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"pvm/pkg/builtins"
	"pvm/pkg/exe"
	"pvm/pkg/host"
	"pvm/pkg/vm"
)

var (
	flagMaxSteps = flag.Int("max-steps", 1_000_000, "abort after this many steps (0 = unlimited)")
	flagTrace    = flag.Bool("trace", false, "print a line per executed step")
	flagQuiet    = flag.Bool("quiet", false, "suppress the final status line")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: pvmrun [flags] <image-file>")
		os.Exit(2)
	}

	if err := run(args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "pvmrun: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	img, err := exe.Parse(data)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	start := time.Now()
	machine := &vm.VM{
		Exe:      img,
		Clock:    host.ClockFunc(func() uint32 { return uint32(time.Since(start).Milliseconds()) }),
		Builtins: builtins.New(os.Stdout, start),
	}
	if *flagTrace {
		machine.Tracer = host.NewPrintTracer(os.Stderr)
	}
	machine.Reset()

	steps := 0
	for {
		errno := machine.Step()
		steps++
		if errno != vm.NoError {
			if !*flagQuiet {
				fmt.Fprintf(os.Stdout, "pvmrun: %s (%d steps)\n", errno, steps)
			}
			if errno == vm.MainReturn {
				return nil
			}
			return errno
		}
		if *flagMaxSteps > 0 && steps >= *flagMaxSteps {
			return fmt.Errorf("exceeded max-steps (%d) without terminating", *flagMaxSteps)
		}
	}
}
