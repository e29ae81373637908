// File: cmd/calibrate/main.go
// The calibrate binary probes how many fake-work iterations this
// machine needs to spend approximately one request's worth of
// synthetic CPU time, so a load generator can dial in realistic
// per-request service time without guessing.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on examples/lowlevel/echo/main.go's flag-parsing shape,
// reduced to a single probe-and-print utility around
// internal/fakework.Calibrate.

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/momentics/kbecho/internal/fakework"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "calibrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		return fmt.Errorf("usage: calibrate <fakework-spec> <target-ns>")
	}

	spec, err := fakework.Parse(args[0])
	if err != nil {
		return err
	}
	targetNS, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || targetNS <= 0 {
		return fmt.Errorf("bad target-ns %q", args[1])
	}

	iters, measured := fakework.Calibrate(spec, targetNS)
	fmt.Printf("spec=%s target=%dns iters=%d measured=%s\n", spec, targetNS, iters, measured)
	return nil
}
