// Command arkpopctl is the operator CLI for arkpop: schema migrations, monitor
// registrations, raw samples, one-off sweeps, chart summaries and token sealing.
//
// Store flags can also come from a YAML file (--config) or ARKPOP_* environment
// variables, e.g. ARKPOP_STORE=postgres ARKPOP_DB_DSN=postgres://...
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
