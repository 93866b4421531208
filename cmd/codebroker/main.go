// SPDX-License-Identifier: MPL-2.0

// Command codebroker is a thin local-debugging CLI over the execution
// engine: it submits one request to the Dispatcher and prints the result,
// or reports the guest image's introspected capabilities.
package main

import (
	"os"

	"codebroker/cmd/codebroker/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
