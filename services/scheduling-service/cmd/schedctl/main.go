// Command schedctl runs operational tasks against the scheduling database:
// migrations, reminder passes, link re-issue and calendar setup.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
