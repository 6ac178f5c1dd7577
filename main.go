// Package main is the entry point for the taintaudit CLI.
package main

import "taintaudit.dev/pkg/taintaudit/cmd"

func main() {
	cmd.Execute()
}
