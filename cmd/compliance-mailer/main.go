// Package main is the entry point for compliance-mailer.
package main

import (
	"os"

	"github.com/infosec-automation/compliance-mailer/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], cli.Options{}))
}
