package main

import (
	"os"

	"github.com/sitedesk/sitedesk/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
