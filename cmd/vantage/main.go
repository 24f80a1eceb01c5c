package main

import (
	"os"

	"github.com/pterm/pterm"

	"github.com/vantage-agent/vantage/app"
	"github.com/vantage-agent/vantage/internal/config"
)

func run(args []string) error {
	config.InitializePaths()

	return app.Get().Run(args)
}

func main() {
	err := run(os.Args)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
