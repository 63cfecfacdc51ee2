// Package main mints a development identity token for one user.
package main

import (
	"flag"
	"os"

	"github.com/dndtoolbox/toolbox/internal/platform/config"
	"github.com/dndtoolbox/toolbox/internal/tools/devtoken"
)

func main() {
	cfg, err := devtoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := devtoken.Run(cfg, os.Stdout); err != nil {
		config.Exitf("mint token: %v", err)
	}
}
