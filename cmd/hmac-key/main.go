// Package main prints a fresh identity token secret.
package main

import (
	"flag"
	"os"

	"github.com/dndtoolbox/toolbox/internal/platform/config"
	"github.com/dndtoolbox/toolbox/internal/tools/hmackey"
)

func main() {
	cfg, err := hmackey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate secret: %v", err)
	}
}
