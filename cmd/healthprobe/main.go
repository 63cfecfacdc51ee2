// Package main exits 0 when the map session gRPC health check reports
// SERVING and 1 otherwise.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	probecmd "github.com/dndtoolbox/toolbox/internal/cmd/healthprobe"
	entrypoint "github.com/dndtoolbox/toolbox/internal/platform/cmd"
	"github.com/dndtoolbox/toolbox/internal/platform/config"
)

func main() {
	cfg, err := probecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceHealthProbe))

	if err := probecmd.Run(context.Background(), cfg, os.Stdout); err != nil {
		config.Exitf("%v", err)
	}
}
