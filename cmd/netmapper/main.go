package main

import (
	"os"

	"github.com/netmapper/netmapper/cmd/netmapper/app"
	"github.com/netmapper/netmapper/pkg/errlog"
)

func main() {
	if err := app.NewNetmapperCommand().Execute(); err != nil {
		errlog.LogError(err)
		os.Exit(1)
	}
}
