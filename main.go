package main

import (
	"github.com/Deplee/victoria-metrics-cli/cmd"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
