package main

import (
	"os"

	"github.com/yzhou-ml/comfyfleet/cmd/fleetctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
