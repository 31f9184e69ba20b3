// Package main is the entry point for ecsroll, a rolling maintenance
// tool for the EC2 fleet backing an ECS cluster.
package main

import (
	"os"

	"github.com/finnigja/ecsroll/cmd/ecsroll/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
