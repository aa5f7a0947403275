// Command labnb is the lab notebook CLI and server.
package main

import (
	"context"
	"os"

	"github.com/yangwenmai/labnotebook/internal/cli"
)

func main() {
	os.Exit(cli.Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
