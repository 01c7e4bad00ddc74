// Command wraith builds and watches bundled apps declared in wraith.config.yaml
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/poltergeist/wraith/pkg/cli"
	werrors "github.com/poltergeist/wraith/pkg/errors"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg := cli.NewConfig()
	cfg.Version = version

	c := cli.NewCLI(cfg)
	if err := c.Execute(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, werrors.Format(err, c.Verbose()))
		}
		os.Exit(cli.ExitCode(err))
	}
}
