// Command gokernel boots the kernel core against a TOML configuration
// file and can run its own end-to-end self-test scenarios (SPEC_FULL §A
// "CLI / init"). The kernel itself takes no flags; everything here is
// host-process plumbing around it.
package main

import (
	"context"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&bootCommand{}, "")
	subcommands.Register(&selftestCommand{}, "")

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	os.Exit(int(subcommands.Execute(context.Background())))
}
