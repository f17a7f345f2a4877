package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/slicknat/slnat/client"
	"github.com/slicknat/slnat/protocol"
)

var version = "undefined"

// errFailed signals a failure already reported to the user.
var errFailed = errors.New("command failed")

type options struct {
	daemon  string
	port    uint16
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "slnatc [daemon-address] <command> [ip]",
		Short: "slnatc queries a SlickNat mapping daemon",
		Example: strings.Join([]string{
			"  slnatc ::1 get2kip 7607:af56:abb1:c7::100",
			"  slnatc 7000 get2kip",
			"  slnatc ::1 resolve 2a0a:8dc0:509b:21::1",
			"  slnatc -d ::1 ping",
		}, "\n"),
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Usage()
			return errFailed
		},
	}
	root.PersistentFlags().StringVarP(&opts.daemon, "daemon", "d", os.Getenv("SLNATC_DAEMON"),
		"daemon IPv6 address; a bare number N means N::1 (env SLNATC_DAEMON, default ::1)")
	root.PersistentFlags().Uint16VarP(&opts.port, "port", "p", protocol.DefaultPort, "daemon TCP port")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultDialTimeout, "overall request timeout")

	root.AddCommand(
		newGet2kipCmd(opts),
		newResolveCmd(opts),
		newPingCmd(opts),
	)
	return root
}

// normalizeArgs rewrites the positional form "<daemon> <command> ..." into
// "--daemon <daemon> <command> ...".
func normalizeArgs(args []string) []string {
	if len(args) < 2 || strings.HasPrefix(args[0], "-") {
		return args
	}
	switch args[0] {
	case "get2kip", "resolve", "ping", "help", "completion":
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, "--daemon", args[0])
	return append(out, args[1:]...)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(normalizeArgs(args))
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
			root.Usage()
		}
		return 1
	}
	return 0
}

func main() {
	godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
