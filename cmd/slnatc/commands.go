package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"

	"github.com/spf13/cobra"

	"github.com/slicknat/slnat/client"
	"github.com/slicknat/slnat/protocol"
)

func (o *options) daemonAddr(cmd *cobra.Command) (netip.AddrPort, error) {
	input := o.daemon
	if input == "" {
		input = netip.IPv6Loopback().String()
	}
	expanded := client.ExpandDaemonAddr(input)
	addr, err := netip.ParseAddr(expanded)
	if err != nil || !addr.Is6() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: Invalid IPv6 address format: %s\n", expanded)
		fmt.Fprintf(cmd.ErrOrStderr(), "Original input: %s\n", input)
		return netip.AddrPort{}, errFailed
	}
	return netip.AddrPortFrom(addr, o.port), nil
}

func (o *options) client(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc, error) {
	addr, err := o.daemonAddr(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	return client.New(&client.Config{Addr: addr}), ctx, cancel, nil
}

func newGet2kipCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get2kip [ip]",
		Short: "Get the global unicast IP for a local or given IP",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := opts.client(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			var target string
			if len(args) > 0 {
				target = args[0]
			} else {
				local, ok := client.LocalAddr(c.Addr().Addr())
				if !ok {
					fmt.Fprintln(cmd.ErrOrStderr(), "Error: Could not determine local IP address. Please specify an IP address.")
					fmt.Fprintf(cmd.ErrOrStderr(), "Usage: slnatc %s get2kip <ip_address>\n", opts.daemon)
					return errFailed
				}
				target = local.String()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Connecting to daemon at %s\n", c.Addr())
			fmt.Fprintf(out, "Querying global IP for: %s\n", target)
			resp, err := c.GlobalIP(ctx, target)
			if err != nil {
				return connectionFailure(cmd, c, err)
			}
			return printGlobal(out, cmd.ErrOrStderr(), target, c.Addr(), resp)
		},
	}
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ip>",
		Short: "Resolve an IP address through the mapping table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := opts.client(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			resp, err := c.Resolve(ctx, args[0])
			if err != nil {
				return connectionFailure(cmd, c, err)
			}
			return printResolve(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], resp)
		},
	}
}

func newPingCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel, err := opts.client(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pinging daemon at %s\n", c.Addr())
			resp, err := c.Ping(ctx)
			if err != nil {
				return connectionFailure(cmd, c, err)
			}
			if resp.IsError() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", resp.Error)
				return errFailed
			}
			fmt.Fprintf(out, "Daemon at %s is running\n", c.Addr())
			if resp.Status != "" {
				fmt.Fprintf(out, "Response: %s\n", resp.Status)
			}
			return nil
		},
	}
}

func connectionFailure(cmd *cobra.Command, c *client.Client, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	fmt.Fprintf(cmd.ErrOrStderr(), "Tried to connect to: %s\n", c.Addr())
	return errFailed
}

func printGlobal(out, errOut io.Writer, target string, daemon netip.AddrPort, resp protocol.Response) error {
	switch {
	case resp.Status == protocol.StatusNotFound:
		fmt.Fprintf(out, "IP %s not found in global mappings\n", target)
		if resp.AvailableMappings != nil {
			fmt.Fprintf(out, "Available mappings: %d\n", *resp.AvailableMappings)
		}
		fmt.Fprintf(out, "Daemon connection: %s\n", daemon)
		return errFailed
	case resp.IsError():
		fmt.Fprintf(errOut, "Error: %s\n", resp.Error)
		fmt.Fprintf(errOut, "Daemon connection: %s\n", daemon)
		return errFailed
	case resp.IsSuccess():
		fmt.Fprintf(out, "Internal IP: %s\n", resp.InternalIP)
		fmt.Fprintf(out, "Global IP: %s\n", resp.GlobalIP)
		if resp.Interface != "" {
			fmt.Fprintf(out, "Interface: %s\n", resp.Interface)
		}
		return nil
	}
	fmt.Fprintf(errOut, "Error: unexpected response status %q\n", resp.Status)
	return errFailed
}

func printResolve(out, errOut io.Writer, target string, resp protocol.Response) error {
	switch {
	case resp.Status == protocol.StatusNotFound:
		fmt.Fprintf(out, "IP %s not found in mappings\n", target)
		return errFailed
	case resp.IsError():
		fmt.Fprintf(errOut, "Error: %s\n", resp.Error)
		return errFailed
	case resp.IsSuccess():
		if resp.PublicIP != "" {
			fmt.Fprintf(out, "Internal IP: %s\n", resp.InternalIP)
			fmt.Fprintf(out, "Public IP: %s\n", resp.PublicIP)
		} else {
			fmt.Fprintf(out, "External IP: %s\n", resp.ExternalIP)
			fmt.Fprintf(out, "Internal IP: %s\n", resp.InternalIP)
		}
		if resp.Interface != "" {
			fmt.Fprintf(out, "Interface: %s\n", resp.Interface)
		}
		return nil
	}
	fmt.Fprintf(errOut, "Error: unexpected response status %q\n", resp.Status)
	return errFailed
}
