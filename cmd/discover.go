package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/channelhost/host/internal/mdns"
)

func newDiscoverCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List hosts advertising on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			hosts, err := mdns.Discover(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "No hosts found")
				return nil
			}
			for _, h := range hosts {
				fmt.Fprintf(out, "%s\t%s:%d\tevents=%s", h.Name, h.Addr, h.Port, h.EventChannel)
				if h.Fingerprint != "" {
					fmt.Fprintf(out, "\tfp=%s", h.Fingerprint)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "How long to browse")
	return cmd
}
