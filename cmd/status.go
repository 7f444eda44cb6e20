package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/channelhost/host/internal/server"
)

func newStatusCmd() *cobra.Command {
	var f clientFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := queryStatus(&f)
			if err != nil {
				return err
			}
			writeStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

// queryStatus fetches /status from the host.
func queryStatus(f *clientFlags) (*server.StatusResponse, error) {
	resp, err := f.httpClient().Get(f.httpURL("/status"))
	if err != nil {
		return nil, fmt.Errorf("host is not running at %s (or not reachable)", f.addr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var status server.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &status, nil
}

// writeStatus renders human-readable host status output.
func writeStatus(w io.Writer, status *server.StatusResponse) {
	fmt.Fprintf(w, "Host Status\n")
	fmt.Fprintf(w, "===========\n")
	fmt.Fprintf(w, "Listening:    %s\n", status.ListeningAddress)
	fmt.Fprintf(w, "TLS:          %v\n", status.TLSEnabled)
	fmt.Fprintf(w, "Auth:         %v\n", status.RequireAuth)
	fmt.Fprintf(w, "Clients:      %d connected\n", status.ConnectedClients)
	fmt.Fprintf(w, "Uptime:       %s\n", formatUptime(status.UptimeSeconds))
	if status.BatterySource != "" {
		state := status.BatteryState
		if state == "" {
			state = "unknown"
		}
		fmt.Fprintf(w, "Battery:      %s (%s)\n", state, status.BatterySource)
	}

	if len(status.Streams) == 0 {
		return
	}
	names := make([]string, 0, len(status.Streams))
	for name := range status.Streams {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "\nStreams\n")
	fmt.Fprintf(w, "-------\n")
	for _, name := range names {
		state := "detached"
		if status.Streams[name] {
			state = "attached"
		}
		fmt.Fprintf(w, "  %s: %s\n", name, state)
	}
}

// formatUptime formats an uptime in seconds as a human-readable string.
// Examples: "45s", "5m 23s", "2h 15m", "3d 4h"
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", seconds)
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
