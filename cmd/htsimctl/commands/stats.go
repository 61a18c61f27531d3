package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type deviceStatsResponse struct {
	PacketsSeen          uint64 `json:"packets_seen"`
	BytesSeen            uint64 `json:"bytes_seen"`
	PacketsForLocalhost  uint64 `json:"packets_for_localhost"`
	BytesForLocalhost    uint64 `json:"bytes_for_localhost"`
	PacketsFailedToMatch uint64 `json:"packets_failed_to_match"`
	BytesFailedToMatch   uint64 `json:"bytes_failed_to_match"`
	PacketsTTLExpired    uint64 `json:"packets_ttl_expired"`
	BytesTTLExpired      uint64 `json:"bytes_ttl_expired"`
	RouteUpdatesSeen     uint64 `json:"route_updates_seen"`
	NumRules             int    `json:"num_rules"`
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <device>",
		Short: "Show a device's packet counters and installed rule count",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var resp deviceStatsResponse
			if err := getJSON(context.Background(), "/v1/devices/"+args[0]+"/stats", &resp); err != nil {
				return fmt.Errorf("get device stats: %w", err)
			}

			out, err := formatDeviceStats(resp, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
