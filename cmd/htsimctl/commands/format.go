// Package commands implements the htsimctl CLI commands.
package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatDeviceStats(stats deviceStatsResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(stats)
	case formatTable:
		return formatDeviceStatsTable(stats), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPaths(paths []string, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(paths)
	case formatTable:
		var buf strings.Builder
		for i, p := range paths {
			fmt.Fprintf(&buf, "%d: %s\n", i+1, p)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDeviceStatsTable(s deviceStatsResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COUNTER\tVALUE")
	fmt.Fprintf(w, "packets_seen\t%d\n", s.PacketsSeen)
	fmt.Fprintf(w, "bytes_seen\t%d\n", s.BytesSeen)
	fmt.Fprintf(w, "packets_for_localhost\t%d\n", s.PacketsForLocalhost)
	fmt.Fprintf(w, "bytes_for_localhost\t%d\n", s.BytesForLocalhost)
	fmt.Fprintf(w, "packets_failed_to_match\t%d\n", s.PacketsFailedToMatch)
	fmt.Fprintf(w, "bytes_failed_to_match\t%d\n", s.BytesFailedToMatch)
	fmt.Fprintf(w, "packets_ttl_expired\t%d\n", s.PacketsTTLExpired)
	fmt.Fprintf(w, "bytes_ttl_expired\t%d\n", s.BytesTTLExpired)
	fmt.Fprintf(w, "route_updates_seen\t%d\n", s.RouteUpdatesSeen)
	fmt.Fprintf(w, "num_rules\t%d\n", s.NumRules)
	_ = w.Flush()
	return buf.String()
}

func formatJSONValue(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return buf.String(), nil
}
