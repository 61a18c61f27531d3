package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type findPathRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
	K   int    `json:"k"`
}

type findPathResponse struct {
	Paths []string `json:"paths"`
}

func pathCmd() *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "path <src> <dst>",
		Short: "Find the shortest (or k-shortest) paths between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			req := findPathRequest{Src: args[0], Dst: args[1], K: k}

			var resp findPathResponse
			if err := postJSON(context.Background(), "/v1/paths/find", req, &resp); err != nil {
				return fmt.Errorf("find path: %w", err)
			}

			out, err := formatPaths(resp.Paths, outputFormat)
			if err != nil {
				return fmt.Errorf("format paths: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}

	cmd.Flags().IntVar(&k, "k", 1, "number of shortest paths to return")

	return cmd
}
