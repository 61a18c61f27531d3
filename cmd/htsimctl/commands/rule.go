package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

type fiveTupleJSON struct {
	IPSrc   uint32 `json:"ip_src"`
	IPDst   uint32 `json:"ip_dst"`
	IPProto uint8  `json:"ip_proto"`
	SrcPort uint16 `json:"src_port"`
	DstPort uint16 `json:"dst_port"`
}

type actionJSON struct {
	OutputPort       uint16 `json:"output_port"`
	RewriteTag       uint32 `json:"rewrite_tag"`
	Weight           uint32 `json:"weight"`
	Sample           bool   `json:"sample"`
	PreferentialDrop bool   `json:"preferential_drop"`
}

type ruleJSON struct {
	Tag        uint32          `json:"tag"`
	InputPort  uint16          `json:"input_port"`
	FiveTuples []fiveTupleJSON `json:"five_tuples"`
	Actions    []actionJSON    `json:"actions"`
}

type addRuleRequest struct {
	Device string   `json:"device"`
	Rule   ruleJSON `json:"rule"`
}

func ruleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Install forwarding rules on a device",
	}

	cmd.AddCommand(ruleAddCmd())

	return cmd
}

func ruleAddCmd() *cobra.Command {
	var (
		device     string
		inputPort  uint16
		tag        uint32
		ipSrc      uint32
		ipDst      uint32
		ipProto    uint8
		srcPort    uint16
		dstPort    uint16
		outputPort uint16
		rewriteTag uint32
		weight     uint32
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Install one rule matching a single five-tuple with a single action",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			req := addRuleRequest{
				Device: device,
				Rule: ruleJSON{
					Tag:       tag,
					InputPort: inputPort,
					FiveTuples: []fiveTupleJSON{{
						IPSrc: ipSrc, IPDst: ipDst, IPProto: ipProto,
						SrcPort: srcPort, DstPort: dstPort,
					}},
					Actions: []actionJSON{{
						OutputPort: outputPort, RewriteTag: rewriteTag, Weight: weight,
					}},
				},
			}

			if err := postJSON(context.Background(), "/v1/rules", req, nil); err != nil {
				return fmt.Errorf("add rule: %w", err)
			}

			fmt.Printf("rule installed on device %q\n", device)
			return nil
		},
	}

	cmd.Flags().StringVar(&device, "device", "", "device name (required)")
	cmd.Flags().Uint16Var(&inputPort, "input-port", 0, "input port to match, 0 for any")
	cmd.Flags().Uint32Var(&tag, "tag", 0, "forwarding tag to match, 0 for any")
	cmd.Flags().Uint32Var(&ipSrc, "ip-src", 0, "source IP to match, 0 for any")
	cmd.Flags().Uint32Var(&ipDst, "ip-dst", 0, "destination IP to match, 0 for any")
	cmd.Flags().Uint8Var(&ipProto, "ip-proto", 0, "IP protocol to match, 0 for any")
	cmd.Flags().Uint16Var(&srcPort, "src-port", 0, "source port to match, 0 for any")
	cmd.Flags().Uint16Var(&dstPort, "dst-port", 0, "destination port to match, 0 for any")
	cmd.Flags().Uint16Var(&outputPort, "output-port", 0, "output port the action forwards to (required)")
	cmd.Flags().Uint32Var(&rewriteTag, "rewrite-tag", 0, "tag to stamp on forwarded packets")
	cmd.Flags().Uint32Var(&weight, "weight", 1, "action weight, for multi-action ECMP-style rules")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("output-port")

	return cmd
}

// postJSON POSTs body as JSON to path against the admin API and decodes
// the response into out (skipped if out is nil).
func postJSON(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL()+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL()+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin API returned %s: %s", resp.Status, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
