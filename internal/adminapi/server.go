// Package adminapi implements the control/admin surface spec.md
// section 6 names at the boundary only: rule install, device stats, and
// path queries. The teacher exposes the BFD-equivalent of this surface
// over ConnectRPC with protobuf-generated service stubs
// (internal/server.BFDServer); that generated code comes from a .proto
// file via buf/protoc-gen-connect-go, and this codebase cannot run code
// generators, so the same operations are served here as a plain
// encoding/json + net/http surface instead. See DESIGN.md for the
// dropped ConnectRPC/protobuf/gRPC dependencies this substitution
// justifies.
package adminapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ngvozdiev/htsim/internal/clock"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/event"
	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
	"github.com/ngvozdiev/htsim/internal/pathengine"
)

// ErrUnknownDevice is returned when a request names a device that was
// never registered with the Server.
var ErrUnknownDevice = errors.New("adminapi: unknown device")

// ErrUnknownNode is returned when a path query names a node the graph
// never interned.
var ErrUnknownNode = errors.New("adminapi: unknown node")

// Server is a thin adapter between the admin HTTP surface and the
// simulation's domain types, mirroring the teacher's BFDServer: each
// handler delegates to the datapath/matcher/pathengine packages for
// actual work and translates errors into HTTP status codes.
type Server struct {
	logger   *slog.Logger
	g        *graph.Graph
	eq       *event.Queue
	devices  map[string]*datapath.Device
	nodeByID map[string]graph.NodeIndex
	mux      *http.ServeMux
}

var _ datapath.ControlPlane = (*Server)(nil)

// NewServer returns a Server backed by g, with no devices registered
// yet. Call RegisterDevice for each device it should expose.
func NewServer(logger *slog.Logger, g *graph.Graph) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	nodeByID := make(map[string]graph.NodeIndex, g.NumNodes())
	for idx := range g.AllNodes() {
		nodeByID[g.NodeName(idx)] = idx
	}

	s := &Server{
		logger:   logger.With(slog.String("component", "adminapi")),
		g:        g,
		devices:  make(map[string]*datapath.Device),
		nodeByID: nodeByID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/rules", s.handleAddRule)
	mux.HandleFunc("GET /v1/devices/{id}/stats", s.handleDeviceStats)
	mux.HandleFunc("POST /v1/paths/find", s.handleFindPath)
	s.mux = mux

	return s
}

// RegisterDevice makes dev reachable by name at the /v1/devices/{id}
// and /v1/rules endpoints.
func (s *Server) RegisterDevice(name string, dev *datapath.Device) {
	s.devices[name] = dev
}

// SetEventQueue wires in the simulation's event queue, used to
// timestamp the SSCP replies (acks, stats replies) the control plane
// sends back over the simulated network. Without it replies are still
// sent, stamped at time zero.
func (s *Server) SetEventQueue(eq *event.Queue) { s.eq = eq }

func (s *Server) now() clock.Time {
	if s.eq == nil {
		return 0
	}
	return s.eq.Now()
}

// Handler returns the http.Handler serving the admin API.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) deviceByName(name string) (*datapath.Device, error) {
	dev, ok := s.devices[name]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", name, ErrUnknownDevice)
	}
	return dev, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// -----------------------------------------------------------------------
// POST /v1/rules
// -----------------------------------------------------------------------

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

func ruleFromJSON(rj ruleJSON) *matcher.Rule {
	tuples := make([]packet.FiveTuple, len(rj.FiveTuples))
	for i, ft := range rj.FiveTuples {
		tuples[i] = packet.FiveTuple{
			IPSrc: ft.IPSrc, IPDst: ft.IPDst, IPProto: ft.IPProto,
			SrcPort: ft.SrcPort, DstPort: ft.DstPort,
		}
	}

	rule := matcher.NewRule(matcher.RuleKey{
		Tag: rj.Tag, InputPort: rj.InputPort, FiveTuples: tuples,
	})
	for _, aj := range rj.Actions {
		rule.AddAction(&matcher.Action{
			OutputPort:       aj.OutputPort,
			RewriteTag:       aj.RewriteTag,
			Weight:           aj.Weight,
			Sample:           aj.Sample,
			PreferentialDrop: aj.PreferentialDrop,
		})
	}
	return rule
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	dev, err := s.deviceByName(req.Device)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	rule := ruleFromJSON(req.Rule)
	dev.Matcher().AddRule(rule)

	s.logger.Info("rule installed", "device", req.Device, "key", rule.Key.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// -----------------------------------------------------------------------
// GET /v1/devices/{id}/stats
// -----------------------------------------------------------------------

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

func (s *Server) handleDeviceStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	dev, err := s.deviceByName(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	st := dev.Stats()
	writeJSON(w, http.StatusOK, deviceStatsResponse{
		PacketsSeen:          st.PacketsSeen,
		BytesSeen:            st.BytesSeen,
		PacketsForLocalhost:  st.PacketsForLocalhost,
		BytesForLocalhost:    st.BytesForLocalhost,
		PacketsFailedToMatch: st.PacketsFailedToMatch,
		BytesFailedToMatch:   st.BytesFailedToMatch,
		PacketsTTLExpired:    st.PacketsTTLExpired,
		BytesTTLExpired:      st.BytesTTLExpired,
		RouteUpdatesSeen:     st.RouteUpdatesSeen,
		NumRules:             dev.Matcher().NumRules(),
	})
}

// -----------------------------------------------------------------------
// POST /v1/paths/find
// -----------------------------------------------------------------------

type findPathRequest struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
	K   int    `json:"k"`
}

type findPathResponse struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleFindPath(w http.ResponseWriter, r *http.Request) {
	var req findPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	src, ok := s.nodeByID[req.Src]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("src %q: %w", req.Src, ErrUnknownNode))
		return
	}
	dst, ok := s.nodeByID[req.Dst]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("dst %q: %w", req.Dst, ErrUnknownNode))
		return
	}

	k := req.K
	if k <= 0 {
		k = 1
	}

	var paths []string
	if k == 1 {
		sp := pathengine.NewShortestPath(s.g, src, pathengine.ExcludeSet{})
		seq := sp.GetPath(dst)
		if !seq.Empty() || src == dst {
			paths = append(paths, seq.String(s.g, true))
		}
	} else {
		kp := pathengine.NewKShortestPaths(s.g, nil, src, dst, pathengine.ExcludeSet{})
		for i := 0; i < k; i++ {
			seq := kp.NextPath()
			if seq.Empty() && src != dst {
				break
			}
			paths = append(paths, seq.String(s.g, true))
		}
	}

	writeJSON(w, http.StatusOK, findPathResponse{Paths: paths})
}

// -----------------------------------------------------------------------
// datapath.ControlPlane
// -----------------------------------------------------------------------

// HandleControlMessage applies an in-simulation SSCP message at dev:
// AddOrUpdate installs the carried rule (answered with an Ack when the
// message carries a transaction id), StatsRequest is answered with a
// StatsReply carrying the device's per-rule counters. Replies re-enter
// the forwarding pipeline at dev addressed back at the requester, so
// they are routed like any other packet.
func (s *Server) HandleControlMessage(dev *datapath.Device, msg *packet.ControlMessage) {
	switch msg.MsgType {
	case packet.SSCPAddOrUpdate:
		rule, err := matcher.DecodeRule(msg.RuleData)
		if err != nil {
			s.logger.Warn("dropping malformed SSCP rule update", "device", dev.ID(), "err", err)
			return
		}
		dev.Matcher().AddRule(rule)
		s.logger.Info("rule installed via SSCP", "device", dev.ID(), "key", rule.Key.String())
		if msg.TxID != 0 {
			ack := packet.NewControlMessage(packet.SSCPAck, msg.FiveTuple().Reverse(), s.now())
			ack.TxID = msg.TxID
			dev.InjectLocal(ack)
		}
	case packet.SSCPStatsRequest:
		reply := packet.NewControlMessage(packet.SSCPStatsReply, msg.FiveTuple().Reverse(), s.now())
		reply.TxID = msg.TxID
		reply.RuleData = matcher.EncodeRuleStats(dev.Matcher().Rules())
		dev.InjectLocal(reply)
	case packet.SSCPStatsReply, packet.SSCPAck:
		s.logger.Debug("SSCP reply received", "device", dev.ID(), "type", msg.MsgType, "tx_id", msg.TxID)
	default:
		s.logger.Warn("unknown SSCP message type", "device", dev.ID(), "type", msg.MsgType)
	}
}
