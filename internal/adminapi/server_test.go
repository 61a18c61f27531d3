package adminapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ngvozdiev/htsim/internal/adminapi"
	"github.com/ngvozdiev/htsim/internal/datapath"
	"github.com/ngvozdiev/htsim/internal/graph"
	"github.com/ngvozdiev/htsim/internal/matcher"
	"github.com/ngvozdiev/htsim/internal/packet"
)

func TestHandleAddRuleInstallsRuleOnDevice(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	m := matcher.New(nil, "A")
	dev := datapath.NewDevice(nil, "A", 1, m)
	s.RegisterDevice("A", dev)

	body := `{
		"device": "A",
		"rule": {
			"input_port": 1,
			"five_tuples": [{"ip_src": 10, "ip_dst": 20, "ip_proto": 6, "src_port": 1000, "dst_port": 80}],
			"actions": [{"output_port": 2, "weight": 1}]
		}
	}`

	req := httptest.NewRequest(http.MethodPost, "/v1/rules", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if got := dev.Matcher().NumRules(); got != 1 {
		t.Fatalf("NumRules() = %d, want 1", got)
	}
}

func TestHandleAddRuleUnknownDevice(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	body := `{"device": "nope", "rule": {"five_tuples": [], "actions": []}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rules", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleDeviceStats(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	m := matcher.New(nil, "A")
	dev := datapath.NewDevice(nil, "A", 1, m)
	s.RegisterDevice("A", dev)

	five := packet.FiveTuple{IPSrc: 1, IPDst: 2, IPProto: 17, SrcPort: 1, DstPort: 2}
	dev.HandlePacketFromPort(dev.AddPort(1), packet.NewUDPPacket(five, 100, 0))

	req := httptest.NewRequest(http.MethodGet, "/v1/devices/A/stats", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		PacketsSeen          uint64 `json:"packets_seen"`
		PacketsFailedToMatch uint64 `json:"packets_failed_to_match"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.PacketsSeen != 1 {
		t.Errorf("PacketsSeen = %d, want 1", resp.PacketsSeen)
	}
	if resp.PacketsFailedToMatch != 1 {
		t.Errorf("PacketsFailedToMatch = %d, want 1", resp.PacketsFailedToMatch)
	}
}

func TestHandleFindPathReturnsShortestRoute(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	body := `{"src": "A", "dst": "D"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/paths/find", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Paths) != 1 {
		t.Fatalf("len(Paths) = %d, want 1", len(resp.Paths))
	}
}

func TestHandleFindPathKGreaterThanOne(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	body := `{"src": "A", "dst": "D", "k": 3}`
	req := httptest.NewRequest(http.MethodPost, "/v1/paths/find", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Paths) != 3 {
		t.Fatalf("len(Paths) = %d, want 3", len(resp.Paths))
	}
}

func TestHandleFindPathUnknownNode(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	body := `{"src": "A", "dst": "Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/paths/find", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleControlMessageInstallsRule(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	m := matcher.New(nil, "A")
	dev := datapath.NewDevice(nil, "A", 1, m)

	rule := matcher.NewRule(matcher.RuleKey{
		InputPort:  1,
		FiveTuples: []packet.FiveTuple{{IPSrc: 1, IPDst: 2, IPProto: 17, SrcPort: 1, DstPort: 2}},
	})
	rule.AddAction(&matcher.Action{OutputPort: 2, Weight: 1})

	msg := packet.NewControlMessage(packet.SSCPAddOrUpdate, packet.FiveTuple{IPDst: 1}, 0)
	msg.RuleData = matcher.EncodeRule(rule)

	s.HandleControlMessage(dev, msg)

	if got := dev.Matcher().NumRules(); got != 1 {
		t.Fatalf("NumRules() = %d, want 1", got)
	}
}

// loopSink records whatever a device forwards back out toward the
// control message's sender.
type loopSink struct{ pkts []packet.Packet }

func (s *loopSink) HandlePacket(pkt packet.Packet) { s.pkts = append(s.pkts, pkt) }

func TestHandleControlMessageAcksWhenTxIDSet(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	m := matcher.New(nil, "A")
	// Route traffic back at the requester (ip 9) out port 2.
	back := matcher.NewRule(matcher.RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 9}}})
	back.AddAction(&matcher.Action{OutputPort: 2, RewriteTag: matcher.KeepTag, Weight: 1})
	m.AddRule(back)

	dev := datapath.NewDevice(nil, "A", 1, m)
	dev.SetControlPlane(s)
	out := &loopSink{}
	dev.AddPort(2).Connect(out)

	rule := matcher.NewRule(matcher.RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 5}}})
	rule.AddAction(&matcher.Action{OutputPort: 2, Weight: 1})

	msg := packet.NewControlMessage(packet.SSCPAddOrUpdate, packet.FiveTuple{IPSrc: 9, IPDst: 1}, 0)
	msg.TxID = 77
	msg.RuleData = matcher.EncodeRule(rule)

	dev.HandlePacketFromPort(dev.AddPort(1), msg)

	if got := dev.Matcher().NumRules(); got != 2 {
		t.Fatalf("NumRules() = %d, want 2", got)
	}
	if len(out.pkts) != 1 {
		t.Fatalf("expected one ack routed back, got %d packets", len(out.pkts))
	}
	ack, ok := out.pkts[0].(*packet.ControlMessage)
	if !ok || ack.MsgType != packet.SSCPAck || ack.TxID != 77 {
		t.Fatalf("expected an SSCPAck echoing tx id 77, got %+v", out.pkts[0])
	}
}

func TestHandleControlMessageAnswersStatsRequest(t *testing.T) {
	t.Parallel()

	g := graph.Braess()
	s := adminapi.NewServer(nil, g)

	m := matcher.New(nil, "A")
	back := matcher.NewRule(matcher.RuleKey{FiveTuples: []packet.FiveTuple{{IPDst: 9}}})
	back.AddAction(&matcher.Action{OutputPort: 2, RewriteTag: matcher.KeepTag, Weight: 1})
	m.AddRule(back)

	dev := datapath.NewDevice(nil, "A", 1, m)
	dev.SetControlPlane(s)
	out := &loopSink{}
	dev.AddPort(2).Connect(out)

	req := packet.NewControlMessage(packet.SSCPStatsRequest, packet.FiveTuple{IPSrc: 9, IPDst: 1}, 0)
	dev.HandlePacketFromPort(dev.AddPort(1), req)

	if len(out.pkts) != 1 {
		t.Fatalf("expected one stats reply routed back, got %d packets", len(out.pkts))
	}
	reply, ok := out.pkts[0].(*packet.ControlMessage)
	if !ok || reply.MsgType != packet.SSCPStatsReply {
		t.Fatalf("expected an SSCPStatsReply, got %+v", out.pkts[0])
	}
	records, err := matcher.DecodeRuleStats(reply.RuleData)
	if err != nil {
		t.Fatalf("decode stats payload: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected counters for the installed rule, got %d records", len(records))
	}
}
