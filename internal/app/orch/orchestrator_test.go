package orch

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Calls/internal/app"
	"github.com/dkeye/Calls/internal/core"
	"github.com/dkeye/Calls/internal/core/coretest"
	"github.com/dkeye/Calls/internal/domain"
	"github.com/dkeye/Calls/internal/metrics"
)

type recordedError struct {
	sid     core.SessionID
	msgType string
	err     error
}

type errorRecorder struct {
	mu   sync.Mutex
	errs []recordedError
}

func (r *errorRecorder) HandleError(sid core.SessionID, _ core.SignalConnection, msgType string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, recordedError{sid: sid, msgType: msgType, err: err})
}

func (r *errorRecorder) all() []recordedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedError(nil), r.errs...)
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *coretest.Engine, *errorRecorder) {
	t.Helper()
	eng := &coretest.Engine{}
	rec := &errorRecorder{}
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Peers:    app.NewPeerRegistry(eng),
		Policy:   app.LogOnlyPolicy{},
		Errors:   rec,
		Metrics:  metrics.New(),
	}, eng, rec
}

func open(t *testing.T, o *Orchestrator, sid core.SessionID) *coretest.Conn {
	t.Helper()
	c := coretest.NewConn()
	if err := o.OnOpen(sid, c, ""); err != nil {
		t.Fatalf("OnOpen(%s): %v", sid, err)
	}
	return c
}

func envelope(t *testing.T, mt domain.MessageType, body any) []byte {
	t.Helper()
	b, err := domain.NewEnvelope(mt, body)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return b
}

func peerIDs(t *testing.T, frame core.Frame) []string {
	t.Helper()
	var peers []domain.PeerInfo
	if err := json.Unmarshal(frame, &peers); err != nil {
		t.Fatalf("unmarshal peers %q: %v", frame, err)
	}
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestOnOpen_RepliesAssignedID(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	c := open(t, o, "s1")

	text := c.Text()
	if len(text) != 1 || string(text[0]) != `"s1"` {
		t.Fatalf("open reply=%q, want \"s1\" as a JSON string", text)
	}
	if err := o.OnOpen("s1", coretest.NewConn(), ""); !errors.Is(err, core.ErrDuplicateSession) {
		t.Fatalf("duplicate OnOpen err=%v", err)
	}
}

func TestScenario_ConnectThenGetPeersForAnotherSession(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)

	s1 := open(t, o, "s1")
	o.OnControl("s1", s1, []byte(`{"type":"connect","jsonContent":"{\"id\":\"s1\"}"}`))
	if len(s1.Text()) != 1 {
		t.Fatalf("connect produced a reply: %q", s1.Text())
	}
	if _, err := o.Peers.Get("s1"); err != nil {
		t.Fatalf("binding missing s1: %v", err)
	}

	s2 := open(t, o, "s2")
	o.OnControl("s2", s2, []byte(`{"type":"connect","jsonContent":"{\"id\":\"s2\"}"}`))

	o.OnControl("s1", s1, []byte(`{"type":"getPeers","jsonContent":"{\"id\":\"s2\"}"}`))

	if got := len(s1.Text()); got != 1 {
		t.Fatalf("s1 received %d frames, want only its id", got)
	}
	s2Text := s2.Text()
	if len(s2Text) != 2 {
		t.Fatalf("s2 frames=%q, want id + peers", s2Text)
	}
	ids := peerIDs(t, s2Text[1])
	if len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("peers=%v, want [s1]", ids)
	}
	if errs := rec.all(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestGetPeers_ExcludesOnlyRequestedID(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	c := open(t, o, "x")
	for _, id := range []core.SessionID{"a", "b", "c"} {
		open(t, o, id)
	}
	for _, id := range []string{"a", "x", "b", "c"} {
		o.OnControl("x", c, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: id}))
	}
	o.OnControl("x", c, envelope(t, domain.MessageGetPeers, domain.SessionRequest{ID: "x"}))

	text := c.Text()
	ids := peerIDs(t, text[len(text)-1])
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("peers=%v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("peers=%v, want %v", ids, want)
		}
	}
}

func TestGetPeers_EmptyListIsArray(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, envelope(t, domain.MessageGetPeers, domain.SessionRequest{ID: "s1"}))
	text := c.Text()
	if got := string(text[len(text)-1]); got != "[]" {
		t.Fatalf("reply=%s, want []", got)
	}
}

// The reply target comes from the body, so any session can direct the list
// to another one. ReplyToSender closes that door.
func TestGetPeers_ReplyTargetTrustBoundary(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	attacker := open(t, o, "attacker")
	victim := open(t, o, "victim")

	o.OnControl("attacker", attacker, envelope(t, domain.MessageGetPeers, domain.SessionRequest{ID: "victim"}))
	if len(victim.Text()) != 2 {
		t.Fatalf("literal mode: victim frames=%d, want 2", len(victim.Text()))
	}

	o.PeersReplyTo = ReplyToSender
	o.OnControl("attacker", attacker, envelope(t, domain.MessageGetPeers, domain.SessionRequest{ID: "victim"}))
	if len(victim.Text()) != 2 {
		t.Fatalf("sender mode: victim received an unsolicited list")
	}
	if len(attacker.Text()) != 2 {
		t.Fatalf("sender mode: attacker frames=%d, want 2", len(attacker.Text()))
	}
}

func TestGetPeers_TargetGoneIsNotFound(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, envelope(t, domain.MessageGetPeers, domain.SessionRequest{ID: "ghost"}))

	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0].err, core.ErrNotFound) {
		t.Fatalf("errors=%v, want one ErrNotFound", errs)
	}
	if errs[0].msgType != "getPeers" {
		t.Fatalf("msgType=%q", errs[0].msgType)
	}
}

func TestIce_UnknownIDNeverTouchesEngine(t *testing.T) {
	o, eng, rec := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, []byte(`{"type":"ice","jsonContent":"{\"id\":\"nobody\",\"iceCandidate\":{\"sdpMid\":\"0\",\"sdpMLineIndex\":0,\"sdp\":\"candidate:x\",\"serverUrl\":\"\"}}"}`))

	if len(eng.Created()) != 0 {
		t.Fatalf("engine was touched")
	}
	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0].err, core.ErrNotFound) {
		t.Fatalf("errors=%v, want ErrNotFound", errs)
	}

	// The dispatcher keeps working afterwards.
	o.OnControl("s1", c, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "s1"}))
	if _, err := o.Peers.Get("s1"); err != nil {
		t.Fatalf("connect after failed ice: %v", err)
	}
}

func TestIce_AppliedAndEngineRejected(t *testing.T) {
	o, eng, rec := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "s1"}))

	cand := &domain.Candidate{SDPMid: "audio", SDPMLineIndex: 0, SDP: "candidate:1", ServerURL: "stun:stun.l.google.com:19302"}
	o.OnControl("s1", c, envelope(t, domain.MessageICE, domain.IceRequest{ID: "s1", IceCandidate: cand}))
	if got := eng.Created()[0].Candidates(); len(got) != 1 || got[0].Candidate != "candidate:1" {
		t.Fatalf("candidates=%v", got)
	}

	eng.Created()[0].AddErr = errors.New("rejected")
	o.OnControl("s1", c, envelope(t, domain.MessageICE, domain.IceRequest{ID: "s1", IceCandidate: cand}))
	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0].err, core.ErrEngineRejected) {
		t.Fatalf("errors=%v, want ErrEngineRejected", errs)
	}
}

func TestDispatch_ParseFailuresAreSwallowed(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)
	a := open(t, o, "a")
	b := open(t, o, "b")

	for _, msg := range []string{
		`not json`,
		`{"type":"bogus","jsonContent":"{\"id\":\"a\"}"}`,
		`{"type":"Connect","jsonContent":"{\"id\":\"a\"}"}`,
		`{"type":"connect"}`,
		`{"type":"connect","jsonContent":"{}"}`,
		`{"type":"ice","jsonContent":"{\"id\":\"a\"}"}`,
		`{"type":"ice","jsonContent":"{\"id\":\"a\",\"iceCandidate\":{\"sdpMLineIndex\":-1}}"}`,
	} {
		o.OnControl("a", a, []byte(msg))
	}

	errs := rec.all()
	if len(errs) != 7 {
		t.Fatalf("errors=%d, want 7: %v", len(errs), errs)
	}
	for _, e := range errs {
		if !errors.Is(e.err, core.ErrParse) {
			t.Fatalf("err=%v, want ErrParse", e.err)
		}
	}
	if len(a.Text()) != 1 || len(b.Text()) != 1 {
		t.Fatalf("parse failures produced replies")
	}
	if got := o.Metrics.Get(metrics.ControlFailed + "_parse_error"); got != 7 {
		t.Fatalf("parse_error counter=%d, want 7", got)
	}

	// Subsequent messages on both connections still work.
	o.OnControl("a", a, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "a"}))
	o.OnControl("b", b, envelope(t, domain.MessageGetPeers, domain.SessionRequest{ID: "b"}))
	if ids := peerIDs(t, b.Text()[1]); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("peers=%v, want [a]", ids)
	}
}

func TestDispatch_InlineObjectContent(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, []byte(`{"type":"connect","jsonContent":{"id":"s1"}}`))
	if _, err := o.Peers.Get("s1"); err != nil {
		t.Fatalf("inline content not accepted: %v (errors %v)", err, rec.all())
	}
}

func TestDispatch_ConsumeIsIgnoredNotFailed(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, []byte(`{"type":"consume","jsonContent":"{}"}`))
	o.OnControl("s1", c, []byte(`{"type":"consumer_ice","jsonContent":"{}"}`))

	if errs := rec.all(); len(errs) != 0 {
		t.Fatalf("errors=%v, want none", errs)
	}
	if got := o.Metrics.Get(metrics.HandlerIgnored); got != 2 {
		t.Fatalf("ignored counter=%d, want 2", got)
	}
	if len(c.Text()) != 1 {
		t.Fatalf("consume produced a reply")
	}
}

func TestDispatch_EngineFailureOnConnect(t *testing.T) {
	o, eng, rec := newTestOrchestrator(t)
	eng.NewErr = errors.New("no engine")
	c := open(t, o, "s1")
	o.OnControl("s1", c, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "s1"}))
	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0].err, core.ErrEngineRejected) {
		t.Fatalf("errors=%v", errs)
	}
}

func TestReplyErrors_SendsTypedFrame(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	o.Errors = ReplyErrors{Metrics: o.Metrics}
	c := open(t, o, "s1")
	o.OnControl("s1", c, []byte(`{"type":"bogus","jsonContent":"{}"}`))
	o.OnControl("s1", c, envelope(t, domain.MessageICE, domain.IceRequest{ID: "s1", IceCandidate: &domain.Candidate{}}))

	text := c.Text()
	if len(text) != 3 {
		t.Fatalf("frames=%q, want id + 2 error frames", text)
	}
	var first, second domain.ErrorFrame
	_ = json.Unmarshal(text[1], &first)
	_ = json.Unmarshal(text[2], &second)
	if first.Type != "error" || first.Error != "parse_error" || first.Request != "bogus" {
		t.Fatalf("first error frame=%+v", first)
	}
	if second.Error != "not_found" || second.Request != "ice" {
		t.Fatalf("second error frame=%+v", second)
	}
	if got := o.Metrics.Get(metrics.ErrorFramesSent); got != 2 {
		t.Fatalf("error frames counter=%d", got)
	}
}

type panicEngine struct{}

func (panicEngine) NewPeerConnection(core.SessionID) (core.MediaConnection, error) {
	panic("engine exploded")
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)
	o.Peers = app.NewPeerRegistry(panicEngine{})
	c := open(t, o, "s1")
	o.OnControl("s1", c, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "s1"}))
	errs := rec.all()
	if len(errs) != 1 || errs[0].msgType != "connect" || core.ErrorKind(errs[0].err) != "internal" {
		t.Fatalf("errors=%v", errs)
	}
}

func TestOnBinary_FanOutExcludesSender(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	a := open(t, o, "A")
	b := open(t, o, "B")
	c := open(t, o, "C")

	payload := core.Frame{0x00, 0xff, 0x10, 0x42}
	res := o.OnBinary("A", a, payload)
	if res.SendTo != 2 || len(res.Dropped) != 0 {
		t.Fatalf("result=%+v, want SendTo=2", res)
	}
	for name, conn := range map[string]*coretest.Conn{"B": b, "C": c} {
		got := conn.Binary()
		if len(got) != 1 || string(got[0]) != string(payload) {
			t.Fatalf("%s received %v, want %v", name, got, payload)
		}
	}
	if len(a.Binary()) != 0 {
		t.Fatalf("frame echoed back to sender")
	}
}

func TestOnBinary_ExcludesByIdentityNotID(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	a := open(t, o, "A")
	b := open(t, o, "B")

	// A stale connection that claims id A is not the registered one.
	stale := coretest.NewConn()
	o.OnBinary("A", stale, core.Frame("x"))
	if len(a.Binary()) != 1 || len(b.Binary()) != 1 {
		t.Fatalf("a=%d b=%d, want both to receive", len(a.Binary()), len(b.Binary()))
	}
}

func TestOnBinary_OneFailureDoesNotStopOthers(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	sender := open(t, o, "s0")
	conns := make([]*coretest.Conn, 0, 4)
	for _, id := range []core.SessionID{"s1", "s2", "s3", "s4"} {
		conns = append(conns, open(t, o, id))
	}
	conns[1].BinErr = core.ErrBackpressure

	res := o.OnBinary("s0", sender, core.Frame("frame"))
	if res.SendTo != 3 || len(res.Dropped) != 1 || res.Dropped[0] != "s2" {
		t.Fatalf("result=%+v", res)
	}
	for i, c := range conns {
		if i == 1 {
			continue
		}
		if len(c.Binary()) != 1 {
			t.Fatalf("conn %d did not receive", i)
		}
	}
	if conns[1].Closed() {
		t.Fatalf("LogOnlyPolicy closed a connection")
	}
	if o.Metrics.Get(metrics.BinaryDropped) != 1 || o.Metrics.Get(metrics.BinaryDelivered) != 3 {
		t.Fatalf("metrics=%v", o.Metrics.Snapshot())
	}
}

func TestOnBinary_KickSlowPolicy(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	o.Policy = app.KickSlowPolicy{}
	a := open(t, o, "a")
	slow := open(t, o, "slow")
	slow.BinErr = core.ErrBackpressure
	o.OnBinary("a", a, core.Frame("x"))
	if !slow.Closed() {
		t.Fatalf("slow connection not closed")
	}
}

func TestOnBinary_PreservesPerDestinationOrder(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	a := open(t, o, "a")
	b := open(t, o, "b")
	for i := 0; i < 10; i++ {
		o.OnBinary("a", a, core.Frame{byte(i)})
	}
	got := b.Binary()
	if len(got) != 10 {
		t.Fatalf("b received %d frames, want 10", len(got))
	}
	for i, f := range got {
		if f[0] != byte(i) {
			t.Fatalf("frame %d=%d, out of order", i, f[0])
		}
	}
}

func TestConnect_UnknownIDRejected(t *testing.T) {
	o, eng, rec := newTestOrchestrator(t)
	c := open(t, o, "s1")
	o.OnControl("s1", c, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "ghost"}))

	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0].err, core.ErrNotFound) {
		t.Fatalf("errors=%v, want ErrNotFound", errs)
	}
	if len(eng.Created()) != 0 || o.Peers.Len() != 0 {
		t.Fatalf("engine created=%d peers=%d for an id with no session", len(eng.Created()), o.Peers.Len())
	}

	o.OnClose("s1", "bye")
	if o.Registry.Len() != 0 || o.Peers.Len() != 0 {
		t.Fatalf("registry=%d peers=%d after the only session closed", o.Registry.Len(), o.Peers.Len())
	}
}

func TestOnClose_ReleasesHandlesCreatedForOthers(t *testing.T) {
	o, eng, _ := newTestOrchestrator(t)
	s1 := open(t, o, "s1")
	open(t, o, "s2")
	o.OnControl("s1", s1, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "s2"}))
	if o.Peers.Len() != 1 {
		t.Fatalf("peers=%d, want 1", o.Peers.Len())
	}

	o.OnClose("s1", "bye")
	if o.Peers.Len() != 0 || !eng.Created()[0].IsClosed() {
		t.Fatalf("handle created by s1 outlived it")
	}
	if got := o.Metrics.Get(metrics.PeerReleased); got != 1 {
		t.Fatalf("released counter=%d, want 1", got)
	}
}

// closingEngine closes a session while its peer connection is being built.
type closingEngine struct {
	coretest.Engine
	during func()
}

func (e *closingEngine) NewPeerConnection(owner core.SessionID) (core.MediaConnection, error) {
	mc, err := e.Engine.NewPeerConnection(owner)
	e.during()
	return mc, err
}

func TestConnect_TargetClosedDuringCreate(t *testing.T) {
	o, _, rec := newTestOrchestrator(t)
	eng := &closingEngine{}
	o.Peers = app.NewPeerRegistry(eng)
	s1 := open(t, o, "s1")
	open(t, o, "s2")
	eng.during = func() { o.OnClose("s2", "gone") }

	o.OnControl("s1", s1, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "s2"}))

	if o.Peers.Len() != 0 {
		t.Fatalf("peers=%d, want handle for closed s2 released", o.Peers.Len())
	}
	if created := eng.Created(); len(created) != 1 || !created[0].IsClosed() {
		t.Fatalf("handle for closed s2 left open")
	}
	errs := rec.all()
	if len(errs) != 1 || !errors.Is(errs[0].err, core.ErrNotFound) {
		t.Fatalf("errors=%v, want ErrNotFound", errs)
	}
}

func TestOnClose_ReleasesPeerAndAnnounces(t *testing.T) {
	o, eng, _ := newTestOrchestrator(t)
	o.AnnounceLeave = true
	a := open(t, o, "a")
	b := open(t, o, "b")
	o.OnControl("a", a, envelope(t, domain.MessageConnect, domain.SessionRequest{ID: "a"}))

	o.OnClose("a", "going away")

	if o.Registry.Len() != 1 {
		t.Fatalf("registry len=%d, want 1", o.Registry.Len())
	}
	if _, err := o.Peers.Get("a"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("peer handle survived close")
	}
	if !eng.Created()[0].IsClosed() {
		t.Fatalf("peer handle not closed")
	}
	text := b.Text()
	var left domain.UserLeftFrame
	if err := json.Unmarshal(text[len(text)-1], &left); err != nil || left.Type != "userLeft" || left.ID != "a" {
		t.Fatalf("last frame=%q, want userLeft for a", text[len(text)-1])
	}

	// Closing twice is harmless.
	o.OnClose("a", "again")
	if o.Registry.Len() != 1 {
		t.Fatalf("registry len=%d after double close", o.Registry.Len())
	}
}

func TestOpensMinusCloses(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := core.NewSessionID()
			_ = o.OnOpen(sid, coretest.NewConn(), "")
			if i%4 == 0 {
				o.OnClose(sid, "bye")
			}
		}(i)
	}
	wg.Wait()
	if got := len(o.Registry.Snapshot()); got != 30 {
		t.Fatalf("snapshot=%d, want 30", got)
	}
}
