package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/gateway"
)

// stubClassifier returns a fixed verdict and records its inputs.
type stubClassifier struct {
	verdict Verdict
	err     error
	inputs  []string
}

func (s *stubClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	s.inputs = append(s.inputs, text)
	return s.verdict, s.err
}

func newTestGate(t *testing.T, cls Classifier) (*Gate, *gateway.MockGateway) {
	t.Helper()
	gw := gateway.NewMockGateway(gateway.User{ID: "bot", Name: "Switchboard"})
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	gw.AddThread(gateway.Thread{ID: "t1", GuildID: "g1"})
	n, err := NewNotifier(gw, "modchan")
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	g, err := NewGate(GateOpts{Classifier: cls, Gateway: gw, Notifier: n})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g, gw
}

func newTestNotifier(t *testing.T, channelID string) (*Notifier, *gateway.MockGateway) {
	t.Helper()
	gw := gateway.NewMockGateway(gateway.User{ID: "bot"})
	if err := gw.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	n, err := NewNotifier(gw, channelID)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	return n, gw
}

func inbound(gw *gateway.MockGateway, text string) gateway.InboundMessage {
	return gw.PostMessage("t1", gateway.User{ID: "u1", Name: "alice"}, text)
}

func TestNewGate_Validation(t *testing.T) {
	_, err := NewGate(GateOpts{})
	if err == nil || !strings.Contains(err.Error(), "classifier is required") {
		t.Errorf("err = %v, want classifier is required", err)
	}
}

func TestScreenInbound_Allowed(t *testing.T) {
	g, gw := newTestGate(t, &stubClassifier{})
	out, err := g.ScreenInbound(context.Background(), inbound(gw, "hello"))
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if out != Allowed {
		t.Errorf("outcome = %v, want %v", out, Allowed)
	}
	if sent := gw.AllSent(); len(sent) != 0 {
		t.Errorf("sent = %+v, want nothing", sent)
	}
}

func TestScreenInbound_BlockedDeletes(t *testing.T) {
	g, gw := newTestGate(t, &stubClassifier{verdict: Verdict{Blocked: []string{"hate"}}})
	msg := inbound(gw, "awful")

	out, err := g.ScreenInbound(context.Background(), msg)
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if out != Blocked {
		t.Errorf("outcome = %v, want %v", out, Blocked)
	}
	if deleted := gw.Deleted(); len(deleted) != 1 || deleted[0] != msg.ID {
		t.Errorf("deleted = %v, want [%s]", deleted, msg.ID)
	}

	thread := gw.SentTo("t1")
	if len(thread) != 1 {
		t.Fatalf("thread messages = %d, want 1", len(thread))
	}
	want := "❌ **alice's message has been deleted by moderation.**"
	if got := thread[0].Embeds[0].Description; got != want {
		t.Errorf("notice = %q, want %q", got, want)
	}

	mod := gw.SentTo("modchan")
	if len(mod) != 1 {
		t.Fatalf("moderation reports = %d, want 1", len(mod))
	}
	if !strings.Contains(mod[0].Embeds[0].Title, "Blocked") {
		t.Errorf("report title = %q, want Blocked", mod[0].Embeds[0].Title)
	}
	if got := mod[0].Embeds[0].Fields[1].Value; got != "hate" {
		t.Errorf("categories = %q, want %q", got, "hate")
	}
}

func TestScreenInbound_BlockedWithoutPermission(t *testing.T) {
	g, gw := newTestGate(t, &stubClassifier{verdict: Verdict{Blocked: []string{"hate"}}})
	gw.DeleteErr = gateway.ErrPermissionDenied

	out, err := g.ScreenInbound(context.Background(), inbound(gw, "awful"))
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if out != Blocked {
		t.Errorf("outcome = %v, want %v", out, Blocked)
	}

	thread := gw.SentTo("t1")
	if len(thread) != 1 {
		t.Fatalf("thread messages = %d, want 1", len(thread))
	}
	if got := thread[0].Embeds[0].Description; !strings.Contains(got, "could not be deleted") {
		t.Errorf("notice = %q, want could not be deleted", got)
	}
}

func TestScreenInbound_Flagged(t *testing.T) {
	g, gw := newTestGate(t, &stubClassifier{verdict: Verdict{Flagged: []string{"violence"}}})
	msg := inbound(gw, "edgy")

	out, err := g.ScreenInbound(context.Background(), msg)
	if err != nil {
		t.Fatalf("ScreenInbound: %v", err)
	}
	if out != Flagged {
		t.Errorf("outcome = %v, want %v", out, Flagged)
	}
	if deleted := gw.Deleted(); len(deleted) != 0 {
		t.Errorf("deleted = %v, want none", deleted)
	}

	thread := gw.SentTo("t1")
	if len(thread) != 1 {
		t.Fatalf("thread messages = %d, want 1", len(thread))
	}
	want := "⚠️ **alice's message has been flagged by moderation.**"
	if got := thread[0].Embeds[0].Description; got != want {
		t.Errorf("notice = %q, want %q", got, want)
	}

	mod := gw.SentTo("modchan")
	if len(mod) != 1 {
		t.Fatalf("moderation reports = %d, want 1", len(mod))
	}
	fields := mod[0].Embeds[0].Fields
	if got := fields[len(fields)-1].Value; got != msg.JumpURL {
		t.Errorf("link = %q, want %q", got, msg.JumpURL)
	}
}

func TestScreenInbound_ClassifierError(t *testing.T) {
	g, gw := newTestGate(t, &stubClassifier{err: errors.New("boom")})
	if _, err := g.ScreenInbound(context.Background(), inbound(gw, "x")); err == nil {
		t.Error("expected classifier error")
	}
	if sent := gw.AllSent(); len(sent) != 0 {
		t.Errorf("sent = %+v, want nothing", sent)
	}
}

func TestScreenReply_ClassifiesTail(t *testing.T) {
	cls := &stubClassifier{}
	g, _ := newTestGate(t, cls)

	rendered := strings.Repeat("p", 600)
	if _, err := g.ScreenReply(context.Background(), rendered, "REPLY"); err != nil {
		t.Fatalf("ScreenReply: %v", err)
	}
	if len(cls.inputs) != 1 {
		t.Fatalf("classifier calls = %d, want 1", len(cls.inputs))
	}
	if got := len(cls.inputs[0]); got != DefaultTailChars {
		t.Errorf("input length = %d, want %d", got, DefaultTailChars)
	}
	if !strings.HasSuffix(cls.inputs[0], "REPLY") {
		t.Errorf("input %q does not end with the reply", cls.inputs[0])
	}
}

func TestNotifier_NoChannelIsSilent(t *testing.T) {
	n, gw := newTestNotifier(t, "")

	if err := n.Flagged(context.Background(), Report{User: gateway.User{Name: "a"}}); err != nil {
		t.Fatalf("Flagged: %v", err)
	}
	if sent := gw.AllSent(); len(sent) != 0 {
		t.Errorf("sent = %+v, want nothing", sent)
	}
}

func TestNotifier_FlaggedWithoutURL(t *testing.T) {
	n, gw := newTestNotifier(t, "modchan")

	err := n.Flagged(context.Background(), Report{
		User:       gateway.User{ID: "u1", Name: "alice"},
		Categories: "violence",
		Text:       strings.Repeat("x", 2000),
	})
	if err != nil {
		t.Fatalf("Flagged: %v", err)
	}
	sent := gw.SentTo("modchan")
	if len(sent) != 1 {
		t.Fatalf("reports = %d, want 1", len(sent))
	}
	fields := sent[0].Embeds[0].Fields
	if got := fields[len(fields)-1].Value; got != NoURL {
		t.Errorf("link = %q, want %q", got, NoURL)
	}
	if got := len([]rune(fields[2].Value)); got > maxFieldLen {
		t.Errorf("text field = %d runes, want at most %d", got, maxFieldLen)
	}
}
