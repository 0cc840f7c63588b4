package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/billing"
	"github.com/zulandar/switchboard/internal/completion"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/moderation"
	"github.com/zulandar/switchboard/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testYAML = `
discord:
  bot_token: tok
  allowed_guilds: ["G1"]
moderation:
  channel_id: MOD
policy:
  max_thread_messages: 5
digest:
  enabled: true
  channel_id: DIGEST
`

var (
	botUser = gateway.User{ID: "BOT", Name: "Sparky"}
	alice   = gateway.User{ID: "200000000000000001", Name: "alice"}
)

// --- fakes ---

type fakeProvider struct {
	mu    sync.Mutex
	calls []providerCall
	text  string
	err   error
	// onCall runs before the provider returns.
	onCall func()
}

type providerCall struct {
	model string
	msgs  []completion.ChatMessage
}

func (p *fakeProvider) Complete(ctx context.Context, model string, msgs []completion.ChatMessage, temperature float64) (completion.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, providerCall{model: model, msgs: msgs})
	hook := p.onCall
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if p.err != nil {
		return completion.Completion{}, p.err
	}
	return completion.Completion{
		Text:  p.text,
		Model: model,
		Usage: billing.Usage{PromptTokens: 100, CompletionTokens: 20},
	}, nil
}

func (p *fakeProvider) Calls() []providerCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providerCall(nil), p.calls...)
}

type stubClassifier struct {
	verdicts map[string]moderation.Verdict
}

func (c *stubClassifier) Classify(ctx context.Context, text string) (moderation.Verdict, error) {
	for needle, v := range c.verdicts {
		if strings.Contains(text, needle) {
			return v, nil
		}
	}
	return moderation.Verdict{}, nil
}

// --- helpers ---

type harness struct {
	d     *Daemon
	gw    *gateway.MockGateway
	prov  *fakeProvider
	clf   *stubClassifier
	store *store.Store
	sleep func(ctx context.Context, d time.Duration) error
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.CostRecord{}, &models.BlockEntry{}, &models.ThreadCreation{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	s, err := store.New(db)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(testYAML))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	h := &harness{
		gw:    gateway.NewMockGateway(botUser),
		prov:  &fakeProvider{text: "hello alice"},
		clf:   &stubClassifier{verdicts: map[string]moderation.Verdict{}},
		store: openTestStore(t),
	}
	providers, err := completion.NewProviders(h.prov)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	h.d, err = NewDaemon(DaemonOpts{
		Config:     cfg,
		Store:      h.store,
		Gateway:    h.gw,
		Classifier: h.clf,
		Providers:  providers,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if h.sleep != nil {
				return h.sleep(ctx, d)
			}
			return nil
		},
		TypingInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	return h
}

// setup connects and builds the pipeline, then adds an active thread T1
// owned by the bot.
func (h *harness) setup(t *testing.T) {
	t.Helper()
	if err := h.d.setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	h.gw.AddThread(gateway.Thread{
		ID:       "T1",
		GuildID:  "G1",
		ParentID: "C1",
		Name:     "💬✅ alice",
	})
}

func textsOf(msgs []gateway.OutboundMessage) []string {
	var out []string
	for _, m := range msgs {
		if m.Text != "" {
			out = append(out, m.Text)
		}
		for _, e := range m.Embeds {
			out = append(out, e.Title+e.Description)
		}
	}
	return out
}

func contains(texts []string, needle string) bool {
	for _, s := range texts {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

func contents(msgs []completion.ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// --- constructor ---

func TestNewDaemon_Validation(t *testing.T) {
	cfg := &config.Config{}
	gw := gateway.NewMockGateway(botUser)
	st := &store.Store{}
	providers, _ := completion.NewProviders(&fakeProvider{})
	clf := &stubClassifier{}

	tests := []struct {
		name string
		opts DaemonOpts
		want string
	}{
		{"no config", DaemonOpts{Store: st, Gateway: gw, Classifier: clf, Providers: providers}, "config is required"},
		{"no store", DaemonOpts{Config: cfg, Gateway: gw, Classifier: clf, Providers: providers}, "store is required"},
		{"no gateway", DaemonOpts{Config: cfg, Store: st, Classifier: clf, Providers: providers}, "gateway is required"},
		{"no classifier", DaemonOpts{Config: cfg, Store: st, Gateway: gw, Providers: providers}, "classifier is required"},
		{"no providers", DaemonOpts{Config: cfg, Store: st, Gateway: gw, Classifier: clf}, "providers are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDaemon(tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestSetup_RegistersCommands(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	cmds := h.gw.Commands()
	if len(cmds) != 4 {
		t.Fatalf("registered %d commands, want 4", len(cmds))
	}
	modOnly := map[string]bool{}
	for _, c := range cmds {
		modOnly[c.Name] = c.ModOnly
	}
	if modOnly[cmdChat] {
		t.Error("/chat should be open to everyone")
	}
	for _, name := range []string{cmdDeny, cmdAllow, cmdCosts} {
		if !modOnly[name] {
			t.Errorf("/%s should be moderator only", name)
		}
	}
}

// --- turns ---

func TestHandleMessage_Reply(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	msg := h.gw.PostMessage("T1", alice, "hi there")
	h.d.handleMessage(context.Background(), msg)

	calls := h.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	if calls[0].model != "gpt-4" {
		t.Errorf("model = %q, want gpt-4", calls[0].model)
	}
	if !strings.Contains(contents(calls[0].msgs), "hi there") {
		t.Error("transcript should contain the user's message")
	}
	sent := h.gw.SentTo("T1")
	if len(sent) != 1 || sent[0].Text != "hello alice" {
		t.Errorf("sent = %+v, want single reply", sent)
	}
	if h.gw.TypingCount() < 1 {
		t.Error("typing indicator should be shown while completing")
	}

	_, total, err := h.store.CostBreakdown(context.Background())
	if err != nil {
		t.Fatalf("CostBreakdown: %v", err)
	}
	// 100/1000*0.03 + 20/1000*0.06
	if want := 0.0042; total < want-1e-9 || total > want+1e-9 {
		t.Errorf("billed = %v, want %v", total, want)
	}
}

func TestHandleMessage_EconomyAfterSpend(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	if err := h.store.RecordCost(context.Background(), &models.CostRecord{
		UserID: alice.ID, DisplayName: alice.Name, Amount: 1.5, Model: "gpt-4",
	}); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "hi"))

	calls := h.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	if calls[0].model != "gpt-3.5-turbo" {
		t.Errorf("model = %q, want gpt-3.5-turbo", calls[0].model)
	}
}

func TestHandleMessage_CoalescesBurst(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	first := h.gw.PostMessage("T1", alice, "first part")
	var second gateway.InboundMessage
	h.sleep = func(ctx context.Context, d time.Duration) error {
		if d != 3*time.Second {
			t.Errorf("coalesce delay = %v, want 3s", d)
		}
		second = h.gw.PostMessage("T1", alice, "second part")
		h.sleep = nil
		return nil
	}

	h.d.handleMessage(context.Background(), first)
	if n := len(h.prov.Calls()); n != 0 {
		t.Fatalf("superseded turn called provider %d times", n)
	}

	h.d.handleMessage(context.Background(), second)
	calls := h.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	transcript := contents(calls[0].msgs)
	if !strings.Contains(transcript, "first part") || !strings.Contains(transcript, "second part") {
		t.Errorf("transcript should carry both messages, got:\n%s", transcript)
	}
	if sent := h.gw.SentTo("T1"); len(sent) != 1 {
		t.Errorf("sent %d messages, want 1 reply", len(sent))
	}
}

func TestHandleMessage_SupersededDuringCompletion(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.prov.onCall = func() { h.gw.PostMessage("T1", alice, "actually, never mind") }

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "question"))

	if n := len(h.prov.Calls()); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}
	if sent := h.gw.SentTo("T1"); len(sent) != 0 {
		t.Errorf("stale reply delivered: %+v", sent)
	}
}

func TestHandleMessage_Ignored(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"mention only", "<@BOT> hey"},
		{"command", "/chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.setup(t)
			h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, tt.text))
			if n := len(h.prov.Calls()); n != 0 {
				t.Errorf("provider calls = %d, want 0", n)
			}
			if sent := h.gw.AllSent(); len(sent) != 0 {
				t.Errorf("sent = %+v, want nothing", sent)
			}
		})
	}
}

func TestHandleMessage_InboundBlocked(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.clf.verdicts["awful"] = moderation.Verdict{Blocked: []string{"hate"}}

	msg := h.gw.PostMessage("T1", alice, "something awful")
	h.d.handleMessage(context.Background(), msg)

	if n := len(h.prov.Calls()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	deleted := h.gw.Deleted()
	if len(deleted) != 1 || deleted[0] != msg.ID {
		t.Errorf("deleted = %v, want [%s]", deleted, msg.ID)
	}
	if len(h.gw.SentTo("MOD")) != 1 {
		t.Error("moderators should be notified")
	}
	if !contains(textsOf(h.gw.SentTo("T1")), "deleted by moderation") {
		t.Error("thread should get a deletion banner")
	}
}

func TestHandleMessage_InboundFlaggedStillAnswered(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.clf.verdicts["edgy"] = moderation.Verdict{Flagged: []string{"violence"}}

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "an edgy joke"))

	if n := len(h.prov.Calls()); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}
	texts := textsOf(h.gw.SentTo("T1"))
	if !contains(texts, "flagged by moderation") || !contains(texts, "hello alice") {
		t.Errorf("thread messages = %v, want banner and reply", texts)
	}
}

func TestHandleMessage_OverCapCloses(t *testing.T) {
	h := newHarness(t)
	if err := h.d.setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	h.gw.AddThread(gateway.Thread{ID: "T1", GuildID: "G1", Name: "💬✅ alice", MessageCount: 5})

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "one more"))

	if n := len(h.prov.Calls()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	if archived := h.gw.ArchivedThreads(); len(archived) != 1 || archived[0] != "T1" {
		t.Errorf("archived = %v, want [T1]", archived)
	}
	th, _ := h.gw.Thread(context.Background(), "T1")
	if th.Name != "💬❌ alice" {
		t.Errorf("thread name = %q, want closed prefix", th.Name)
	}
}

func TestHandleMessage_BlockedUser(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	if err := h.store.Block(context.Background(), "M1", "mod", alice.ID); err != nil {
		t.Fatalf("Block: %v", err)
	}

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "hi"))

	if n := len(h.prov.Calls()); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
	if !contains(textsOf(h.gw.SentTo("T1")), "blocked") {
		t.Error("blocked user should be told so")
	}
}

func TestHandleMessage_ProviderFailureIsGeneric(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.prov.err = errors.New("upstream exploded: secret-key-123")

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "hi"))

	texts := textsOf(h.gw.SentTo("T1"))
	if len(texts) != 1 {
		t.Fatalf("thread messages = %v, want one notice", texts)
	}
	if contains(texts, "secret-key-123") {
		t.Error("provider detail leaked to the thread")
	}
	_, total, _ := h.store.CostBreakdown(context.Background())
	if total != 0 {
		t.Errorf("failed call billed %v", total)
	}
}

func TestHandleMessage_ContextTooLongCloses(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	h.prov.err = fmt.Errorf("openai: %w", completion.ErrContextTooLong)

	h.d.handleMessage(context.Background(), h.gw.PostMessage("T1", alice, "hi"))

	if archived := h.gw.ArchivedThreads(); len(archived) != 1 {
		t.Errorf("archived = %v, want thread closed", archived)
	}
	if !contains(textsOf(h.gw.SentTo("T1")), "Thread closed") {
		t.Error("thread should get the close notice")
	}
}

// --- commands ---

func chatInvocation(kind gateway.ChannelKind) gateway.CommandInvocation {
	return gateway.CommandInvocation{
		ID: "I1", Name: cmdChat, User: alice,
		GuildID: "G1", ChannelID: "C1", ChannelKind: kind,
	}
}

func TestCommand_ChatCreatesThread(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	inv := chatInvocation(gateway.ChannelText)

	h.d.handleCommand(context.Background(), &inv)

	resp := h.gw.Responses()
	if len(resp) != 1 || len(resp[0].Message.Embeds) != 1 {
		t.Fatalf("responses = %+v, want one embed", resp)
	}
	e := resp[0].Message.Embeds[0]
	if !strings.Contains(e.Title, "Sparky response will be sent on private thread") {
		t.Errorf("title = %q", e.Title)
	}
	if !strings.Contains(e.Description, "<#thread-") {
		t.Errorf("description = %q, want thread link", e.Description)
	}
	recs, err := h.store.RecentCreations(context.Background(), alice.ID, time.Now().Add(-time.Hour))
	if err != nil || len(recs) != 1 {
		t.Errorf("creations = %d (%v), want 1", len(recs), err)
	}
}

func TestCommand_ChatDefersBeforeCreatingThread(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	inv := chatInvocation(gateway.ChannelText)

	h.d.handleCommand(context.Background(), &inv)

	deferred := h.gw.Deferrals()
	if len(deferred) != 1 || deferred[0].ID != "I1" {
		t.Fatalf("deferrals = %+v, want the /chat invocation", deferred)
	}
	resp := h.gw.Responses()
	if len(resp) != 1 || !resp[0].Invocation.Deferred {
		t.Errorf("responses = %+v, want one answer to the deferred invocation", resp)
	}
}

func TestCommand_ChatRateLimited(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	for i := 0; i < 3; i++ {
		inv := chatInvocation(gateway.ChannelText)
		h.d.handleCommand(context.Background(), &inv)
	}

	resp := h.gw.Responses()
	if len(resp) != 3 {
		t.Fatalf("responses = %d, want 3", len(resp))
	}
	last := resp[2].Message.Embeds
	if len(last) != 1 || !strings.Contains(last[0].Title, "Limit reached") {
		t.Fatalf("third response = %+v, want limit embed", resp[2].Message)
	}
	if !strings.Contains(last[0].Description, "10 minutes") {
		t.Errorf("description = %q, want window", last[0].Description)
	}
}

func TestCommand_ChatRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness, inv *gateway.CommandInvocation)
		want  string
	}{
		{"thread channel", func(h *harness, inv *gateway.CommandInvocation) {
			inv.ChannelKind = gateway.ChannelThread
		}, "text channel"},
		{"other guild", func(h *harness, inv *gateway.CommandInvocation) {
			inv.GuildID = "G2"
		}, "not available"},
		{"blocked", func(h *harness, inv *gateway.CommandInvocation) {
			_ = h.store.Block(context.Background(), "M1", "mod", alice.ID)
		}, "blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.setup(t)
			inv := chatInvocation(gateway.ChannelText)
			tt.setup(h, &inv)

			h.d.handleCommand(context.Background(), &inv)

			if got := h.gw.Deferrals(); len(got) != 0 {
				t.Errorf("deferrals = %d, want rejection answered directly", len(got))
			}
			resp := h.gw.Responses()
			if len(resp) != 1 {
				t.Fatalf("responses = %d, want 1", len(resp))
			}
			if !resp[0].Message.Ephemeral {
				t.Error("rejection should be ephemeral")
			}
			if !contains(textsOf([]gateway.OutboundMessage{resp[0].Message}), tt.want) {
				t.Errorf("response = %+v, want %q", resp[0].Message, tt.want)
			}
		})
	}
}

func modInvocation(name, target string) gateway.CommandInvocation {
	return gateway.CommandInvocation{
		ID:          "I2",
		Name:        name,
		Options:     map[string]string{optUserID: target},
		User:        gateway.User{ID: "M1", Name: "mod"},
		GuildID:     "G1",
		ChannelID:   "T1",
		ChannelKind: gateway.ChannelThread,
	}
}

func TestCommand_DenyAndAllow(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()
	target := "1104163607979249736"

	deny := modInvocation(cmdDeny, target)
	h.d.handleCommand(ctx, &deny)
	blocked, err := h.store.IsBlocked(ctx, target)
	if err != nil || !blocked {
		t.Fatalf("IsBlocked = %v (%v), want true", blocked, err)
	}
	if !contains(textsOf(h.gw.SentTo("T1")), `<@M1> blocked UserID "1104163607979249736"`) {
		t.Errorf("thread = %v, want block notice", textsOf(h.gw.SentTo("T1")))
	}

	allow := modInvocation(cmdAllow, target)
	h.d.handleCommand(ctx, &allow)
	blocked, err = h.store.IsBlocked(ctx, target)
	if err != nil || blocked {
		t.Fatalf("IsBlocked = %v (%v), want false", blocked, err)
	}
	if !contains(textsOf(h.gw.SentTo("T1")), "unblocked") {
		t.Error("thread should get the unblock notice")
	}

	resp := h.gw.Responses()
	if len(resp) != 2 || resp[0].Message.Text != "/deny by <@M1>" || resp[1].Message.Text != "/allow by <@M1>" {
		t.Errorf("responses = %+v", resp)
	}
}

func TestCommand_AllowResetsThreadLimit(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		inv := chatInvocation(gateway.ChannelText)
		h.d.handleCommand(ctx, &inv)
	}
	allow := modInvocation(cmdAllow, alice.ID)
	h.d.handleCommand(ctx, &allow)

	inv := chatInvocation(gateway.ChannelText)
	h.d.handleCommand(ctx, &inv)
	resp := h.gw.Responses()
	last := resp[len(resp)-1].Message
	if len(last.Embeds) != 1 || strings.Contains(last.Embeds[0].Title, "Limit reached") {
		t.Errorf("after /allow got %+v, want a new thread", last)
	}
}

func TestCommand_ModeratorRejections(t *testing.T) {
	tests := []struct {
		name   string
		modify func(inv *gateway.CommandInvocation)
		want   string
	}{
		{"not in thread", func(inv *gateway.CommandInvocation) { inv.ChannelKind = gateway.ChannelText }, "inside a thread"},
		{"other guild", func(inv *gateway.CommandInvocation) { inv.GuildID = "G2" }, "not available"},
		{"bad id", func(inv *gateway.CommandInvocation) { inv.Options[optUserID] = "alice" }, "not a valid user ID"},
		{"empty id", func(inv *gateway.CommandInvocation) { inv.Options[optUserID] = "" }, "not a valid user ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.setup(t)
			inv := modInvocation(cmdDeny, "1104163607979249736")
			tt.modify(&inv)

			h.d.handleCommand(context.Background(), &inv)

			resp := h.gw.Responses()
			if len(resp) != 1 || !resp[0].Message.Ephemeral {
				t.Fatalf("responses = %+v, want one ephemeral", resp)
			}
			if !strings.Contains(resp[0].Message.Text, tt.want) {
				t.Errorf("text = %q, want %q", resp[0].Message.Text, tt.want)
			}
			if blocked, _ := h.store.IsBlocked(context.Background(), "1104163607979249736"); blocked {
				t.Error("rejected command must not change the block list")
			}
		})
	}
}

func TestCommand_Costs(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := h.store.RecordCost(ctx, &models.CostRecord{
			UserID:      fmt.Sprintf("U%02d", i),
			DisplayName: fmt.Sprintf("user%02d", i),
			Amount:      float64(i+1) / 100,
			Model:       "gpt-4",
		}); err != nil {
			t.Fatalf("RecordCost: %v", err)
		}
	}

	inv := modInvocation(cmdCosts, "")
	h.d.handleCommand(ctx, &inv)

	sent := h.gw.SentTo("T1")
	if len(sent) != 1 || len(sent[0].Embeds) != 1 {
		t.Fatalf("sent = %+v, want one embed", sent)
	}
	fields := sent[0].Embeds[0].Fields
	if len(fields) != costRows+1 {
		t.Fatalf("fields = %d, want %d", len(fields), costRows+1)
	}
	if fields[0].Name != "user24 with UserID: U24" || fields[0].Value != "0.2500" {
		t.Errorf("top row = %+v", fields[0])
	}
	last := fields[len(fields)-1]
	if last.Name != "Grand Total" || last.Value != "3.2500" {
		t.Errorf("total row = %+v, want Grand Total 3.2500", last)
	}
}

func TestCommand_Unknown(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	inv := gateway.CommandInvocation{Name: "dance", User: alice}
	h.d.handleCommand(context.Background(), &inv)
	resp := h.gw.Responses()
	if len(resp) != 1 || !strings.Contains(resp[0].Message.Text, "Unknown command") {
		t.Errorf("responses = %+v", resp)
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0000"},
		{0.0042, "0.0042"},
		{1.23456, "1.2346"},
		{12, "12.0000"},
	}
	for _, tt := range tests {
		if got := formatCost(tt.in); got != tt.want {
			t.Errorf("formatCost(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- run loop ---

func TestRun_ProcessesEventsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	inv := chatInvocation(gateway.ChannelText)
	h.gw.SimulateCommand(inv)

	deadline := time.After(5 * time.Second)
	for len(h.gw.Responses()) == 0 {
		select {
		case <-deadline:
			t.Fatal("command was not handled")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := h.gw.Listen(context.Background()); !errors.Is(err, gateway.ErrNotConnected) {
		t.Errorf("gateway should be closed after Run, Listen err = %v", err)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.gw.Close()
	if err := h.d.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "bot: connect") {
		t.Errorf("Run = %v, want connect error", err)
	}
}

// --- digest ---

func TestNextCronDuration(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Duration
	}{
		{"0 9 * * *", 30 * time.Minute},
		{"30 8 * * *", 24 * time.Hour},
		{"*/15 * * * *", 15 * time.Minute},
		{"not a cron", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := nextCronDuration(tt.expr, now); got != tt.want {
			t.Errorf("nextCronDuration(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestPostDigest(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()
	if err := h.store.RecordCost(ctx, &models.CostRecord{UserID: alice.ID, DisplayName: alice.Name, Amount: 0.5, Model: "gpt-4"}); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	h.d.postDigest(ctx)

	sent := h.gw.SentTo("DIGEST")
	if len(sent) != 1 || len(sent[0].Embeds) != 1 {
		t.Fatalf("digest sent = %+v", sent)
	}
	e := sent[0].Embeds[0]
	if e.Title != digestTitle {
		t.Errorf("title = %q", e.Title)
	}
	if len(e.Fields) != 2 || e.Fields[1].Value != "0.5000" {
		t.Errorf("fields = %+v", e.Fields)
	}
}

func TestRunDigestScheduler_Disabled(t *testing.T) {
	h := newHarness(t)
	h.d.cfg.Digest.Enabled = false
	done := make(chan struct{})
	go func() {
		h.d.runDigestScheduler(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler should return immediately")
	}
}
