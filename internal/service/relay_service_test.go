package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	seq      int64
	byChat   map[string][]domain.Message
	failures int // сколько ближайших Append уронить как ErrStoreUnavailable
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byChat: make(map[string][]domain.Message)}
}

func (f *fakeStore) Append(_ context.Context, chatID string, sender domain.Sender, text string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	}

	f.seq++
	m := domain.Message{
		ID:        fmt.Sprintf("m%d", f.seq),
		ChatID:    chatID,
		Seq:       f.seq,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now(),
	}
	f.byChat[chatID] = append(f.byChat[chatID], m)
	return &m, nil
}

func (f *fakeStore) messages(chatID string) []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]domain.Message, len(f.byChat[chatID]))
	copy(out, f.byChat[chatID])
	return out
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type note struct {
	kind string // user | managers | error
	chat string
	msg  domain.Message
	text string
}

type fakeNotifier struct {
	ch chan note
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{ch: make(chan note, 128)}
}

func (f *fakeNotifier) SendToChat(chatID string, m domain.Message) {
	f.ch <- note{kind: "user", chat: chatID, msg: m}
}

func (f *fakeNotifier) BroadcastManagers(m domain.Message) {
	f.ch <- note{kind: "managers", chat: m.ChatID, msg: m}
}

func (f *fakeNotifier) BroadcastError(chatID, text string) {
	f.ch <- note{kind: "error", chat: chatID, text: text}
}

func (f *fakeNotifier) next(t *testing.T) note {
	t.Helper()
	select {
	case n := <-f.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification within 2s")
		return note{}
	}
}

func (f *fakeNotifier) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case n := <-f.ch:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(d):
	}
}

type respFunc func(ctx context.Context, chatID, text string) (string, error)

func (f respFunc) Respond(ctx context.Context, chatID, text string) (string, error) {
	return f(ctx, chatID, text)
}

func echoNow() respFunc {
	return func(_ context.Context, _ string, text string) (string, error) {
		return text, nil
	}
}

func newTestRelay(t *testing.T, store Store, r respFunc, n Notifier) *RelayService {
	t.Helper()
	relay := NewRelayService(store, r, n)
	relay.retryBase = time.Millisecond
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = relay.Shutdown(ctx)
	})
	return relay
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayUserMessageFlow(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	relay := newTestRelay(t, store, echoNow(), n)

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "привет"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// менеджеры видят вопрос до ответа
	first := n.next(t)
	if first.kind != "managers" || first.msg.Sender != domain.SenderUser || first.msg.Text != "привет" {
		t.Fatalf("first notification = %+v", first)
	}

	toUser := n.next(t)
	if toUser.kind != "user" || toUser.chat != "c1" || toUser.msg.Sender != domain.SenderBot || toUser.msg.Text != "привет" {
		t.Fatalf("reply to user = %+v", toUser)
	}
	toManagers := n.next(t)
	if toManagers.kind != "managers" || toManagers.msg.Sender != domain.SenderBot {
		t.Fatalf("reply to managers = %+v", toManagers)
	}

	msgs := store.messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("stored %d messages, want 2", len(msgs))
	}
	if msgs[0].Sender != domain.SenderUser || msgs[1].Sender != domain.SenderBot || msgs[1].Text != "привет" {
		t.Fatalf("stored sequence = %+v", msgs)
	}
}

func TestRelayStrictOrderWithinChat(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	slowEcho := respFunc(func(_ context.Context, _ string, text string) (string, error) {
		time.Sleep(30 * time.Millisecond)
		return text, nil
	})
	relay := newTestRelay(t, store, slowEcho, n)

	for i := 1; i <= 3; i++ {
		if err := relay.Submit(context.Background(), "c1", domain.SenderUser, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	waitFor(t, "6 stored messages", func() bool { return len(store.messages("c1")) == 6 })

	// ответ обязан лечь в историю раньше следующего вопроса
	want := []struct {
		sender domain.Sender
		text   string
	}{
		{domain.SenderUser, "q1"}, {domain.SenderBot, "q1"},
		{domain.SenderUser, "q2"}, {domain.SenderBot, "q2"},
		{domain.SenderUser, "q3"}, {domain.SenderBot, "q3"},
	}
	msgs := store.messages("c1")
	for i, w := range want {
		if msgs[i].Sender != w.sender || msgs[i].Text != w.text {
			t.Fatalf("position %d: got %s %q, want %s %q", i, msgs[i].Sender, msgs[i].Text, w.sender, w.text)
		}
	}
}

func TestRelayChatsDoNotBlockEachOther(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	release := make(chan struct{})
	r := respFunc(func(ctx context.Context, chatID, text string) (string, error) {
		if chatID == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return text, nil
	})
	relay := newTestRelay(t, store, r, n)

	if err := relay.Submit(context.Background(), "slow", domain.SenderUser, "q"); err != nil {
		t.Fatalf("Submit slow: %v", err)
	}
	if err := relay.Submit(context.Background(), "fast", domain.SenderUser, "q"); err != nil {
		t.Fatalf("Submit fast: %v", err)
	}

	// быстрый чат завершается, пока медленный висит в ответе
	waitFor(t, "fast chat completion", func() bool { return len(store.messages("fast")) == 2 })
	if got := len(store.messages("slow")); got != 1 {
		t.Fatalf("slow chat has %d messages before release, want 1", got)
	}

	close(release)
	waitFor(t, "slow chat completion", func() bool { return len(store.messages("slow")) == 2 })
}

func TestRelayRetriesTransientStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failures = 2
	n := newFakeNotifier()
	relay := newTestRelay(t, store, echoNow(), n)

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, "message and reply stored", func() bool { return len(store.messages("c1")) == 2 })

	// 2 падения + успешная запись + запись ответа
	if got := store.callCount(); got != 4 {
		t.Fatalf("store calls = %d, want 4", got)
	}
}

func TestRelayStoreExhaustionReportsError(t *testing.T) {
	store := newFakeStore()
	store.failures = 3
	n := newFakeNotifier()

	var mu sync.Mutex
	responderCalls := 0
	r := respFunc(func(_ context.Context, _ string, text string) (string, error) {
		mu.Lock()
		responderCalls++
		mu.Unlock()
		return text, nil
	})
	relay := newTestRelay(t, store, r, n)

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "hello"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ev := n.next(t)
	if ev.kind != "error" || ev.chat != "c1" {
		t.Fatalf("expected error event for c1, got %+v", ev)
	}
	if got := len(store.messages("c1")); got != 0 {
		t.Fatalf("stored %d messages after exhaustion, want 0", got)
	}
	mu.Lock()
	calls := responderCalls
	mu.Unlock()
	if calls != 0 {
		t.Fatalf("responder called %d times for unsaved message", calls)
	}

	// чат не заклинило: после восстановления хранилища поток идёт дальше
	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "again"); err != nil {
		t.Fatalf("Submit after recovery: %v", err)
	}
	waitFor(t, "recovered flow", func() bool { return len(store.messages("c1")) == 2 })
}

func TestRelayManagerSendIsTerminal(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()

	var mu sync.Mutex
	responderCalls := 0
	r := respFunc(func(_ context.Context, _ string, text string) (string, error) {
		mu.Lock()
		responderCalls++
		mu.Unlock()
		return text, nil
	})
	relay := newTestRelay(t, store, r, n)

	if err := relay.Submit(context.Background(), "c1", domain.SenderManager, "здравствуйте, я оператор"); err != nil {
		t.Fatalf("Submit manager: %v", err)
	}

	toUser := n.next(t)
	if toUser.kind != "user" || toUser.msg.Sender != domain.SenderManager {
		t.Fatalf("user delivery = %+v", toUser)
	}
	toManagers := n.next(t)
	if toManagers.kind != "managers" || toManagers.msg.Sender != domain.SenderManager {
		t.Fatalf("manager delivery = %+v", toManagers)
	}

	if err := relay.Submit(context.Background(), "c1", domain.SenderAction, "request_contact"); err != nil {
		t.Fatalf("Submit action: %v", err)
	}
	toUser = n.next(t)
	if toUser.msg.Sender != domain.SenderAction || toUser.msg.Text != "request_contact" {
		t.Fatalf("action delivery = %+v", toUser)
	}
	n.next(t) // managers copy

	n.expectSilence(t, 50*time.Millisecond)

	mu.Lock()
	calls := responderCalls
	mu.Unlock()
	if calls != 0 {
		t.Fatalf("responder called %d times for manager traffic", calls)
	}
	if got := len(store.messages("c1")); got != 2 {
		t.Fatalf("stored %d messages, want 2", got)
	}
}

func TestRelayTakeoverSuppressesAutoReply(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	relay := newTestRelay(t, store, echoNow(), n)

	relay.SetTakeover("c1", true)

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "вопрос"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ev := n.next(t)
	if ev.kind != "managers" || ev.msg.Text != "вопрос" {
		t.Fatalf("managers fan-out = %+v", ev)
	}
	n.expectSilence(t, 50*time.Millisecond)
	if got := len(store.messages("c1")); got != 1 {
		t.Fatalf("stored %d messages under takeover, want 1", got)
	}

	relay.SetTakeover("c1", false)

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "ещё вопрос"); err != nil {
		t.Fatalf("Submit after release: %v", err)
	}
	waitFor(t, "auto reply restored", func() bool { return len(store.messages("c1")) == 3 })
}

func TestRelaySubmitValidation(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	relay := newTestRelay(t, store, echoNow(), n)

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, ""); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Fatalf("empty text: got %v, want ErrEmptyMessage", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := relay.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "late"); !errors.Is(err, domain.ErrRelayClosed) {
		t.Fatalf("after shutdown: got %v, want ErrRelayClosed", err)
	}
}

func TestRelayShutdownDrainsQueued(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	slowEcho := respFunc(func(_ context.Context, _ string, text string) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return text, nil
	})
	relay := newTestRelay(t, store, slowEcho, n)

	for i := 1; i <= 3; i++ {
		if err := relay.Submit(context.Background(), "c1", domain.SenderUser, fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := len(store.messages("c1")); got != 6 {
		t.Fatalf("after shutdown stored %d messages, want 6", got)
	}
}

func TestRelayWorkerIdleExit(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	relay := newTestRelay(t, store, echoNow(), n)
	relay.idleAfter = 20 * time.Millisecond

	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "first exchange", func() bool { return len(store.messages("c1")) == 2 })

	waitFor(t, "worker exit", func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return len(relay.workers) == 0
	})

	// чат оживает заново без потерь
	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "again"); err != nil {
		t.Fatalf("Submit after idle exit: %v", err)
	}
	waitFor(t, "second exchange", func() bool { return len(store.messages("c1")) == 4 })
}

func TestRelayBackpressureOnFullMailbox(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	release := make(chan struct{})
	r := respFunc(func(ctx context.Context, _ string, text string) (string, error) {
		select {
		case <-release:
			return text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	relay := NewRelayService(store, r, n)
	relay.retryBase = time.Millisecond
	relay.mailboxSize = 1
	t.Cleanup(func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = relay.Shutdown(ctx)
	})

	// m1 уходит воркеру и виснет в ответе, m2 занимает единственный слот
	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "m1"); err != nil {
		t.Fatalf("Submit m1: %v", err)
	}
	waitFor(t, "m1 stored", func() bool { return len(store.messages("c1")) == 1 })
	if err := relay.Submit(context.Background(), "c1", domain.SenderUser, "m2"); err != nil {
		t.Fatalf("Submit m2: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := relay.Submit(ctx, "c1", domain.SenderUser, "m3"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Submit m3: got %v, want DeadlineExceeded", err)
	}
}

func TestRelayManyChatsConcurrent(t *testing.T) {
	store := newFakeStore()
	n := newFakeNotifier()
	relay := newTestRelay(t, store, echoNow(), n)

	// канал уведомлений не должен стать узким местом
	go func() {
		for range n.ch {
		}
	}()

	const chats = 20
	const perChat = 5

	var wg sync.WaitGroup
	for c := 0; c < chats; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			chatID := fmt.Sprintf("chat-%02d", c)
			for i := 0; i < perChat; i++ {
				if err := relay.Submit(context.Background(), chatID, domain.SenderUser, fmt.Sprintf("q%d", i)); err != nil {
					t.Errorf("Submit %s/%d: %v", chatID, i, err)
					return
				}
			}
		}(c)
	}
	wg.Wait()

	for c := 0; c < chats; c++ {
		chatID := fmt.Sprintf("chat-%02d", c)
		waitFor(t, chatID+" completion", func() bool { return len(store.messages(chatID)) == perChat*2 })

		msgs := store.messages(chatID)
		for i := 0; i < perChat; i++ {
			q, a := msgs[2*i], msgs[2*i+1]
			if q.Sender != domain.SenderUser || q.Text != fmt.Sprintf("q%d", i) {
				t.Fatalf("%s position %d: %s %q", chatID, 2*i, q.Sender, q.Text)
			}
			if a.Sender != domain.SenderBot || a.Text != q.Text {
				t.Fatalf("%s position %d: %s %q", chatID, 2*i+1, a.Sender, a.Text)
			}
		}
	}
}
