package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/responder"
)

// Store — то, что relay требует от хранилища.
type Store interface {
	Append(ctx context.Context, chatID string, sender domain.Sender, text string) (*domain.Message, error)
}

// Notifier — доставка живых событий; реализуется ws-хабом.
// Все методы best-effort: отвалившееся соединение не ошибка relay.
type Notifier interface {
	SendToChat(chatID string, m domain.Message)
	BroadcastManagers(m domain.Message)
	BroadcastError(chatID, text string)
}

const (
	storeAttempts   = 3
	storeOpTimeout  = 10 * time.Second
	defaultMailbox  = 32
	defaultIdle     = time.Minute
	defaultBackoff  = 100 * time.Millisecond
	storeFailedText = "сообщение не удалось сохранить"
)

// RelayService ведёт каждый чат через конвейер: сохранить входящее,
// разослать менеджерам, для пользовательского сообщения получить ответ
// бота, сохранить его и доставить обеим сторонам.
//
// На активный чат — одна горутина с FIFO-почтой: порядок прихода внутри
// чата строгий (ответ ложится в историю раньше следующего сообщения),
// чаты друг друга не ждут. Простаивающие воркеры завершаются сами.
type RelayService struct {
	store     Store
	responder responder.Responder
	notifier  Notifier

	mu       sync.Mutex
	workers  map[string]*chatWorker
	takeover map[string]struct{}
	closed   bool

	wg   sync.WaitGroup
	quit chan struct{}

	mailboxSize int
	idleAfter   time.Duration
	retryBase   time.Duration
}

type chatWorker struct {
	inbox chan inbound
	// pending считает и лежащее в inbox, и зарезервированное Submit'ом,
	// и обрабатываемое сейчас; охраняется RelayService.mu. Воркер выходит
	// только при pending == 0.
	pending int
	recheck chan struct{}
}

type inbound struct {
	sender domain.Sender
	text   string
}

func NewRelayService(store Store, r responder.Responder, n Notifier) *RelayService {
	return &RelayService{
		store:       store,
		responder:   r,
		notifier:    n,
		workers:     make(map[string]*chatWorker),
		takeover:    make(map[string]struct{}),
		quit:        make(chan struct{}),
		mailboxSize: defaultMailbox,
		idleAfter:   defaultIdle,
		retryBase:   defaultBackoff,
	}
}

// Submit ставит входящее сообщение в очередь его чата. Блокируется, пока
// очередь полна (backpressure вместо потери сообщений); ctx прерывает
// только ожидание места, уже принятые сообщения доводятся до конца.
func (s *RelayService) Submit(ctx context.Context, chatID string, sender domain.Sender, text string) error {
	if text == "" {
		return domain.ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrRelayClosed
	}
	w := s.workers[chatID]
	if w == nil {
		w = &chatWorker{
			inbox:   make(chan inbound, s.mailboxSize),
			recheck: make(chan struct{}, 1),
		}
		s.workers[chatID] = w
		s.wg.Add(1)
		go s.runWorker(chatID, w)
	}
	w.pending++
	s.mu.Unlock()

	select {
	case w.inbox <- inbound{sender: sender, text: text}:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		w.pending--
		s.mu.Unlock()
		// воркер мог встать в ожидание именно этого элемента
		select {
		case w.recheck <- struct{}{}:
		default:
		}
		return ctx.Err()
	}
}

// SetTakeover включает или выключает ручной режим чата: пока менеджер
// ведёт чат, пользовательские сообщения сохраняются и рассылаются, но
// автоответ не строится.
func (s *RelayService) SetTakeover(chatID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if active {
		s.takeover[chatID] = struct{}{}
	} else {
		delete(s.takeover, chatID)
	}
}

func (s *RelayService) underTakeover(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.takeover[chatID]
	return ok
}

// Shutdown запрещает новые Submit и ждёт, пока воркеры дообработают
// принятое; ожидание ограничено ctx.
func (s *RelayService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RelayService) runWorker(chatID string, w *chatWorker) {
	defer s.wg.Done()

	idle := time.NewTimer(s.idleAfter)
	defer idle.Stop()

	for {
		select {
		case in := <-w.inbox:
			s.process(chatID, in)
			s.mu.Lock()
			w.pending--
			s.mu.Unlock()

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleAfter)

		case <-idle.C:
			s.mu.Lock()
			if w.pending == 0 {
				delete(s.workers, chatID)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			idle.Reset(s.idleAfter)

		case <-s.quit:
			s.drain(chatID, w)
			return
		}
	}
}

// drain дорабатывает хвост очереди при остановке. pending > 0 гарантирует,
// что элемент либо уже в inbox, либо его Submit дошлёт (или снимет резерв
// и дёрнет recheck).
func (s *RelayService) drain(chatID string, w *chatWorker) {
	for {
		s.mu.Lock()
		if w.pending == 0 {
			delete(s.workers, chatID)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		select {
		case in := <-w.inbox:
			s.process(chatID, in)
			s.mu.Lock()
			w.pending--
			s.mu.Unlock()
		case <-w.recheck:
		}
	}
}

// process — конвейер одного сообщения. Работает на контекстах relay, а не
// соединения: закрытие сокета не прерывает запись.
func (s *RelayService) process(chatID string, in inbound) {
	stored, err := s.appendWithRetry(chatID, in.sender, in.text)
	if err != nil {
		slog.Error("relay append failed", "chat", chatID, "sender", in.sender, "err", err)
		s.notifier.BroadcastError(chatID, storeFailedText)
		return
	}

	if in.sender != domain.SenderUser {
		// сообщение менеджера (или action) терминально: автоответа нет
		s.notifier.SendToChat(chatID, *stored)
		s.notifier.BroadcastManagers(*stored)
		return
	}

	// менеджеры видят вопрос сразу, не дожидаясь ответа
	s.notifier.BroadcastManagers(*stored)

	if s.underTakeover(chatID) {
		return
	}

	reply, err := s.responder.Respond(context.Background(), chatID, in.text)
	if err != nil {
		slog.Warn("responder failed", "chat", chatID, "err", err)
		return
	}

	replyMsg, err := s.appendWithRetry(chatID, domain.SenderBot, reply)
	if err != nil {
		slog.Error("relay reply append failed", "chat", chatID, "err", err)
		s.notifier.BroadcastError(chatID, storeFailedText)
		return
	}

	s.notifier.SendToChat(chatID, *replyMsg)
	s.notifier.BroadcastManagers(*replyMsg)
}

func (s *RelayService) appendWithRetry(chatID string, sender domain.Sender, text string) (*domain.Message, error) {
	backoff := s.retryBase
	var lastErr error

	for attempt := 1; attempt <= storeAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		m, err := s.store.Append(ctx, chatID, sender, text)
		cancel()
		if err == nil {
			return m, nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		if attempt < storeAttempts {
			slog.Warn("store append retry", "chat", chatID, "attempt", attempt, "err", err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return nil, lastErr
}
