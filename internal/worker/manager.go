package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"estatechat/internal/models"
	"estatechat/internal/service/ai"
	"estatechat/internal/service/assistant"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrQueueFull   = errors.New("too many pending messages for this session")
	ErrStopped     = errors.New("chat workers stopped")
	ErrNoGenerator = errors.New("text generation is not configured")
	// ErrGeneration marks a turn whose reply was replaced by the fallback text.
	ErrGeneration = errors.New("error generating chatbot response")
)

// Store is the persistence the chat loop needs.
type Store interface {
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
	ListTurns(ctx context.Context, sessionID int64) ([]*models.Turn, error)
	AppendExchange(ctx context.Context, sessionID int64, message, reply string) (*models.Turn, *models.Turn, error)
}

type Config struct {
	QueueSize     int
	Timeout       time.Duration
	MaxConcurrent int64
	IdleTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
}

type ChatRequest struct {
	Context   context.Context
	SessionID int64
	Message   string
}

// ChatResult holds the two turns appended for one message.
type ChatResult struct {
	UserTurn      *models.Turn
	AssistantTurn *models.Turn
}

type chatTask struct {
	req      ChatRequest
	resultCh chan workerReturn
}

type workerReturn struct {
	result *ChatResult
	err    error
}

type sessionWorker struct {
	id     int64
	taskCh chan chatTask
	stopCh chan struct{}
	state  *sessionState
}

// Manager runs one goroutine per active session so that a session's messages are
// handled strictly in order, while generation across sessions is capped by a semaphore.
type Manager struct {
	store Store
	gen   ai.Generator
	cfg   Config
	sem   *semaphore.Weighted
	log   *zap.Logger

	mu      sync.Mutex
	workers map[int64]*sessionWorker
	stopped bool
	wg      sync.WaitGroup
}

func NewManager(store Store, gen ai.Generator, cfg Config, log *zap.Logger) *Manager {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:   store,
		gen:     gen,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		log:     log,
		workers: make(map[int64]*sessionWorker),
	}
}

// Chat appends the user's message and the assistant reply to the session history.
// When generation fails the fallback reply is stored and an error wrapping
// ErrGeneration is returned together with the result.
func (m *Manager) Chat(req ChatRequest) (*ChatResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, assistant.ErrEmptyMessage
	}
	if req.Context == nil {
		req.Context = context.Background()
	}

	resultCh := make(chan workerReturn, 1)
	if err := m.enqueue(chatTask{req: req, resultCh: resultCh}); err != nil {
		return nil, err
	}

	select {
	case ret := <-resultCh:
		return ret.result, ret.err
	case <-req.Context.Done():
		return nil, req.Context.Err()
	}
}

// Purge drops the cached state of a session, typically after it was reset.
func (m *Manager) Purge(sessionID int64) {
	m.mu.Lock()
	w, ok := m.workers[sessionID]
	m.mu.Unlock()
	if ok {
		w.state.reset()
	}
}

// ActiveWorkers reports how many session goroutines are running.
func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Stop terminates every session worker and waits for in-flight turns to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for _, w := range m.workers {
		close(w.stopCh)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) enqueue(task chatTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	id := task.req.SessionID
	w, ok := m.workers[id]
	if !ok {
		w = &sessionWorker{
			id:     id,
			taskCh: make(chan chatTask, m.cfg.QueueSize),
			stopCh: make(chan struct{}),
			state:  &sessionState{},
		}
		m.workers[id] = w
		m.wg.Add(1)
		go m.runWorker(w)
	}
	select {
	case w.taskCh <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *Manager) runWorker(w *sessionWorker) {
	defer m.wg.Done()
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.stopCh:
			m.log.Debug("chat worker stopped", zap.Int64("session_id", w.id))
			return
		case task := <-w.taskCh:
			m.handleChat(w, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.IdleTimeout)
		case <-idle.C:
			if m.retire(w) {
				m.log.Debug("chat worker retired", zap.Int64("session_id", w.id))
				return
			}
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

// retire removes an idle worker unless a task slipped in. Tasks are only
// enqueued under m.mu, so the check and removal cannot race with a send.
func (m *Manager) retire(w *sessionWorker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w.taskCh) > 0 {
		return false
	}
	if m.workers[w.id] == w {
		delete(m.workers, w.id)
	}
	return true
}

func (m *Manager) handleChat(w *sessionWorker, task chatTask) {
	result, err := m.chat(w, task.req)
	task.resultCh <- workerReturn{result: result, err: err}
}

func (m *Manager) chat(w *sessionWorker, req ChatRequest) (*ChatResult, error) {
	ctx := req.Context
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !w.state.isLoaded() {
		if err := m.loadState(ctx, w); err != nil {
			return nil, err
		}
	}
	session := w.state.getSession()
	if !session.InChat() {
		// reload next time, the session may have been started since
		w.state.reset()
		return nil, assistant.ErrWrongPage
	}

	// the pending message closes the history the prompt is built from
	pending := &models.Turn{SessionID: req.SessionID, Role: models.RoleUser, Content: req.Message}
	history := append(w.state.snapshot(), pending)
	prompt := ai.BuildPrompt(history, session.DocumentText, req.Message)
	reply, genErr := m.generate(ctx, prompt)
	if genErr != nil {
		m.log.Warn("generation failed, storing fallback reply",
			zap.Int64("session_id", req.SessionID), zap.Error(genErr))
		reply = ai.FallbackReply
	}

	// the pair must be stored even if the caller went away
	userTurn, asstTurn, err := m.store.AppendExchange(context.WithoutCancel(ctx), req.SessionID, req.Message, reply)
	if err != nil {
		w.state.reset()
		return nil, fmt.Errorf("store turns: %w", err)
	}
	w.state.appendHistory(userTurn)
	w.state.appendHistory(asstTurn)

	result := &ChatResult{UserTurn: userTurn, AssistantTurn: asstTurn}
	if genErr != nil {
		return result, fmt.Errorf("%w: %w", ErrGeneration, genErr)
	}
	return result, nil
}

func (m *Manager) loadState(ctx context.Context, w *sessionWorker) error {
	session, err := m.store.GetSession(ctx, w.id)
	if err != nil {
		return err
	}
	history, err := m.store.ListTurns(ctx, w.id)
	if err != nil {
		return err
	}
	w.state.load(session, history)
	return nil
}

func (m *Manager) generate(ctx context.Context, prompt string) (string, error) {
	if m.gen == nil {
		return "", ErrNoGenerator
	}
	genCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := m.sem.Acquire(genCtx, 1); err != nil {
		return "", fmt.Errorf("wait for generation slot: %w", err)
	}
	defer m.sem.Release(1)

	start := time.Now()
	reply, err := m.gen.Generate(genCtx, prompt)
	m.log.Debug("generation finished", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return reply, err
}
