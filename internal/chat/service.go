// Package chat answers visitor questions from retrieved document context and
// refuses to answer when retrieval finds nothing relevant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omj-erie/omjsite/internal/engine"
	"github.com/omj-erie/omjsite/internal/retrieval"
	"github.com/omj-erie/omjsite/internal/storage"
)

// DefaultHistoryTurns is how many stored messages are replayed to the model.
const DefaultHistoryTurns = 8

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrEmptySession = errors.New("session token is required")
)

// Store persists sessions, messages and analytics.
type Store interface {
	GetOrCreateSession(ctx context.Context, token string) (storage.ChatSession, error)
	AddChatMessage(ctx context.Context, m storage.ChatMessage) error
	RecentChatMessages(ctx context.Context, sessionID string, limit int) ([]storage.ChatMessage, error)
	RecordAnalytics(ctx context.Context, e storage.AnalyticsEvent) error
}

// Retriever assembles grounding context for a query.
type Retriever interface {
	GetRelevantContext(ctx context.Context, query string) (retrieval.Context, retrieval.Trace)
}

// Reply is the outcome of one chat turn.
type Reply struct {
	SessionID     string `json:"sessionId"`
	Message       string `json:"message"`
	Grounded      bool   `json:"grounded"`
	ContextChunks int    `json:"contextChunks"`
}

// Service runs chat turns.
type Service struct {
	store        Store
	retriever    Retriever
	completer    engine.Completer
	historyTurns int
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a Service. historyTurns <= 0 uses DefaultHistoryTurns.
func NewService(store Store, retriever Retriever, completer engine.Completer, historyTurns int, logger *slog.Logger) *Service {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		retriever:    retriever,
		completer:    completer,
		historyTurns: historyTurns,
		logger:       logger,
		now:          time.Now,
	}
}

// Reply stores the user message, retrieves context and, only when context was
// found, asks the completer for an answer grounded in it. Without context the
// fixed NoContextReply is returned and the completer is never called.
func (s *Service) Reply(ctx context.Context, sessionToken, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, ErrEmptyMessage
	}
	if sessionToken == "" {
		return Reply{}, ErrEmptySession
	}
	start := s.now()

	sess, err := s.store.GetOrCreateSession(ctx, sessionToken)
	if err != nil {
		return Reply{}, fmt.Errorf("loading session: %w", err)
	}
	log := s.logger.With("session_id", sess.ID)

	if err := s.store.AddChatMessage(ctx, storage.ChatMessage{SessionID: sess.ID, Role: engine.RoleUser, Content: message}); err != nil {
		return Reply{}, fmt.Errorf("storing user message: %w", err)
	}

	rc, trace := s.retriever.GetRelevantContext(ctx, message)
	log.Debug("retrieval trace", "phase", trace.Phase, "neighbors", len(trace.Neighbors),
		"context_chunks", trace.ContextCount, "duration", trace.Duration)

	if rc.Empty() {
		log.Info("no context retrieved, refusing to answer", "trace_error", trace.Error)
		reply := Reply{SessionID: sess.ID, Message: NoContextReply}
		s.record(ctx, sess.ID, message, reply, start)
		return reply, nil
	}

	history, err := s.store.RecentChatMessages(ctx, sess.ID, s.historyTurns)
	if err != nil {
		return Reply{}, fmt.Errorf("loading history: %w", err)
	}

	answer, err := s.completer.Complete(ctx, Compose(rc.Text, history))
	if err != nil {
		return Reply{}, fmt.Errorf("generating reply: %w", err)
	}

	if err := s.store.AddChatMessage(ctx, storage.ChatMessage{
		SessionID: sess.ID,
		Role:      engine.RoleAssistant,
		Content:   answer,
		Grounded:  true,
	}); err != nil {
		log.Warn("storing assistant message", "error", err)
	}

	reply := Reply{SessionID: sess.ID, Message: answer, Grounded: true, ContextChunks: rc.ChunkCount}
	s.record(ctx, sess.ID, message, reply, start)
	return reply, nil
}

func (s *Service) record(ctx context.Context, sessionID, message string, reply Reply, start time.Time) {
	err := s.store.RecordAnalytics(context.WithoutCancel(ctx), storage.AnalyticsEvent{
		SessionID:       sessionID,
		QueryAnonymized: Anonymize(message),
		Category:        Categorize(message),
		ContextChunks:   reply.ContextChunks,
		Grounded:        reply.Grounded,
		ResponseTime:    s.now().Sub(start),
	})
	if err != nil {
		s.logger.Warn("recording chat analytics", "session_id", sessionID, "error", err)
	}
}
