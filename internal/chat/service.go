package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/webchat/internal/ai"
	"github.com/suPer8Hu/webchat/internal/logger"
	"github.com/suPer8Hu/webchat/internal/render"
)

const (
	maxTitleRunes      = 255
	defaultPingTimeout = 5 * time.Second

	errorReply = "Sorry, something went wrong while generating a response. Please try again."
)

type Service struct {
	repo        *Repo
	registry    *ai.Registry
	locks       *KeyedMutex
	log         *logger.Logger
	windowSize  int
	pingTimeout time.Duration
}

func NewService(repo *Repo, registry *ai.Registry, log *logger.Logger, contextWindowSize int) *Service {
	if contextWindowSize <= 0 {
		contextWindowSize = DefaultWindowSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:        repo,
		registry:    registry,
		locks:       NewKeyedMutex(),
		log:         log.With("component", "chat"),
		windowSize:  contextWindowSize,
		pingTimeout: defaultPingTimeout,
	}
}

// SendInput is one user submission. ConversationID 0 starts a new conversation.
type SendInput struct {
	UserID         uint64
	ConversationID uint64
	Content        string
	Provider       string
	Model          string
}

type SendResult struct {
	Conversation     *Conversation `json:"conversation"`
	UserMessage      *Message      `json:"user_message"`
	AssistantMessage *Message      `json:"assistant_message"`
	// Unavailable is set when the model service failed its liveness probe and a
	// canned reply was stored instead.
	Unavailable bool `json:"unavailable"`
}

type EventType string

const (
	EventStart   EventType = "start"
	EventContent EventType = "content"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

type Event struct {
	Type         EventType
	Conversation *Conversation
	UserMessage  *Message
	Content      string
	Message      *Message
	Unavailable  bool
	Err          error
}

// UnavailableReply is the deterministic assistant turn stored when the model
// service cannot be reached.
func UnavailableReply(userContent string) string {
	return fmt.Sprintf("The AI service is currently unavailable, so I can't answer right now. "+
		"Your message was saved: %q. Please try again in a moment.", userContent)
}

func (s *Service) CreateConversation(ctx context.Context, userID uint64, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = render.DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	return s.repo.CreateConversation(ctx, userID, title)
}

func (s *Service) GetConversation(ctx context.Context, userID, id uint64) (*Conversation, error) {
	return s.repo.GetConversation(ctx, id, userID)
}

func (s *Service) ListConversations(ctx context.Context, userID uint64) ([]ConversationSummary, error) {
	return s.repo.ListConversations(ctx, userID)
}

func (s *Service) ListMessages(ctx context.Context, userID, conversationID uint64) ([]Message, error) {
	return s.repo.ListMessages(ctx, conversationID, userID)
}

func (s *Service) RenameConversation(ctx context.Context, userID, id uint64, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		title = string([]rune(title)[:maxTitleRunes])
	}
	ok, err := s.repo.UpdateTitle(ctx, id, userID, title)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.repo.GetConversation(ctx, id, userID)
}

// DeleteConversation reports whether anything was removed; repeating it is a no-op.
func (s *Service) DeleteConversation(ctx context.Context, userID, id uint64) (bool, error) {
	return s.repo.DeleteConversation(ctx, id, userID)
}

// prepared is the state shared by the blocking and streaming paths once the user
// turn is durable. The caller must call unlock.
type prepared struct {
	conv     *Conversation
	userMsg  *Message
	provider ai.Provider
	unlock   func()
}

func (s *Service) prepare(ctx context.Context, in SendInput) (*prepared, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	provider, err := s.registry.Get(ctx, in.Provider, in.Model)
	if err != nil {
		return nil, err
	}

	if in.ConversationID == 0 {
		conv, userMsg, err := s.repo.StartConversation(ctx, in.UserID, render.Title(content), in.Content)
		if err != nil {
			return nil, err
		}
		unlock := s.locks.Lock(conv.ID)
		return &prepared{conv: conv, userMsg: userMsg, provider: provider, unlock: unlock}, nil
	}

	conv, err := s.repo.GetConversation(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(conv.ID)

	userMsg, err := s.repo.AppendMessage(ctx, conv.ID, ai.RoleUser, in.Content, nil)
	if err != nil {
		unlock()
		return nil, err
	}
	if err := s.repo.TouchUpdatedAt(ctx, conv.ID); err != nil {
		s.log.Warn("touch conversation failed", "conversation_id", conv.ID, "error", err)
	}

	return &prepared{conv: conv, userMsg: userMsg, provider: provider, unlock: unlock}, nil
}

func (s *Service) available(ctx context.Context, p ai.Provider) bool {
	pinger, ok := p.(ai.Pinger)
	if !ok {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	defer cancel()
	if err := pinger.Ping(pctx); err != nil {
		s.log.Warn("model service unavailable", "error", err)
		return false
	}
	return true
}

func modelOf(p ai.Provider) *string {
	if n, ok := p.(ai.ModelNamer); ok {
		if name := n.ModelName(); name != "" {
			return &name
		}
	}
	return nil
}

// finish persists the assistant turn and bumps the conversation.
func (s *Service) finish(ctx context.Context, convID uint64, content string, model *string) (*Message, error) {
	msg, err := s.repo.AppendMessage(ctx, convID, ai.RoleAssistant, content, model)
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchUpdatedAt(ctx, convID); err != nil {
		s.log.Warn("touch conversation failed", "conversation_id", convID, "error", err)
	}
	return msg, nil
}

// recordFailure stores an error turn so the history matches what the user saw.
// Its own failure is only logged.
func (s *Service) recordFailure(ctx context.Context, convID uint64, cause error) {
	s.log.Error("chat generation failed", "conversation_id", convID, "error", cause)
	ctx = context.WithoutCancel(ctx)
	if _, err := s.finish(ctx, convID, errorReply, nil); err != nil {
		s.log.Error("persist error turn failed", "conversation_id", convID, "error", err)
	}
}

func upstreamErr(err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// SendMessage runs one blocking exchange. The user turn is stored before any
// upstream call is made.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (*SendResult, error) {
	p, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	defer p.unlock()

	res := &SendResult{Conversation: p.conv, UserMessage: p.userMsg}

	window, err := s.repo.WindowedContext(ctx, p.conv.ID, s.windowSize)
	if err != nil {
		s.recordFailure(ctx, p.conv.ID, err)
		return nil, err
	}

	if !s.available(ctx, p.provider) {
		msg, err := s.finish(ctx, p.conv.ID, UnavailableReply(in.Content), nil)
		if err != nil {
			s.recordFailure(ctx, p.conv.ID, err)
			return nil, err
		}
		res.AssistantMessage = msg
		res.Unavailable = true
		return res, nil
	}

	reply, err := p.provider.Chat(ctx, window)
	if err != nil {
		s.recordFailure(ctx, p.conv.ID, err)
		return nil, upstreamErr(err)
	}

	msg, err := s.finish(ctx, p.conv.ID, reply, modelOf(p.provider))
	if err != nil {
		s.recordFailure(ctx, p.conv.ID, err)
		return nil, err
	}
	res.AssistantMessage = msg
	return res, nil
}

// SendMessageStream validates and stores the user turn synchronously, then relays
// the reply as events on the returned channel. The channel is closed after a done
// or error event, or when ctx ends.
func (s *Service) SendMessageStream(ctx context.Context, in SendInput) (<-chan Event, error) {
	p, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer p.unlock()

		emit := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(cause error) {
			s.recordFailure(ctx, p.conv.ID, cause)
			emit(Event{Type: EventError, Err: upstreamErr(cause)})
		}

		if !emit(Event{Type: EventStart, Conversation: p.conv, UserMessage: p.userMsg}) {
			s.recordFailure(ctx, p.conv.ID, ctx.Err())
			return
		}

		window, err := s.repo.WindowedContext(ctx, p.conv.ID, s.windowSize)
		if err != nil {
			fail(err)
			return
		}

		if !s.available(ctx, p.provider) {
			text := UnavailableReply(in.Content)
			msg, err := s.finish(context.WithoutCancel(ctx), p.conv.ID, text, nil)
			if err != nil {
				s.recordFailure(ctx, p.conv.ID, err)
				emit(Event{Type: EventError, Err: err})
				return
			}
			if emit(Event{Type: EventContent, Content: text}) {
				emit(Event{Type: EventDone, Message: msg, Unavailable: true})
			}
			return
		}

		var reply string
		if sp, ok := p.provider.(ai.StreamProvider); ok {
			chunks, errs := sp.StreamChat(ctx, window)
			var b strings.Builder
			for c := range chunks {
				b.WriteString(c)
				if !emit(Event{Type: EventContent, Content: c}) {
					// drain so the provider goroutine can exit
					for range chunks {
					}
					break
				}
			}
			if err := <-errs; err != nil {
				fail(err)
				return
			}
			if ctx.Err() != nil {
				s.recordFailure(ctx, p.conv.ID, ctx.Err())
				return
			}
			reply = b.String()
		} else {
			reply, err = p.provider.Chat(ctx, window)
			if err != nil {
				fail(err)
				return
			}
			if !emit(Event{Type: EventContent, Content: reply}) {
				s.recordFailure(ctx, p.conv.ID, ctx.Err())
				return
			}
		}

		msg, err := s.finish(context.WithoutCancel(ctx), p.conv.ID, reply, modelOf(p.provider))
		if err != nil {
			s.recordFailure(ctx, p.conv.ID, err)
			emit(Event{Type: EventError, Err: err})
			return
		}
		emit(Event{Type: EventDone, Message: msg})
	}()

	return out, nil
}
