// Package generation drives AI turns: at most one in-flight model call
// per chat, with cancellation, a bounded call deadline, and exactly one
// compaction pass after each settled turn.
package generation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/mizulab/hearth/backend/internal/model/character"
	"github.com/mizulab/hearth/backend/internal/model/chat"
	"github.com/mizulab/hearth/backend/internal/service/ai"
	"github.com/mizulab/hearth/backend/internal/service/session"
)

// ErrAlreadyInFlight is returned when a chat already has an active
// generation. Callers do not queue; they surface the rejection.
var ErrAlreadyInFlight = errors.New("generation already in flight for chat")

// ModelClient is the conversation backend capability: one buffered call
// or one finite, non-restartable chunk stream per turn.
type ModelClient interface {
	StreamingEnabled() bool
	Call(ctx context.Context, p ai.Prompt) (*schema.Message, error)
	Stream(ctx context.Context, p ai.Prompt) (*schema.StreamReader[*schema.Message], error)
}

// Compactor is the post-turn budget pass.
type Compactor interface {
	Run(ctx context.Context, chatID string) error
}

// Kind selects the generation workflow.
type Kind string

const (
	// KindSend appends the user turn and generates the character reply.
	KindSend Kind = "send"
	// KindRegenerate produces an alternate branch for an existing
	// character message.
	KindRegenerate Kind = "regenerate"
	// KindOpening generates the character's first message in an empty chat.
	KindOpening Kind = "opening"
)

// Request describes one generation to run.
type Request struct {
	ChatID          string
	Kind            Kind
	UserContent     string // KindSend only
	TargetMessageID string // KindRegenerate only
}

// Result reports how a generation settled.
type Result struct {
	RequestID string
	// Cancelled is set when the turn was aborted by the user (or the
	// model returned the empty cancellation signature); no message was
	// appended and no error is surfaced.
	Cancelled bool
	// Message is the appended character message (send/opening), or the
	// regenerated message with its new branch active.
	Message *chat.Message
	// BranchIndex is the selected branch after a regeneration.
	BranchIndex int
}

// State is the per-chat generation status exposed to the UI.
type State struct {
	Status    string `json:"status"` // "idle" | "inFlight"
	RequestID string `json:"requestId,omitempty"`
}

// EventSink receives lifecycle events for the caller driving this
// request (the SSE handler); the hub covers everyone else.
type EventSink func(Event)

type handle struct {
	requestID string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Coordinator owns the in-flight slot per chat. The slot map under a
// mutex replaces a process-wide abort singleton: cancellation is keyed
// by chat and safe to call from any goroutine.
type Coordinator struct {
	sessions   *session.Service
	characters character.Store
	client     ModelClient
	compactor  Compactor
	hub        *Hub

	replyLanguage string
	timeout       time.Duration

	personaMu sync.RWMutex
	persona   character.Persona

	mu       sync.Mutex
	inflight map[string]*handle
}

// NewCoordinator wires the coordinator. compactor may be nil when no
// summarizer is configured.
func NewCoordinator(sessions *session.Service, characters character.Store, client ModelClient, compactor Compactor, hub *Hub, replyLanguage string, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Coordinator{
		sessions:      sessions,
		characters:    characters,
		client:        client,
		compactor:     compactor,
		hub:           hub,
		replyLanguage: replyLanguage,
		timeout:       timeout,
		inflight:      make(map[string]*handle),
	}
}

// SetPersona updates the user persona injected into prompts.
func (c *Coordinator) SetPersona(p character.Persona) {
	c.personaMu.Lock()
	c.persona = p
	c.personaMu.Unlock()
}

func (c *Coordinator) userPersona() character.Persona {
	c.personaMu.RLock()
	defer c.personaMu.RUnlock()
	return c.persona
}

// State reports the chat's generation status.
func (c *Coordinator) State(chatID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.inflight[chatID]; ok {
		return State{Status: "inFlight", RequestID: h.requestID}
	}
	return State{Status: "idle"}
}

// Cancel aborts the chat's active generation, if any. Best-effort and
// idempotent; it only flips the handle's flag and cancels its context.
func (c *Coordinator) Cancel(chatID string) {
	c.mu.Lock()
	h := c.inflight[chatID]
	var cancel context.CancelFunc
	if h != nil {
		h.cancelled.Store(true)
		cancel = h.cancel
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Generate runs one AI turn to completion in the calling goroutine.
// It fails fast with ErrAlreadyInFlight when the chat has an active
// generation.
func (c *Coordinator) Generate(ctx context.Context, req Request, sink EventSink) (*Result, error) {
	loaded, err := c.sessions.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	card, ok := c.characters.FindByID(loaded.CharacterID)
	if !ok {
		return nil, fmt.Errorf("character %s not found", loaded.CharacterID)
	}

	h, err := c.acquire(req.ChatID)
	if err != nil {
		return nil, err
	}
	defer c.release(req.ChatID)

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	h.cancel = cancel
	c.mu.Unlock()
	callCtx, cancelTimeout := context.WithTimeout(callCtx, c.timeout)
	defer cancelTimeout()

	c.publish(sink, Event{Type: EventStart, ChatID: req.ChatID, RequestID: h.requestID})

	// For a send, the user turn is persisted before the model call so a
	// failed generation never loses what the user typed.
	if req.Kind == KindSend {
		if _, err := c.sessions.AppendMessage(ctx, req.ChatID, chat.SenderUser, req.UserContent); err != nil {
			c.publish(sink, Event{Type: EventError, ChatID: req.ChatID, RequestID: h.requestID, Error: err.Error()})
			return nil, err
		}
		loaded, err = c.sessions.GetChat(ctx, req.ChatID)
		if err != nil {
			return nil, err
		}
	}

	prompt, err := c.buildPrompt(loaded, card, req)
	if err != nil {
		c.publish(sink, Event{Type: EventError, ChatID: req.ChatID, RequestID: h.requestID, Error: err.Error()})
		return nil, err
	}

	content, callErr := c.dispatch(callCtx, req.ChatID, h.requestID, prompt, sink)

	if callErr != nil {
		return c.settleFailure(ctx, req, card, h, sink, callErr)
	}
	if strings.TrimSpace(content) == "" {
		// Empty result with no error is the cancellation signature of
		// an aborted stream: nothing is appended.
		c.publish(sink, Event{Type: EventCancelled, ChatID: req.ChatID, RequestID: h.requestID})
		return &Result{RequestID: h.requestID, Cancelled: true}, nil
	}

	result, err := c.settleSuccess(ctx, req, card, h, content)
	if err != nil {
		c.publish(sink, Event{Type: EventError, ChatID: req.ChatID, RequestID: h.requestID, Error: err.Error()})
		return nil, err
	}

	c.publish(sink, Event{Type: EventMessage, ChatID: req.ChatID, RequestID: h.requestID, MessageID: result.Message.ID, Content: content})
	c.publish(sink, Event{Type: EventEnd, ChatID: req.ChatID, RequestID: h.requestID, MessageID: result.Message.ID})

	if c.compactor != nil {
		if err := c.compactor.Run(ctx, req.ChatID); err != nil {
			// Compaction never blocks the conversation; it retries
			// after the next turn.
			log.Printf("[compact] chat=%s pass failed, will retry next turn: %v", req.ChatID, err)
		}
	}

	return result, nil
}

func (c *Coordinator) acquire(chatID string) (*handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[chatID]; busy {
		return nil, ErrAlreadyInFlight
	}
	h := &handle{requestID: newRequestID()}
	c.inflight[chatID] = h
	return h, nil
}

func (c *Coordinator) release(chatID string) {
	c.mu.Lock()
	delete(c.inflight, chatID)
	c.mu.Unlock()
}

func (c *Coordinator) publish(sink EventSink, ev Event) {
	if c.hub != nil {
		c.hub.Publish(ev)
	}
	if sink != nil {
		sink(ev)
	}
}

const openingDirective = "(Greet me and open the conversation in character.)"

func (c *Coordinator) buildPrompt(loaded *chat.Chat, card character.Character, req Request) (ai.Prompt, error) {
	in := ai.PromptInput{
		Character:     card,
		Persona:       c.userPersona(),
		Mode:          loaded.Mode,
		Memories:      loaded.Memories,
		ReplyLanguage: c.replyLanguage,
	}

	switch req.Kind {
	case KindOpening:
		in.Query = openingDirective

	case KindSend:
		// The freshly appended user turn is the query; everything
		// before it is history.
		if len(loaded.Messages) == 0 {
			return ai.Prompt{}, fmt.Errorf("chat %s has no messages to reply to", loaded.ID)
		}
		in.History = loaded.Messages[:len(loaded.Messages)-1]
		in.Query = req.UserContent

	case KindRegenerate:
		i := loaded.MessageIndex(req.TargetMessageID)
		if i < 0 {
			return ai.Prompt{}, session.ErrMessageNotFound
		}
		target := &loaded.Messages[i]
		if target.IsUser() {
			return ai.Prompt{}, fmt.Errorf("message %s is a user turn and cannot be regenerated", target.ID)
		}
		in.AvoidContents = target.BranchContents()
		if i > 0 && loaded.Messages[i-1].IsUser() {
			in.History = loaded.Messages[:i-1]
			in.Query = loaded.Messages[i-1].ActiveContent()
		} else {
			in.History = loaded.Messages[:i]
			in.Query = openingDirective
		}

	default:
		return ai.Prompt{}, fmt.Errorf("unknown generation kind %q", req.Kind)
	}

	return ai.BuildPrompt(in), nil
}

// dispatch runs the model call through whichever backend shape is
// configured and returns the complete response text. The streaming
// backend accumulates chunks; only the assembled text is persisted,
// never partial fragments.
func (c *Coordinator) dispatch(ctx context.Context, chatID, requestID string, prompt ai.Prompt, sink EventSink) (string, error) {
	if !c.client.StreamingEnabled() {
		msg, err := c.client.Call(ctx, prompt)
		if err != nil {
			return "", err
		}
		return msg.Content, nil
	}

	stream, err := c.client.Stream(ctx, prompt)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			c.publish(sink, Event{Type: EventDelta, ChatID: chatID, RequestID: requestID, Content: chunk.Content})
		}
	}

	if len(chunks) == 0 {
		return "", nil
	}
	full, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return full.Content, nil
}

// settleFailure sorts an aborted call into its three outcomes: user
// cancellation is silent, a timeout or provider error leaves a visible
// error bubble. Bubbles apply to send and opening only; a failed
// regeneration keeps the existing branches untouched.
func (c *Coordinator) settleFailure(ctx context.Context, req Request, card character.Character, h *handle, sink EventSink, callErr error) (*Result, error) {
	if h.cancelled.Load() || errors.Is(callErr, context.Canceled) {
		c.publish(sink, Event{Type: EventCancelled, ChatID: req.ChatID, RequestID: h.requestID})
		return &Result{RequestID: h.requestID, Cancelled: true}, nil
	}

	var bubble string
	if errors.Is(callErr, context.DeadlineExceeded) {
		bubble = fmt.Sprintf("%s took too long to respond. Try again.", card.Name)
		callErr = fmt.Errorf("generation timed out after %s: %w", c.timeout, callErr)
	} else {
		bubble = fmt.Sprintf("%s could not respond: %v", card.Name, callErr)
	}

	if req.Kind != KindRegenerate {
		if _, err := c.sessions.AppendErrorMessage(ctx, req.ChatID, card.ID, bubble); err != nil {
			log.Printf("[generate] chat=%s failed to append error bubble: %v", req.ChatID, err)
		}
	}

	c.publish(sink, Event{Type: EventError, ChatID: req.ChatID, RequestID: h.requestID, Error: callErr.Error()})
	return nil, callErr
}

func (c *Coordinator) settleSuccess(ctx context.Context, req Request, card character.Character, h *handle, content string) (*Result, error) {
	if req.Kind == KindRegenerate {
		index, err := c.sessions.AddBranch(ctx, req.ChatID, req.TargetMessageID, content)
		if err != nil {
			return nil, err
		}
		if err := c.sessions.SetBranchIndex(ctx, req.ChatID, req.TargetMessageID, index); err != nil {
			return nil, err
		}
		updated, err := c.sessions.GetChat(ctx, req.ChatID)
		if err != nil {
			return nil, err
		}
		i := updated.MessageIndex(req.TargetMessageID)
		if i < 0 {
			return nil, session.ErrMessageNotFound
		}
		msg := updated.Messages[i]
		return &Result{RequestID: h.requestID, Message: &msg, BranchIndex: index}, nil
	}

	appended, err := c.sessions.AppendMessage(ctx, req.ChatID, card.ID, content)
	if err != nil {
		return nil, err
	}
	return &Result{RequestID: h.requestID, Message: &appended}, nil
}

func newRequestID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}
