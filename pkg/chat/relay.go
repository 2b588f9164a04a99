// Package chat implements the Chat Relay: in-process conversation state
// plus the bridge from a client's full-duplex connection to a streaming
// agent call. Built around an in-memory map keyed by id, an RWMutex, and
// a Clone()-for-safe-reads pattern on every read path, generalized from
// single-shot sessions to long-lived, repeatedly-streamed Conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/riverbend-labs/agentcheck/pkg/agentio"
	"github.com/riverbend-labs/agentcheck/pkg/model"
)

// ErrNotFound is returned when a conversation id is unknown.
var ErrNotFound = errors.New("conversation not found")

// ErrStreamInFlight is returned by beginStream (and sent by SendMessage
// as an error event) when a second concurrent
// send_message targets a conversation that already has one running,
// per §4.G's "rejects a second concurrent send_message for the same id."
var ErrStreamInFlight = errors.New("a stream is already in flight for this conversation")

// ClientEventType tags one event emitted to the client's channel.
type ClientEventType string

// Client event kinds, per §4.G step 4-6.
const (
	EventMessage    ClientEventType = "message"
	EventToken      ClientEventType = "token"
	EventToolCall   ClientEventType = "tool_call"
	EventToolOut    ClientEventType = "tool_output"
	EventMessageEnd ClientEventType = "message_end"
	EventError      ClientEventType = "error"
)

// ClientEvent is one message sent to the client over its full-duplex
// connection.
type ClientEvent struct {
	Type ClientEventType `json:"type"`
	Data any             `json:"data,omitempty"`
}

// messageData is the payload of an EventMessage event.
type messageData struct {
	Role    model.MessageRole `json:"role"`
	Content string            `json:"content"`
}

type tokenData struct {
	Content string `json:"content"`
}

type toolCallData struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
	ID   string         `json:"id,omitempty"`
}

type toolOutputData struct {
	ToolName   string `json:"tool_name"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content"`
}

type errorData struct {
	Message string `json:"message"`
}

// Relay holds every conversation in process and bridges send_message
// requests to a streaming agent.
type Relay struct {
	factory agentio.AgentFactory

	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	inFlight      map[string]bool
}

// NewRelay builds a Relay that uses factory to build a fresh agent
// instance per send_message call, per §4.G step 2.
func NewRelay(factory agentio.AgentFactory) *Relay {
	return &Relay{
		factory:       factory,
		conversations: make(map[string]*model.Conversation),
		inFlight:      make(map[string]bool),
	}
}

// CreateConversation starts a new, empty conversation.
func (r *Relay) CreateConversation(agentID, modelName, title string) *model.Conversation {
	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Model:     modelName,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.conversations[conv.ID] = conv
	r.mu.Unlock()
	return conv.Clone()
}

// ListConversations returns every conversation, in no particular
// order beyond Go's own map iteration (callers sort if needed).
func (r *Relay) ListConversations() []model.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, *c.Clone())
	}
	return out
}

// GetConversation returns one conversation by id.
func (r *Relay) GetConversation(id string) (*model.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// DeleteConversation removes a conversation entirely.
func (r *Relay) DeleteConversation(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.conversations, id)
	delete(r.inFlight, id)
	return nil
}

// ClearConversation drops all messages but keeps the conversation's id,
// agent and model.
func (r *Relay) ClearConversation(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.Messages = nil
	c.UpdatedAt = time.Now()
	return nil
}

// beginStream claims the in-flight slot for id, or reports it already
// taken.
func (r *Relay) beginStream(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.inFlight[id] {
		return ErrStreamInFlight
	}
	r.inFlight[id] = true
	return nil
}

func (r *Relay) endStream(id string) {
	r.mu.Lock()
	delete(r.inFlight, id)
	r.mu.Unlock()
}

func (r *Relay) appendMessage(id string, msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conversations[id]; ok {
		c.Messages = append(c.Messages, msg)
		c.UpdatedAt = time.Now()
	}
}

func (r *Relay) historySnapshot(id string) []model.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil
	}
	return append([]model.Message(nil), c.Messages...)
}

// SendMessage runs the per-message protocol for one user turn, emitting
// a ClientEvent for every step onto out. SendMessage blocks until the
// agent's stream ends (or fails) and never returns an error itself:
// protocol-level errors are reported through out as an EventError,
// routing connection failures through the message channel rather than a
// return value.
func (r *Relay) SendMessage(ctx context.Context, id, content string, out chan<- ClientEvent) {
	if err := r.beginStream(id); err != nil {
		out <- ClientEvent{Type: EventError, Data: errorData{Message: err.Error()}}
		return
	}
	defer r.endStream(id)

	userMsg := model.Message{Role: model.RoleHuman, Content: content}
	r.appendMessage(id, userMsg)
	out <- ClientEvent{Type: EventMessage, Data: messageData{Role: model.RoleHuman, Content: content}}

	conv, err := r.GetConversation(id)
	if err != nil {
		out <- ClientEvent{Type: EventError, Data: errorData{Message: err.Error()}}
		return
	}

	agent, err := r.factory(conv.Model)
	if err != nil {
		out <- ClientEvent{Type: EventError, Data: errorData{Message: err.Error()}}
		return
	}

	history := r.historySnapshot(id)
	events, errCh := agent.Stream(ctx, history)

	var accumulated strings.Builder
	for events != nil || errCh != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.emitStreamEvent(ev, &accumulated, out)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				out <- ClientEvent{Type: EventError, Data: errorData{Message: err.Error()}}
				return
			}
		case <-ctx.Done():
			out <- ClientEvent{Type: EventError, Data: errorData{Message: ctx.Err().Error()}}
			return
		}
	}

	if accumulated.Len() > 0 {
		aiMsg := model.Message{Role: model.RoleAI, Content: accumulated.String()}
		r.appendMessage(id, aiMsg)
	}
	out <- ClientEvent{Type: EventMessageEnd}
}

func (r *Relay) emitStreamEvent(ev agentio.StreamEvent, accumulated *strings.Builder, out chan<- ClientEvent) {
	switch ev.Type {
	case agentio.StreamToken:
		accumulated.WriteString(ev.Content)
		out <- ClientEvent{Type: EventToken, Data: tokenData{Content: ev.Content}}
	case agentio.StreamToolCall:
		out <- ClientEvent{Type: EventToolCall, Data: toolCallDataFromStream(ev)}
	case agentio.StreamToolOutput:
		out <- ClientEvent{Type: EventToolOut, Data: toolOutputData{
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			Content:    ev.Content,
		}}
	case agentio.StreamEnd:
		// handled by the caller once the channel closes
	}
}

func toolCallDataFromStream(ev agentio.StreamEvent) toolCallData {
	data := toolCallData{ID: ev.ToolCallID}
	if ev.ToolCall != nil {
		data.Name = ev.ToolCall.Name
		data.Args = ev.ToolCall.Args
		if data.ID == "" {
			data.ID = ev.ToolCall.ID
		}
	} else {
		data.Name = ev.ToolName
	}
	return data
}
