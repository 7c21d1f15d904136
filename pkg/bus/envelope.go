package bus

import (
	"context"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Wildcard is the subscription pattern matching every topic.
const Wildcard = "*"

// AgentType names a registered handler constructor.
type AgentType string

// AgentID identifies one materialized instance.
type AgentID struct {
	Type  AgentType
	Topic string
}

func (id AgentID) String() string {
	return string(id.Type) + "/" + id.Topic
}

// Mode tells a handler how it was reached.
type Mode int

const (
	ModeRequestReply Mode = iota
	ModeFireAndForget
)

func (m Mode) String() string {
	if m == ModeFireAndForget {
		return "fire_and_forget"
	}
	return "request_reply"
}

// Envelope is one delivery.
type Envelope struct {
	ID        string
	Topic     string
	Payload   any
	Mode      Mode
	Broadcast bool
	// Sender is the instance that issued the delivery, zero for callers
	// outside the bus.
	Sender AgentID
	SentAt time.Time
}

func newEnvelope(ctx context.Context, payload any, topic string, mode Mode, broadcast bool) Envelope {
	sender, _ := SenderFromContext(ctx)
	return Envelope{
		ID:        gonanoid.Must(),
		Topic:     topic,
		Payload:   payload,
		Mode:      mode,
		Broadcast: broadcast,
		Sender:    sender,
		SentAt:    time.Now(),
	}
}

// Handler processes deliveries for one instance.
type Handler interface {
	Handle(ctx context.Context, env Envelope) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, env Envelope) (any, error) {
	return f(ctx, env)
}

// Factory builds the handler for a new instance. Factories run while the bus
// holds its instance lock and must not call back into the bus.
type Factory func(id AgentID) (Handler, error)

// Options are per agent type.
type Options struct {
	// AcceptsBroadcast opts the type into Publish deliveries. Types are
	// direct-only by default.
	AcceptsBroadcast bool
}

type senderKey struct{}

// SenderFromContext reports the instance whose handler is running on ctx.
func SenderFromContext(ctx context.Context) (AgentID, bool) {
	id, ok := ctx.Value(senderKey{}).(AgentID)
	return id, ok
}

func matchTopic(pattern, topic string) bool {
	return pattern == Wildcard || pattern == topic
}

func validTopic(topic string) bool {
	return topic != "" && topic != Wildcard
}
