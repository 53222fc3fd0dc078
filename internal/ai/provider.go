package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces a single complete assistant reply.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Pinger is implemented by providers that expose a cheap liveness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelNamer reports the model a provider talks to; stored on assistant messages.
type ModelNamer interface {
	ModelName() string
}

// SamplingOptions are forwarded to the upstream model on every request.
// The zero value leaves sampling to the upstream. Otherwise all fields are sent,
// zeros included, except a zero NumPredict which means no limit.
type SamplingOptions struct {
	NumPredict  int
	Temperature float64
	TopK        int
	TopP        float64
}
