package llm

import "strings"

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// FunctionCall is a structured tool invocation requested by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	Name     string
	Response map[string]any
}

// Part is one segment of a turn. Exactly one field is set.
type Part struct {
	Text             string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

type Turn struct {
	Role  Role
	Parts []Part
}

// Conversation is the ordered turn sequence for a single query.
type Conversation struct {
	turns []Turn
}

// NewConversation starts a conversation with one user text turn.
func NewConversation(query string) *Conversation {
	return &Conversation{
		turns: []Turn{{Role: RoleUser, Parts: []Part{{Text: query}}}},
	}
}

// AppendExchange records a model function call immediately followed by the
// user turn carrying its result.
func (c *Conversation) AppendExchange(call FunctionCall, response FunctionResponse) {
	c.turns = append(c.turns,
		Turn{Role: RoleModel, Parts: []Part{{FunctionCall: &call}}},
		Turn{Role: RoleUser, Parts: []Part{{FunctionResponse: &response}}},
	)
}

// Turns returns a copy of the turn slice.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	return len(c.turns)
}

// Response is the first candidate of a model reply.
type Response struct {
	Parts []Part
}

// Text concatenates the text parts, ignoring function calls.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FunctionCalls returns the function-call parts in order.
func (r *Response) FunctionCalls() []FunctionCall {
	if r == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range r.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}
