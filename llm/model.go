package llm

import "context"

// FunctionDeclaration describes a callable tool to the model.
type FunctionDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one generate-content call.
type Request struct {
	Turns       []Turn
	Tools       []FunctionDeclaration
	Temperature float32
}

// Model is the generate-content capability.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Name() string
}
