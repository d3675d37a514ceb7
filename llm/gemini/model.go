// Package gemini implements llm.Model on top of the Gemini generate-content API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/user/mcp-tool-relay/errorsx"
	"github.com/user/mcp-tool-relay/llm"
)

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the public Gemini API.
	BaseURL string
	// Timeout bounds each generate call; zero leaves only the caller's deadline.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Model is a genai-backed llm.Model.
type Model struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func New(ctx context.Context, cfg Config) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, errorsx.New(errorsx.ReasonConfig, "gemini: api key is required")
	}
	if cfg.Model == "" {
		return nil, errorsx.New(errorsx.ReasonConfig, "gemini: model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Model{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (m *Model) Name() string { return m.model }

// Generate submits the whole conversation with the tool declarations.
func (m *Model) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
		Tools:       toTools(req.Tools),
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, toContents(req.Turns), config)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("generate content: %w", err), errorsx.ReasonLLMGenerate)
	}

	return fromResponse(resp)
}

func toContents(turns []llm.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			switch {
			case p.FunctionCall != nil:
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			default:
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		contents = append(contents, &genai.Content{Role: string(turn.Role), Parts: parts})
	}
	return contents
}

// toTools wraps every declaration in its own Tool, one function per tool.
func toTools(decls []llm.FunctionDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}
	tools := make([]*genai.Tool, 0, len(decls))
	for _, d := range decls {
		fd := &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if len(d.Parameters) > 0 {
			fd.ParametersJsonSchema = d.Parameters
		}
		tools = append(tools, &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{fd}})
	}
	return tools
}

func fromResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		reason := "no candidates"
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return nil, errorsx.New(errorsx.ReasonLLMGenerate, "gemini: %s", reason)
	}

	out := &llm.Response{}
	content := resp.Candidates[0].Content
	if content == nil {
		return out, nil
	}
	for _, p := range content.Parts {
		if p == nil || p.Thought {
			continue
		}
		switch {
		case p.FunctionCall != nil:
			out.Parts = append(out.Parts, llm.Part{FunctionCall: &llm.FunctionCall{
				Name: p.FunctionCall.Name,
				Args: p.FunctionCall.Args,
			}})
		case p.Text != "":
			out.Parts = append(out.Parts, llm.Part{Text: p.Text})
		}
	}
	return out, nil
}
