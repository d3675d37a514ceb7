// Package toolhost is the tool-providing MCP server: calculate_bmi,
// calculate_area and secret.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/mcp-tool-relay/errorsx"
	"github.com/user/mcp-tool-relay/logging"
)

const (
	serverName    = "tool-host"
	serverVersion = "0.1.0"

	schemaDialect = "https://json-schema.org/draft/2020-12/schema"
)

// NewServer builds the tool host with all tools registered.
func NewServer(logger *logging.Logger) *mcp.Server {
	logger = logger.With("toolhost")
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	addTool(server, logger, "calculate_bmi", "Calculate the BMI given weight in kg and height in meters", calculateBMI)
	addTool(server, logger, "calculate_area", "Calculate the area of rectangle of given width and height", calculateArea)
	addTool(server, logger, "secret", "Returns the Secret to the User", secret)

	return server
}

// Run serves the tool host on stdio until the client closes stdin or ctx is done.
func Run(ctx context.Context, logger *logging.Logger) error {
	logger.With("toolhost").Info("serving tools on stdio")
	if err := NewServer(logger).Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tool host: %w", err)
	}
	return nil
}

// addTool registers run under name with an input schema inferred from A.
// Schema inference only fails for unsupported Go types, which is a
// programming error, so it panics like mcp.AddTool does.
func addTool[A any](server *mcp.Server, logger *logging.Logger, name, description string, run func(A) (string, error)) {
	schema, err := jsonschema.For[A](nil)
	if err != nil {
		panic(fmt.Errorf("tool %s: infer input schema: %w", name, err))
	}
	schema.Schema = schemaDialect

	server.AddTool(&mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, handler(logger, name, schema.Required, run))
}

// handler adapts a typed tool into a raw tool handler. Every failure,
// including panics, is reported in the result payload; the handler itself
// never returns an error.
func handler[A any](logger *logging.Logger, name string, required []string, run func(A) (string, error)) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (result *mcp.CallToolResult, _ error) {
		defer func() {
			if r := recover(); r != nil {
				err := errorsx.New(errorsx.ReasonToolExecution, "%s panicked: %v", name, r)
				logger.Error("%v", err)
				result = errorResult(err)
			}
		}()

		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		logger.Debug("call %s args=%s", name, string(raw))

		args, err := decodeArgs[A](raw, required)
		if err != nil {
			logger.Warn("%s: %v", name, err)
			return errorResult(err), nil
		}

		text, err := run(args)
		if err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonToolExecution)
			logger.Warn("%s: %v", name, err)
			return errorResult(err), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil
	}
}

// decodeArgs checks required keys on the raw mapping and then decodes it,
// weakly typed, into A.
func decodeArgs[A any](raw json.RawMessage, required []string) (A, error) {
	var out A

	params := map[string]any{}
	if trimmed := strings.TrimSpace(string(raw)); trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal(raw, &params); err != nil {
			return out, errorsx.New(errorsx.ReasonInvalidArguments, "arguments must be a JSON object: %v", err)
		}
	}

	var missing []string
	for _, key := range required {
		if v, ok := params[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return out, errorsx.New(errorsx.ReasonInvalidArguments, "missing required parameter(s) %s", strings.Join(missing, ", "))
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return out, errorsx.Wrap(err, errorsx.ReasonToolExecution)
	}
	if err := decoder.Decode(params); err != nil {
		return out, errorsx.New(errorsx.ReasonInvalidArguments, "decode arguments: %v", err)
	}
	return out, nil
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: errorKind(err) + ": " + err.Error()}},
	}
}

func errorKind(err error) string {
	switch errorsx.Reason(err) {
	case errorsx.ReasonInvalidArguments:
		return "InvalidArguments"
	default:
		return "ToolExecutionError"
	}
}
