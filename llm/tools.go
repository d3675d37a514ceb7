package llm

// reservedSchemaKeys are JSON-schema keywords the function-declaration
// endpoint rejects.
var reservedSchemaKeys = map[string]bool{
	"additionalProperties": true,
	"$schema":              true,
}

// ToolSpec is the minimal view of an MCP tool needed to declare it.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// StripReservedKeys returns a shallow copy of schema without the reserved
// top-level keys. The input map is not modified.
func StripReservedKeys(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if reservedSchemaKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// DeclarationsFromTools translates tool specs into function declarations.
func DeclarationsFromTools(tools []ToolSpec) []FunctionDeclaration {
	decls := make([]FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  StripReservedKeys(t.InputSchema),
		})
	}
	return decls
}
