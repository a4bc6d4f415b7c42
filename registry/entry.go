package registry

import (
	"fmt"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// CapabilityKind distinguishes the three capability families.
type CapabilityKind string

const (
	KindTool     CapabilityKind = "tool"
	KindResource CapabilityKind = "resource"
	KindPrompt   CapabilityKind = "prompt"
)

// Entry maps an exposed capability name to its provider.
type Entry struct {
	Kind CapabilityKind
	// Name is what clients call: a prefixed name for tools and prompts,
	// the URI for resources.
	Name string
	// OriginalName is the provider's own name (or URI).
	OriginalName string
	ProviderID   string
	// Identifier is the prefix assigned to the provider this cycle.
	Identifier string

	Tool     *mcp.Tool
	Resource *mcp.Resource
	Prompt   *mcp.Prompt
}

// Validate checks that the entry is complete for its kind.
func (e Entry) Validate() error {
	if e.Name == "" || e.OriginalName == "" || e.ProviderID == "" {
		return fmt.Errorf("%w: name, original name and provider are required", ErrInvalidEntry)
	}
	switch e.Kind {
	case KindTool:
		if e.Tool == nil {
			return fmt.Errorf("%w: tool %q has no definition", ErrInvalidEntry, e.Name)
		}
	case KindResource:
		if e.Resource == nil {
			return fmt.Errorf("%w: resource %q has no definition", ErrInvalidEntry, e.Name)
		}
	case KindPrompt:
		if e.Prompt == nil {
			return fmt.Errorf("%w: prompt %q has no definition", ErrInvalidEntry, e.Name)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
	return nil
}

// Description returns the provider-supplied description.
func (e Entry) Description() string {
	switch {
	case e.Tool != nil:
		return e.Tool.Description
	case e.Resource != nil:
		return e.Resource.Description
	case e.Prompt != nil:
		return e.Prompt.Description
	}
	return ""
}

// ExposedTool returns a copy of the tool definition under its exposed name.
func (e Entry) ExposedTool() *mcp.Tool {
	if e.Tool == nil {
		return nil
	}
	t := *e.Tool
	t.Name = e.Name
	return &t
}

// ExposedPrompt returns a copy of the prompt definition under its exposed name.
func (e Entry) ExposedPrompt() *mcp.Prompt {
	if e.Prompt == nil {
		return nil
	}
	p := *e.Prompt
	p.Name = e.Name
	return &p
}

// ModelTool describes the entry as a toolfoundation tool, namespaced by the
// provider identifier.
func (e Entry) ModelTool() model.Tool {
	tool := mcp.Tool{Name: e.Name, Description: e.Description()}
	if e.Tool != nil {
		tool = *e.ExposedTool()
	}
	return model.Tool{
		Tool:      tool,
		Namespace: e.Identifier,
		Tags:      model.NormalizeTags(append([]string{string(e.Kind), e.Identifier}, toolTags(e.Tool)...)),
	}
}
