package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
)

// Resource describes one resource advertised by a server.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceContent is one chunk of a read resource. Text and Blob are
// alternatives; Blob carries binary content.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"blob,omitempty"`
}

// Prompt describes one prompt template advertised by a server.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one template parameter of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// PromptMessage is one rendered message of an expanded prompt.
type PromptMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ListResources lists the resources of a connected server.
func (m *Manager) ListResources(ctx context.Context, id string) ([]Resource, error) {
	session, timeout, err := m.sessionFor(id)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []Resource
	for resource, err := range session.Resources(listCtx, nil) {
		if err != nil {
			return nil, errors.Wrapf(err, "could not list resources on server %s", id)
		}
		out = append(out, Resource{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MIMEType:    resource.MIMEType,
		})
	}
	return out, nil
}

// ReadResource reads one resource by URI from a connected server.
func (m *Manager) ReadResource(ctx context.Context, id string, uri string) ([]ResourceContent, error) {
	session, timeout, err := m.sessionFor(id)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := session.ReadResource(readCtx, &mcpsdk.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, errors.Wrapf(err, "could not read resource %s on server %s", uri, id)
	}

	out := make([]ResourceContent, 0, len(result.Contents))
	for _, contents := range result.Contents {
		out = append(out, ResourceContent{
			URI:      contents.URI,
			MIMEType: contents.MIMEType,
			Text:     contents.Text,
			Blob:     contents.Blob,
		})
	}
	return out, nil
}

// ListPrompts lists the prompt templates of a connected server.
func (m *Manager) ListPrompts(ctx context.Context, id string) ([]Prompt, error) {
	session, timeout, err := m.sessionFor(id)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out []Prompt
	for prompt, err := range session.Prompts(listCtx, nil) {
		if err != nil {
			return nil, errors.Wrapf(err, "could not list prompts on server %s", id)
		}
		p := Prompt{
			Name:        prompt.Name,
			Description: prompt.Description,
		}
		for _, arg := range prompt.Arguments {
			p.Arguments = append(p.Arguments, PromptArgument{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		out = append(out, p)
	}
	return out, nil
}

// GetPrompt expands a prompt template with the given arguments.
func (m *Manager) GetPrompt(ctx context.Context, id string, name string, args map[string]string) ([]PromptMessage, error) {
	session, timeout, err := m.sessionFor(id)
	if err != nil {
		return nil, err
	}

	getCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := session.GetPrompt(getCtx, &mcpsdk.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not get prompt %s on server %s", name, id)
	}

	out := make([]PromptMessage, 0, len(result.Messages))
	for _, msg := range result.Messages {
		rendered := PromptMessage{Role: string(msg.Role)}
		if text, ok := msg.Content.(*mcpsdk.TextContent); ok {
			rendered.Text = text.Text
		}
		out = append(out, rendered)
	}
	return out, nil
}
