// ABOUTME: Content executor: renders a markdown template against the run bindings,
// ABOUTME: optionally producing HTML via goldmark for direct presentation-layer consumption.
package engine

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
)

// ContentExecutor produces learning content from a markdown template with
// {{binding}} placeholders.
type ContentExecutor struct {
	md goldmark.Markdown
}

// NewContentExecutor creates a content executor with a default goldmark
// renderer.
func NewContentExecutor() *ContentExecutor {
	return &ContentExecutor{md: goldmark.New()}
}

func (e *ContentExecutor) Type() NodeType {
	return NodeContent
}

// Execute renders the template. Output is {markdown} or, when renderHTML is
// set, {markdown, html}.
func (e *ContentExecutor) Execute(ctx context.Context, node *Node, inputs Inputs, rc *RunContext) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	template := dataString(node, "template", "")
	if template == "" {
		return nil, configErr(node, "template", "content node requires a template")
	}

	markdown := renderTemplate(template, rc)
	output := map[string]any{"markdown": markdown}

	if dataBool(node, "renderHTML", false) {
		var buf bytes.Buffer
		if err := e.md.Convert([]byte(markdown), &buf); err != nil {
			return Failure(&ExecutionError{NodeID: node.ID, Err: err}), nil
		}
		output["html"] = buf.String()
	}

	return Output(output), nil
}
