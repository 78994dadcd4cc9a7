package registry

import "github.com/ggoodman/mcp-server-template/mcp"

// Output is the value a handler produces. It is one of Text, Blocks, Messages
// or Blob; the dispatcher renders it into the result shape of the operation's
// kind.
type Output interface {
	isOutput()
}

// Text is a single plain-text result.
type Text string

// Blocks is a list of content blocks for tool results.
type Blocks []mcp.ContentBlock

// Messages is the message list a prompt expands to.
type Messages []mcp.PromptMessage

// Blob is binary resource content.
type Blob struct {
	MimeType string
	Data     []byte
}

func (Text) isOutput()     {}
func (Blocks) isOutput()   {}
func (Messages) isOutput() {}
func (Blob) isOutput()     {}

// UserText returns a user-role prompt message holding text.
func UserText(text string) mcp.PromptMessage {
	return mcp.PromptMessage{
		Role:    mcp.RoleUser,
		Content: mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text},
	}
}
