package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sent is the transport's confirmation of a delivered message.
// Text is what the platform reports it stored, which callers may compare
// against what they asked to send.
type Sent struct {
	Ref  MessageRef
	Text string
}

// Sender delivers a single text message to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (Sent, error)
}
