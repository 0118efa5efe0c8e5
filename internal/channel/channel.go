package channel

import (
	"context"
	"io"
)

// MaxMessageLength is the longest text a chat message may carry.
const MaxMessageLength = 4096

// Channel delivers task outcomes back to the chat a task came from. Address is
// channel specific; for telegram it is the chat id.
type Channel interface {
	SendText(ctx context.Context, address, text string) error

	SendVoice(ctx context.Context, address, name string, audio io.Reader) error
}
