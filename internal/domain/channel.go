package domain

import "context"

// Replier sends a reply back to the messaging platform for a given reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}
