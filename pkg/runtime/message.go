package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DhyeyTeraiya/new--sub004/pkg/protocol"
)

// Message is one unit of intra-extension traffic. ID carries the
// correlation id for request/response exchanges and is empty for
// fire-and-forget sends.
type Message struct {
	ID      string
	Type    string
	Payload json.RawMessage
	Sender  Address
	SentAt  time.Time
}

// RespondFunc settles a request. The router guarantees at most one
// settlement reaches the sender; later calls are dropped.
type RespondFunc func(protocol.Response)

// Handler consumes messages delivered to a context. respond is always
// non-nil; calling it for a fire-and-forget message is a no-op.
type Handler func(ctx context.Context, msg Message, respond RespondFunc)
