package protocol

// Server event types carried on inbound envelopes.
const (
	// EventAIResponse delivers assistant output for a chat message.
	EventAIResponse = "ai_response"

	// EventActionProgress reports an in-flight browser action.
	EventActionProgress = "action_progress"

	// EventActionComplete reports a finished browser action.
	EventActionComplete = "action_complete"

	// EventActionError reports a failed browser action.
	EventActionError = "action_error"

	// EventAutomationProgress reports multi-step automation status.
	EventAutomationProgress = "automation_progress"

	// EventScreenshot carries a captured screenshot result.
	EventScreenshot = "screenshot"

	// EventElementHighlight asks pages to flash an element.
	EventElementHighlight = "element_highlight"

	// EventSessionUpdate carries new session fields to merge locally.
	EventSessionUpdate = "session_update"

	// EventError is a server-side error notification.
	EventError = "error"

	// EventPong answers a heartbeat ping.
	EventPong = "pong"
)

// Outbound envelope types sent to the server.
const (
	WireChatMessage       = "chat_message"
	WireRequestScreenshot = "request_screenshot"
	WireExecuteAutomation = "execute_automation"
	WirePageChanged       = "page_changed"
	WirePing              = "ping"
)

// Command types for requests between extension contexts.
const (
	CmdSendChatMessage   = "SEND_CHAT_MESSAGE"
	CmdRequestScreenshot = "REQUEST_SCREENSHOT"
	CmdExecuteAutomation = "EXECUTE_AUTOMATION"
	CmdPageChanged       = "PAGE_CHANGED"
	CmdGetSessionInfo    = "GET_SESSION_INFO"
	CmdGetQueuedMessage  = "GET_QUEUED_MESSAGE"
	CmdPing              = "PING"

	// CmdConnectionStatus is broadcast by the background context whenever
	// the connection state changes; it carries no reply.
	CmdConnectionStatus = "CONNECTION_STATUS"
)

// Message types exchanged with the embedded widget frame.
const (
	FrameChatMessage       = "AI_CHAT_MESSAGE"
	FrameCheckConnection   = "AI_CHECK_CONNECTION"
	FrameExecuteAutomation = "AI_EXECUTE_AUTOMATION"
	FrameHighlightElement  = "AI_HIGHLIGHT_ELEMENT"
	FrameResponse          = "AI_RESPONSE"
	FrameConnectionStatus  = "CONNECTION_STATUS"
	FrameWidgetCommand     = "WIDGET_COMMAND"
)

// ConnectionState tracks the lifecycle of the server link.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// Valid reports whether s is one of the known connection states.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateError:
		return true
	}
	return false
}
