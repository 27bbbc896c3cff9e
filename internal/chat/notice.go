package chat

// Level is the severity of a Notice.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Operation names used in notices and store errors.
const (
	OpCreateSession   = "create_session"
	OpAppendUser      = "append_user_message"
	OpAppendAssistant = "append_assistant_message"
	OpLoadMessages    = "load_messages"
	OpDeleteSession   = "delete_session"
)

// Notice is a user-visible notification raised by the engine.
type Notice struct {
	Level     Level
	Op        string
	SessionID string
	Message   string
	Err       error
}

// noticeText holds the user-facing wording per failed operation.
var noticeText = map[string]string{
	OpCreateSession:   "Failed to save chat",
	OpAppendUser:      "Failed to save message",
	OpAppendAssistant: "Failed to save reply",
	OpLoadMessages:    "Failed to load chat history",
	OpDeleteSession:   "Failed to delete chat",
}

func failureNotice(op, sessionID string, err error) Notice {
	msg, ok := noticeText[op]
	if !ok {
		msg = "Something went wrong"
	}
	return Notice{Level: LevelError, Op: op, SessionID: sessionID, Message: msg, Err: err}
}
