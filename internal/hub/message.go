package hub

import "github.com/clarimeet/clarimeet/internal/ipc"

// Message types on the control socket.
const (
	TypeCommand         = "command"
	TypeChatbotQuestion = "chatbot_question"

	TypeTranscript      = "transcript"
	TypeSummary         = "summary"
	TypeStatus          = "status"
	TypeChatbotResponse = "chatbot_response"
)

// Commands carried by a TypeCommand message.
const (
	CommandStart = "start"
	CommandStop  = "stop"
)

// Request is a message from a client.
type Request struct {
	Type     string `json:"type"`
	Command  string `json:"command,omitempty"`
	Question string `json:"question,omitempty"`
}

// Message is a message to a client.
type Message struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Answer string `json:"answer,omitempty"`
}

// StatusMessage returns a status line message.
func StatusMessage(text string) Message {
	return Message{Type: TypeStatus, Text: text}
}

// ErrorMessage returns a status line reporting err.
func ErrorMessage(err error) Message {
	return StatusMessage("Error: " + err.Error())
}

// FromEvent maps a pipeline event to the message broadcast for it. Error
// events become status lines.
func FromEvent(ev ipc.Event) (Message, bool) {
	switch ev.Type {
	case ipc.TypeTranscript:
		return Message{Type: TypeTranscript, Text: ev.Text}, true
	case ipc.TypeSummary:
		return Message{Type: TypeSummary, Text: ev.Text}, true
	case ipc.TypeStatus:
		return StatusMessage(ev.Text), true
	case ipc.TypeError:
		return StatusMessage("Error: " + ev.Text), true
	}
	return Message{}, false
}
