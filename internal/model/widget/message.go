package widget

import "time"

// Sender identifies who authored a transcript entry.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Fixed bot texts emitted by the session itself. None of them can be flagged.
const (
	GreetingText = "Hi! I'm the PODC Assistant! Ask any question about hearing or hearing loss below, I'll be happy to help :) \n To consent discussing sensitive information, please press Accept."
	AcceptedText = "Thank you for accepting, How can I help? :)"
	DeclinedText = "To chat with us, you need to press Accept :)"

	NoResponseText  = "No response received from server"
	ErrorTextPrefix = "Sorry, something went wrong. Error: "

	FlagSuccessNotice = "Thanks for flagging. The team will review this response."
	FlagFailureNotice = "Something went wrong while submitting your feedback."

	PlaceholderIdle    = "Ask a question..."
	PlaceholderPending = "Please wait..."
)

// IsSystemText reports whether text is one of the session-generated bot messages.
func IsSystemText(text string) bool {
	switch text {
	case GreetingText, AcceptedText, DeclinedText:
		return true
	}
	return false
}

// Message is a single transcript entry. Entries are never mutated after append,
// except for the Flagged marker on bot replies.
type Message struct {
	ID        string            `json:"id"`
	Sender    Sender            `json:"sender"`
	Text      string            `json:"text"`
	HTML      string            `json:"html"`
	Citations []Citation        `json:"citations,omitempty"`
	Sources   []DisplayCitation `json:"sources,omitempty"`
	Consent   bool              `json:"consent,omitempty"`
	Flaggable bool              `json:"flaggable"`
	Flagged   bool              `json:"flagged,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
