package llms

// Message is a single message in a conversation history handed to a model.
type Message struct {
	Role    Role
	Content string
}

// Role describes who a history message is from.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
