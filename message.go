package loom

import (
	"encoding/json"
	"time"
)

// Message is a sealed interface representing a conversation message.
// The unexported marker method prevents external implementations.
// Role() returns the message's role without requiring a type switch.
type Message interface {
	isMessage()
	Role() Role
}

// UserMessage represents a turn submitted by the user.
type UserMessage struct {
	ID         string
	SessionID  string
	Parts      []Part
	ProviderID string
	ModelID    string
	Agent      string
	Format     Format // nil means plain text
	Created    time.Time
}

func (UserMessage) isMessage() {}

// Role returns RoleUser.
func (UserMessage) Role() Role { return RoleUser }

// AssistantMessage is the finalized record of the assistant's reply to one
// user turn. It is written exactly once, at turn finalization, and is always
// written: a failed turn produces a message with Error populated and
// whatever Tokens/Cost were salvageable.
type AssistantMessage struct {
	ID            string
	SessionID     string
	ParentID      string // the UserMessage this answers
	ProviderID    string
	ModelID       string
	Parts         []Part
	Cost          float64
	Tokens        Tokens
	Structured    json.RawMessage // set only when a json_schema format captured successfully
	Error         *MessageError
	StopReason    StopReason
	RawStopReason string
	Created       time.Time
	Completed     time.Time
}

func (AssistantMessage) isMessage() {}

// Role returns RoleAssistant.
func (AssistantMessage) Role() Role { return RoleAssistant }

// ToolResultMessage carries a tool execution result back to the provider
// within a single streaming turn. It is never persisted; tool output lands
// on the assistant message as parts.
type ToolResultMessage struct {
	CallID      string
	ToolName    string
	Arguments   json.RawMessage // the call's arguments, so adapters can replay the tool_use turn
	Output      string
	IsError     bool
	Attachments []Attachment
	Created     time.Time
}

func (ToolResultMessage) isMessage() {}

// Role returns RoleToolResult.
func (ToolResultMessage) Role() Role { return RoleToolResult }

// MessageID returns the ordering identifier for any message variant.
// IDs ascend in creation order and are the only ordering authority;
// wall-clock time can tie or skew under concurrent writers.
func MessageID(m Message) string {
	switch v := m.(type) {
	case UserMessage:
		return v.ID
	case AssistantMessage:
		return v.ID
	case ToolResultMessage:
		return v.CallID
	default:
		return ""
	}
}

// MessageSession returns the message's session ID, or "" for transient
// tool-result messages.
func MessageSession(m Message) string {
	switch v := m.(type) {
	case UserMessage:
		return v.SessionID
	case AssistantMessage:
		return v.SessionID
	default:
		return ""
	}
}

// Interface compliance checks.
var (
	_ Message = UserMessage{}
	_ Message = AssistantMessage{}
	_ Message = ToolResultMessage{}
)
