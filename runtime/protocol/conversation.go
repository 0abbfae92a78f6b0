package protocol

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AltairaLabs/rtsession/runtime/events"
)

// Role is the speaker of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks a message through its lifetime.
type Status string

// Message statuses.
const (
	StatusSpeaking   Status = "speaking"
	StatusProcessing Status = "processing"
	StatusFinal      Status = "final"
)

// Placeholder texts for user turns that have no transcript yet.
const (
	SpeakingPlaceholder  = "..."
	InaudiblePlaceholder = "(inaudible)"
)

// Message is one entry of the conversation log.
type Message struct {
	ID        string
	Role      Role
	Text      string
	ItemID    string
	Status    Status
	IsFinal   bool
	Timestamp time.Time
}

func (m *Message) data() events.MessageData {
	return events.MessageData{
		ID:        m.ID,
		Role:      string(m.Role),
		Text:      m.Text,
		ItemID:    m.ItemID,
		Status:    string(m.Status),
		IsFinal:   m.IsFinal,
		Timestamp: m.Timestamp,
	}
}

// Conversation is the ordered message log of a session. At most one assistant
// message and one user message are open (IsFinal false) at any time; final
// messages are never changed again.
type Conversation struct {
	mu            sync.RWMutex
	messages      []*Message
	openAssistant *Message
	openUser      *Message
	emitter       *events.Emitter
	now           func() time.Time
}

// NewConversation creates an empty log. Every change is published on emitter, which may be nil.
func NewConversation(emitter *events.Emitter) *Conversation {
	return &Conversation{emitter: emitter, now: time.Now}
}

func (c *Conversation) appendLocked(role Role, itemID, text string, status Status) *Message {
	m := &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		ItemID:    itemID,
		Status:    status,
		IsFinal:   status == StatusFinal,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, m)
	return m
}

func finalize(m *Message, text string) {
	m.Text = text
	m.Status = StatusFinal
	m.IsFinal = true
}

func (c *Conversation) publish(m *Message) {
	c.emitter.ConversationUpdated(m.data())
}

// AddUserText appends a final user message typed by the user.
func (c *Conversation) AddUserText(text string) Message {
	c.mu.Lock()
	m := c.appendLocked(RoleUser, "", text, StatusFinal)
	snapshot := *m
	c.mu.Unlock()
	c.publish(&snapshot)
	return snapshot
}

// AppendAssistantDelta adds a streamed fragment to the open assistant message,
// opening one if none is open. A fragment for a different item closes the
// open message with its accumulated text first.
func (c *Conversation) AppendAssistantDelta(itemID, delta string) Message {
	c.mu.Lock()
	var closed *Message
	if open := c.openAssistant; open != nil && open.ItemID != "" && itemID != "" && open.ItemID != itemID {
		finalize(open, open.Text)
		snapshot := *open
		closed = &snapshot
		c.openAssistant = nil
	}
	if c.openAssistant == nil {
		c.openAssistant = c.appendLocked(RoleAssistant, itemID, "", StatusSpeaking)
	}
	m := c.openAssistant
	if m.ItemID == "" {
		m.ItemID = itemID
	}
	m.Text += delta
	snapshot := *m
	c.mu.Unlock()

	if closed != nil {
		c.publish(closed)
	}
	c.publish(&snapshot)
	return snapshot
}

// CompleteAssistant finalizes the open assistant message. A non-empty final
// text replaces whatever was accumulated. With no open message, a non-empty
// final text is appended as a new final message. The bool is false when
// nothing changed.
func (c *Conversation) CompleteAssistant(itemID, final string) (Message, bool) {
	c.mu.Lock()
	m := c.openAssistant
	switch {
	case m != nil:
		text := m.Text
		if final != "" {
			text = final
		}
		finalize(m, text)
		if m.ItemID == "" {
			m.ItemID = itemID
		}
		c.openAssistant = nil
	case final != "":
		m = c.appendLocked(RoleAssistant, itemID, final, StatusFinal)
	default:
		c.mu.Unlock()
		return Message{}, false
	}
	snapshot := *m
	c.mu.Unlock()
	c.publish(&snapshot)
	return snapshot, true
}

// BeginUserSpeech opens the ephemeral user message for a spoken turn.
// If one is already open it is reused.
func (c *Conversation) BeginUserSpeech(itemID string) Message {
	c.mu.Lock()
	if c.openUser == nil {
		c.openUser = c.appendLocked(RoleUser, itemID, SpeakingPlaceholder, StatusSpeaking)
	} else if itemID != "" {
		c.openUser.ItemID = itemID
		c.openUser.Status = StatusSpeaking
	}
	snapshot := *c.openUser
	c.mu.Unlock()
	c.publish(&snapshot)
	return snapshot
}

// EndUserSpeech moves the open user message to processing while the
// transcript is pending. The bool is false when no user message is open.
func (c *Conversation) EndUserSpeech(itemID string) (Message, bool) {
	c.mu.Lock()
	m := c.openUser
	if m == nil {
		c.mu.Unlock()
		return Message{}, false
	}
	m.Status = StatusProcessing
	if m.ItemID == "" {
		m.ItemID = itemID
	}
	snapshot := *m
	c.mu.Unlock()
	c.publish(&snapshot)
	return snapshot, true
}

// CompleteUserSpeech finalizes the open user message with transcript. An
// empty transcript is recorded as InaudiblePlaceholder. With no open message
// a final user message is appended.
func (c *Conversation) CompleteUserSpeech(itemID, transcript string) Message {
	if transcript == "" {
		transcript = InaudiblePlaceholder
	}
	c.mu.Lock()
	m := c.openUser
	if m != nil && (m.ItemID == "" || itemID == "" || m.ItemID == itemID) {
		finalize(m, transcript)
		if m.ItemID == "" {
			m.ItemID = itemID
		}
		c.openUser = nil
	} else {
		m = c.appendLocked(RoleUser, itemID, transcript, StatusFinal)
	}
	snapshot := *m
	c.mu.Unlock()
	c.publish(&snapshot)
	return snapshot
}

// Messages returns a snapshot of the log in insertion order.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Open returns the open assistant and user messages, if any.
func (c *Conversation) Open() (assistant, user *Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.openAssistant != nil {
		a := *c.openAssistant
		assistant = &a
	}
	if c.openUser != nil {
		u := *c.openUser
		user = &u
	}
	return assistant, user
}

// Clear empties the log.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.openAssistant = nil
	c.openUser = nil
}
