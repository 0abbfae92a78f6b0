package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/AltairaLabs/rtsession/runtime/events"
	"github.com/AltairaLabs/rtsession/runtime/protocol"
)

// syncWriter serializes writes from the event bus and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printer renders session events for the terminal.
type printer struct {
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// Handle is an events.Listener.
func (p *printer) Handle(evt *events.Event) {
	if evt == nil {
		return
	}
	//exhaustive:ignore
	switch data := evt.Data.(type) {
	case events.ConversationUpdatedData:
		p.message(data)
	case events.StatusMessageData:
		if data.Text != "" {
			fmt.Fprintf(p.out, "* %s\n", data.Text)
		}
	case events.StateChangedData:
		fmt.Fprintf(p.out, "[%s]\n", data.To)
	case events.ModalityChangedData:
		fmt.Fprintf(p.out, "[modality: %s]\n", data.To)
	case events.ToolCallCompletedData:
		fmt.Fprintf(p.out, "[tool %s done in %s]\n", data.ToolName, data.Duration)
	case events.ToolCallFailedData:
		fmt.Fprintf(p.out, "[tool %s failed: %v]\n", data.ToolName, data.Error)
	case events.ServerErrorData:
		fmt.Fprintf(p.out, "[server error: %s]\n", data.Message)
	}
}

// message prints final turns. Typed user turns are not echoed; spoken ones
// are, once transcribed.
func (p *printer) message(data events.ConversationUpdatedData) {
	msg := data.Message
	if data.Removed || !msg.IsFinal {
		return
	}
	switch msg.Role {
	case string(protocol.RoleAssistant):
		fmt.Fprintf(p.out, "assistant: %s\n", msg.Text)
	case string(protocol.RoleUser):
		if msg.ItemID != "" {
			fmt.Fprintf(p.out, "you (voice): %s\n", msg.Text)
		}
	}
}
