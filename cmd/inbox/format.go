// ABOUTME: Terminal rendering of conversations and messages for the inbox CLI
// ABOUTME: Colors come from fatih/color and switch off automatically when not on a TTY

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/marketplace-inbox/internal/inbox"
)

var (
	dim    = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
	self   = color.New(color.FgGreen)
	other  = color.New(color.FgCyan)
	unread = color.New(color.FgYellow, color.Bold)
)

func printConversations(w io.Writer, convs []inbox.Conversation, userID string) {
	if len(convs) == 0 {
		dim.Fprintln(w, "No conversations")
		return
	}

	for _, c := range convs {
		with := strings.Join(otherParticipants(c.ParticipantIDs, userID), ", ")
		if with == "" {
			with = "(just you)"
		}

		dim.Fprintf(w, "%s  ", c.LastActivity.Local().Format("Jan 02 15:04"))
		if c.UnreadCount > 0 {
			bold.Fprint(w, with)
			unread.Fprintf(w, " (%d unread)", c.UnreadCount)
		} else {
			fmt.Fprint(w, with)
		}
		dim.Fprintf(w, "  %s\n", c.ID)
		if c.LastMessage != "" {
			fmt.Fprintf(w, "    %s\n", firstLine(c.LastMessage))
		}
	}
}

func printMessage(w io.Writer, m inbox.Message, userID string) {
	dim.Fprintf(w, "[%s] ", m.SentAt.Local().Format("15:04"))
	if m.SenderID == userID {
		self.Fprint(w, "you")
	} else {
		other.Fprint(w, m.SenderID)
		if !m.Read {
			unread.Fprint(w, " *")
		}
	}
	fmt.Fprintf(w, ": %s\n", m.Body)

	for _, att := range m.Attachments {
		name := att.Name
		if name == "" {
			name = att.URL
		}
		dim.Fprintf(w, "    + %s <%s>\n", name, att.URL)
	}
}

func otherParticipants(ids []string, userID string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != userID {
			out = append(out, id)
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
