// Package protocol implements the newline-delimited text protocol spoken
// between the chat server and its clients: classification of inbound lines
// into commands, private messages, and room chat, plus formatting of the
// keyword-tagged responses the server writes back.
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Wire limits.
const (
	// MaxLineLength is the read buffer size per connection; a logical line
	// never exceeds it.
	MaxLineLength = 4096
)

// Kind classifies an inbound line by its first non-whitespace character.
type Kind int

const (
	// KindEmpty is a blank line; it is ignored.
	KindEmpty Kind = iota
	// KindCommand is a "/VERB args" line.
	KindCommand
	// KindPrivate is an "@recipient content" line.
	KindPrivate
	// KindChat is any other line, a public message to the current room.
	KindChat
)

// Inbound is one parsed client line.
type Inbound struct {
	Kind      Kind
	Verb      string // command verb, uppercased
	Args      string // command argument string, trimmed
	Recipient string // private message recipient
	Content   string // private/public message body
}

// Parse classifies a raw line. The caller is expected to have framed the
// line already; Parse trims surrounding whitespace itself.
func Parse(line string) Inbound {
	line = strings.TrimSpace(line)
	if line == "" {
		return Inbound{Kind: KindEmpty}
	}

	switch line[0] {
	case '/':
		rest := line[1:]
		verb, args, _ := strings.Cut(rest, " ")
		return Inbound{
			Kind: KindCommand,
			Verb: strings.ToUpper(strings.TrimSpace(verb)),
			Args: strings.TrimSpace(args),
		}
	case '@':
		recipient, content, found := strings.Cut(line[1:], " ")
		if !found {
			recipient = line[1:]
		}
		return Inbound{
			Kind:      KindPrivate,
			Recipient: strings.TrimSpace(recipient),
			Content:   strings.TrimSpace(content),
		}
	default:
		return Inbound{Kind: KindChat, Content: line}
	}
}

// Timestamp returns the bracketed wall-clock prefix used for chat and
// system lines, e.g. "[15:04:05]".
func Timestamp() string {
	return time.Now().Format("[15:04:05]")
}

// Outbound keyword lines. Every line the server writes ends with '\n'.
const (
	Welcome             = "WELCOME:Chat Server\n"
	NameSet             = "NAME_SET\n"
	NameTaken           = "NAME_TAKEN\n"
	RoomNotFound        = "ROOM_NOT_FOUND\n"
	PasswordRequired    = "PASSWORD_REQUIRED\n"
	WrongPassword       = "WRONG_PASSWORD\n"
	MessageHistoryStart = "MESSAGE_HISTORY_START\n"
	MessageHistoryEnd   = "MESSAGE_HISTORY_END\n"
	KickedFromRoom      = "KICKED_FROM_ROOM\n"
	LeftRoom            = "LEFT_ROOM\n"
	OwnerLeaveWarning   = "OWNER_LEAVE_WARNING\n"
	OwnershipReceived   = "OWNERSHIP_RECEIVED\n"
)

// RoomCreated formats the CREATE response.
func RoomCreated(roomID string, private bool) string {
	kind := "PUBLIC"
	if private {
		kind = "PRIVATE"
	}
	return "ROOM_CREATED:" + roomID + ":" + kind + "\n"
}

// RoomJoined formats the JOIN response.
func RoomJoined(roomID string) string {
	return "ROOM_JOINED:" + roomID + "\n"
}

// RoomSummary renders one LIST entry, e.g. "123456(2)[PUBLIC]".
func RoomSummary(roomID string, members int, private bool) string {
	kind := "PUBLIC"
	if private {
		kind = "PRIVATE"
	}
	return fmt.Sprintf("%s(%d)[%s]", roomID, members, kind)
}

// RoomsList formats the LIST response from pre-rendered room summaries.
func RoomsList(entries []string) string {
	return "ROOMS_LIST:" + strings.Join(entries, ",") + "\n"
}

// UsersList formats the USERS response.
func UsersList(usernames []string) string {
	return "USERS_LIST:" + strings.Join(usernames, ",") + "\n"
}

// RoomPassword formats the GETPASSWORD response.
func RoomPassword(password string) string {
	return "ROOM_PASSWORD:" + password + "\n"
}

// PasswordChanged formats the CHANGEPASSWORD response.
func PasswordChanged(password string) string {
	return "PASSWORD_CHANGED:" + password + "\n"
}

// PMFrom is the line delivered to a private message recipient.
func PMFrom(sender, content string) string {
	return "PM_FROM:" + sender + ":" + content + "\n"
}

// PMSent is the confirmation delivered back to a private message sender.
func PMSent(recipient, content string) string {
	return "PM_SENT:" + recipient + ":" + content + "\n"
}

// Errorf formats an ERROR line.
func Errorf(format string, args ...any) string {
	return "ERROR: " + fmt.Sprintf(format, args...) + "\n"
}

// Successf formats a SUCCESS line.
func Successf(format string, args ...any) string {
	return "SUCCESS: " + fmt.Sprintf(format, args...) + "\n"
}

// ChatLine formats a public room message as delivered to members.
func ChatLine(sender, content string) string {
	return ChatLineAt(time.Now(), sender, content)
}

// ChatLineAt renders a chat line with an explicit timestamp, used when
// replaying persisted history.
func ChatLineAt(at time.Time, sender, content string) string {
	return fmt.Sprintf("%s %s: %s\n", at.Local().Format("[15:04:05]"), sender, content)
}

// SystemLine formats a room event notice.
func SystemLine(text string) string {
	return fmt.Sprintf("%s SYSTEM: %s\n", Timestamp(), text)
}
