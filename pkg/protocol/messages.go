package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxNicknameLength is the maximum nickname length in characters (runes)
	MaxNicknameLength = 20

	// ExitCommand asks the server to end the session. Matched case-insensitively.
	ExitCommand = "/exit"

	// InvalidNicknameMessage is the only line sent to a client whose handshake is rejected.
	InvalidNicknameMessage = "Invalid nickname (must be 1-20 printable chars)"

	joinSuffix  = " joined the chat!"
	leaveSuffix = " left the chat"
)

var (
	ErrInvalidNickname      = errors.New("invalid nickname")
	ErrNicknameEmpty        = fmt.Errorf("%w: empty", ErrInvalidNickname)
	ErrNicknameTooLong      = fmt.Errorf("%w: longer than %d characters", ErrInvalidNickname, MaxNicknameLength)
	ErrNicknameNotPrintable = fmt.Errorf("%w: contains non-printable characters", ErrInvalidNickname)
)

// NormalizeNickname strips surrounding whitespace from a handshake line.
func NormalizeNickname(raw string) string {
	return strings.TrimSpace(raw)
}

// ValidateNickname checks a normalized nickname: 1-20 runes, all printable.
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return ErrNicknameEmpty
	}
	if !utf8.ValidString(nickname) {
		return ErrNicknameNotPrintable
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return ErrNicknameTooLong
	}
	for _, r := range nickname {
		if !unicode.IsPrint(r) {
			return ErrNicknameNotPrintable
		}
	}
	return nil
}

// IsExitCommand reports whether a received line is the exit command.
func IsExitCommand(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), ExitCommand)
}

// JoinNotice is broadcast when nickname enters the room.
func JoinNotice(nickname string) string {
	return nickname + joinSuffix
}

// LeaveNotice is broadcast when nickname leaves the room, for whatever reason.
func LeaveNotice(nickname string) string {
	return nickname + leaveSuffix
}

// ChatLine formats a relayed user message.
func ChatLine(nickname, text string) string {
	return nickname + ": " + text
}

// IsNotice reports whether a line received by a client is a server notice
// rather than a relayed message.
func IsNotice(line string) bool {
	return strings.HasSuffix(line, joinSuffix) ||
		strings.HasSuffix(line, leaveSuffix) ||
		line == InvalidNicknameMessage
}
