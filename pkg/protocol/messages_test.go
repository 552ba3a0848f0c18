package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		name     string
		nickname string
		wantErr  error
	}{
		{name: "single character", nickname: "a"},
		{name: "exactly twenty", nickname: strings.Repeat("b", 20)},
		{name: "twenty multibyte runes", nickname: strings.Repeat("ü", 20)},
		{name: "inner space is printable", nickname: "bob smith"},
		{name: "empty", nickname: "", wantErr: ErrNicknameEmpty},
		{name: "twenty one", nickname: strings.Repeat("c", 21), wantErr: ErrNicknameTooLong},
		{name: "control byte", nickname: "bo\x07b", wantErr: ErrNicknameNotPrintable},
		{name: "tab", nickname: "bo\tb", wantErr: ErrNicknameNotPrintable},
		{name: "invalid utf8", nickname: "bo\xffb", wantErr: ErrNicknameNotPrintable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNickname(tt.nickname)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrInvalidNickname)
		})
	}
}

func TestNormalizeNickname(t *testing.T) {
	assert.Equal(t, "carol", NormalizeNickname("  carol \r\n"))
	assert.Equal(t, "", NormalizeNickname(" \t "))
}

func TestIsExitCommand(t *testing.T) {
	for _, line := range []string{"/exit", "/EXIT", "/Exit", "  /exit  "} {
		assert.True(t, IsExitCommand(line), line)
	}
	for _, line := range []string{"exit", "/exit now", "/exi", ""} {
		assert.False(t, IsExitCommand(line), line)
	}
}

func TestNoticeFormats(t *testing.T) {
	assert.Equal(t, "alice joined the chat!", JoinNotice("alice"))
	assert.Equal(t, "alice left the chat", LeaveNotice("alice"))
	assert.Equal(t, "alice: hello there", ChatLine("alice", "hello there"))

	assert.True(t, IsNotice(JoinNotice("alice")))
	assert.True(t, IsNotice(LeaveNotice("alice")))
	assert.True(t, IsNotice(InvalidNicknameMessage))
	assert.False(t, IsNotice(ChatLine("alice", "hello")))
}
