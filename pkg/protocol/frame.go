package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	// MaxLineLength is the maximum number of bytes of one line kept by ReadLine.
	// Anything past it, up to the next newline, is discarded.
	MaxLineLength = 1024

	// Delimiter terminates every line on the wire.
	Delimiter = '\n'
)

var (
	ErrEmbeddedNewline = errors.New("line contains a newline")
)

// ReadLine reads one newline-terminated line from r.
//
// The trailing "\n" (and "\r\n") is stripped. Lines longer than MaxLineLength
// bytes are truncated at a rune boundary and the rest of the line is dropped,
// so a single read never grows past the limit no matter what the peer sends.
// A final line without a terminator is returned before io.EOF.
func ReadLine(r *bufio.Reader) (string, error) {
	var (
		line      []byte
		truncated bool
		sawData   bool
	)

	for {
		chunk, err := r.ReadSlice(Delimiter)
		if len(chunk) > 0 {
			sawData = true
		}

		if !truncated {
			room := MaxLineLength - len(line)
			if len(chunk) > room {
				line = append(line, chunk[:room]...)
				truncated = true
			} else {
				line = append(line, chunk...)
			}
		}

		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && sawData {
				// Unterminated final line; the next call reports EOF.
				break
			}
			return "", err
		}
		break
	}

	s := strings.TrimRight(string(line), "\r\n")
	if truncated {
		s = strings.ToValidUTF8(s, "")
	}
	return s, nil
}

// WriteLine writes s followed by the delimiter in a single Write call.
// Lines must not contain a newline of their own.
func WriteLine(w io.Writer, s string) error {
	if strings.ContainsRune(s, Delimiter) {
		return ErrEmbeddedNewline
	}

	buf := make([]byte, 0, len(s)+1)
	buf = append(buf, s...)
	buf = append(buf, Delimiter)

	if _, err := w.Write(buf); err != nil {
		return err
	}

	// Flush if the writer supports it (e.g., *bufio.Writer)
	type flusher interface {
		Flush() error
	}
	if fl, ok := w.(flusher); ok {
		return fl.Flush()
	}
	return nil
}

// SplitLines breaks a payload that may carry several lines (for example one
// WebSocket text message) into individual lines, applying the same trimming
// and length rules as ReadLine. Empty trailing segments are dropped.
func SplitLines(payload string) []string {
	parts := strings.Split(payload, string(Delimiter))
	lines := make([]string, 0, len(parts))
	for i, part := range parts {
		if i == len(parts)-1 && part == "" {
			break
		}
		part = strings.TrimRight(part, "\r")
		if len(part) > MaxLineLength {
			part = strings.ToValidUTF8(part[:MaxLineLength], "")
		}
		lines = append(lines, part)
	}
	return lines
}
