package client

import (
	"fmt"
	"io"
	"sync"

	"github.com/aeolun/relaychat/pkg/protocol"
	"github.com/charmbracelet/lipgloss"
)

// renderer prints received lines. Styles degrade to plain text when out is
// not a colour terminal.
type renderer struct {
	mu  sync.Mutex
	out io.Writer

	noticeStyle lipgloss.Style
	statusStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

func newRenderer(out io.Writer) *renderer {
	r := lipgloss.NewRenderer(out)
	return &renderer{
		out:         out,
		noticeStyle: r.NewStyle().Foreground(lipgloss.Color("243")).Italic(true),
		statusStyle: r.NewStyle().Foreground(lipgloss.Color("39")),
		errorStyle:  r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

// message prints one line from the server
func (r *renderer) message(line string) {
	if protocol.IsNotice(line) {
		r.println(r.noticeStyle.Render(line))
		return
	}
	r.println(line)
}

// status prints a local connection notice
func (r *renderer) status(format string, args ...interface{}) {
	r.println(r.statusStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) failure(format string, args ...interface{}) {
	r.println(r.errorStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, s)
}
