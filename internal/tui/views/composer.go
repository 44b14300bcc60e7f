package views

import (
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages and commands.
type Composer struct {
	*tview.InputField
	onSend      func(text string)
	onCommand   func(line string)
	onKeystroke func()
	replyTo     int
}

// NewComposer creates a new message composer.
func NewComposer(theme *ui.Theme) *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true)
	input.SetBorderColor(theme.BorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)
	input.SetTitle(" Compose (/help for commands) ")
	input.SetTitleColor(theme.TitleColor)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if c.onKeystroke != nil && text != "" && !strings.HasPrefix(text, "/") {
			c.onKeystroke()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		c.Submit(c.GetText())
	})

	return c
}

// Submit dispatches a line as a command when it starts with "/" and as a
// message otherwise, then clears the input.
func (c *Composer) Submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		if c.onCommand != nil {
			c.onCommand(text[1:])
		}
	} else if c.onSend != nil {
		c.onSend(text)
	}
	c.SetText("")
}

// SetOnSend sets the callback when a message is sent.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnCommand sets the callback for lines starting with "/".
func (c *Composer) SetOnCommand(fn func(line string)) {
	c.onCommand = fn
}

// SetOnKeystroke sets the callback fired on every edit of a message.
func (c *Composer) SetOnKeystroke(fn func()) {
	c.onKeystroke = fn
}

// SetReplyTo marks the next message as a reply to message n; 0 clears it.
func (c *Composer) SetReplyTo(n int) {
	c.replyTo = n
	if n == 0 {
		c.SetLabel(" > ")
		return
	}
	c.SetLabel(" ↪#" + strconv.Itoa(n) + " > ")
}

// ReplyTo returns the message number being replied to, or 0.
func (c *Composer) ReplyTo() int {
	return c.replyTo
}
