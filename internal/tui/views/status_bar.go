package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar displays the profile, the push connection state and the
// progress of an upload batch.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	chat    string
	state   status.State
	upload  string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	sb := &StatusBar{TextView: tv, theme: theme, state: status.Idle}
	sb.render()
	return sb
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetChat updates the open chat display.
func (sb *StatusBar) SetChat(id string) {
	sb.chat = id
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(s status.State) {
	sb.state = s
	sb.render()
}

// SetUpload shows the progress of the running batch; a finished batch
// clears it.
func (sb *StatusBar) SetUpload(tasks []model.UploadTask, batch float64) {
	sb.upload = ""
	if len(tasks) > 0 && batch < 1 {
		done := 0
		for i := range tasks {
			if tasks[i].Finished() {
				done++
			}
		}
		sb.upload = fmt.Sprintf("uploading %d/%d %3.0f%%", done, len(tasks), batch*100)
	}
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	color := ui.Tag(sb.theme.StatusRetryColor)
	switch sb.state {
	case status.Connected:
		color = ui.Tag(sb.theme.StatusOKColor)
	case status.Closed, status.Idle:
		color = ui.Tag(sb.theme.MutedColor)
	}

	parts := []string{
		fmt.Sprintf(" [::b]%s[-:-:-]", tview.Escape(sb.profile)),
		fmt.Sprintf("[%s]%s[-]", color, strings.ToLower(string(sb.state))),
	}
	if sb.chat != "" {
		parts = append(parts, "chat "+tview.Escape(sb.chat))
	}
	if sb.upload != "" {
		parts = append(parts, sb.upload)
	}
	_, _ = fmt.Fprint(sb, strings.Join(parts, " | "))
}

// TypingLine shows which peers are typing.
type TypingLine struct {
	*tview.TextView
	theme *ui.Theme
}

// NewTypingLine creates an empty typing line.
func NewTypingLine(theme *ui.Theme) *TypingLine {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &TypingLine{TextView: tv, theme: theme}
}

// Update renders the indicators.
func (tl *TypingLine) Update(peers []model.TypingIndicator) {
	tl.Clear()
	if text := TypingText(peers); text != "" {
		_, _ = fmt.Fprintf(tl, " [%s]%s[-]", ui.Tag(tl.theme.MutedColor), esc(text))
	}
}

// TypingText summarizes the peers currently typing.
func TypingText(peers []model.TypingIndicator) string {
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		name := p.UserName
		if name == "" {
			name = p.UserID
		}
		names = append(names, name)
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%s and %d others are typing…", names[0], len(names)-1)
	}
}
