package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/viewport"
	"github.com/rivo/tview"
)

// RowHeight is the pixel height the viewport policy assumes for one row.
const RowHeight = 20

// RenderOptions control how a conversation is drawn.
type RenderOptions struct {
	Self  string
	Loc   *time.Location
	Theme *ui.Theme
}

// Render returns the tview markup of msgs: day separators, a numbered header
// per message, reply previews, attachments, grouped reactions and the
// delivery status of the user's own messages.
func Render(msgs []model.Message, opts RenderOptions) string {
	theme := opts.Theme
	if theme == nil {
		theme = ui.DefaultTheme()
	}
	muted := ui.Tag(theme.MutedColor)

	var b strings.Builder
	n := 0
	for _, g := range model.GroupByDate(msgs, opts.Loc) {
		fmt.Fprintf(&b, "[%s]──── %s ────[-]\n", muted, g.Day.Format("Mon, 02 Jan 2006"))
		for _, m := range g.Messages {
			n++
			renderMessage(&b, n, msgs, m, opts.Self, opts.Loc, theme)
		}
	}
	return b.String()
}

func renderMessage(b *strings.Builder, n int, all []model.Message, m model.Message, self string, loc *time.Location, theme *ui.Theme) {
	muted := ui.Tag(theme.MutedColor)
	mine := m.IsMine(self)

	sender, color := string(m.SenderID), ui.Tag(theme.PeerColor)
	if mine {
		sender, color = "You", ui.Tag(theme.SelfColor)
	}
	ts := m.CreatedAt
	if loc != nil {
		ts = ts.In(loc)
	}
	fmt.Fprintf(b, "[%s]#%d[-] [%s::b]%s[-:-:-] [%s]%s[-]", muted, n, color, esc(sender), muted, ts.Format("15:04"))
	if mine {
		b.WriteString(" " + statusMark(m.Status, n, theme))
	}
	b.WriteByte('\n')

	if m.ReplyToID != "" {
		preview := model.ReplyFallback
		if target, ok := model.ResolveReply(all, m); ok {
			preview = fmt.Sprintf("%s: %s", target.SenderID, target.Preview(60))
		}
		fmt.Fprintf(b, "  [%s]↪ %s[-]\n", muted, esc(preview))
	}
	if m.Content.Text != "" {
		b.WriteString(esc(m.Content.Text))
		b.WriteByte('\n')
	}
	for _, a := range m.Content.Attachments {
		kind := "file"
		if k, err := model.ParseAttachmentKind(string(a.Kind)); err == nil {
			kind = string(k)
		}
		fmt.Fprintf(b, "  [%s]📎 %s (%s, %s)[-]\n", muted, esc(a.Name), kind, humanSize(a.Size))
	}
	if groups := model.GroupReactions(m.Reactions, self); len(groups) > 0 {
		b.WriteString("  ")
		for i, g := range groups {
			if i > 0 {
				b.WriteByte(' ')
			}
			mark := ""
			if g.Mine {
				mark = "*"
			}
			chip := fmt.Sprintf("[%s %d%s]", g.Emoji, g.Count, mark)
			fmt.Fprintf(b, "[%s]%s[-]", ui.Tag(theme.ReactionColor), esc(chip))
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func statusMark(s model.Status, n int, theme *ui.Theme) string {
	switch s {
	case model.StatusSending:
		return "[" + ui.Tag(theme.MutedColor) + "]…[-]"
	case model.StatusSent:
		return "[" + ui.Tag(theme.MutedColor) + "]✓[-]"
	case model.StatusDelivered:
		return "[" + ui.Tag(theme.MutedColor) + "]✓✓[-]"
	case model.StatusRead:
		return "[" + ui.Tag(theme.ReadColor) + "]✓✓[-]"
	case model.StatusFailed:
		return fmt.Sprintf("[%s]! not sent, /retry %d[-]", ui.Tag(theme.FailedColor), n)
	default:
		return ""
	}
}

func esc(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%d KB", n/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// Conversation displays the messages of the open chat and applies the
// autoscroll policy after every render.
// The markup is wrapped to the inner width here rather than by tview, so
// scroll offsets and the row count are in the same unit.
type Conversation struct {
	*tview.TextView
	theme  *ui.Theme
	policy *viewport.Policy
	self   func() string
	loc    *time.Location
	msgs   []model.Message

	markup    string
	wrapWidth int
	rows      int
}

// NewConversation creates a conversation view.
func NewConversation(theme *ui.Theme, policy *viewport.Policy, self func() string) *Conversation {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Messages ")
	tv.SetTitleColor(theme.TitleColor)

	return &Conversation{TextView: tv, theme: theme, policy: policy, self: self, loc: time.Local}
}

// SetChat resets the view for a newly opened chat.
func (c *Conversation) SetChat(name string) {
	c.SetTitle(fmt.Sprintf(" %s ", name))
	c.msgs = nil
	c.markup = ""
	c.rows = 0
	c.Clear()
	c.policy.Reset()
}

// Update renders msgs and returns the scroll the policy asks for. The
// distance from the bottom is measured before the new content is applied.
func (c *Conversation) Update(msgs []model.Message, fromSelf bool) viewport.Action {
	u := viewport.Update{
		PrevCount:          len(c.msgs),
		Count:              len(msgs),
		DistanceFromBottom: c.distanceFromBottom(),
		FromSelf:           fromSelf,
	}
	c.msgs = msgs
	c.markup = Render(msgs, RenderOptions{Self: c.self(), Loc: c.loc, Theme: c.theme})
	_, _, width, _ := c.GetInnerRect()
	c.layout(width)
	return c.policy.Decide(u)
}

// Draw rewraps the text when the inner width changed since the last layout.
func (c *Conversation) Draw(screen tcell.Screen) {
	if _, _, width, _ := c.GetInnerRect(); width != c.wrapWidth {
		c.layout(width)
	}
	c.TextView.Draw(screen)
}

func (c *Conversation) layout(width int) {
	c.wrapWidth = width
	text := strings.TrimRight(c.markup, "\n")
	if text == "" || width <= 0 {
		c.rows = 0
		c.SetText(text)
		return
	}
	lines := tview.WordWrap(text, width)
	c.rows = len(lines)
	c.SetText(strings.Join(lines, "\n"))
}

// At returns the message shown with number n.
func (c *Conversation) At(n int) (model.Message, bool) {
	if n < 1 || n > len(c.msgs) {
		return model.Message{}, false
	}
	return c.msgs[n-1], true
}

// LastFailed returns the number of the most recent failed send, or 0.
func (c *Conversation) LastFailed() int {
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Status == model.StatusFailed {
			return i + 1
		}
	}
	return 0
}

func (c *Conversation) distanceFromBottom() int {
	row, _ := c.GetScrollOffset()
	_, _, _, height := c.GetInnerRect()
	return max(0, c.rows-row-height) * RowHeight
}

// ScrollStep moves the view rows down and reports whether the bottom was
// reached. Once there the view keeps following new rows.
func (c *Conversation) ScrollStep(rows int) bool {
	row, _ := c.GetScrollOffset()
	_, _, _, height := c.GetInnerRect()
	last := max(0, c.rows-height)
	next := min(row+rows, last)
	if next >= last {
		c.ScrollToEnd()
		return true
	}
	c.ScrollTo(next, 0)
	return false
}
