package tui

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/attach"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/reaction"
	"github.com/matheus3301/chatsync/internal/room"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/matheus3301/chatsync/internal/viewport"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	scrollTick  = 16 * time.Millisecond
	scrollRows  = 3
	scrollSteps = 40
)

// Room is the conversation controller driven by the view.
type Room interface {
	Open(ctx context.Context, chatID string) error
	Send(ctx context.Context, text, replyTo string) error
	SendAttachments(ctx context.Context, text, replyTo string, files []attach.File) error
	Retry(ctx context.Context, localID string) error
	ToggleReaction(ctx context.Context, messageID, emoji string) (reaction.Outcome, error)
	Keystroke()
	Messages() []model.Message
	ChatID() string
}

// Options configures the App.
type Options struct {
	Profile    string
	ChatID     string // opened at start when set
	NearBottom int
	Self       func() string
	Bus        *bus.Bus
	Clock      clock.Clock
	Logger     *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app        *tview.Application
	room       Room
	bus        *bus.Bus
	opts       Options
	logger     *zap.Logger
	registry   *keys.Registry
	conv       *views.Conversation
	composer   *views.Composer
	typingLine *views.TypingLine
	statusBar  *views.StatusBar
	flash      *ui.FlashModel
	flashBar   *ui.FlashBar
	scrollGen  atomic.Uint64
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(r Room, opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Self == nil {
		opts.Self = func() string { return "" }
	}
	theme := ui.DefaultTheme()
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:        tview.NewApplication(),
		room:       r,
		bus:        opts.Bus,
		opts:       opts,
		logger:     opts.Logger.Named("tui"),
		registry:   keys.NewRegistry(),
		conv:       views.NewConversation(theme, viewport.New(opts.NearBottom), opts.Self),
		composer:   views.NewComposer(theme),
		typingLine: views.NewTypingLine(theme),
		statusBar:  views.NewStatusBar(theme),
		flash:      ui.NewFlashModel(opts.Clock),
		flashBar:   ui.NewFlashBar(theme),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.statusBar.SetProfile(opts.Profile)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.Add("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.Add("compose", &keys.Action{
		Key:         tcell.KeyTab,
		Description: "tab:compose/scroll", Visible: true,
		Handler: func() {
			if a.app.GetFocus() == a.composer.InputField {
				a.app.SetFocus(a.conv)
				return
			}
			a.app.SetFocus(a.composer.InputField)
		},
	})
	a.registry.Add("cancel-reply", &keys.Action{
		Key:         tcell.KeyEscape,
		Description: "esc:cancel reply",
		Handler:     func() { a.composer.SetReplyTo(0) },
	})
	a.registry.Add("retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry last", Visible: true,
		Handler: func() { a.runCommand(Command{Name: "retry"}) },
	})
}

func (a *App) setupCallbacks() {
	a.composer.SetOnKeystroke(a.room.Keystroke)
	a.composer.SetOnSend(func(text string) {
		replyTo := a.replyTarget()
		a.composer.SetReplyTo(0)
		go func() {
			if err := a.room.Send(a.ctx, text, replyTo); err != nil {
				a.report("not sent", err)
			}
		}()
	})
	a.composer.SetOnCommand(func(line string) {
		a.runCommand(ParseCommand(line))
	})
}

func (a *App) setupLayout() {
	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.conv, 0, 1, false).
		AddItem(a.typingLine, 1, 0, false).
		AddItem(a.composer, 3, 0, true).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true).SetFocus(a.composer.InputField)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		_, typing := a.app.GetFocus().(*tview.InputField)
		if a.registry.HandleEvent(event, typing) {
			return nil
		}
		return event
	})
}

// replyTarget returns the id of the message the composer replies to.
func (a *App) replyTarget() string {
	n := a.composer.ReplyTo()
	if n == 0 {
		return ""
	}
	if m, ok := a.conv.At(n); ok {
		return string(m.ID)
	}
	return ""
}

func (a *App) runCommand(cmd Command) {
	defer func() { a.flashBar.Update(a.flash.Message()) }()
	switch cmd.Name {
	case "open":
		if cmd.Args == "" {
			a.flash.Warn("/open: chat id required")
			return
		}
		a.openChat(cmd.Args)
	case "reply":
		n, text, err := cmd.Ref()
		if err != nil {
			a.flash.Err(err)
			return
		}
		m, ok := a.conv.At(n)
		if !ok || m.ID == "" {
			a.flash.Warn(fmt.Sprintf("/reply: no sent message #%d", n))
			return
		}
		if text == "" {
			a.composer.SetReplyTo(n)
			return
		}
		go func() {
			if err := a.room.Send(a.ctx, text, string(m.ID)); err != nil {
				a.report("not sent", err)
			}
		}()
	case "react":
		n, emoji, err := cmd.Ref()
		if err != nil {
			a.flash.Err(err)
			return
		}
		m, ok := a.conv.At(n)
		if !ok || m.ID == "" || emoji == "" {
			a.flash.Warn("usage: /react <n> <emoji> on a sent message")
			return
		}
		go func() {
			if _, err := a.room.ToggleReaction(a.ctx, string(m.ID), emoji); err != nil {
				a.report("reaction", err)
			}
		}()
	case "retry":
		n := a.conv.LastFailed()
		if cmd.Args != "" {
			var err error
			if n, _, err = cmd.Ref(); err != nil {
				a.flash.Err(err)
				return
			}
		}
		m, ok := a.conv.At(n)
		if !ok || m.Status != model.StatusFailed {
			a.flash.Info("nothing to retry")
			return
		}
		go func() {
			if err := a.room.Retry(a.ctx, m.LocalID); err != nil {
				a.report("retry", err)
			}
		}()
	case "attach":
		paths := cmd.Fields()
		if len(paths) == 0 {
			a.flash.Warn("/attach: file path required")
			return
		}
		files, err := loadFiles(paths)
		if err != nil {
			a.flash.Err(err)
			return
		}
		replyTo := a.replyTarget()
		a.composer.SetReplyTo(0)
		go func() {
			if err := a.room.SendAttachments(a.ctx, "", replyTo, files); err != nil {
				a.report("attachments", err)
			}
		}()
	case "quit", "q":
		a.app.Stop()
	default:
		a.flash.Info(helpText)
	}
}

func (a *App) openChat(chatID string) {
	a.conv.SetChat(chatID)
	a.statusBar.SetChat(chatID)
	a.typingLine.Update(nil)
	go func() {
		if err := a.room.Open(a.ctx, chatID); err != nil {
			a.report("open", err)
		}
	}()
}

// report flashes err from a background operation.
func (a *App) report(what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Warn(what+" failed", zap.Error(err))
	a.flash.Err(fmt.Errorf("%s: %w", what, err))
	a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Message()) })
}

// handleEvent applies a bus event. Runs on the UI goroutine.
func (a *App) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case room.Update:
		if p.ChatID != a.room.ChatID() {
			return
		}
		act := a.conv.Update(a.room.Messages(), p.FromSelf)
		a.applyScroll(act)
	case []model.TypingIndicator:
		a.typingLine.Update(p)
	case attach.Progress:
		a.statusBar.SetUpload(p.Tasks, p.Batch)
	case room.Warning:
		a.flash.Warn(p.Message)
		a.flashBar.Update(a.flash.Message())
	case status.StatusChange:
		a.statusBar.SetState(p.To)
	}
}

func (a *App) applyScroll(act viewport.Action) {
	if !act.Scroll {
		return
	}
	gen := a.scrollGen.Add(1)
	if !act.Animated {
		a.conv.ScrollToEnd()
		return
	}
	go a.animateScroll(gen)
}

// animateScroll steps the view to the bottom. A newer scroll request
// cancels the running one.
func (a *App) animateScroll(gen uint64) {
	ticker := a.opts.Clock.Ticker(scrollTick)
	defer ticker.Stop()
	for range scrollSteps {
		select {
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		done := make(chan bool, 1)
		a.app.QueueUpdateDraw(func() {
			if a.scrollGen.Load() != gen {
				done <- true
				return
			}
			done <- a.conv.ScrollStep(scrollRows)
		})
		select {
		case finished := <-done:
			if finished {
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) watch(ch <-chan bus.Event) {
	refresh := a.opts.Clock.Ticker(time.Second)
	defer refresh.Stop()
	for {
		select {
		case evt := <-ch:
			a.app.QueueUpdateDraw(func() { a.handleEvent(evt) })
		case <-refresh.C:
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.Message()) })
		case <-a.ctx.Done():
			return
		}
	}
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	roomCh, unsubRoom := a.bus.Subscribe("room.", 256)
	defer unsubRoom()
	statusCh, unsubStatus := a.bus.Subscribe("transport.", 16)
	defer unsubStatus()

	go a.watch(roomCh)
	go a.watch(statusCh)
	if a.opts.ChatID != "" {
		a.openChat(a.opts.ChatID)
	} else {
		a.flash.Info("open a chat with /open <id>")
		a.flashBar.Update(a.flash.Message())
	}

	defer a.cancel()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
