package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor          tcell.Color
	FgColor          tcell.Color
	BorderColor      tcell.Color
	TitleColor       tcell.Color
	SelfColor        tcell.Color
	PeerColor        tcell.Color
	MutedColor       tcell.Color
	ReadColor        tcell.Color
	FailedColor      tcell.Color
	ReactionColor    tcell.Color
	MenuKeyColor     tcell.Color
	FlashInfoColor   tcell.Color
	FlashWarnColor   tcell.Color
	FlashErrColor    tcell.Color
	StatusOKColor    tcell.Color
	StatusRetryColor tcell.Color
}

// DefaultTheme returns a dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:          tcell.ColorBlack,
		FgColor:          tcell.ColorCadetBlue,
		BorderColor:      tcell.ColorDodgerBlue,
		TitleColor:       tcell.ColorFuchsia,
		SelfColor:        tcell.ColorAqua,
		PeerColor:        tcell.ColorOrange,
		MutedColor:       tcell.ColorGray,
		ReadColor:        tcell.ColorDodgerBlue,
		FailedColor:      tcell.ColorOrangeRed,
		ReactionColor:    tcell.ColorPapayaWhip,
		MenuKeyColor:     tcell.ColorDodgerBlue,
		FlashInfoColor:   tcell.ColorNavajoWhite,
		FlashWarnColor:   tcell.ColorOrange,
		FlashErrColor:    tcell.ColorOrangeRed,
		StatusOKColor:    tcell.ColorGreen,
		StatusRetryColor: tcell.ColorYellow,
	}
}

// Tag returns c as a tview color tag name.
func Tag(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
