package tui

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/muurk/mdnsdiscover/internal/discovery"
	"github.com/muurk/mdnsdiscover/internal/pubsub"
)

// GetTerminalSize returns the current terminal width and height
func GetTerminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return MinTerminalWidth, 24
	}
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	if height < MinTerminalHeight {
		height = MinTerminalHeight
	}
	return width, height
}

// Run shows the discovery screen until the user quits or ctx is cancelled.
func Run(ctx context.Context, registry Registry, broker *pubsub.Broker[discovery.Notification], autoStart bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	width, height := GetTerminalSize()
	model := New(registry, pubsub.NewContinuousListener(ctx, broker),
		WithAutoStart(autoStart),
		WithSize(width, height),
	)

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	return nil
}
