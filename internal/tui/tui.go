package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the console until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctrl Controller, stopTimeout time.Duration) error {
	p := tea.NewProgram(NewModel(ctrl, stopTimeout), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
