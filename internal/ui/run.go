package ui

import (
	"context"

	"codeberg.org/mutker/powerdash/internal/dashboard"
	"codeberg.org/mutker/powerdash/internal/errors"
	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the dashboard in the terminal until the user quits or ctx is
// done.
func Run(ctx context.Context, d Dashboard) error {
	p := tea.NewProgram(NewModel(ctx, d), tea.WithAltScreen(), tea.WithContext(ctx))

	d.OnChange(func(c dashboard.Change) {
		p.Send(changeMsg{change: c})
	})

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.New().Wrap(errors.ErrMainLoop, err)
	}
	return nil
}
