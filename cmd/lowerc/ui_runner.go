package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"lowerc/internal/driver"
	"lowerc/internal/ui"
)

type buildOutcome struct {
	result *driver.Result
	err    error
}

func runBuildWithUI(ctx context.Context, title string, files []string, opts driver.Options) (*driver.Result, error) {
	events := make(chan driver.Event, 256)
	outcomeCh := make(chan buildOutcome, 1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		opts.Progress = driver.ChannelSink{Ch: events}
		res, err := driver.BuildAll(ctx, files, opts)
		outcomeCh <- buildOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, files, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, uiErr := program.Run()
	if uiErr != nil {
		cancel()
	}
	// UI мог выйти раньше (Ctrl+C): не даём воркерам зависнуть на канале
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil && outcome.err == nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
