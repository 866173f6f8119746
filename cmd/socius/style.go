package main

import (
	"github.com/fatih/color"

	"github.com/Joseda-hg/socius/internal/model"
)

var (
	Bold   = color.New(color.Bold).SprintFunc()
	Dim    = color.New(color.Faint).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Yellow = color.New(color.FgYellow).SprintFunc()
	Blue   = color.New(color.FgBlue).SprintFunc()
)

func statusLabel(status model.Status) string {
	padded := string(status)
	for len(padded) < len(model.StatusInProgress) {
		padded += " "
	}
	switch status {
	case model.StatusCompleted:
		return Green(padded)
	case model.StatusFailed:
		return Red(padded)
	case model.StatusPending:
		return Yellow(padded)
	default:
		return Blue(padded)
	}
}

func levelLabel(level model.Level) string {
	switch level {
	case model.LevelError:
		return Red("error")
	case model.LevelWarn:
		return Yellow("warn ")
	default:
		return Cyan("info ")
	}
}
