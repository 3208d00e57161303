package cmd

import (
	"fmt"

	"cfgvault/internal/model"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("213"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

func printTable(headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().
					Foreground(lipgloss.Color("86")).
					Bold(true).
					Padding(0, 1)
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)

	fmt.Println(t)
}

func statusColor(s string) string {
	color := "10"
	switch s {
	case string(model.BackupFailed), string(model.VerificationFailed), string(model.VerificationMissing):
		color = "9"
	case string(model.BackupCancelled), string(model.VerificationUnchanged):
		color = "14"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
