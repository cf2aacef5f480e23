package main

import "github.com/charmbracelet/lipgloss"

var (
	accentFg  = lipgloss.Color("#0EA5E9")
	baseDimFg = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6B7280"}
	borderCol = lipgloss.Color("#243141")

	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(borderCol).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Foreground(accentFg).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(baseDimFg)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#38BDF8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)
