package cli

import (
	"time"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

var (
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	danger    = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F6D"}

	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(highlight)
	okStyle      = lipgloss.NewStyle().Foreground(special)
	errorStyle   = lipgloss.NewStyle().Foreground(danger)
	headerCell   = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell         = lipgloss.NewStyle().Padding(0, 1)
)

// renderTable draws rows under headers with a normal border.
func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(highlight)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// formatMoney renders fiat amounts through go-money, crypto and unknown codes as plain decimals.
func formatMoney(amount decimal.Decimal, code string) string {
	if c, ok := domain.LookupCurrency(code); ok && c.Kind == domain.CurrencyKindCrypto {
		return formatAmount(amount) + " " + code
	}
	cur := money.GetCurrency(code)
	if cur == nil {
		return formatAmount(amount) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).RoundBank(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

func formatAmount(d decimal.Decimal) string {
	return d.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
