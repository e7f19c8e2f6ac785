package cmd

import (
	"fmt"
	"math/big"

	"github.com/charmbracelet/lipgloss"

	bookledger "github.com/bookledger/bookledger"
	"github.com/bookledger/bookledger/ledger/evm"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	book    lipgloss.Style
	detail  lipgloss.Style
	action  lipgloss.Style
	warning lipgloss.Style
	section lipgloss.Style
	empty   lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		book:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		action:  lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section: lipgloss.NewStyle().MarginTop(1),
		empty:   lipgloss.NewStyle().Faint(true),
	}
}

type bookRow struct {
	book       bookledger.Book
	affordance bookledger.Affordance
}

func renderStatus(st bookledger.State, payments bool, s styles) string {
	lines := []string{
		s.title.Render("Library session"),
		s.header.Render(fmt.Sprintf("account: %s", st.Address)),
		s.header.Render(fmt.Sprintf("network: %s", evm.NetworkName(st.ChainID))),
		s.detail.Render(fmt.Sprintf("role: %s", roleLabel(st.IsAdmin))),
		s.detail.Render(fmt.Sprintf("books: %d available, %d rented, %d total",
			len(st.Inventory.Available), len(st.Inventory.Rented), len(st.Inventory.All))),
	}
	if payments {
		lines = append(lines, s.detail.Render(fmt.Sprintf("allowance: %s approved, balance %s, library holds %s",
			amount(st.Allowance.Approved), amount(st.Allowance.UserBalance), amount(st.Allowance.LedgerBalance))))
	}
	if st.LastTx != nil {
		lines = append(lines, s.detail.Render(fmt.Sprintf("last transaction: %s %s", st.LastTx.Hash, st.LastTx.Status)))
	}
	if st.Error != "" {
		lines = append(lines, s.warning.Render("error: "+st.Error))
	}
	if st.ReconcileErr != "" {
		lines = append(lines, s.warning.Render("refresh failed: "+st.ReconcileErr))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderBooks(available []bookRow, rented []bookledger.Book, s styles) string {
	lines := []string{s.title.Render("Available")}
	if len(available) == 0 {
		lines = append(lines, s.empty.Render("No books available."))
	}
	for _, row := range available {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			s.book.Render(row.book.Name),
			" ",
			s.detail.Render(fmt.Sprintf("(%d copies)", row.book.Copies)),
			" ",
			s.header.Render(string(row.book.ID)),
			" ",
			s.action.Render(affordanceLabel(row.affordance)),
		))
	}

	rentedLines := []string{s.title.Render("Rented")}
	if len(rented) == 0 {
		rentedLines = append(rentedLines, s.empty.Render("No rented books."))
	}
	for _, b := range rented {
		rentedLines = append(rentedLines, lipgloss.JoinHorizontal(lipgloss.Top,
			s.book.Render(b.Name),
			" ",
			s.header.Render(string(b.ID)),
		))
	}
	lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, rentedLines...)))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderOutcome(out bookledger.Outcome, s styles) string {
	lines := []string{s.title.Render(fmt.Sprintf("%s %s", out.Action, out.Kind))}
	if out.Hash != "" {
		lines = append(lines, s.detail.Render("tx: "+out.Hash))
	}
	if out.ExplorerURL != "" {
		lines = append(lines, s.header.Render(out.ExplorerURL))
	}
	if out.RefreshErr != nil {
		lines = append(lines, s.warning.Render("refresh failed: "+bookledger.UserMessage(out.RefreshErr)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func roleLabel(admin bool) string {
	if admin {
		return "owner"
	}
	return "reader"
}

func affordanceLabel(a bookledger.Affordance) string {
	switch a {
	case bookledger.AffordanceRent:
		return "[rent]"
	case bookledger.AffordanceApprove:
		return "[approve first]"
	default:
		return ""
	}
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
