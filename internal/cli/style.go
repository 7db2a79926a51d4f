package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

var (
	okColor   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warnColor = lipgloss.AdaptiveColor{Light: "#D4A017", Dark: "#FFD866"}
	failColor = lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"}
	dimColor  = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}

	okStyle   = lipgloss.NewStyle().Foreground(okColor).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(dimColor)
)

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// ResultLabel renders a result code, colored on terminals: green for
// success, yellow for timeouts and cancellation, red otherwise.
func ResultLabel(o *Output, code ocpp.ResultCode) string {
	s := code.String()
	if !o.color {
		return s
	}
	switch code {
	case ocpp.ResultSuccess:
		return okStyle.Render(s)
	case ocpp.ResultTimeout, ocpp.ResultCanceled:
		return warnStyle.Render(s)
	default:
		return failStyle.Render(s)
	}
}

func dim(o *Output, s string) string {
	if !o.color {
		return s
	}
	return dimStyle.Render(s)
}
