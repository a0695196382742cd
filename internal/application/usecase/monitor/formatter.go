package monitor

import (
	"fmt"
	"strings"
)

const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

func colorize(s, c string) string { return c + s + ansiReset }

type Formatter struct {
	Color bool
}

func NewFormatter(color bool) *Formatter {
	return &Formatter{Color: color}
}

type RenderMode int

const (
	RenderLive RenderMode = iota
	RenderSnapshot
)

func (f *Formatter) paint(s, c string) string {
	if !f.Color {
		return s
	}
	return colorize(s, c)
}

// Render 把标记渲染成一行：BTC L:binance S:bybit Δ=+0.0123% (entry +0.0200%)
func (f *Formatter) Render(marks []Mark, mode RenderMode) string {
	var sb strings.Builder
	if mode == RenderLive {
		sb.WriteString("\r")
	}
	sb.WriteString(f.paint("[FUNDARB] ", ansiDim))
	if len(marks) == 0 {
		sb.WriteString(f.paint("no open positions", ansiDim))
	}

	for i, m := range marks {
		if i > 0 {
			sb.WriteString(f.paint("  ||  ", ansiDim))
		}
		sb.WriteString(m.Symbol)
		sb.WriteString(" L:" + m.LongExchange + " S:" + m.ShortExchange + " ")

		div := "Δ=--"
		col := ansiYellow
		if m.HasQuote {
			div = fmt.Sprintf("Δ=%+.4f%%", m.Divergence*100)
			switch m.Dir {
			case DirUp:
				col = ansiGreen
			case DirDown:
				col = ansiRed
			}
			if m.Divergence <= 0 {
				col = ansiRed
			}
		}
		sb.WriteString(f.paint(div, col))
		sb.WriteString(f.paint(fmt.Sprintf(" (entry %+.4f%%)", m.EntryDivergence*100), ansiDim))
		if m.Flagged {
			sb.WriteString(" ")
			sb.WriteString(f.paint("REBALANCE:"+m.Reason, ansiRed))
		}
	}

	if mode == RenderLive && f.Color {
		sb.WriteString(ansiClearEOL)
	}
	return sb.String()
}
