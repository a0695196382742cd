package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"fundarb/internal/application/port"
	"fundarb/internal/domain/model"
)

// Sink 以表格形式输出到终端
type Sink struct {
	w io.Writer
}

var (
	_ port.Sink     = (*Sink)(nil)
	_ port.LiveSink = (*Sink)(nil)
)

func NewSink() *Sink { return NewSinkTo(os.Stdout) }

func NewSinkTo(w io.Writer) *Sink { return &Sink{w: w} }

func (s *Sink) table() *tabwriter.Writer {
	return tabwriter.NewWriter(s.w, 0, 0, 2, ' ', 0)
}

func (s *Sink) WriteOpportunities(opps []model.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		_, err := fmt.Fprintln(s.w, "no opportunities found")
		return err
	}
	tw := s.table()
	fmt.Fprintln(tw, "#\tSYMBOL\tLONG\tSHORT\tLONG RATE\tSHORT RATE\tDIVERGENCE\tFEES\tNET/PERIOD\tAPY %\tMIN VOL\tOI RATIO\tSPREAD BPS")
	for i, o := range opps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			i+1, o.Symbol, o.LongExchange, o.ShortExchange,
			pct(o.LongRate), pct(o.ShortRate), pct(o.Divergence),
			pct(o.EstimatedFees), pct(o.NetProfitPerPeriod), o.AnnualizedAPY,
			optional(o.Volume.Min, "%.0f"), optional(o.OpenInterest.Ratio, "%.2f"), optional(o.Spread.AvgBps, "%.2f"))
	}
	return tw.Flush()
}

func (s *Sink) WritePositions(positions []model.Position) error {
	if len(positions) == 0 {
		_, err := fmt.Fprintln(s.w, "no positions")
		return err
	}
	tw := s.table()
	fmt.Fprintln(tw, "ID\tSYMBOL\tLONG\tSHORT\tSIZE USD\tENTRY DIV\tCUR DIV\tFUNDING USD\tPAYMENTS\tSTATUS\tOPENED")
	for _, p := range positions {
		status := string(p.Status)
		if p.RebalancePending {
			status += " (rebalance)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			p.ID, p.Symbol, p.LongExchange, p.ShortExchange,
			p.SizeUSD.StringFixed(2), pct(p.EntryDivergence), optionalPct(p.CurrentDivergence),
			p.CumulativeFundingUSD.StringFixed(4), p.FundingPaymentsCount, status,
			p.OpenedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func (s *Sink) WriteSummary(sum model.PortfolioSummary) error {
	tw := s.table()
	fmt.Fprintf(tw, "open positions\t%d\n", sum.TotalPositions)
	fmt.Fprintf(tw, "total exposure usd\t%s\n", sum.TotalExposureUSD.StringFixed(2))
	fmt.Fprintf(tw, "cumulative funding usd\t%s\n", sum.TotalCumulativePnlUSD.StringFixed(4))
	fmt.Fprintf(tw, "pending rebalance\t%d\n", sum.PositionsPendingRebalance)
	return tw.Flush()
}

func (s *Sink) WriteCollection(sum model.CollectionSummary) error {
	tw := s.table()
	fmt.Fprintln(tw, "EXCHANGE\tOK\tFETCHED\tSTORED\tMARKET\tINTERVALS\tLATENCY MS\tERROR")
	for _, r := range sum.Results {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Exchange, r.Success, r.RatesFetched, r.RatesStored, r.MarketDataStored,
			r.IntervalsStored, r.LatencyMs, r.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.w, "%d/%d adapters ok, %d rates stored in %dms\n",
		sum.Successful, sum.TotalAdapters, sum.TotalRatesStored, sum.DurationMs)
	return err
}

func (s *Sink) WriteLive(line string) error {
	_, err := io.WriteString(s.w, line) // no newline
	return err
}

// 打印快照行后留一个空行占位，下一次变化时再重画 live
func (s *Sink) WriteSnapshot(ts time.Time, line string) error {
	_, err := fmt.Fprintf(s.w, "\n%s %s\n\n", ts.Format("2006-01-02 15:04:05"), line)
	return err
}

func (s *Sink) NewLine() error {
	_, err := io.WriteString(s.w, "\n")
	return err
}

// pct 比例转百分比字符串
func pct(v float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v*100), "0"), ".")
	if s == "" || s == "-" || s == "-0" {
		s = "0"
	}
	return s + "%"
}

func optionalPct(v *float64) string {
	if v == nil {
		return "--"
	}
	return pct(*v)
}

func optional(v *float64, format string) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf(format, *v)
}
