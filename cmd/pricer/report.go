package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/rzzdr/option-valuation/pkg/models"
)

// writeReport prints the shared contract and parameters once, then one
// block per model
func writeReport(out io.Writer, valuations []models.Valuation) error {
	if len(valuations) == 0 {
		return fmt.Errorf("no valuations to report")
	}
	first := valuations[0]
	c, p := first.Contract, first.Parameters

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Contract\t%s %s strike %s\n", c.Ticker, c.Expiry.Format("2006-01-02"), money(c.Strike))
	fmt.Fprintf(w, "Dividend yield\t%.4f\n", c.DividendYield)
	fmt.Fprintf(w, "Spot\t%s\n", money(p.Spot))
	fmt.Fprintf(w, "Volatility\t%.6f\n", p.Volatility)
	fmt.Fprintf(w, "Risk-free rate\t%.6f\n", p.RiskFreeRate)
	fmt.Fprintf(w, "Time to maturity\t%.6f years\n", p.TimeToMaturity)

	for _, v := range valuations {
		q := v.Quote
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Model\t%s\n", q.Model)
		fmt.Fprintf(w, "Call\t%s\n", money(q.Call))
		fmt.Fprintf(w, "Put\t%s\n", money(q.Put))
		if q.Trials > 0 {
			fmt.Fprintf(w, "Trials\t%d\n", q.Trials)
			fmt.Fprintf(w, "Std error\tcall %.6f put %.6f\n", q.CallStdErr, q.PutStdErr)
		}
		if q.Clamped {
			fmt.Fprintf(w, "Note\tnegative estimate clamped to zero\n")
		}
		fmt.Fprintf(w, "Early exercise\t%t\n", v.EarlyExercise)
		if v.Parity != nil {
			fmt.Fprintf(w, "Parity\t%t (C-P %.4f, S-K %.4f)\n", v.Parity.Holds, v.Parity.LHS, v.Parity.RHS)
		}
	}
	return w.Flush()
}

func money(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(2)
}
