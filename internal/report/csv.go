package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"offer-allocation/internal/analysis"
	"offer-allocation/internal/engine"
	"offer-allocation/internal/model"

	"github.com/shopspring/decimal"
)

// Writer renders results as CSV. Rounding to Decimals happens only here;
// the allocation core always works on unrounded values.
type Writer struct {
	Decimals int32
}

func NewWriter(decimals int) *Writer {
	if decimals < 0 {
		decimals = 0
	}
	return &Writer{Decimals: int32(decimals)}
}

func (w *Writer) num(x float64) string {
	return decimal.NewFromFloat(x).StringFixed(w.Decimals)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAllocations writes one row per allocation.
func (w *Writer) WriteAllocations(path string, r *model.Result) error {
	header := []string{"offer_id", "date", "hour", "round", "quantity", "price", "base_price", "cost"}
	rows := make([][]string, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		base := ""
		if a.HasBasePrice {
			base = w.num(a.BasePrice)
		}
		rows = append(rows, []string{
			a.OfferID,
			a.Slot.Date.String(),
			strconv.Itoa(a.Slot.Hour),
			strconv.Itoa(a.Round),
			w.num(a.Quantity),
			w.num(a.Price),
			base,
			w.num(a.Price * a.Quantity),
		})
	}
	return writeCSV(path, header, rows)
}

// WriteSlots writes the per-slot coverage report, deficits included.
func (w *Writer) WriteSlots(path string, s *analysis.Summary) error {
	header := []string{"date", "hour", "demand", "assigned", "deficit", "coverage_pct", "avg_price", "offers", "status"}
	rows := make([][]string, 0, len(s.Slots))
	for _, sl := range s.Slots {
		status := "ASSIGNED"
		switch {
		case sl.Unassigned:
			status = "UNASSIGNED"
		case sl.Deficit > model.Epsilon:
			status = "PARTIAL"
		}
		rows = append(rows, []string{
			sl.Slot.Date.String(),
			strconv.Itoa(sl.Slot.Hour),
			w.num(sl.Demand),
			w.num(sl.Assigned),
			w.num(sl.Deficit),
			w.num(sl.Coverage),
			w.num(sl.AvgPrice),
			strconv.Itoa(sl.Offers),
			status,
		})
	}
	return writeCSV(path, header, rows)
}

// WriteOffers writes per-offer totals followed by a TOTAL row.
func (w *Writer) WriteOffers(path string, s *analysis.Summary) error {
	header := []string{"offer_id", "assigned", "avg_price", "cost", "slots"}
	rows := make([][]string, 0, len(s.ByOffer)+1)
	totalQty, totalCost := decimal.Zero, decimal.Zero
	for _, o := range s.ByOffer {
		rows = append(rows, []string{o.OfferID, w.num(o.Assigned), w.num(o.AvgPrice), w.num(o.Cost), strconv.Itoa(o.Slots)})
		totalQty = totalQty.Add(decimal.NewFromFloat(o.Assigned))
		totalCost = totalCost.Add(decimal.NewFromFloat(o.Cost))
	}
	avg := decimal.Zero
	if totalQty.IsPositive() {
		avg = totalCost.Div(totalQty)
	}
	rows = append(rows, []string{
		"TOTAL",
		totalQty.StringFixed(w.Decimals),
		avg.StringFixed(w.Decimals),
		totalCost.StringFixed(w.Decimals),
		"",
	})
	return writeCSV(path, header, rows)
}

// WriteOfferRounds writes the per (offer, round) totals.
func (w *Writer) WriteOfferRounds(path string, s *analysis.Summary) error {
	header := []string{"offer_id", "round", "assigned", "avg_price", "cost"}
	rows := make([][]string, 0, len(s.ByOfferRound))
	for _, o := range s.ByOfferRound {
		rows = append(rows, []string{o.OfferID, strconv.Itoa(o.Round), w.num(o.Assigned), w.num(o.AvgPrice), w.num(o.Cost)})
	}
	return writeCSV(path, header, rows)
}

// WriteMonthly writes one row per (month, offer) and a month total row.
func (w *Writer) WriteMonthly(path string, s *analysis.Summary) error {
	header := []string{"month", "offer_id", "assigned", "avg_price", "avg_base_price", "demand", "deficit", "coverage_pct"}
	var rows [][]string
	for _, m := range s.Monthly {
		for _, o := range m.Offers {
			base := ""
			if o.HasBasePrice {
				base = w.num(o.AvgBasePrice)
			}
			rows = append(rows, []string{m.Label, o.OfferID, w.num(o.Assigned), w.num(o.AvgPrice), base, "", "", ""})
		}
		rows = append(rows, []string{m.Label, "TOTAL", w.num(m.Assigned), "", "", w.num(m.Demand), w.num(m.Deficit), w.num(m.Coverage)})
	}
	return writeCSV(path, header, rows)
}

func pivotHeader(lead ...string) []string {
	h := append([]string(nil), lead...)
	h = append(h, "date")
	for hour := 1; hour <= 24; hour++ {
		h = append(h, fmt.Sprintf("H%d", hour))
	}
	return append(h, "total")
}

func (w *Writer) pivotRows(lead []string, p analysis.Pivot) [][]string {
	rows := make([][]string, 0, len(p.Dates))
	for i, d := range p.Dates {
		row := append([]string(nil), lead...)
		row = append(row, d.String())
		for _, v := range p.Rows[i] {
			row = append(row, w.num(v))
		}
		rows = append(rows, append(row, w.num(p.RowTotal(i))))
	}
	return rows
}

// WriteAllocationPivot writes every (offer, round) table as date rows by
// hour columns.
func (w *Writer) WriteAllocationPivot(path string, r *model.Result, tables []analysis.OfferRoundTable) error {
	dates := analysis.ResultDates(r)
	var rows [][]string
	for _, t := range tables {
		p := analysis.PivotByDate(t.Quantities, dates)
		rows = append(rows, w.pivotRows([]string{t.OfferID, strconv.Itoa(t.Round)}, p)...)
	}
	return writeCSV(path, pivotHeader("offer_id", "round"), rows)
}

// WriteDeficitPivot writes the unmet demand as date rows by hour columns.
func (w *Writer) WriteDeficitPivot(path string, r *model.Result) error {
	p := analysis.PivotByDate(analysis.DeficitTable(r), analysis.ResultDates(r))
	return writeCSV(path, pivotHeader(), w.pivotRows(nil, p))
}

// WriteRunReport writes the full report set of an outcome into dir and
// returns the paths written.
func (w *Writer) WriteRunReport(dir string, out *engine.Outcome, s *analysis.Summary) ([]string, error) {
	if out == nil || out.Result == nil {
		return nil, fmt.Errorf("outcome has no result")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	r := out.Result

	type job struct {
		name string
		fn   func(string) error
	}
	jobs := []job{
		{"allocations.csv", func(p string) error { return w.WriteAllocations(p, r) }},
		{"slots.csv", func(p string) error { return w.WriteSlots(p, s) }},
		{"offers.csv", func(p string) error { return w.WriteOffers(p, s) }},
		{"offer_rounds.csv", func(p string) error { return w.WriteOfferRounds(p, s) }},
		{"monthly.csv", func(p string) error { return w.WriteMonthly(p, s) }},
		{"allocation_pivot.csv", func(p string) error { return w.WriteAllocationPivot(p, r, analysis.AllocationTables(r)) }},
		{"deficit_pivot.csv", func(p string) error { return w.WriteDeficitPivot(p, r) }},
	}
	if len(r.Rounds) > 0 {
		jobs = append(jobs, job{"leftover_pivot.csv", func(p string) error {
			return w.WriteAllocationPivot(p, r, analysis.LeftoverTables(r))
		}})
	}

	paths := make([]string, 0, len(jobs))
	for _, j := range jobs {
		p := filepath.Join(dir, j.name)
		if err := j.fn(p); err != nil {
			return paths, fmt.Errorf("write %s: %w", j.name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
