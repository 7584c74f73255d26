// Package sheets loads the traded market set and strategy hyperparameters
// from a published Google spreadsheet. Market selection happens outside the
// bot; this package only consumes the result.
//
// Three tabs matter:
//
//	"Selected Markets"  — the operator's pick of markets to quote
//	"All Markets"       — full metadata (tokens, tick sizes, reference prices)
//	"Hyperparameters"   — (type, param, value) rows grouped into profiles
//
// Selected and All are inner-joined on the question text; a selected market
// missing from All is dropped. Hyperparameter rows with a blank type carry
// the previous row's type forward, matching how the sheet is written.
package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/tzf1003/poly-maker-rewords/internal/state"
)

const (
	tabSelected = "Selected Markets"
	tabAll      = "All Markets"
	tabParams   = "Hyperparameters"
)

var sheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Client fetches spreadsheet tabs via the public CSV export.
type Client struct {
	http    *resty.Client
	sheetID string
	log     *slog.Logger
}

// New builds a client from the spreadsheet's share URL.
func New(spreadsheetURL string, logger *slog.Logger) (*Client, error) {
	m := sheetIDPattern.FindStringSubmatch(spreadsheetURL)
	if m == nil {
		return nil, fmt.Errorf("cannot extract sheet ID from %q", spreadsheetURL)
	}

	http := resty.New().
		SetBaseURL("https://docs.google.com").
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &Client{
		http:    http,
		sheetID: m[1],
		log:     logger.With("component", "sheets"),
	}, nil
}

// record is one CSV row keyed by header name.
type record map[string]string

func (r record) get(key string) string {
	return strings.TrimSpace(r[key])
}

func (r record) decimal(key string) (decimal.Decimal, bool) {
	v := r.get(key)
	if v == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (r record) float(key string) float64 {
	f, _ := strconv.ParseFloat(r.get(key), 64)
	return f
}

// fetchTab downloads one tab as header-keyed records.
func (c *Client) fetchTab(ctx context.Context, name string) ([]record, error) {
	path := fmt.Sprintf("/spreadsheets/d/%s/gviz/tq?tqx=out:csv&sheet=%s", c.sheetID, url.QueryEscape(name))

	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("fetch tab %q: %w", name, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch tab %q: status %d", name, resp.StatusCode())
	}

	reader := csv.NewReader(strings.NewReader(resp.String()))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tab %q: %w", name, err)
	}
	return recordsFromRows(rows), nil
}

func recordsFromRows(rows [][]string) []record {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]
	out := make([]record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(record, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[strings.TrimSpace(col)] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

// Load pulls all three tabs and assembles the market rows and parameter
// profiles. Errors are returned rather than swallowed; the caller decides
// whether stale data is acceptable.
func (c *Client) Load(ctx context.Context) ([]state.MarketRow, map[string]state.ParamSet, error) {
	selected, err := c.fetchTab(ctx, tabSelected)
	if err != nil {
		return nil, nil, err
	}
	all, err := c.fetchTab(ctx, tabAll)
	if err != nil {
		return nil, nil, err
	}
	paramRows, err := c.fetchTab(ctx, tabParams)
	if err != nil {
		return nil, nil, err
	}

	rows := JoinMarkets(selected, all, c.log)
	params := ParseParams(paramRows)
	c.log.Info("sheet loaded", "markets", len(rows), "param_types", len(params))
	return rows, params, nil
}

// JoinMarkets inner-joins the selected tab against the full metadata tab on
// the question column. Rows with an empty question are dropped from both
// sides. On column collisions the metadata tab wins; it is the fresher
// source for prices and volatility.
func JoinMarkets(selected, all []record, log *slog.Logger) []state.MarketRow {
	byQuestion := make(map[string]record, len(all))
	for _, rec := range all {
		if q := rec.get("question"); q != "" {
			byQuestion[q] = rec
		}
	}

	var out []state.MarketRow
	for _, sel := range selected {
		q := sel.get("question")
		if q == "" {
			continue
		}
		meta, ok := byQuestion[q]
		if !ok {
			continue
		}

		merged := make(record, len(sel)+len(meta))
		for k, v := range sel {
			merged[k] = v
		}
		for k, v := range meta {
			if strings.TrimSpace(v) != "" {
				merged[k] = v
			}
		}

		row, err := marketRowFromRecord(q, merged)
		if err != nil {
			log.Warn("skipping market row", "question", q, "error", err)
			continue
		}
		out = append(out, row)
	}
	return out
}

func marketRowFromRecord(question string, rec record) (state.MarketRow, error) {
	row := state.MarketRow{
		Question:    question,
		ConditionID: rec.get("condition_id"),
		Token1:      rec.get("token1"),
		Token2:      rec.get("token2"),
		Answer1:     rec.get("answer1"),
		Answer2:     rec.get("answer2"),
		NegRisk:     strings.EqualFold(rec.get("neg_risk"), "TRUE"),
		ParamType:   rec.get("param_type"),
	}
	if row.ConditionID == "" || row.Token1 == "" || row.Token2 == "" {
		return state.MarketRow{}, fmt.Errorf("missing condition_id or token IDs")
	}

	var ok bool
	if row.TickSize, ok = rec.decimal("tick_size"); !ok {
		return state.MarketRow{}, fmt.Errorf("missing tick_size")
	}
	if row.MinSize, ok = rec.decimal("min_size"); !ok {
		return state.MarketRow{}, fmt.Errorf("missing min_size")
	}
	if row.TradeSize, ok = rec.decimal("trade_size"); !ok {
		return state.MarketRow{}, fmt.Errorf("missing trade_size")
	}
	if row.MaxSize, ok = rec.decimal("max_size"); !ok {
		row.MaxSize = row.TradeSize
	}
	row.MaxSpread, _ = rec.decimal("max_spread")
	row.SheetBestBid, _ = rec.decimal("best_bid")
	row.SheetBestAsk, _ = rec.decimal("best_ask")
	row.Volatility3h = rec.float("3_hour")
	if m := rec.get("multiplier"); m != "" {
		if mult, err := strconv.ParseInt(m, 10, 64); err == nil {
			row.Multiplier = mult
		}
	}
	return row, nil
}

// ParseParams folds the (type, param, value) rows into named profiles.
// A blank type cell inherits the type of the previous row.
func ParseParams(rows []record) map[string]state.ParamSet {
	raw := make(map[string]map[string]float64)
	currentType := ""
	for _, rec := range rows {
		if t := rec.get("type"); t != "" {
			currentType = t
		}
		if currentType == "" {
			continue
		}
		param := rec.get("param")
		if param == "" {
			continue
		}
		if raw[currentType] == nil {
			raw[currentType] = make(map[string]float64)
		}
		raw[currentType][param] = rec.float("value")
	}

	out := make(map[string]state.ParamSet, len(raw))
	for name, vals := range raw {
		out[name] = state.ParamSet{
			StopLossThreshold:   vals["stop_loss_threshold"],
			SpreadThreshold:     decimal.NewFromFloat(vals["spread_threshold"]),
			VolatilityThreshold: vals["volatility_threshold"],
			TakeProfitThreshold: vals["take_profit_threshold"],
			SleepPeriod:         time.Duration(vals["sleep_period"] * float64(time.Hour)),
		}
	}
	return out
}
