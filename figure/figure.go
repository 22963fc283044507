// Package figure turns a visualization plan into Plotly-compatible figure
// JSON, built programmatically from query rows rather than by the model.
package figure

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// ChartType enumerates the supported chart kinds.
type ChartType string

const (
	ChartKPI       ChartType = "kpi"
	ChartBar       ChartType = "bar"
	ChartPie       ChartType = "pie"
	ChartLine      ChartType = "line"
	ChartScatter   ChartType = "scatter"
	ChartHeatmap   ChartType = "heatmap"
	ChartBox       ChartType = "box"
	ChartHistogram ChartType = "histogram"
)

// Chart describes a single chart within a plan. The JSON shape matches what
// the planning prompt asks the model to produce.
type Chart struct {
	Type        ChartType `json:"chart_type"`
	Title       string    `json:"title"`
	XAxis       string    `json:"x_axis,omitempty"`
	YAxis       string    `json:"y_axis,omitempty"`
	ZAxis       string    `json:"z_axis,omitempty"`
	ValueColumn string    `json:"value_column,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
}

// Plan is the dashboard plan produced by the planning node.
type Plan struct {
	Charts []Chart `json:"charts"`
}

// ParsePlan decodes a plan from model output.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("invalid visualization plan: %w", err)
	}
	return &plan, nil
}

// Figure is a renderable Plotly figure: a list of traces plus a layout.
type Figure struct {
	Data   []map[string]any `json:"data"`
	Layout map[string]any   `json:"layout"`
}

// Render builds the figure for one chart from the query rows.
func Render(chart Chart, rows []map[string]any) (*Figure, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data to render chart %q", chart.Title)
	}

	switch chart.Type {
	case ChartKPI:
		return renderKPI(chart, rows)
	case ChartBar:
		return renderXY(chart, rows, map[string]any{"type": "bar"})
	case ChartLine:
		return renderXY(chart, rows, map[string]any{"type": "scatter", "mode": "lines"})
	case ChartPie:
		return renderPie(chart, rows)
	case ChartScatter:
		return renderScatter(chart, rows)
	case ChartHeatmap:
		return renderHeatmap(chart, rows)
	case ChartBox:
		return renderBox(chart, rows)
	case ChartHistogram:
		return renderHistogram(chart, rows)
	default:
		return nil, fmt.Errorf("unsupported chart type: %s", chart.Type)
	}
}

// renderKPI shows a single number. Multiple rows aggregate to their sum so a
// grouped result still yields one headline value.
func renderKPI(chart Chart, rows []map[string]any) (*Figure, error) {
	if chart.ValueColumn == "" {
		return nil, fmt.Errorf("kpi chart %q requires value_column", chart.Title)
	}

	values, err := numericColumn(rows, chart.ValueColumn)
	if err != nil {
		return nil, fmt.Errorf("kpi chart %q: %w", chart.Title, err)
	}

	value := values[0]
	if len(values) > 1 {
		value = 0
		for _, v := range values {
			value += v
		}
	}

	return &Figure{
		Data: []map[string]any{{
			"type":  "indicator",
			"mode":  "number",
			"value": value,
			"title": map[string]any{"text": chart.Title},
		}},
		Layout: map[string]any{"height": 250},
	}, nil
}

func renderXY(chart Chart, rows []map[string]any, trace map[string]any) (*Figure, error) {
	if chart.XAxis == "" || chart.YAxis == "" {
		return nil, fmt.Errorf("chart %q requires x_axis and y_axis", chart.Title)
	}
	x, err := column(rows, chart.XAxis)
	if err != nil {
		return nil, fmt.Errorf("chart %q: %w", chart.Title, err)
	}
	y, err := numericColumn(rows, chart.YAxis)
	if err != nil {
		return nil, fmt.Errorf("chart %q: %w", chart.Title, err)
	}

	trace["x"] = x
	trace["y"] = y
	return &Figure{
		Data:   []map[string]any{trace},
		Layout: titleLayout(chart.Title),
	}, nil
}

func renderPie(chart Chart, rows []map[string]any) (*Figure, error) {
	if chart.XAxis == "" || chart.YAxis == "" {
		return nil, fmt.Errorf("pie chart %q requires x_axis (names) and y_axis (values)", chart.Title)
	}
	names, err := column(rows, chart.XAxis)
	if err != nil {
		return nil, fmt.Errorf("pie chart %q: %w", chart.Title, err)
	}
	values, err := numericColumn(rows, chart.YAxis)
	if err != nil {
		return nil, fmt.Errorf("pie chart %q: %w", chart.Title, err)
	}

	return &Figure{
		Data: []map[string]any{{
			"type":   "pie",
			"labels": names,
			"values": values,
		}},
		Layout: titleLayout(chart.Title),
	}, nil
}

func renderScatter(chart Chart, rows []map[string]any) (*Figure, error) {
	if chart.XAxis == "" || chart.YAxis == "" {
		return nil, fmt.Errorf("scatter chart %q requires x_axis and y_axis", chart.Title)
	}

	// Both axes must be numeric; rows failing coercion are dropped pairwise.
	var xs, ys []float64
	for _, row := range rows {
		x, okX := toFloat(row[chart.XAxis])
		y, okY := toFloat(row[chart.YAxis])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("scatter chart %q: no valid numeric data in columns %q and %q", chart.Title, chart.XAxis, chart.YAxis)
	}

	return &Figure{
		Data: []map[string]any{{
			"type": "scatter",
			"mode": "markers",
			"x":    xs,
			"y":    ys,
		}},
		Layout: titleLayout(chart.Title),
	}, nil
}

func renderHeatmap(chart Chart, rows []map[string]any) (*Figure, error) {
	if chart.XAxis == "" || chart.YAxis == "" || chart.ZAxis == "" {
		return nil, fmt.Errorf("heatmap chart %q requires x_axis, y_axis and z_axis", chart.Title)
	}
	x, err := column(rows, chart.XAxis)
	if err != nil {
		return nil, fmt.Errorf("heatmap chart %q: %w", chart.Title, err)
	}
	y, err := column(rows, chart.YAxis)
	if err != nil {
		return nil, fmt.Errorf("heatmap chart %q: %w", chart.Title, err)
	}
	z, err := numericColumn(rows, chart.ZAxis)
	if err != nil {
		return nil, fmt.Errorf("heatmap chart %q: %w", chart.Title, err)
	}

	return &Figure{
		Data: []map[string]any{{
			"type":     "histogram2d",
			"x":        x,
			"y":        y,
			"z":        z,
			"histfunc": "sum",
		}},
		Layout: titleLayout(chart.Title),
	}, nil
}

func renderBox(chart Chart, rows []map[string]any) (*Figure, error) {
	if chart.YAxis == "" {
		return nil, fmt.Errorf("box chart %q requires y_axis", chart.Title)
	}
	y, err := numericColumn(rows, chart.YAxis)
	if err != nil {
		return nil, fmt.Errorf("box chart %q: %w", chart.Title, err)
	}

	trace := map[string]any{"type": "box", "y": y}
	if chart.XAxis != "" {
		if x, err := column(rows, chart.XAxis); err == nil {
			trace["x"] = x
		}
	}
	return &Figure{
		Data:   []map[string]any{trace},
		Layout: titleLayout(chart.Title),
	}, nil
}

func renderHistogram(chart Chart, rows []map[string]any) (*Figure, error) {
	if chart.XAxis == "" {
		return nil, fmt.Errorf("histogram chart %q requires x_axis", chart.Title)
	}
	x, err := numericColumn(rows, chart.XAxis)
	if err != nil {
		return nil, fmt.Errorf("histogram chart %q: %w", chart.Title, err)
	}

	return &Figure{
		Data: []map[string]any{{
			"type": "histogram",
			"x":    x,
		}},
		Layout: titleLayout(chart.Title),
	}, nil
}

func titleLayout(title string) map[string]any {
	return map[string]any{"title": map[string]any{"text": title}}
}

func column(rows []map[string]any, name string) ([]any, error) {
	if _, ok := rows[0][name]; !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	values := make([]any, len(rows))
	for i, row := range rows {
		values[i] = row[name]
	}
	return values, nil
}

// numericColumn coerces a column to float64, dropping rows that fail. An
// entirely non-numeric column is an error.
func numericColumn(rows []map[string]any, name string) ([]float64, error) {
	if _, ok := rows[0][name]; !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	var values []float64
	for _, row := range rows {
		if v, ok := toFloat(row[name]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no valid numeric data in column %q", name)
	}
	return values, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case pgtype.Numeric:
		// pgx returns NUMERIC columns as pgtype.Numeric, which is what
		// aggregates like SUM yield on the live path.
		f, err := n.Float64Value()
		return f.Float64, err == nil && f.Valid
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
