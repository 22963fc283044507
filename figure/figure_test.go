package figure

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]byte(`{
		"charts": [
			{"chart_type": "bar", "title": "Sales by Region", "x_axis": "region", "y_axis": "total", "explanation": "comparison"},
			{"chart_type": "kpi", "title": "Total Sales", "value_column": "total", "explanation": "headline"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, plan.Charts, 2)
	assert.Equal(t, ChartBar, plan.Charts[0].Type)
	assert.Equal(t, "total", plan.Charts[1].ValueColumn)
}

func TestParsePlan_Invalid(t *testing.T) {
	_, err := ParsePlan([]byte(`not json`))
	assert.Error(t, err)
}

func TestRender_KPISingleRow(t *testing.T) {
	fig, err := Render(Chart{Type: ChartKPI, Title: "Total Sales", ValueColumn: "total"},
		[]map[string]any{{"total": int64(4200)}})
	require.NoError(t, err)

	require.Len(t, fig.Data, 1)
	assert.Equal(t, "indicator", fig.Data[0]["type"])
	assert.Equal(t, float64(4200), fig.Data[0]["value"])
}

func TestRender_KPIPostgresNumeric(t *testing.T) {
	var total pgtype.Numeric
	require.NoError(t, total.Scan("12345.67"))

	fig, err := Render(Chart{Type: ChartKPI, Title: "Total Revenue", ValueColumn: "sum"},
		[]map[string]any{{"sum": total}})
	require.NoError(t, err)
	assert.InDelta(t, 12345.67, fig.Data[0]["value"], 0.001)
}

func TestRender_KPISumsMultipleRows(t *testing.T) {
	rows := []map[string]any{
		{"region": "north", "total": int64(1200)},
		{"region": "south", "total": int64(800)},
		{"region": "west", "total": "not a number"},
	}
	fig, err := Render(Chart{Type: ChartKPI, Title: "Total Sales", ValueColumn: "total"}, rows)
	require.NoError(t, err)
	assert.Equal(t, float64(2000), fig.Data[0]["value"])
}

func TestRender_KPIMissingColumn(t *testing.T) {
	_, err := Render(Chart{Type: ChartKPI, Title: "Total", ValueColumn: "missing"},
		[]map[string]any{{"total": 1}})
	assert.ErrorContains(t, err, "missing")
}

func TestRender_Bar(t *testing.T) {
	rows := []map[string]any{
		{"region": "north", "total": int64(1200)},
		{"region": "south", "total": int64(800)},
	}
	fig, err := Render(Chart{Type: ChartBar, Title: "Sales by Region", XAxis: "region", YAxis: "total"}, rows)
	require.NoError(t, err)

	assert.Equal(t, "bar", fig.Data[0]["type"])
	assert.Equal(t, []any{"north", "south"}, fig.Data[0]["x"])
	assert.Equal(t, []float64{1200, 800}, fig.Data[0]["y"])
}

func TestRender_Line(t *testing.T) {
	rows := []map[string]any{
		{"month": "2026-01", "total": 100.5},
		{"month": "2026-02", "total": 200.25},
	}
	fig, err := Render(Chart{Type: ChartLine, Title: "Monthly", XAxis: "month", YAxis: "total"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "scatter", fig.Data[0]["type"])
	assert.Equal(t, "lines", fig.Data[0]["mode"])
}

func TestRender_Pie(t *testing.T) {
	rows := []map[string]any{
		{"category": "a", "count": int64(3)},
		{"category": "b", "count": int64(7)},
	}
	fig, err := Render(Chart{Type: ChartPie, Title: "Split", XAxis: "category", YAxis: "count"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "pie", fig.Data[0]["type"])
	assert.Equal(t, []any{"a", "b"}, fig.Data[0]["labels"])
}

func TestRender_ScatterDropsNonNumericPairs(t *testing.T) {
	rows := []map[string]any{
		{"price": 10.0, "qty": int64(2)},
		{"price": "n/a", "qty": int64(3)},
		{"price": 20.0, "qty": int64(4)},
	}
	fig, err := Render(Chart{Type: ChartScatter, Title: "Price vs Qty", XAxis: "price", YAxis: "qty"}, rows)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20}, fig.Data[0]["x"])
	assert.Equal(t, []float64{2, 4}, fig.Data[0]["y"])
}

func TestRender_ScatterAllInvalid(t *testing.T) {
	rows := []map[string]any{{"price": "x", "qty": "y"}}
	_, err := Render(Chart{Type: ChartScatter, Title: "t", XAxis: "price", YAxis: "qty"}, rows)
	assert.ErrorContains(t, err, "no valid numeric data")
}

func TestRender_Heatmap(t *testing.T) {
	rows := []map[string]any{
		{"day": "mon", "hour": 9, "orders": int64(5)},
		{"day": "tue", "hour": 10, "orders": int64(8)},
	}
	fig, err := Render(Chart{Type: ChartHeatmap, Title: "Orders", XAxis: "day", YAxis: "hour", ZAxis: "orders"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "histogram2d", fig.Data[0]["type"])
	assert.Equal(t, "sum", fig.Data[0]["histfunc"])
}

func TestRender_BoxWithOptionalGrouping(t *testing.T) {
	rows := []map[string]any{
		{"region": "north", "amount": 10.0},
		{"region": "south", "amount": 12.0},
	}
	fig, err := Render(Chart{Type: ChartBox, Title: "Amounts", XAxis: "region", YAxis: "amount"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "box", fig.Data[0]["type"])
	assert.Equal(t, []any{"north", "south"}, fig.Data[0]["x"])

	fig, err = Render(Chart{Type: ChartBox, Title: "Amounts", YAxis: "amount"}, rows)
	require.NoError(t, err)
	assert.NotContains(t, fig.Data[0], "x")
}

func TestRender_Histogram(t *testing.T) {
	rows := []map[string]any{{"amount": 5.0}, {"amount": 6.0}}
	fig, err := Render(Chart{Type: ChartHistogram, Title: "Distribution", XAxis: "amount"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "histogram", fig.Data[0]["type"])
}

func TestRender_UnsupportedType(t *testing.T) {
	_, err := Render(Chart{Type: "treemap", Title: "t"}, []map[string]any{{"a": 1}})
	assert.ErrorContains(t, err, "unsupported chart type")
}

func TestRender_NoData(t *testing.T) {
	_, err := Render(Chart{Type: ChartBar, Title: "t", XAxis: "a", YAxis: "b"}, nil)
	assert.ErrorContains(t, err, "no data")
}
