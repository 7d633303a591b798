package adapter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eiaConfig() Config {
	return Config{
		"api_key":     "test-key",
		"category":    "petroleum",
		"subcategory": "pri",
	}
}

func TestEIA_Schema(t *testing.T) {
	spec, err := NewEIA(nil).Schema(eiaConfig())

	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, "eia", spec.Source)
	assert.Equal(t, "petroleum/pri", spec.DatasetID)
	assert.Equal(t, "eia_petroleum_pri", spec.TableName)
	assert.Equal(t, []string{"period", "series_id", "area_code", "product"}, spec.UniqueKey)
	assert.True(t, spec.HasColumn("value"))
}

func TestEIA_Schema_Deterministic(t *testing.T) {
	a := NewEIA(nil)

	first, err := a.Schema(eiaConfig())
	require.NoError(t, err)

	second, err := a.Schema(eiaConfig())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEIA_Schema_MissingCategory(t *testing.T) {
	_, err := NewEIA(nil).Schema(Config{"subcategory": "pri"})

	assert.ErrorIs(t, err, ErrMissingConfig)
}

func TestEIA_Plan_MissingAPIKey(t *testing.T) {
	_, err := NewEIA(nil).Plan(Config{"category": "petroleum", "subcategory": "pri"})

	assert.ErrorIs(t, err, ErrMissingConfig)
}

// TestEIA_Plan_TwoPages walks a 5037-row dataset: a full first page of 5000
// and a short second page of 37, after which the plan is exhausted.
func TestEIA_Plan_TwoPages(t *testing.T) {
	planner, err := NewEIA(nil).Plan(eiaConfig())
	require.NoError(t, err)

	total := 5037

	first, err := planner.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "https://api.eia.gov/v2/petroleum/pri/data/", first.URL)
	assert.Equal(t, "0", first.Query.Get("offset"))
	assert.Equal(t, "5000", first.Query.Get("length"))
	assert.Equal(t, "test-key", first.Query.Get("api_key"))
	assert.Equal(t, 1, first.Page)

	second, err := planner.Next(&PageInfo{Step: *first, Rows: 5000, Total: &total})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "5000", second.Query.Get("offset"))
	assert.Equal(t, 2, second.Page)

	done, err := planner.Next(&PageInfo{Step: *second, Rows: 37, Total: &total})
	require.NoError(t, err)
	assert.Nil(t, done, "short page terminates the plan")
}

func TestEIA_Plan_StopsAtReportedTotal(t *testing.T) {
	planner, err := NewEIA(nil).Plan(eiaConfig())
	require.NoError(t, err)

	total := 5000

	first, err := planner.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	// A full page that exactly meets the total must not trigger a third fetch.
	done, err := planner.Next(&PageInfo{Step: *first, Rows: 5000, Total: &total})
	require.NoError(t, err)
	assert.Nil(t, done)
}

// TestEIA_Plan_OffsetAdvancesByRecordsReceived: when a page carried 5000
// records but only 4998 parsed, the next offset is still 5000. Advancing by
// parsed rows would re-window every page after a skip.
func TestEIA_Plan_OffsetAdvancesByRecordsReceived(t *testing.T) {
	planner, err := NewEIA(nil).Plan(eiaConfig())
	require.NoError(t, err)

	total := 12000

	first, err := planner.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := planner.Next(&PageInfo{Step: *first, Rows: 4998, Records: 5000, Total: &total})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "5000", second.Query.Get("offset"))

	third, err := planner.Next(&PageInfo{Step: *second, Rows: 5000, Records: 5000, Total: &total})
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "10000", third.Query.Get("offset"))
}

func TestEIA_RecordCount_CountsSkippedRecords(t *testing.T) {
	payload := []byte(`{
		"response": {
			"total": "3",
			"data": [
				{"period": "2024-06", "series": "S1", "value": 1},
				{"period": "", "series": "S2", "value": 2},
				{"series": "S3", "value": 3}
			]
		}
	}`)

	a := NewEIA(nil)

	assert.Equal(t, 3, a.RecordCount(&Step{Page: 1}, payload))

	rows, err := a.Parse(&Step{Page: 1}, payload)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "the raw count exceeds the parsed count when records are skipped")
}

func TestEIA_RecordCount_BadPayload(t *testing.T) {
	assert.Zero(t, NewEIA(nil).RecordCount(&Step{}, []byte("nope")))
}

func TestEIA_Plan_OptionalWindow(t *testing.T) {
	cfg := eiaConfig()
	cfg["frequency"] = "monthly"
	cfg["start"] = "2020-01"
	cfg["end"] = "2024-12"

	planner, err := NewEIA(nil).Plan(cfg)
	require.NoError(t, err)

	step, err := planner.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, step)

	assert.Equal(t, "monthly", step.Query.Get("frequency"))
	assert.Equal(t, "2020-01", step.Query.Get("start"))
	assert.Equal(t, "2024-12", step.Query.Get("end"))
}

func TestEIA_Parse(t *testing.T) {
	payload := []byte(`{
		"response": {
			"total": "2",
			"data": [
				{
					"period": "2024-06",
					"series": "PET.EMM_EPM0_PTE_NUS_DPG.M",
					"duoarea": "NUS",
					"product": "EPM0",
					"product-name": "Total Gasoline",
					"units": "$/GAL",
					"value": 3.521
				},
				{
					"period": "2024-05",
					"series": "PET.EMM_EPM0_PTE_NUS_DPG.M",
					"duoarea": "NUS",
					"product": "EPM0",
					"product-name": "Total Gasoline",
					"units": "$/GAL",
					"value": "3.602"
				}
			]
		}
	}`)

	rows, err := NewEIA(nil).Parse(&Step{Page: 1}, payload)

	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Text("2024-06"), rows[0]["period"])
	assert.Equal(t, Text("PET.EMM_EPM0_PTE_NUS_DPG.M"), rows[0]["series_id"])
	assert.Equal(t, Text("NUS"), rows[0]["area_code"])
	assert.Equal(t, Float(3.521), rows[0]["value"])

	// Numeric strings coerce the same as JSON numbers.
	assert.Equal(t, Float(3.602), rows[1]["value"])
}

func TestEIA_Parse_SkipsRecordsWithoutKey(t *testing.T) {
	payload := []byte(`{
		"response": {
			"total": "2",
			"data": [
				{"period": "2024-06", "series": "S1", "duoarea": "NUS", "product": "P", "value": 1},
				{"period": "", "series": "S2", "value": 2},
				{"series": "S3", "value": 3}
			]
		}
	}`)

	rows, err := NewEIA(nil).Parse(&Step{Page: 1}, payload)

	require.NoError(t, err)
	assert.Len(t, rows, 1, "records missing period or series are skipped, not fatal")
}

func TestEIA_Parse_MissingKeyColumnsBecomeEmptyText(t *testing.T) {
	payload := []byte(`{
		"response": {
			"total": "1",
			"data": [{"period": "2024", "series": "S1", "value": 1}]
		}
	}`)

	rows, err := NewEIA(nil).Parse(&Step{Page: 1}, payload)

	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Natural-key columns are empty strings, not NULL, so upserts stay keyed.
	assert.Equal(t, Text(""), rows[0]["area_code"])
	assert.Equal(t, Text(""), rows[0]["product"])
}

func TestEIA_Parse_UnparseablePayload(t *testing.T) {
	_, err := NewEIA(nil).Parse(&Step{Page: 1}, []byte("<html>error</html>"))

	assert.ErrorIs(t, err, ErrUnparseablePayload)
}

func TestEIA_PageMeta(t *testing.T) {
	a := NewEIA(nil)

	payload := []byte(fmt.Sprintf(`{"response": {"total": "%d", "data": []}}`, 5037))

	hasMore, total, cursor := a.PageMeta(&Step{}, payload)

	assert.Nil(t, hasMore)
	require.NotNil(t, total)
	assert.Equal(t, 5037, *total)
	assert.Empty(t, cursor)
}

func TestEIA_PageMeta_BadPayload(t *testing.T) {
	hasMore, total, cursor := NewEIA(nil).PageMeta(&Step{}, []byte("nope"))

	assert.Nil(t, hasMore)
	assert.Nil(t, total)
	assert.Empty(t, cursor)
}
