package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBTS_Schema(t *testing.T) {
	spec, err := NewBTS(nil).Schema(Config{})

	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, "bts", spec.Source)
	assert.Equal(t, "bts_border_crossings", spec.TableName)
	assert.Equal(t, []string{"port_code", "border", "crossing_date", "measure"}, spec.UniqueKey)
}

func TestBTS_Plan_OffsetPagination(t *testing.T) {
	planner, err := NewBTS(nil).Plan(Config{})
	require.NoError(t, err)

	first, err := planner.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "https://data.transportation.gov/resource/keg4-3bc2.json", first.URL)
	assert.Equal(t, "1000", first.Query.Get("$limit"))
	assert.Equal(t, "0", first.Query.Get("$offset"))
	assert.NotEmpty(t, first.Query.Get("$order"), "SODA walks need a stable order")

	second, err := planner.Next(&PageInfo{Step: *first, Rows: 1000})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "1000", second.Query.Get("$offset"))

	done, err := planner.Next(&PageInfo{Step: *second, Rows: 412})
	require.NoError(t, err)
	assert.Nil(t, done, "short page terminates the plan")
}

func TestBTS_Plan_DateWindowAndToken(t *testing.T) {
	planner, err := NewBTS(nil).Plan(Config{
		"start":     "2023-01",
		"end":       "2024-12",
		"app_token": "soda-token",
	})
	require.NoError(t, err)

	step, err := planner.Next(nil)
	require.NoError(t, err)
	require.NotNil(t, step)

	assert.Contains(t, step.Query.Get("$where"), "date >= '2023-01-01T00:00:00'")
	assert.Contains(t, step.Query.Get("$where"), "date <= '2024-12-01T00:00:00'")
	assert.Equal(t, "soda-token", step.Headers["X-App-Token"])
}

func TestBTS_Parse(t *testing.T) {
	payload := []byte(`[
		{
			"port_name": "El Paso",
			"state": "Texas",
			"port_code": "2402",
			"border": "US-Mexico Border",
			"date": "2024-03-01T00:00:00.000",
			"measure": "Trucks",
			"value": "61507",
			"latitude": "31.764",
			"longitude": "-106.451"
		},
		{
			"port_code": "",
			"measure": "Trucks",
			"date": "2024-03-01T00:00:00.000"
		}
	]`)

	rows, err := NewBTS(nil).Parse(&Step{Page: 1}, payload)

	require.NoError(t, err)
	require.Len(t, rows, 1, "records without a port code are skipped")

	assert.Equal(t, Text("2402"), rows[0]["port_code"])
	assert.Equal(t, Text("US-Mexico Border"), rows[0]["border"])
	assert.Equal(t, Text("Trucks"), rows[0]["measure"])
	assert.Equal(t, Int(61507), rows[0]["crossing_count"])
	assert.Equal(t, Float(31.764), rows[0]["latitude"])
	assert.Equal(t, KindTime, rows[0]["crossing_date"].Kind)
}

func TestBTS_Parse_UnparseablePayload(t *testing.T) {
	_, err := NewBTS(nil).Parse(&Step{Page: 1}, []byte(`{"error": true}`))

	assert.ErrorIs(t, err, ErrUnparseablePayload)
}

func TestSocrataDateWindow(t *testing.T) {
	assert.Empty(t, socrataDateWindow("date", "", ""))
	assert.Equal(t, "date >= '2023-01-01T00:00:00'", socrataDateWindow("date", "2023-01", ""))
	assert.Equal(t, "date <= '2023-06-01T00:00:00'", socrataDateWindow("date", "", "2023-06"))
}
