package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() *Spec {
	return &Spec{
		Source:    "eia",
		DatasetID: "petroleum/pri",
		TableName: "eia_petroleum_pri",
		Columns: []Column{
			{Name: "period", Type: TypeText},
			{Name: "series_id", Type: TypeText},
			{Name: "value", Type: TypeDouble, Nullable: true},
		},
		UniqueKey: []string{"period", "series_id"},
		Indexes:   [][]string{{"period"}},
	}
}

func TestSpec_Validate_OK(t *testing.T) {
	require.NoError(t, validSpec().Validate())
}

func TestSpec_Validate_EmptyTableName(t *testing.T) {
	spec := validSpec()
	spec.TableName = "  "

	assert.ErrorIs(t, spec.Validate(), ErrTableNameEmpty)
}

func TestSpec_Validate_NoColumns(t *testing.T) {
	spec := validSpec()
	spec.Columns = nil

	assert.ErrorIs(t, spec.Validate(), ErrNoColumns)
}

func TestSpec_Validate_NoUniqueKey(t *testing.T) {
	spec := validSpec()
	spec.UniqueKey = nil

	assert.ErrorIs(t, spec.Validate(), ErrNoUniqueKey)
}

func TestSpec_Validate_UnknownKeyColumn(t *testing.T) {
	spec := validSpec()
	spec.UniqueKey = []string{"period", "nonexistent"}

	assert.ErrorIs(t, spec.Validate(), ErrUnknownKeyColumn)
}

func TestSpec_Validate_UnknownIndexColumn(t *testing.T) {
	spec := validSpec()
	spec.Indexes = [][]string{{"nonexistent"}}

	assert.ErrorIs(t, spec.Validate(), ErrUnknownKeyColumn)
}

func TestSpec_ColumnNames(t *testing.T) {
	assert.Equal(t, []string{"period", "series_id", "value"}, validSpec().ColumnNames())
}

func TestSpec_HasColumn(t *testing.T) {
	spec := validSpec()

	assert.True(t, spec.HasColumn("period"))
	assert.False(t, spec.HasColumn("missing"))
}

func TestSpec_UniqueConstraintName(t *testing.T) {
	assert.Equal(t, "uq_eia_petroleum_pri", validSpec().UniqueConstraintName())
}
