package types

// Parameter is one row of a <prefix>_params table, keyed by its ID.
// Values holds the remaining columns (e.g. "ADC_µV", "TR_mV") as returned by SQLite.
type Parameter struct {
	ID     int64
	Values map[string]any
}

// Float returns the named column as float64. The second result is false if the
// column is missing, NULL or not numeric.
func (p Parameter) Float(name string) (float64, bool) {
	switch v := p.Values[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// FieldInfo holds the metadata row of one data-table column, e.g. {"Unit": "[µs]"}.
type FieldInfo map[string]any
