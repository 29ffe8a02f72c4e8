package aggregation

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"
)

// ExtractDecimal pulls a numeric value from a loosely typed value map by name.
// Returns decimal.Zero if the field is missing, empty, or not a recognized numeric type.
// JSON numbers unmarshal to float64; NewFromFloat keeps their shortest exact form.
func ExtractDecimal(data map[string]interface{}, field string) decimal.Decimal {
	if field == "" {
		return decimal.Zero
	}
	d, ok := toDecimal(data[field])
	if !ok {
		return decimal.Zero
	}
	return d
}

// ExtractValues converts every numeric entry of data into a decimal.
// Names whose values are not numeric are returned, sorted, in rejected.
func ExtractValues(data map[string]interface{}) (values map[string]decimal.Decimal, rejected []string) {
	values = make(map[string]decimal.Decimal, len(data))
	for name, raw := range data {
		d, ok := toDecimal(raw)
		if !ok {
			rejected = append(rejected, name)
			continue
		}
		values[name] = d
	}
	sort.Strings(rejected)
	return values, rejected
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat32(val), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(val)
		return d, err == nil
	case decimal.Decimal:
		return val, true
	}
	return decimal.Zero, false
}
