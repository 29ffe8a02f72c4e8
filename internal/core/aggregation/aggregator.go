package aggregation

import (
	"github.com/shopspring/decimal"
)

// Aggregator defines the reduce semantics of a metric operator.
// To add a new operator: implement this interface and register it in Operators.
type Aggregator interface {
	// Initial returns the aggregate value after the first record in a bucket.
	// count → 1; sum/min/max → the incoming value itself.
	Initial(incoming decimal.Decimal) decimal.Decimal

	// Apply folds an incoming value into an existing aggregate.
	Apply(current, incoming decimal.Decimal) decimal.Decimal
}

// Operators is the registry of all supported metric operators.
var Operators = map[string]Aggregator{
	OpCount: countAgg{},
	OpSum:   sumAgg{},
	OpMin:   minAgg{},
	OpMax:   maxAgg{},
}

// ValidOperator reports whether op is a registered operator.
func ValidOperator(op string) bool {
	_, ok := Operators[op]
	return ok
}

// countAgg increments by 1 per record. The incoming value is ignored.
type countAgg struct{}

func (countAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.NewFromInt(1) }
func (countAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur.Add(decimal.NewFromInt(1)) }

// sumAgg accumulates the sum of incoming values.
type sumAgg struct{}

func (sumAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }

// minAgg tracks the minimum value seen.
type minAgg struct{}

func (minAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (minAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.LessThan(cur) {
		return inc
	}
	return cur
}

// maxAgg tracks the maximum value seen.
type maxAgg struct{}

func (maxAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (maxAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.GreaterThan(cur) {
		return inc
	}
	return cur
}
