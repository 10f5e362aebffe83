package logger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFieldKeyValues(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	cases := []struct {
		field Field
		key   string
		value interface{}
	}{
		{Bool("degraded", true), "degraded", true},
		{Int64("seq", 42), "seq", int64(42)},
		{Duration("elapsed", 1500*time.Millisecond), "elapsed", 1500},
		{Strings("sources", []string{"bn", "cg"}), "sources", "bn, cg"},
		{Decimal("price", decimal.RequireFromString("101.50")), "price", "101.5"},
		{Time("loaded_at", ts), "loaded_at", "2026-03-01T11:00:00Z"},
	}
	for _, tc := range cases {
		k, v := tc.field.GetKeyValue()
		assert.Equal(t, tc.key, k)
		assert.Equal(t, tc.value, v, tc.key)
	}
}

func TestWithCarriesFieldsAndCollector(t *testing.T) {
	l := Nop()
	l.collector = &LogCollector{}
	child := l.With(String("source_id", "bn"))
	assert.Same(t, l.collector, child.collector)
}
