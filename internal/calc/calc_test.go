package calc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridstream/internal/testutil"
	"github.com/leapstack-labs/gridstream/pkg/core"
)

func TestApplyToEvaluatesColumns(t *testing.T) {
	cs, err := CompileColumns([]core.CalculatedColumn{
		{ColID: "spread", Expression: "ask - bid"},
		{ColID: "mid", Expression: "(ask + bid) / 2"},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	require.Equal(t, 2, cs.Len())

	rec := core.RowRecord{"bid": 10, "ask": 12}
	cs.ApplyTo(rec)

	assert.Equal(t, 2, rec["spread"])
	assert.Equal(t, 11, rec["mid"])
}

func TestCompileColumnsSkipsMalformed(t *testing.T) {
	cs, err := CompileColumns([]core.CalculatedColumn{
		{ColID: "bad", Expression: "ask -"},
		{ColID: "good", Expression: "ask * 2"},
	}, testutil.NewTestLogger(t))

	// The malformed column is reported but does not block the rest.
	require.Error(t, err)
	assert.Equal(t, 1, cs.Len())

	rec := core.RowRecord{"ask": 5}
	cs.ApplyTo(rec)
	assert.Equal(t, 10, rec["good"])
	_, present := rec["bad"]
	assert.False(t, present)
}

func TestApplyToEvaluationErrorLeavesNilCell(t *testing.T) {
	cs, err := CompileColumns([]core.CalculatedColumn{
		{ColID: "broken", Expression: `value + "x"`},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)

	rec := core.RowRecord{"id": "r1", "value": 3}
	cs.ApplyTo(rec)

	v, present := rec["broken"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestNilColumnSetIsInert(t *testing.T) {
	var cs *ColumnSet
	assert.Equal(t, 0, cs.Len())
	rec := core.RowRecord{"id": "r1"}
	cs.ApplyTo(rec)
	assert.Len(t, rec, 1)
}

func TestStylesForMatchesRules(t *testing.T) {
	rs, err := CompileRules([]core.ConditionalFormattingRule{
		{ID: "neg", ColID: "pnl", Expression: "pnl < 0", Style: "error"},
		{ID: "big", ColID: "pnl", Expression: "pnl < -100", Style: "bold"},
		{ID: "stale", Expression: "age > 60", Style: "muted"},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	require.Equal(t, 3, rs.Len())

	styles := rs.StylesFor(core.RowRecord{"pnl": -200, "age": 90})
	require.NotNil(t, styles)
	assert.Equal(t, []string{"error", "bold"}, styles["pnl"])
	// Row-scoped rules land under the empty key.
	assert.Equal(t, []string{"muted"}, styles[""])

	assert.Nil(t, rs.StylesFor(core.RowRecord{"pnl": 5, "age": 10}))
}

func TestCompileRulesSkipsMalformed(t *testing.T) {
	rs, err := CompileRules([]core.ConditionalFormattingRule{
		{ID: "bad", Expression: "pnl <", Style: "error"},
		{ID: "good", Expression: "pnl > 0", Style: "ok"},
	}, testutil.NewTestLogger(t))

	require.Error(t, err)
	assert.Equal(t, 1, rs.Len())

	styles := rs.StylesFor(core.RowRecord{"pnl": 1})
	assert.Equal(t, []string{"ok"}, styles[""])
}

func TestNilRuleSetIsInert(t *testing.T) {
	var rs *RuleSet
	assert.Equal(t, 0, rs.Len())
	assert.Nil(t, rs.StylesFor(core.RowRecord{"pnl": 1}))
}
