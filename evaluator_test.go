package tablemap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSandbox records every submitted formula and answers from a fixed
// table, standing in for the spreadsheet-backed scratch cell
type fakeSandbox struct {
	results map[string]string
	calls   []string
	err     error
}

func (f *fakeSandbox) Evaluate(formula string) (string, error) {
	f.calls = append(f.calls, formula)
	if f.err != nil {
		return "", f.err
	}
	return f.results[formula], nil
}

func rowContext(pairs ...string) *EvaluationContext {
	ctx := NewEvaluationContext(nil, nil)
	for i := 0; i+1 < len(pairs); i += 2 {
		ctx.SourceRow[pairs[i]] = pairs[i+1]
	}
	return ctx
}

func mustParseFilter(t *testing.T, headers []string, instruction string) *FilterRule {
	t.Helper()
	inst, err := NewParser(headers).ParseInstruction("_filter:t", instruction)
	require.NoError(t, err)
	rule, ok := inst.(*FilterRule)
	require.True(t, ok)
	return rule
}

func TestEvaluateFilterShortCircuit(t *testing.T) {
	rule := mustParseFilter(t, []string{"Age"}, "eval:src[Age] >= 18 || src[Age] < 0")
	sandbox := &fakeSandbox{}

	pass, err := EvaluateFilter(rule, rowContext("Age", "25"), sandbox)
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Empty(t, sandbox.calls, "no sandbox call expected for plain comparisons")

	pass, err = EvaluateFilter(rule, rowContext("Age", "17"), sandbox)
	require.NoError(t, err)
	assert.False(t, pass)

	pass, err = EvaluateFilter(rule, rowContext("Age", "-3"), sandbox)
	require.NoError(t, err)
	assert.True(t, pass, "second OR segment should catch negatives")
}

func TestEvaluateFilterNumericComparison(t *testing.T) {
	rule := mustParseFilter(t, []string{"Score"}, "eval:src[Score] > 4,5")

	cases := []struct {
		score string
		want  bool
	}{
		{"4.6", true},
		{"4,6", true}, // comma decimal normalized before comparison
		{"4.5", false},
		{"4.4", false},
		{"abc", false}, // NaN comparison is never true
		{"", false},
	}

	for _, tc := range cases {
		pass, err := EvaluateFilter(rule, rowContext("Score", tc.score), &fakeSandbox{})
		require.NoError(t, err)
		assert.Equal(t, tc.want, pass, "Score=%q", tc.score)
	}
}

func TestEvaluateFilterLooseEquality(t *testing.T) {
	rule := mustParseFilter(t, []string{"Age"}, "eval:src[Age] == 25")

	pass, err := EvaluateFilter(rule, rowContext("Age", "25"), &fakeSandbox{})
	require.NoError(t, err)
	assert.True(t, pass)

	// values are compared as given, without numeric normalization
	pass, err = EvaluateFilter(rule, rowContext("Age", "25.0"), &fakeSandbox{})
	require.NoError(t, err)
	assert.False(t, pass)

	neq := mustParseFilter(t, []string{"City"}, `eval:src[City] != "Cali"`)
	pass, err = EvaluateFilter(neq, rowContext("City", "Bogota"), &fakeSandbox{})
	require.NoError(t, err)
	assert.True(t, pass)
}

func TestEvaluateFilterNonEvalPasses(t *testing.T) {
	rule := &FilterRule{Header: "_filter:Note", IsEval: false}
	pass, err := EvaluateFilter(rule, rowContext(), &fakeSandbox{})
	require.NoError(t, err)
	assert.True(t, pass)
}

func TestEvaluateFilterWholeFormula(t *testing.T) {
	rule := mustParseFilter(t, []string{"Qty"}, "eval:formula:=ISNUMBER(src[Qty])")

	sandbox := &fakeSandbox{results: map[string]string{"=ISNUMBER(12)": "TRUE"}}
	pass, err := EvaluateFilter(rule, rowContext("Qty", "12"), sandbox)
	require.NoError(t, err)
	assert.True(t, pass)
	require.Len(t, sandbox.calls, 1)
	assert.Equal(t, "=ISNUMBER(12)", sandbox.calls[0])

	// verdicts are matched case-insensitively
	sandbox = &fakeSandbox{results: map[string]string{`=ISNUMBER("abc")`: "true"}}
	pass, err = EvaluateFilter(rule, rowContext("Qty", "abc"), sandbox)
	require.NoError(t, err)
	assert.True(t, pass)

	sandbox = &fakeSandbox{results: map[string]string{`=ISNUMBER("")`: "FALSE"}}
	pass, err = EvaluateFilter(rule, rowContext("Qty", ""), sandbox)
	require.NoError(t, err)
	assert.False(t, pass)
}

func TestEvaluateFilterSandboxError(t *testing.T) {
	rule := mustParseFilter(t, []string{"Qty"}, "eval:formula:=ISNUMBER(src[Qty])")
	sandbox := &fakeSandbox{err: errors.New("recalculation failed")}
	_, err := EvaluateFilter(rule, rowContext("Qty", "1"), sandbox)
	require.Error(t, err)
}

func TestResolveTemplate(t *testing.T) {
	ctx := rowContext("Name", "Ana")
	tokens := NewLexer("Hello src[Name]").Tokenize()
	assert.Equal(t, "Hello Ana", ResolveTemplate(tokens, ctx))

	ctx.OutputSoFar["Short"] = "A."
	tokens = NewLexer("src[Name] (self[Short])").Tokenize()
	assert.Equal(t, "Ana (A.)", ResolveTemplate(tokens, ctx))
}

func TestEvaluateColumnDirect(t *testing.T) {
	ctx := rowContext("Name", "Ana")

	output, observed, err := EvaluateColumn(&Direct{Header: "N", Column: "Name"}, ctx, &fakeSandbox{})
	require.NoError(t, err)
	assert.Equal(t, "Ana", output)
	assert.Equal(t, "Ana", observed)

	// a direct reference to an absent column degrades to empty
	output, _, err = EvaluateColumn(&Direct{Header: "X", Column: "Missing"}, ctx, &fakeSandbox{})
	require.NoError(t, err)
	assert.Equal(t, "", output)
}

func TestEvaluateColumnFormulaSelfReference(t *testing.T) {
	ctx := rowContext()
	ctx.OutputSoFar["A"] = "5"

	sandbox := &fakeSandbox{results: map[string]string{"=5+1": "6"}}
	rule := &FormulaRule{Header: "B", Template: "=self[A]+1"}

	output, observed, err := EvaluateColumn(rule, ctx, sandbox)
	require.NoError(t, err)
	assert.Equal(t, "=5+1", output, "output row carries the generated formula text")
	assert.Equal(t, "6", observed, "self references observe the computed value")
	require.Len(t, sandbox.calls, 1)
	assert.Equal(t, "=5+1", sandbox.calls[0])
}

func TestEvaluateColumnFormulaShapedExpression(t *testing.T) {
	ctx := rowContext("Name", "Ana")
	sandbox := &fakeSandbox{results: map[string]string{`=UPPER("Ana")`: "ANA"}}

	inst, err := NewParser([]string{"Name"}).ParseInstruction("Caps", "=UPPER(src[Name])")
	require.NoError(t, err)

	output, observed, err := EvaluateColumn(inst, ctx, sandbox)
	require.NoError(t, err)
	assert.Equal(t, `=UPPER("Ana")`, output)
	assert.Equal(t, "ANA", observed)
}

func TestEvaluateColumnSelfCellReference(t *testing.T) {
	// when an output cell address is registered, formula self references
	// resolve to the address so the generated formula stays live
	ctx := rowContext()
	ctx.OutputSoFar["A"] = "5"
	ctx.OutputCellRefs["A"] = "C2"

	sandbox := &fakeSandbox{results: map[string]string{"=C2+1": "6"}}
	rule := &FormulaRule{Header: "B", Template: "=self[A]+1"}

	output, _, err := EvaluateColumn(rule, ctx, sandbox)
	require.NoError(t, err)
	assert.Equal(t, "=C2+1", output)
}

func TestFormatFormulaValue(t *testing.T) {
	cases := []struct {
		value string
		want  string
	}{
		{"", `""`},
		{"12", "12"},
		{"4.5", "4.5"},
		{"4,5", "4.5"},   // comma decimal normalized for formula syntax
		{"10%", "10%"},   // numeric after stripping %, emitted unquoted with %
		{"abc%", `"abc%"`},
		{"Ana", `"Ana"`},
		{`say "hi"`, `"say ""hi"""`},
		{"31/12/2020", "DATE(2020,12,31)"},
		{"05-07-1999", "DATE(1999,07,05)"},
		{"31/12-2020", `"31/12-2020"`}, // mixed separators are not a date
		{"3a/12/2020", `"3a/12/2020"`},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, formatFormulaValue(tc.value), "value %q", tc.value)
	}
}

func TestParseLeadingFloat(t *testing.T) {
	cases := []struct {
		input string
		want  float64
		ok    bool
	}{
		{"25", 25, true},
		{"4,6", 4.6, true},
		{"-3", -3, true},
		{"12px", 12, true}, // leading numeric prefix wins
		{"4.5.6", 4.5, true},
		{"abc", 0, false},
		{"", 0, false},
		{"-", 0, false},
	}

	for _, tc := range cases {
		got, ok := parseLeadingFloat(tc.input)
		assert.Equal(t, tc.ok, ok, "input %q", tc.input)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %q", tc.input)
		}
	}
}
