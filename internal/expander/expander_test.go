package expander

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/benchgrid/internal/value"
)

func testBindings() Bindings {
	return Bindings{
		"n_nodes":            value.Int(4),
		"processes_per_node": value.Int(2),
		"n_ranks":            value.Str("{n_nodes}*{processes_per_node}"),
		"app_name":           value.Str("gromacs"),
		"workload":           value.Str("water_bare"),
		"exp_name":           value.Str("{app_name}_{workload}"),
	}
}

func TestExpand_PlainSubstitution(t *testing.T) {
	e := New()

	out, err := e.Expand("run {app_name} on {n_nodes} nodes", testBindings())
	require.NoError(t, err)
	assert.Equal(t, "run gromacs on 4 nodes", out)
}

func TestExpand_RecursiveDefinition(t *testing.T) {
	e := New()

	t.Run("variable referencing variables", func(t *testing.T) {
		out, err := e.Expand("{exp_name}", testBindings())
		require.NoError(t, err)
		assert.Equal(t, "gromacs_water_bare", out)
	})

	t.Run("arithmetic over resolved values", func(t *testing.T) {
		out, err := e.Expand("{n_ranks}", testBindings())
		require.NoError(t, err)
		assert.Equal(t, "8", out)
	})

	t.Run("inline formula", func(t *testing.T) {
		out, err := e.Expand("{n_nodes}*{processes_per_node}", testBindings())
		require.NoError(t, err)
		assert.Equal(t, "8", out)
	})
}

func TestExpand_IsIdempotentOnResolvedText(t *testing.T) {
	e := New()
	b := testBindings()

	once, err := e.Expand("{n_ranks} ranks for {exp_name}", b)
	require.NoError(t, err)
	twice, err := e.Expand(once, b)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestExpand_Passthrough(t *testing.T) {
	t.Run("unbound names survive verbatim", func(t *testing.T) {
		e := New()
		out, err := e.Expand("cd {experiment_run_dir}", Bindings{})
		require.NoError(t, err)
		assert.Equal(t, "cd {experiment_run_dir}", out)
	})

	t.Run("format spec survives passthrough", func(t *testing.T) {
		e := New()
		out, err := e.Expand("{missing:04d}", Bindings{})
		require.NoError(t, err)
		assert.Equal(t, "{missing:04d}", out)
	})

	t.Run("disabled passthrough is an error", func(t *testing.T) {
		e := &Expander{DisablePassthrough: true}
		_, err := e.Expand("{missing}", Bindings{})
		require.Error(t, err)
		var perr *PassthroughError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "missing", perr.Name)
	})
}

func TestExpand_CycleDetection(t *testing.T) {
	e := New()
	b := Bindings{
		"a": value.Str("{b}"),
		"b": value.Str("{a}"),
	}

	_, err := e.Expand("{a}", b)
	require.Error(t, err)
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"a", "b", "a"}, cerr.Chain)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestExpand_SelfCycle(t *testing.T) {
	e := New()
	b := Bindings{"x": value.Str("prefix {x}")}

	_, err := e.Expand("{x}", b)
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"x", "x"}, cerr.Chain)
}

func TestExpand_FormatSpecs(t *testing.T) {
	e := New()
	b := Bindings{
		"n":    value.Int(4),
		"frac": value.Float(3.14159),
		"name": value.Str("water"),
	}

	cases := []struct {
		template string
		want     string
	}{
		{"{n:03d}", "004"},
		{"{n:5d}", "    4"},
		{"{frac:.2f}", "3.14"},
		{"{name:>8s}", "   water"},
		{"{name:<8s}|", "water   |"},
		{"{n:d}", "4"},
	}
	for _, tc := range cases {
		out, err := e.Expand(tc.template, b)
		require.NoError(t, err, tc.template)
		assert.Equal(t, tc.want, out, tc.template)
	}
}

func TestExpand_EscapedBraces(t *testing.T) {
	e := New()
	b := Bindings{"n": value.Int(2)}

	t.Run("single escape reveals literal braces", func(t *testing.T) {
		out, err := e.Expand(`\{n\}`, b)
		require.NoError(t, err)
		assert.Equal(t, "{n}", out)
	})

	t.Run("escaped braces do not substitute", func(t *testing.T) {
		out, err := e.Expand(`\{n\} vs {n}`, b)
		require.NoError(t, err)
		assert.Equal(t, "{n} vs 2", out)
	})

	t.Run("extra passes reveal deeper escape levels", func(t *testing.T) {
		out, err := e.Expand(`\\{n\\}`, b, WithPasses(1))
		require.NoError(t, err)
		assert.Equal(t, `\{n\}`, out)

		out, err = e.Expand(`\\{n\\}`, b, WithPasses(2))
		require.NoError(t, err)
		assert.Equal(t, "{n}", out)
	})

	t.Run("revealed token substitutes on a further pass", func(t *testing.T) {
		out, err := e.Expand(`\{n\}`, b, WithPasses(2))
		require.NoError(t, err)
		assert.Equal(t, "2", out)
	})
}

func TestExpand_WithNoExpand(t *testing.T) {
	e := New()
	b := testBindings()

	out, err := e.Expand("{app_name} {n_nodes}", b, WithNoExpand("n_nodes"))
	require.NoError(t, err)
	assert.Equal(t, "gromacs {n_nodes}", out)
}

func TestExpand_WithExtraVars(t *testing.T) {
	e := New()
	extras := Bindings{"experiment_run_dir": value.Str("/tmp/exp")}

	out, err := e.Expand("cd {experiment_run_dir}", Bindings{}, WithExtraVars(extras))
	require.NoError(t, err)
	assert.Equal(t, "cd /tmp/exp", out)
}

func TestExpandVarName(t *testing.T) {
	e := New()
	b := testBindings()

	t.Run("bound", func(t *testing.T) {
		out, err := e.ExpandVarName("n_ranks", b)
		require.NoError(t, err)
		assert.Equal(t, "8", out)
	})

	t.Run("unbound passthrough", func(t *testing.T) {
		out, err := e.ExpandVarName("nope", b)
		require.NoError(t, err)
		assert.Equal(t, "{nope}", out)
	})
}

func TestEvaluatePredicate(t *testing.T) {
	e := New()
	b := Bindings{
		"n_nodes":  value.Int(1),
		"platform": value.Str("x86"),
	}

	cases := []struct {
		formula string
		want    bool
	}{
		{"{n_nodes} == 1", true},
		{"{n_nodes} > 1", false},
		{`"{platform}" == "x86"`, true},
		{`"{platform}" == "arm" or {n_nodes} == 1`, true},
		{`not ({n_nodes} == 1)`, false},
		{"{n_nodes} >= 1 and {n_nodes} <= 4", true},
	}
	for _, tc := range cases {
		got, err := e.EvaluatePredicate(tc.formula, b)
		require.NoError(t, err, tc.formula)
		assert.Equal(t, tc.want, got, tc.formula)
	}
}

func TestEvaluatePredicate_NonFormulaIsError(t *testing.T) {
	e := New()

	_, err := e.EvaluatePredicate("definitely not a formula!!", Bindings{})
	require.Error(t, err)
	var eerr *EvalError
	assert.ErrorAs(t, err, &eerr)
}

func TestExpand_Functions(t *testing.T) {
	e := New()
	b := Bindings{
		"n":     value.Int(7),
		"cap":   value.Int(4),
		"title": value.Str("Water Bare (NVE)"),
	}

	cases := []struct {
		template string
		want     string
	}{
		{"min({n}, {cap})", "4"},
		{"max({n}, {cap})", "7"},
		{"ceil({n}/2)", "4"},
		{"floor({n}/2)", "3"},
		{"int(3.9)", "3"},
		{"float(2)", "2.0"},
		{"str({n})", "7"},
		{"range(3)", "[0, 1, 2]"},
		{"range(1, 7, 2)", "[1, 3, 5]"},
		{`simplify_str("{title}")`, "water-bare-nve"},
	}
	for _, tc := range cases {
		out, err := e.Expand(tc.template, b)
		require.NoError(t, err, tc.template)
		assert.Equal(t, tc.want, out, tc.template)
	}
}

func TestExpand_ArithmeticSemantics(t *testing.T) {
	e := New()
	b := Bindings{}

	cases := []struct {
		template string
		want     string
	}{
		{"7/2", "3.5"},
		{"8/2", "4.0"},
		{"7//2", "3"},
		{"-7//2", "-4"},
		{"7%3", "1"},
		{"-7%3", "2"},
		{"2**10", "1024"},
		{"-2**2", "-4"},
		{"2**-1", "0.5"},
		{`"a" + "b"`, "ab"},
	}
	for _, tc := range cases {
		out, err := e.Expand(tc.template, b)
		require.NoError(t, err, tc.template)
		assert.Equal(t, tc.want, out, tc.template)
	}
}

func TestExpand_NonFormulaTextKeptVerbatim(t *testing.T) {
	e := New()
	b := Bindings{"cmd": value.Str("mpirun")}

	out, err := e.Expand("{cmd} -n 4 ./app --flag", b)
	require.NoError(t, err)
	assert.Equal(t, "mpirun -n 4 ./app --flag", out)
}

func TestExpand_DivisionByZeroIsEvalError(t *testing.T) {
	e := New()

	_, err := e.Expand("1/0", Bindings{})
	require.Error(t, err)
	var eerr *EvalError
	require.ErrorAs(t, err, &eerr)
	assert.Contains(t, eerr.Reason, "division by zero")
}
