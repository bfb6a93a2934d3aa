package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"trilox/internal/compiler"
	"trilox/internal/value"
)

// run compiles and interprets src on a fresh VM with a "disp" native bound,
// returning the first argument of every disp call, in call order.
func run(t *testing.T, src string) ([]value.Value, error) {
	t.Helper()
	fn, err := compiler.Compile(src, "<test>")
	require.NoError(t, err)

	var captured []value.Value
	v := New()
	v.DefineNative("disp", func(args []value.Value) (value.Value, error) {
		if len(args) > 0 {
			captured = append(captured, args[0])
		}
		return value.Nil(), nil
	})

	runErr := v.Interpret(fn)
	return captured, runErr
}

func runOne(t *testing.T, src string) value.Value {
	t.Helper()
	got, err := run(t, src)
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0]
}

func TestArithmetic(t *testing.T) {
	v := runOne(t, "var x = 1 + 2\ndisp(x)")
	require.True(t, v.IsNumber())
	require.Equal(t, 3.0, v.Num)
}

func TestArithmeticPrecedenceAndGrouping(t *testing.T) {
	v := runOne(t, `disp((5 + 10 * 2 + 15 / 3) * 2 + -10)`)
	require.Equal(t, 50.0, v.Num)
}

func TestExponentialIsRightAssociative(t *testing.T) {
	// 2 ^ (3 ^ 2) = 2 ^ 9 = 512, not (2 ^ 3) ^ 2 = 64.
	v := runOne(t, `disp(2 ^ 3 ^ 2)`)
	require.Equal(t, 512.0, v.Num)
}

func TestAddConcatenatesStrings(t *testing.T) {
	v := runOne(t, `disp("foo" + "bar")`)
	require.True(t, v.IsString())
	require.Equal(t, "foobar", v.StringValue())
}

func TestAddRejectsMixedOperands(t *testing.T) {
	_, err := run(t, `disp("foo" + 1)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Operands must be two numbers or two strings.")
}

func TestModuloAndExponential(t *testing.T) {
	v := runOne(t, `disp(7 % 3)`)
	require.Equal(t, 1.0, v.Num)
	v = runOne(t, `disp(2 ^ 10)`)
	require.Equal(t, 1024.0, v.Num)
}

func TestKleeneNot(t *testing.T) {
	cases := []struct {
		src  string
		want value.Logic
	}{
		{`disp(not true)`, value.False},
		{`disp(not false)`, value.True},
		{`disp(not unknown)`, value.Unknown},
	}
	for _, c := range cases {
		got := runOne(t, c.src)
		require.True(t, got.IsLogic())
		require.Equal(t, c.want, got.Logic)
	}
}

func TestKleeneNotIsInvolution(t *testing.T) {
	for _, lit := range []string{"true", "false", "unknown"} {
		got := runOne(t, `disp(not (not `+lit+`))`)
		require.True(t, got.IsLogic())
		require.Equal(t, lit, got.Logic.String())
	}
}

func TestKleeneAndTruthTable(t *testing.T) {
	rows := []struct {
		a, b string
		want value.Logic
	}{
		{"true", "true", value.True},
		{"true", "false", value.False},
		{"true", "unknown", value.Unknown},
		{"false", "false", value.False},
		{"false", "unknown", value.False},
		{"unknown", "unknown", value.Unknown},
	}
	for _, r := range rows {
		got := runOne(t, `disp(`+r.a+` and `+r.b+`)`)
		require.Equal(t, r.want, got.Logic, "%s and %s", r.a, r.b)
		// commutative
		got2 := runOne(t, `disp(`+r.b+` and `+r.a+`)`)
		require.Equal(t, r.want, got2.Logic)
	}
}

func TestKleeneOrTruthTable(t *testing.T) {
	rows := []struct {
		a, b string
		want value.Logic
	}{
		{"true", "true", value.True},
		{"true", "false", value.True},
		{"true", "unknown", value.True},
		{"false", "false", value.False},
		{"false", "unknown", value.Unknown},
		{"unknown", "unknown", value.Unknown},
	}
	for _, r := range rows {
		got := runOne(t, `disp(`+r.a+` or `+r.b+`)`)
		require.Equal(t, r.want, got.Logic, "%s or %s", r.a, r.b)
	}
}

func TestDeMorgansLaw(t *testing.T) {
	for _, a := range []string{"true", "false", "unknown"} {
		for _, b := range []string{"true", "false", "unknown"} {
			lhs := runOne(t, `disp(not (`+a+` and `+b+`))`)
			rhs := runOne(t, `disp((not `+a+`) or (not `+b+`))`)
			require.Equal(t, lhs.Logic, rhs.Logic, "De Morgan failed for %s, %s", a, b)
		}
	}
}

func TestComparisonAndEquality(t *testing.T) {
	require.Equal(t, value.True, runOne(t, `disp(1 < 2)`).Logic)
	require.Equal(t, value.False, runOne(t, `disp(1 > 2)`).Logic)
	require.Equal(t, value.True, runOne(t, `disp(1 == 1)`).Logic)
	require.Equal(t, value.False, runOne(t, `disp(1 != 1)`).Logic)
}

func TestOrderingAcrossIncomparableTypesIsUnknown(t *testing.T) {
	// Nil, Logic, and cross-type pairings are not ordered: they yield
	// Unknown rather than a runtime error.
	for _, src := range []string{
		`disp(nil < 5)`,
		`disp(unknown < true)`,
		`disp(1 < "1")`,
	} {
		v := runOne(t, src)
		require.True(t, v.IsLogic(), src)
		require.Equal(t, value.Unknown, v.Logic, src)
	}
}

func TestEqualityOfNilIsUnknown(t *testing.T) {
	require.Equal(t, value.Unknown, runOne(t, `disp(nil == nil)`).Logic)
}

func TestEqualityAcrossTypesIsUnknown(t *testing.T) {
	require.Equal(t, value.Unknown, runOne(t, `disp(1 == "1")`).Logic)
}

func TestStringEqualityByContentViaInterning(t *testing.T) {
	// A string constant and an equal string built at runtime by concatenation
	// must compare equal: this only holds if the VM canonicalizes every
	// string constant through the same interning table concatenation uses.
	v := runOne(t, `
var a = "hello"
var b = "hel" + "lo"
disp(a == b)
`)
	require.Equal(t, value.True, v.Logic)
}

func TestIfTwoArmForm(t *testing.T) {
	v := runOne(t, `
if true do
  disp("yes")
, disp("no")
`)
	require.True(t, v.IsString())
	require.Equal(t, "yes", v.StringValue())
}

func TestIfThreeArmHandlesUnknown(t *testing.T) {
	v := runOne(t, `
if unknown do
  disp("y")
, disp("u")
, disp("n")
`)
	require.Equal(t, "u", v.StringValue())
}

func TestWhileLoop(t *testing.T) {
	got, err := run(t, `
var i = 0
while i < 3 do
{
  disp(i)
  i = i + 1
}
`)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, 0.0, got[0].Num)
	require.Equal(t, 1.0, got[1].Num)
	require.Equal(t, 2.0, got[2].Num)
}

func TestGlobalDefineGetSet(t *testing.T) {
	v := runOne(t, `
var x = 1
x = x + 41
disp(x)
`)
	require.Equal(t, 42.0, v.Num)
}

func TestAssignToUndefinedGlobalIsRuntimeError(t *testing.T) {
	_, err := run(t, `x = 1`)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
}

func TestUndefinedGlobalReadIsRuntimeError(t *testing.T) {
	_, err := run(t, `disp(x)`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Undefined variable")
}

func TestFunctionCallAndArity(t *testing.T) {
	// atom() is the value-returning function-literal shorthand; a plain
	// `function ... end` can also return via a post-end `(expr)`, covered
	// separately by TestPlainFunctionReturnsViaPostEndExpression.
	v := runOne(t, `
var add = atom(a, b) (a + b)
disp(add(3, 4))
`)
	require.Equal(t, 7.0, v.Num)
}

func TestCallWithWrongArityIsRuntimeError(t *testing.T) {
	_, err := run(t, `
var add = atom(a, b) (a + b)
disp(add(1))
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Wrong number of arguments")
}

func TestCallingNonFunctionIsRuntimeError(t *testing.T) {
	_, err := run(t, `
var x = 1
disp(x())
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Can only call functions.")
}

func TestClosureCapturesAndMutatesUpvalue(t *testing.T) {
	// A nested function declaration closes over the enclosing local by
	// reference: each call to increment mutates the same `count` slot the
	// outer function later reads, rather than a private copy.
	got, err := run(t, `
function outer()
  var count = 0
  function increment()
    count = count + 1
  end
  increment()
  increment()
  increment()
  disp(count)
end
outer()
`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 3.0, got[0].Num)
}

func TestPlainFunctionReturnsViaPostEndExpression(t *testing.T) {
	// A plain `function...end` declaration is nil-returning by default, but
	// an `(expr)` immediately after `end` makes it return a computed value
	// too - the same recursive factorial the post-end return form exists
	// for. The two-arm `if` only substitutes its second statement on an
	// Unknown condition (never False - a number comparison is never
	// Unknown), so the False arm needs its own, third statement; the
	// branch between the two commas is left empty.
	v := runOne(t, `
function f(n)
  var result = 0
  if n <= 1 do result = 1, , result = f(n - 1) * n
  end
(result)
disp(f(5))
`)
	require.Equal(t, 120.0, v.Num)
}

func TestArrayIndexingIsOneBasedWithBankersRounding(t *testing.T) {
	v := runOne(t, `
var a = [10, 20, 30]
disp(a[1])
`)
	require.Equal(t, 10.0, v.Num)

	// banker's rounding: 2.5 rounds to the nearest even integer (2), not 3
	// as round-half-up would give.
	v = runOne(t, `
var a = [10, 20, 30]
disp(a[2.5])
`)
	require.Equal(t, 20.0, v.Num)
}

func TestArraySetAutoGrowsWithNilPadding(t *testing.T) {
	v := runOne(t, `
var a = [1]
a[4] = 99
disp(a[3])
`)
	require.True(t, v.IsNil())
}

func TestArrayGetOutOfRangeIsRuntimeError(t *testing.T) {
	_, err := run(t, `
var a = [1, 2]
disp(a[5])
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestTableLiteralAndDynamicAccess(t *testing.T) {
	v := runOne(t, `
var t = :[name: "trilox"]
disp(t:["name"])
`)
	require.Equal(t, "trilox", v.StringValue())

	v = runOne(t, `
var t = :[name: "trilox"]
var key = "name"
disp(t:[key])
`)
	require.Equal(t, "trilox", v.StringValue())
}

func TestSwitchStatementJumpTableDispatch(t *testing.T) {
	for subject, want := range map[string]float64{"a": 1, "b": 2, "z": 3} {
		v := runOne(t, `
switch "`+subject+`" do
case "a" do
  disp(1)
case "b" do
  disp(2)
default do
  disp(3)
`)
		require.Equal(t, want, v.Num)
	}
}

func TestConsiderStatementMatchesOnTernaryCondition(t *testing.T) {
	v := runOne(t, `
consider when 1 < 2 do
  disp("lt")
else do
  disp("ge")
`)
	require.Equal(t, "lt", v.StringValue())

	v = runOne(t, `
consider when 1 > 2 do
  disp("lt")
else do
  disp("ge")
`)
	require.Equal(t, "ge", v.StringValue())
}
