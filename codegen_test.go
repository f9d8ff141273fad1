package rill

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestJumpDistanceTooLongFailsToCompile is spec §8.7: a `while true do
// ... end` whose body exceeds 2^17 instructions must fail to compile
// rather than silently truncate the jump offset.
func TestJumpDistanceTooLongFailsToCompile(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 140000; i++ {
		body.WriteString("x = x + 1\n")
	}
	src := "local x = 0\nwhile true do\n" + body.String() + "if x > 1000000000 then break end\nend\nreturn x"

	block, err := Parse("jump-overflow", src)
	require.NoError(t, err)

	_, err = Compile("jump-overflow", block)
	require.Error(t, err)
	require.Contains(t, err.Error(), "too long")
}

func TestSmallWhileLoopCompilesFine(t *testing.T) {
	src := `local x = 0
while x < 10 do
  x = x + 1
end
return x`
	block, err := Parse("ok", src)
	require.NoError(t, err)
	_, err = Compile("ok", block)
	require.NoError(t, err)
}

// TestStringInterningSurvivesConcat is spec §8.5: a string built at
// runtime by concatenation and the equivalent literal must compare
// rawequal, because both ultimately resolve to the same interned *Str.
func TestStringInterningSurvivesConcat(t *testing.T) {
	rets := run(t, `return rawequal("abc", "a".."b".."c")`)
	require.Len(t, rets, 1)
	require.True(t, rets[0].AsBool())
}

func TestStringInterningDistinctContentNotEqual(t *testing.T) {
	rets := run(t, `return rawequal("abc", "abd")`)
	require.Len(t, rets, 1)
	require.False(t, rets[0].AsBool())
}
