package rill

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueTruthy(t *testing.T) {
	require.False(t, Nil().Truthy())
	require.False(t, NewValueBool(false).Truthy())
	require.True(t, NewValueBool(true).Truthy())
	require.True(t, NewValueNumber(0).Truthy(), "unlike some scripting languages, 0 is truthy")
	require.True(t, NewValueString(NewStr("")).Truthy(), "the empty string is truthy")
}

func TestRawEqualsNumberEdgeCases(t *testing.T) {
	require.True(t, RawEquals(NewValueNumber(0), NewValueNumber(0)))
	require.True(t, RawEquals(NewValueNumber(0), NewValueNumber(math.Copysign(0, -1))), "+0 == -0")
	require.False(t, RawEquals(NewValueNumber(math.NaN()), NewValueNumber(math.NaN())), "NaN never equals itself")
}

func TestRawEqualsAcrossKinds(t *testing.T) {
	require.False(t, RawEquals(NewValueNumber(1), NewValueBool(true)))
	require.False(t, RawEquals(Nil(), NewValueBool(false)))
}

func TestHashValueConsistentWithRawEquals(t *testing.T) {
	a := NewValueNumber(0)
	b := NewValueNumber(math.Copysign(0, -1))
	require.True(t, RawEquals(a, b))
	require.Equal(t, HashValue(a), HashValue(b))

	s1 := NewValueString(NewStr("same"))
	s2 := NewValueString(NewStr("same"))
	require.True(t, RawEquals(s1, s2))
	require.Equal(t, HashValue(s1), HashValue(s2))
}

func TestToStringNoMetaScalars(t *testing.T) {
	require.Equal(t, "nil", ToStringNoMeta(Nil()))
	require.Equal(t, "true", ToStringNoMeta(NewValueBool(true)))
	require.Equal(t, "false", ToStringNoMeta(NewValueBool(false)))
	require.Equal(t, "3.0", ToStringNoMeta(NewValueNumber(3)))
	require.Equal(t, "inf", ToStringNoMeta(NewValueNumber(math.Inf(1))))
	require.Equal(t, "-inf", ToStringNoMeta(NewValueNumber(math.Inf(-1))))
	require.Equal(t, "nan", ToStringNoMeta(NewValueNumber(math.NaN())))
	require.Equal(t, "hi", ToStringNoMeta(NewValueString(NewStr("hi"))))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "nil", KindNil.String())
	require.Equal(t, "boolean", KindBool.String())
	require.Equal(t, "number", KindNumber.String())
	require.Equal(t, "string", KindString.String())
	require.Equal(t, "table", KindTable.String())
	require.Equal(t, "function", KindFunction.String())
	require.Equal(t, "userdata", KindUserdata.String())
	require.Equal(t, "thread", KindThread.String())
}

func TestAsAccessorsReturnNilForWrongKind(t *testing.T) {
	n := NewValueNumber(1)
	require.Nil(t, n.AsTable())
	require.Nil(t, n.AsClosure())
	require.Nil(t, n.AsUserdata())
	require.Nil(t, n.AsThread())
	require.Nil(t, n.AsStr())
}
