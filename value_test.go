// value_test.go: tests for tagged values and coercion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		typ     SettingType
		in      Value
		want    Value
		wantErr bool
	}{
		{"bool passthrough", TypeBool, Bool(true), Bool(true), false},
		{"bool from string", TypeBool, String(" False "), Bool(false), false},
		{"bool rejects int", TypeBool, Int(1), Value{}, true},
		{"bool rejects yes", TypeBool, String("yes"), Value{}, true},
		{"int from whole float", TypeInt, Float(42), Int(42), false},
		{"int rejects fraction", TypeInt, Float(4.5), Value{}, true},
		{"int from string", TypeInt, String("9600"), Int(9600), false},
		{"int rejects bool", TypeInt, Bool(true), Value{}, true},
		{"int rejects 2^63", TypeInt, Float(math.Pow(2, 63)), Value{}, true},
		{"int accepts -2^63", TypeInt, Float(-math.Pow(2, 63)), Int(math.MinInt64), false},
		{"float widens int", TypeFloat, Int(1), Float(1), false},
		{"float from string", TypeFloat, String("0.25"), Float(0.25), false},
		{"string passthrough", TypeString, String("x"), String("x"), false},
		{"string rejects number", TypeString, Int(3), Value{}, true},
		{"url is a string", TypeURL, String("http://h:1"), String("http://h:1"), false},
		{"list accepts null", TypeList, Null(), List(), false},
		{"list rejects string", TypeList, String("a,b"), Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf([]any{"a", 1, true, nil})
	require.NoError(t, err)
	items, ok := v.AsList()
	require.True(t, ok)
	require.Len(t, items, 4)
	assert.Equal(t, KindString, items[0].Kind())
	assert.Equal(t, KindInt, items[1].Kind())
	assert.Equal(t, KindBool, items[2].Kind())
	assert.True(t, items[3].IsNull())

	_, err = ValueOf(map[string]any{"nested": 1})
	assert.Error(t, err)

	_, err = ValueOf(uint64(math.MaxUint64))
	assert.Error(t, err)
}

func TestValueEqualDistinguishesKinds(t *testing.T) {
	assert.False(t, Int(1).Equal(Float(1)))
	assert.True(t, Float(math.NaN()).Equal(Float(math.NaN())))
	assert.True(t, List(String("a"), Int(2)).Equal(List(String("a"), Int(2))))
	assert.False(t, List(String("a")).Equal(List(String("b"))))
	assert.True(t, Null().Equal(Value{}))
}

func TestValueListIsCopied(t *testing.T) {
	items := []Value{String("a")}
	v := List(items...)
	items[0] = String("changed")

	got, _ := v.AsList()
	s, _ := got[0].AsString()
	assert.Equal(t, "a", s)

	got[0] = String("mutated")
	again, _ := v.AsList()
	s, _ = again[0].AsString()
	assert.Equal(t, "a", s)
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "null", Null().String())
	assert.Equal(t, `"x"`, String("x").String())
	assert.Equal(t, "[1, true]", List(Int(1), Bool(true)).String())
	assert.Equal(t, "0.5", Float(0.5).String())
}
