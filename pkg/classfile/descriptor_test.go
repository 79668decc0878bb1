package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc   string
		params []string
		ret    string
		slots  int
	}{
		{"()V", nil, "V", 0},
		{"(I)I", []string{"I"}, "I", 1},
		{"(IJD)J", []string{"I", "J", "D"}, "J", 5},
		{"(Ljava/lang/String;[I[[Ljava/lang/Object;)Ljava/util/List;",
			[]string{"Ljava/lang/String;", "[I", "[[Ljava/lang/Object;"}, "Ljava/util/List;", 3},
		{"(ZBCSF)[J", []string{"Z", "B", "C", "S", "F"}, "[J", 5},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			md, err := ParseMethodDescriptor(tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.params, md.Params)
			assert.Equal(t, tt.ret, md.Return)
			assert.Equal(t, tt.slots, md.ParamSlots())
			assert.Equal(t, tt.ret == "V", md.IsVoid())
		})
	}
}

func TestParseMethodDescriptorInvalid(t *testing.T) {
	for _, desc := range []string{
		"",
		"I",
		"(I",
		"(Q)V",
		"(Ljava/lang/String)V",
		"()",
		"()VV",
		"()[V",
		"(L;)V",
	} {
		t.Run(desc, func(t *testing.T) {
			_, err := ParseMethodDescriptor(desc)
			assert.Error(t, err)
		})
	}
}

func TestTypeSlots(t *testing.T) {
	assert.Equal(t, 2, TypeSlots("J"))
	assert.Equal(t, 2, TypeSlots("D"))
	assert.Equal(t, 0, TypeSlots("V"))
	assert.Equal(t, 1, TypeSlots("[J"))
	assert.Equal(t, 1, TypeSlots("Ljava/lang/Long;"))
}
