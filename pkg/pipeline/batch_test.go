package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/daimatz/jenhance/pkg/classfile"
	"github.com/daimatz/jenhance/pkg/classfile/classfiletest"
)

func batch(n int) []Input {
	inputs := make([]Input, n)
	for i := range inputs {
		b := classfiletest.New(fmt.Sprintf("com/acme/S%d", i))
		b.VoidMethod(classfiletest.AccPublic, "process", b.Annotations(true, classfiletest.Ann{Type: classfiletest.SecuredType}))
		inputs[i] = Input{Name: fmt.Sprintf("S%d.class", i), Data: b.Bytes()}
	}
	return inputs
}

func TestRunAll(t *testing.T) {
	inputs := batch(24)
	inputs[5].Data = []byte("not a class")
	inputs[17].Data = []byte{0xCA, 0xFE, 0xBA, 0xBE}

	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")))
	outs, err := p.RunAll(context.Background(), inputs, 4)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "S5.class")
	assert.Contains(t, errs[1].Error(), "S17.class")
	assert.True(t, classfile.IsFormatError(errs[0]))

	require.Len(t, outs, len(inputs))
	for i, o := range outs {
		assert.Equal(t, inputs[i].Name, o.Name)
		require.NotNil(t, o.Result, o.Name)
		if i == 5 || i == 17 {
			assert.Equal(t, inputs[i].Data, o.Result.Output)
			continue
		}
		require.NoError(t, o.Err)
		assert.True(t, o.Result.Enhanced, o.Name)
		assert.Equal(t, fmt.Sprintf("com/acme/S%d", i), o.Result.Class)
	}
}

func TestRunAllUnbounded(t *testing.T) {
	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")))
	outs, err := p.RunAll(context.Background(), batch(8), 0)
	require.NoError(t, err)
	for _, o := range outs {
		assert.True(t, o.Result.Enhanced)
	}
}

func TestRunAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(registry(t, classfiletest.SecuredType, securedEnhancer("secured")))
	outs, err := p.RunAll(ctx, batch(3), 1)
	assert.ErrorIs(t, err, context.Canceled)
	for _, o := range outs {
		assert.Nil(t, o.Result)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}
