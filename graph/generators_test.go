/*
 *	Copyright 2024 The GradNet Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRecordHomogeneity(t *testing.T) {
	ledger := make(generatorLedger)
	require.NoError(t, ledger.record("x", 0, &gradGen{g: DenseGradient("x_grad")}))
	require.NoError(t, ledger.record("x", 0, &gradGen{g: DenseGradient("x_grad")}))
	assert.Len(t, ledger.get("x", 0), 2)

	err := ledger.record("x", 0, &gradGen{sparse: true, g: SparseGradient("i", "v")})
	require.Error(t, err)
	var heterogeneous *HeterogeneousGeneratorsError
	require.True(t, errors.As(err, &heterogeneous))
	assert.Equal(t, Blob("x"), heterogeneous.Blob)

	// A different version of the same blob is an independent entry.
	require.NoError(t, ledger.record("x", 1, &gradGen{sparse: true, g: SparseGradient("i", "v")}))
}

func TestMergeSparsePair(t *testing.T) {
	g := SparseGradient("x_grad_indices", "x_grad_values")
	opIdx := NewOp("CopyIdx", []Blob{"i"}, []Blob{"x_grad_indices"})
	opVal := NewOp("CopyVal", []Blob{"gy"}, []Blob{"x_grad_values"})

	merged := mergeSparsePair([]*gradGen{
		{sparse: true, opIndices: opIdx, idxIndices: 0, g: g},
		{sparse: true, opValues: opVal, idxValues: 0, g: g},
	})
	assert.True(t, merged.sparse)
	assert.Same(t, opIdx, merged.opIndices)
	assert.Same(t, opVal, merged.opValues)
	assert.Equal(t, g, merged.g)

	// Order does not matter.
	merged = mergeSparsePair([]*gradGen{
		{sparse: true, opValues: opVal, g: g},
		{sparse: true, opIndices: opIdx, g: g},
	})
	assert.Same(t, opIdx, merged.opIndices)
	assert.Same(t, opVal, merged.opValues)

	// A lone partial passes through unchanged.
	single := &gradGen{sparse: true, opIndices: opIdx, g: g}
	assert.Same(t, single, mergeSparsePair([]*gradGen{single}))

	// Mismatched wrappers and duplicated halves are bugs in the rule.
	other := SparseGradient("other_indices", "other_values")
	assert.Panics(t, func() {
		mergeSparsePair([]*gradGen{
			{sparse: true, opIndices: opIdx, g: g},
			{sparse: true, opValues: opVal, g: other},
		})
	})
	assert.Panics(t, func() {
		mergeSparsePair([]*gradGen{
			{sparse: true, opIndices: opIdx, g: g},
			{sparse: true, opIndices: opIdx, g: g},
		})
	})
}

func TestLedgerVerify(t *testing.T) {
	ledger := make(generatorLedger)

	// Zero or one contribution never needs a sum.
	needsSum, err := ledger.verify("x", nil)
	require.NoError(t, err)
	assert.False(t, needsSum)
	needsSum, err = ledger.verify("x", []*gradGen{{g: DenseGradient("x_grad")}})
	require.NoError(t, err)
	assert.False(t, needsSum)

	// Two agreeing produced contributions.
	opA := NewOp("F", []Blob{"g"}, []Blob{"x_grad"})
	opB := NewOp("G", []Blob{"g"}, []Blob{"x_grad"})
	needsSum, err = ledger.verify("x", []*gradGen{
		{op: opA, g: DenseGradient("x_grad")},
		{op: opB, g: DenseGradient("x_grad")},
	})
	require.NoError(t, err)
	assert.True(t, needsSum)

	// Disagreeing gradient names.
	_, err = ledger.verify("x", []*gradGen{
		{op: opA, g: DenseGradient("x_grad")},
		{op: opB, g: DenseGradient("x_other")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not all gradient output names")

	// Disagreeing device placements.
	opGPU := NewOp("F", []Blob{"g"}, []Blob{"x_grad"}, WithDevice(Device{Type: "cuda", Ordinal: 0}))
	opOther := NewOp("G", []Blob{"g"}, []Blob{"x_grad"}, WithDevice(Device{Type: "cuda", Ordinal: 1}))
	_, err = ledger.verify("x", []*gradGen{
		{op: opGPU, g: DenseGradient("x_grad")},
		{op: opOther, g: DenseGradient("x_grad")},
	})
	require.Error(t, err)
	var mismatch *DeviceMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, Blob("x"), mismatch.Blob)

	// Passthrough contributions carry no name or device to disagree on.
	needsSum, err = ledger.verify("x", []*gradGen{
		{g: DenseGradient("a")},
		{g: DenseGradient("b")},
	})
	require.NoError(t, err)
	assert.True(t, needsSum)
}
