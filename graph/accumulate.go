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
	"fmt"
	"strings"
)

// Accumulation: when a versioned blob collected two or more gradient
// contributions, they are merged into one value by synthesized operators --
// an elementwise Sum for dense contributions, a pair of Concat operators
// (indices and values, leading axis) for sparse ones. Produced contributions
// are renamed with an "autosplit" suffix so their real outputs don't collide
// with the merged name. Concatenated sparse indices are not deduplicated
// here; that is a downstream concern.

// sumOutputBaseName picks the name for the merged gradient: the first
// produced output among the generators, so an existing name is reused instead
// of minting a new intermediate, falling back to `<blob>_grad`.
func sumOutputBaseName(gens []*gradGen, inputName Blob) Blob {
	for _, gen := range gens {
		if !gen.sparse {
			if gen.op != nil {
				return gen.op.Outputs[gen.idx]
			}
			continue
		}
		if gen.opIndices != nil {
			return Blob(strings.TrimSuffix(string(gen.opIndices.Outputs[gen.idxIndices]), "_indices"))
		}
		if gen.opValues != nil {
			return Blob(strings.TrimSuffix(string(gen.opValues.Outputs[gen.idxValues]), "_values"))
		}
	}
	return GradientName(inputName)
}

// disambiguateOutput renames the idx-th output of gradOp in place with the
// autosplit suffix, returning the new name and the advanced counter.
func disambiguateOutput(gradOp *OpDef, idx, cnt int) (Blob, int) {
	renamed := Blob(fmt.Sprintf("_%s_autosplit_%d", gradOp.Outputs[idx], cnt))
	gradOp.Outputs[idx] = renamed
	return renamed, cnt + 1
}

// checkSumConflict fails when a passthrough gradient name equals the chosen
// merged output name: the Sum would silently overwrite one of its inputs.
func checkSumConflict(base, passthrough Blob) error {
	if base == passthrough {
		return &NamingCollisionError{Base: base, Passthrough: passthrough}
	}
	return nil
}

// makeDenseSumOps synthesizes the Sum operator merging dense contributions
// into baseName. Produced outputs are autosplit-renamed; passthrough
// contributions enter the Sum under their literal name.
func makeDenseSumOps(gens []*gradGen, baseName Blob) ([]*OpDef, Gradient, error) {
	sumInputs := make([]Blob, 0, len(gens))
	cnt := 0
	for _, gen := range gens {
		if gen.op != nil {
			var renamed Blob
			renamed, cnt = disambiguateOutput(gen.op, gen.idx, cnt)
			sumInputs = append(sumInputs, renamed)
			continue
		}
		if err := checkSumConflict(baseName, gen.g.Dense()); err != nil {
			return nil, NoGradient(), err
		}
		sumInputs = append(sumInputs, gen.g.Dense())
	}
	sumOp := NewOp("Sum", sumInputs, []Blob{baseName})
	return []*OpDef{sumOp}, DenseGradient(baseName), nil
}

// makeSparseSumOps synthesizes the two Concat operators merging sparse
// contributions: one over the indices halves, one over the values halves, in
// the same contribution order, concatenating along the leading axis.
func makeSparseSumOps(gens []*gradGen, baseName Blob) ([]*OpDef, Gradient, error) {
	indicesInputs := make([]Blob, 0, len(gens))
	valuesInputs := make([]Blob, 0, len(gens))
	cntIndices, cntValues := 0, 0
	for _, gen := range gens {
		if gen.opIndices != nil {
			var renamed Blob
			renamed, cntIndices = disambiguateOutput(gen.opIndices, gen.idxIndices, cntIndices)
			indicesInputs = append(indicesInputs, renamed)
		} else {
			if err := checkSumConflict(baseName, gen.g.Indices()); err != nil {
				return nil, NoGradient(), err
			}
			indicesInputs = append(indicesInputs, gen.g.Indices())
		}
		if gen.opValues != nil {
			var renamed Blob
			renamed, cntValues = disambiguateOutput(gen.opValues, gen.idxValues, cntValues)
			valuesInputs = append(valuesInputs, renamed)
		} else {
			if err := checkSumConflict(baseName, gen.g.Values()); err != nil {
				return nil, NoGradient(), err
			}
			valuesInputs = append(valuesInputs, gen.g.Values())
		}
	}
	indicesOut := baseName + "_indices_concat"
	valuesOut := baseName + "_values_concat"
	sumOps := []*OpDef{
		NewOp("Concat", indicesInputs,
			[]Blob{indicesOut, indicesOut + "_split"},
			WithAttr("axis", 0)),
		NewOp("Concat", valuesInputs,
			[]Blob{valuesOut, valuesOut + "_split"},
			WithAttr("axis", 0)),
	}
	return sumOps, SparseGradient(indicesOut, valuesOut), nil
}

// stampSumOpsDevice copies the placement of the first contributing generator
// that has a producing operator onto the synthesized operators. Consistency
// of placements across generators was already verified.
func stampSumOpsDevice(sumOps []*OpDef, gens []*gradGen) {
	for _, gen := range gens {
		producer := gen.op
		if gen.sparse {
			producer = gen.opValues
			if producer == nil {
				producer = gen.opIndices
			}
		}
		if producer == nil {
			continue
		}
		if producer.Device != nil {
			for _, sumOp := range sumOps {
				device := *producer.Device
				sumOp.Device = &device
			}
		}
		return
	}
}

// makeSumOps builds the accumulation operators for the homogeneous generator
// list of (inputName, version) and returns them with the unified gradient.
func (l generatorLedger) makeSumOps(inputName Blob, version int) ([]*OpDef, Gradient, error) {
	gens := l.get(inputName, version)
	baseName := sumOutputBaseName(gens, inputName)
	var sumOps []*OpDef
	var unified Gradient
	var err error
	if !gens[0].sparse {
		sumOps, unified, err = makeDenseSumOps(gens, baseName)
	} else {
		sumOps, unified, err = makeSparseSumOps(gens, baseName)
	}
	if err != nil {
		return nil, NoGradient(), err
	}
	stampSumOpsDevice(sumOps, gens)
	return sumOps, unified, nil
}
