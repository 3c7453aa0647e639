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
	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// gradGen records one discovered partial contribution to the gradient of a
// versioned blob.
//
// Dense form: op/idx point at the specific output of the gradient operator
// that produces the contribution; op == nil means the gradient is a direct
// passthrough of an existing blob (e.g. Sum-like forward operators).
//
// Sparse form: the indices and values halves may come from different gradient
// operators, tracked independently as (opIndices, idxIndices) and (opValues,
// idxValues). A half with a nil operator is a passthrough of the wrapper's
// literal blob.
type gradGen struct {
	sparse bool

	op  *OpDef
	idx int

	opIndices  *OpDef
	idxIndices int
	opValues   *OpDef
	idxValues  int

	// g is the gradient wrapper this contribution belongs to.
	g Gradient
}

// generatorLedger accumulates, per versioned blob, the gradient contributions
// discovered while walking the forward pass backward. One ledger lives for
// exactly one backward-pass construction.
type generatorLedger map[VersionedBlob][]*gradGen

// record appends a contribution for (b, version). Contributions for one
// versioned blob must be homogeneous: recording a dense contribution over
// sparse ones (or vice versa) fails with HeterogeneousGeneratorsError.
func (l generatorLedger) record(b Blob, version int, gen *gradGen) error {
	key := VersionedBlob{b, version}
	gens := l[key]
	if len(gens) > 0 && gens[0].sparse != gen.sparse {
		return &HeterogeneousGeneratorsError{Blob: b}
	}
	l[key] = append(l[key], gen)
	return nil
}

// get returns the contributions recorded so far for (b, version).
func (l generatorLedger) get(b Blob, version int) []*gradGen {
	return l[VersionedBlob{b, version}]
}

// mergeSparsePair combines the partial sparse contributions collected for one
// versioned blob during a single forward operator's backward processing: one
// generator carrying only the indices half and one carrying only the values
// half, belonging to the same gradient wrapper. With a single partial, it is
// returned as-is.
func mergeSparsePair(partials []*gradGen) *gradGen {
	if len(partials) == 1 {
		return partials[0]
	}
	if len(partials) != 2 {
		Panicf("sparse gradient halves expected to arrive from at most 2 operators, got %d", len(partials))
	}
	first, second := partials[0], partials[1]
	if first.g != second.g {
		Panicf("sparse gradient halves belong to different wrappers: %s vs %s", first.g, second.g)
	}
	if (first.opIndices != nil && second.opIndices != nil) ||
		(first.opValues != nil && second.opValues != nil) {
		Panicf("sparse gradient wrapper %s has duplicated indices or values producers", first.g)
	}
	merged := &gradGen{
		sparse:     true,
		opIndices:  first.opIndices,
		idxIndices: first.idxIndices + second.idxIndices,
		opValues:   first.opValues,
		idxValues:  first.idxValues + second.idxValues,
		g:          first.g,
	}
	if merged.opIndices == nil {
		merged.opIndices = second.opIndices
	}
	if merged.opValues == nil {
		merged.opValues = second.opValues
	}
	return merged
}

// verify checks whether the contributions for blob b need an accumulation
// operator. It returns false when none or a single contribution exists. With
// two or more it validates consistency: all produced gradient names must
// match the wrapper, and all producing operators must agree on device
// placement.
func (l generatorLedger) verify(b Blob, gens []*gradGen) (bool, error) {
	if len(gens) < 2 {
		return false, nil
	}
	for _, gen := range gens[1:] {
		if gen.sparse != gens[0].sparse {
			return false, &HeterogeneousGeneratorsError{Blob: b}
		}
	}

	var names []Gradient
	var devices []*Device
	for _, gen := range gens {
		if !gen.sparse {
			if gen.op != nil {
				names = append(names, gen.g)
				devices = append(devices, gen.op.Device)
			}
			continue
		}
		if gen.opIndices != nil {
			devices = append(devices, gen.opIndices.Device)
		}
		if gen.opValues != nil {
			devices = append(devices, gen.opValues.Device)
			names = append(names, DenseGradient(gen.g.Values()))
		}
	}
	if len(names) > 1 {
		for _, name := range names[1:] {
			if name != names[0] {
				return false, errors.Errorf("not all gradient output names for blob %q are the same", b)
			}
		}
	}
	if len(devices) > 1 {
		for _, device := range devices[1:] {
			if !deviceEqual(device, devices[0]) {
				return false, &DeviceMismatchError{Blob: b}
			}
		}
	}
	return true, nil
}
