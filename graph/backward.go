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
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gradnet/gradnet/types"
	"github.com/gradnet/gradnet/types/xslices"
)

// This file implements the backward-pass driver: the reverse walk over the
// SSA history that dispatches gradient rules, validates every reference
// against the live versions, books the discovered contributions in the
// generator ledger and fires accumulation as soon as a versioned blob's
// consumers are exhausted.

// Targets builds the target map for BackwardPass from a set of blobs, each
// auto-seeded with an all-ones gradient.
func Targets(blobs ...Blob) map[Blob]Gradient {
	targets := make(map[Blob]Gradient, len(blobs))
	for _, b := range blobs {
		targets[b] = NoGradient()
	}
	return targets
}

// AsTargets coerces the accepted target specifications -- a slice of blobs
// (or strings), or a map from blob (or string) to optional gradient -- into
// the canonical map form. Anything else fails with ErrMalformedTargets.
func AsTargets(ys any) (map[Blob]Gradient, error) {
	switch v := ys.(type) {
	case map[Blob]Gradient:
		return v, nil
	case map[string]Gradient:
		targets := make(map[Blob]Gradient, len(v))
		for name, g := range v {
			targets[Blob(name)] = g
		}
		return targets, nil
	case []Blob:
		return Targets(v...), nil
	case []string:
		targets := make(map[Blob]Gradient, len(v))
		for _, name := range v {
			targets[Blob(name)] = NoGradient()
		}
		return targets, nil
	}
	return nil, errors.WithMessagef(ErrMalformedTargets, "got %T", ys)
}

// BackwardPass derives the backward operator sequence computing the gradients
// of the given targets over the forward sequence ops. Target blobs mapped to
// an empty Gradient are seeded with a synthesized all-ones ConstantFill;
// non-empty entries are used as the seed gradient directly.
//
// It returns the gradient operators, in dependency-correct emission order,
// and the map from forward blob to its gradient. Any inconsistency aborts the
// whole construction with an error; no partial result is returned.
func (r *Registry) BackwardPass(ops []*OpDef, targets map[Blob]Gradient) ([]*OpDef, map[Blob]Gradient, error) {
	return r.BackwardPassFrom(ops, targets, 0)
}

// BackwardPassFrom is BackwardPass restricted to the tail of the forward
// sequence: the first skip operators are replayed into the SSA history but
// not differentiated.
//
// The input-usage table driving accumulation is still computed from the whole
// sequence, so a consumer inside the skipped prefix keeps the accumulation
// for its versioned blob from firing.
func (r *Registry) BackwardPassFrom(ops []*OpDef, targets map[Blob]Gradient, skip int) (gradientOps []*OpDef, blobToGrad map[Blob]Gradient, err error) {
	caught := exceptions.TryCatch[error](func() {
		gradientOps, blobToGrad, err = r.backwardPass(ops, targets, skip)
	})
	if caught != nil {
		return nil, nil, caught
	}
	if err != nil {
		return nil, nil, err
	}
	return gradientOps, blobToGrad, nil
}

// backwardBuilder is the confined working state of one backward-pass
// construction. Nothing here is shared across calls.
type backwardBuilder struct {
	registry *Registry
	history  *History

	// gradientFrontier maps each blob to the version its currently tracked
	// gradient corresponds to. It only moves to earlier versions as the
	// reverse walk proceeds.
	gradientFrontier map[Blob]int

	ledger generatorLedger
}

func (r *Registry) backwardPass(ops []*OpDef, targets map[Blob]Gradient, skip int) ([]*OpDef, map[Blob]Gradient, error) {
	history := NewHistory(ops)
	b := &backwardBuilder{
		registry:         r,
		history:          history,
		gradientFrontier: make(map[Blob]int, len(targets)),
		ledger:           make(generatorLedger),
	}

	// Targets get their gradient at their final (frontier) version; a target
	// the forward sequence never touched sits at version 0.
	for _, y := range xslices.SortedKeys(targets) {
		b.gradientFrontier[y] = history.frontier[y]
	}

	inputToGrad, gradientOps := b.initGradients(targets)

	for i := history.Len() - 1; i >= skip; i-- {
		newGrads, opGradientOps, err := b.generateForOp(i, inputToGrad)
		if err != nil {
			return nil, nil, err
		}
		for name, g := range newGrads {
			inputToGrad[name] = g
		}
		gradientOps = append(gradientOps, opGradientOps...)

		sumOps, merged, err := b.accumulate(i)
		if err != nil {
			return nil, nil, err
		}
		for name, g := range merged {
			inputToGrad[name] = g
		}
		gradientOps = append(gradientOps, sumOps...)
	}

	result := make(map[Blob]Gradient, len(inputToGrad))
	for name, g := range inputToGrad {
		if !g.IsEmpty() {
			result[name] = g
		}
	}
	return gradientOps, result, nil
}

// initGradients seeds the gradient map: explicit target gradients are taken
// as-is, empty ones get a ConstantFill of ones over a fresh blob. The fill's
// shape is resolved by the executor from the target blob, not here.
func (b *backwardBuilder) initGradients(targets map[Blob]Gradient) (map[Blob]Gradient, []*OpDef) {
	inputToGrad := make(map[Blob]Gradient, len(targets))
	var gradientOps []*OpDef
	for _, y := range xslices.SortedKeys(targets) {
		g := targets[y]
		if g.IsEmpty() {
			seedOp := NewOp("ConstantFill",
				[]Blob{y}, []Blob{autogenGradName(y)},
				WithAttr("value", 1.0))
			gradientOps = append(gradientOps, seedOp)
			g = DenseGradient(seedOp.Outputs[0])
		}
		inputToGrad[y] = g
	}
	return inputToGrad, gradientOps
}

// generateForOp dispatches the gradient rule for forward operator i and books
// the results. It returns the updates to the running gradient map and the
// emitted gradient operators.
func (b *backwardBuilder) generateForOp(i int, inputToGrad map[Blob]Gradient) (map[Blob]Gradient, []*OpDef, error) {
	entry := &b.history.ssa[i]
	forwardOp := entry.op

	gOutput := make([]Gradient, len(forwardOp.Outputs))
	anyGradient := false
	for oi, name := range forwardOp.Outputs {
		gOutput[oi] = inputToGrad[name]
		anyGradient = anyGradient || !gOutput[oi].IsEmpty()
	}
	if !anyGradient {
		// Nothing flows through this operator.
		return nil, nil, nil
	}
	klog.V(2).Infof("backward: op #%d %s, output gradients %v", i, forwardOp, gOutput)

	gradientOps, gInput, err := b.registry.gradientForOp(forwardOp, gOutput)
	if err != nil {
		return nil, nil, err
	}
	if err := b.buildGenerators(i, gradientOps, gOutput, gInput); err != nil {
		return nil, nil, err
	}

	newGrads := make(map[Blob]Gradient, len(forwardOp.Inputs))
	outputs := types.SetWith(forwardOp.Outputs...)
	for j, name := range forwardOp.Inputs {
		g := gInput[j]
		// Do not overwrite an existing gradient with an empty one, unless
		// the blob is also an output of this operator: then its version
		// changed and the entry must be refreshed.
		_, known := inputToGrad[name]
		if !g.IsEmpty() || !known || outputs.Has(name) {
			newGrads[name] = g
		}
	}
	return newGrads, gradientOps, nil
}

// buildGenerators validates the emitted gradient operators and updates the
// ledger and the gradient frontier for forward operator i.
func (b *backwardBuilder) buildGenerators(i int, gradientOps []*OpDef, gOutput, gInput []Gradient) error {
	entry := &b.history.ssa[i]
	forwardOp := entry.op
	gOutputIndex := gradientIndexMap(gOutput)
	gInputIndex := gradientIndexMap(gInput)
	locallyGenerated := types.MakeSet[Blob]()

	// Partial sparse contributions are merged per versioned blob once all
	// gradient operators of this forward operator were seen.
	sparsePartials := make(map[VersionedBlob][]*gradGen)
	var sparseOrder []VersionedBlob

	for _, gradOp := range gradientOps {
		for _, ref := range gradOp.Inputs {
			if err := b.checkGradientOpInput(ref, i, gOutputIndex, locallyGenerated); err != nil {
				return err
			}
		}
		locallyGenerated.Insert(gradOp.Outputs...)
		for oi, output := range gradOp.Outputs {
			j, found := gInputIndex[output]
			if !found {
				continue
			}
			inputName := forwardOp.Inputs[j]
			inputVersion := entry.inVersions[inputName]
			g := gInput[j]
			if g.IsSparse() {
				// The output is either the indices or the values half; a
				// partial generator for each half is recorded and merged
				// below.
				gen := &gradGen{sparse: true, g: g}
				if g.Indices() == output {
					gen.opIndices = gradOp
					gen.idxIndices = oi
				} else {
					gen.opValues = gradOp
					gen.idxValues = oi
				}
				key := VersionedBlob{inputName, inputVersion}
				if _, seen := sparsePartials[key]; !seen {
					sparseOrder = append(sparseOrder, key)
				}
				sparsePartials[key] = append(sparsePartials[key], gen)
			} else {
				err := b.ledger.record(inputName, inputVersion,
					&gradGen{op: gradOp, idx: oi, g: g})
				if err != nil {
					return err
				}
			}
		}
	}

	for _, key := range sparseOrder {
		merged := mergeSparsePair(sparsePartials[key])
		if err := b.ledger.record(key.Blob, key.Version, merged); err != nil {
			return err
		}
	}

	// Gradients passed through directly from existing blobs (Sum-like
	// operators) have no producing operator; they still need a generator so
	// accumulation knows where they come from.
	for j, g := range gInput {
		if g.IsEmpty() {
			continue
		}
		inputName := forwardOp.Inputs[j]
		inputVersion := entry.inVersions[inputName]
		if g.IsSparse() {
			if !locallyGenerated.Has(g.Indices()) && !locallyGenerated.Has(g.Values()) {
				err := b.ledger.record(inputName, inputVersion, &gradGen{sparse: true, g: g})
				if err != nil {
					return err
				}
			}
		} else if !locallyGenerated.Has(g.Dense()) {
			err := b.ledger.record(inputName, inputVersion, &gradGen{g: g})
			if err != nil {
				return err
			}
		}
	}

	// The gradients now correspond to the versions this operator read.
	for j, g := range gInput {
		if !g.IsEmpty() {
			inputName := forwardOp.Inputs[j]
			b.gradientFrontier[inputName] = entry.inVersions[inputName]
		}
	}
	return nil
}

// checkGradientOpInput validates one blob referenced by a gradient operator
// emitted for forward operator i. Valid references are: a gradient name from
// gOutput whose original output is at the gradient frontier; a forward output
// or input of the operator still at its recorded version; or a blob produced
// earlier in this same reverse walk.
func (b *backwardBuilder) checkGradientOpInput(ref Blob, i int, gOutputIndex map[Blob]int, locallyGenerated types.Set[Blob]) error {
	entry := &b.history.ssa[i]
	forwardOp := entry.op

	if oi, isGradient := gOutputIndex[ref]; isGradient {
		originalName := forwardOp.Outputs[oi]
		expected := entry.outVersions[originalName]
		actual, tracked := b.gradientFrontier[originalName]
		if !tracked {
			actual = -1
		}
		if actual != expected {
			return &VersionMismatchError{
				Blob:         originalName,
				GradientBlob: ref,
				Expected:     expected,
				Actual:       actual,
				Op:           forwardOp,
			}
		}
		return nil
	}
	if v, isOutput := entry.outVersions[ref]; isOutput {
		if current := b.history.frontier[ref]; current != v {
			return &VersionMismatchError{Blob: ref, Expected: v, Actual: current, Op: forwardOp}
		}
		return nil
	}
	if v, isInput := entry.inVersions[ref]; isInput {
		if current := b.history.frontier[ref]; current != v {
			return &VersionMismatchError{Blob: ref, Expected: v, Actual: current, Op: forwardOp}
		}
		return nil
	}
	if !locallyGenerated.Has(ref) {
		return &UndefinedLocalReferenceError{Blob: ref, Op: forwardOp}
	}
	return nil
}

// accumulate checks every distinct input of forward operator i: if this is
// the first consumer of the input's version -- the last chance, walking
// backward, for contributions to arrive -- and two or more contributions
// exist, it synthesizes their merge.
func (b *backwardBuilder) accumulate(i int) ([]*OpDef, map[Blob]Gradient, error) {
	entry := &b.history.ssa[i]
	var sumOps []*OpDef
	merged := make(map[Blob]Gradient)

	seen := types.MakeSet[Blob](len(entry.op.Inputs))
	for _, inputName := range entry.op.Inputs {
		if seen.Has(inputName) {
			continue
		}
		seen.Insert(inputName)
		inputVersion := entry.inVersions[inputName]
		usage := b.history.Usages(inputName, inputVersion)
		if len(usage) <= 1 || usage[0] != i {
			continue
		}
		gens := b.ledger.get(inputName, inputVersion)
		needsSum, err := b.ledger.verify(inputName, gens)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "gradients for blob %q failed to verify", inputName)
		}
		if !needsSum {
			continue
		}
		klog.V(2).Infof("backward: accumulating %d gradients for %q (version %d)",
			len(gens), inputName, inputVersion)
		ops, unified, err := b.ledger.makeSumOps(inputName, inputVersion)
		if err != nil {
			return nil, nil, err
		}
		sumOps = append(sumOps, ops...)
		merged[inputName] = unified
	}
	return sumOps, merged, nil
}
