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
	"github.com/pkg/errors"
)

// builtinRules is the native gradient-rule table: the fast path consulted
// before caller registrations. Rules here rewrite operator records only --
// they never look at numeric values, which don't exist at compile time.
//
// The chain-rule conventions follow the forward record: a rule may reference
// the forward inputs and outputs (at the versions the forward operator saw
// them) plus the incoming output gradients, and names produced gradients
// `<blob>_grad`.
var builtinRules = ruleTable{
	"Add":          addGradient,
	"Alias":        passthroughGradient,
	"ConstantFill": noInputGradient,
	"Div":          divGradient,
	"Exp":          expGradient,
	"FC":           fcGradient,
	"Gather":       gatherGradient,
	"Identity":     passthroughGradient,
	"Mul":          mulGradient,
	"Neg":          negGradient,
	"Scale":        scaleGradient,
	"Sigmoid":      sigmoidGradient,
	"StopGradient": stopGradient,
	"Sub":          subGradient,
	"Sum":          sumGradient,
}

// BuiltinRules returns the native rule source used by NewRegistry. Exposed so
// callers composing their own Registry (NewRegistryWithNative) can layer on
// top of it.
func BuiltinRules() RuleSource { return builtinRules }

// singleDenseOutput returns the dense gradient blob of the only output of op.
func singleDenseOutput(op *OpDef, gOutput []Gradient) (Blob, error) {
	if len(op.Outputs) != 1 {
		return "", errors.Errorf("%q gradient expects a single output, operator %s has %d", op.Type, op, len(op.Outputs))
	}
	g := gOutput[0]
	if !g.IsDense() {
		return "", errors.Errorf("%q gradient requires a dense output gradient, got %s", op.Type, g)
	}
	return g.Dense(), nil
}

// sumGradient passes the output gradient through unchanged to every input.
// No operator is needed: summation distributes the adjoint as-is.
func sumGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	if len(op.Outputs) != 1 {
		return nil, nil, errors.Errorf("Sum gradient expects a single output, operator %s has %d", op, len(op.Outputs))
	}
	gInput := make([]Gradient, len(op.Inputs))
	for ii := range gInput {
		gInput[ii] = gOutput[0]
	}
	return nil, gInput, nil
}

// addGradient is sumGradient restricted to the binary form.
func addGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	if len(op.Inputs) != 2 {
		return nil, nil, errors.Errorf("Add gradient expects 2 inputs, operator %s has %d", op, len(op.Inputs))
	}
	return sumGradient(op, gOutput)
}

func subGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	if len(op.Inputs) != 2 {
		return nil, nil, errors.Errorf("Sub gradient expects 2 inputs, operator %s has %d", op, len(op.Inputs))
	}
	neg := NewOp("Neg", []Blob{g}, []Blob{GradientName(op.Inputs[1])})
	return []*OpDef{neg},
		[]Gradient{DenseGradient(g), DenseGradient(neg.Outputs[0])},
		nil
}

func negGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	neg := NewOp("Neg", []Blob{g}, []Blob{GradientName(op.Inputs[0])})
	return []*OpDef{neg}, []Gradient{DenseGradient(neg.Outputs[0])}, nil
}

// mulGradient: d(a*b)/da = g*b and d(a*b)/db = g*a, each as a new Mul record
// referencing the forward inputs.
func mulGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	if len(op.Inputs) != 2 {
		return nil, nil, errors.Errorf("Mul gradient expects 2 inputs, operator %s has %d", op, len(op.Inputs))
	}
	a, b := op.Inputs[0], op.Inputs[1]
	gradA := NewOp("Mul", []Blob{g, b}, []Blob{GradientName(a)})
	gradB := NewOp("Mul", []Blob{g, a}, []Blob{GradientName(b)})
	return []*OpDef{gradA, gradB},
		[]Gradient{DenseGradient(gradA.Outputs[0]), DenseGradient(gradB.Outputs[0])},
		nil
}

// divGradient emits one DivGradient record producing both input gradients:
// the numerator gradient at output 0 and the denominator gradient at output 1.
func divGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	if len(op.Inputs) != 2 {
		return nil, nil, errors.Errorf("Div gradient expects 2 inputs, operator %s has %d", op, len(op.Inputs))
	}
	a, b := op.Inputs[0], op.Inputs[1]
	gradOp := NewOp("DivGradient",
		[]Blob{a, b, g},
		[]Blob{GradientName(a), GradientName(b)})
	return []*OpDef{gradOp},
		[]Gradient{DenseGradient(gradOp.Outputs[0]), DenseGradient(gradOp.Outputs[1])},
		nil
}

// expGradient: d(e^a)/da = e^a, which is the forward output itself.
func expGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	gradOp := NewOp("Mul", []Blob{g, op.Outputs[0]}, []Blob{GradientName(op.Inputs[0])})
	return []*OpDef{gradOp}, []Gradient{DenseGradient(gradOp.Outputs[0])}, nil
}

func sigmoidGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	gradOp := NewOp("SigmoidGradient",
		[]Blob{op.Outputs[0], g},
		[]Blob{GradientName(op.Inputs[0])})
	return []*OpDef{gradOp}, []Gradient{DenseGradient(gradOp.Outputs[0])}, nil
}

// scaleGradient scales the adjoint by the same factor, copying the forward
// operator's attributes through.
func scaleGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	gradOp := NewOp("Scale", []Blob{g}, []Blob{GradientName(op.Inputs[0])})
	for key, value := range op.Attrs {
		WithAttr(key, value)(gradOp)
	}
	return []*OpDef{gradOp}, []Gradient{DenseGradient(gradOp.Outputs[0])}, nil
}

// fcGradient mirrors the fully-connected backward record: one FCGradient
// operator producing the weight, bias and input gradients.
func fcGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	if len(op.Inputs) != 3 {
		return nil, nil, errors.Errorf("FC gradient expects inputs (X, W, b), operator %s has %d inputs", op, len(op.Inputs))
	}
	x, w, b := op.Inputs[0], op.Inputs[1], op.Inputs[2]
	gradOp := NewOp("FCGradient",
		[]Blob{x, w, g},
		[]Blob{GradientName(w), GradientName(b), GradientName(x)})
	return []*OpDef{gradOp},
		[]Gradient{
			DenseGradient(gradOp.Outputs[2]),
			DenseGradient(gradOp.Outputs[0]),
			DenseGradient(gradOp.Outputs[1]),
		},
		nil
}

// gatherGradient expresses the data gradient sparsely: the rows addressed by
// the forward indices receive the output gradient values. No operator is
// emitted; the sparse pair simply references the existing blobs.
func gatherGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	g, err := singleDenseOutput(op, gOutput)
	if err != nil {
		return nil, nil, err
	}
	if len(op.Inputs) != 2 {
		return nil, nil, errors.Errorf("Gather gradient expects inputs (data, indices), operator %s has %d inputs", op, len(op.Inputs))
	}
	return nil,
		[]Gradient{SparseGradient(op.Inputs[1], g), NoGradient()},
		nil
}

// passthroughGradient forwards the output gradient to the single input
// unchanged (Identity, Alias).
func passthroughGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	if len(op.Inputs) != 1 || len(op.Outputs) != 1 {
		return nil, nil, errors.Errorf("%q gradient expects a single input and output, got %s", op.Type, op)
	}
	return nil, []Gradient{gOutput[0]}, nil
}

// stopGradient blocks the flow: the input receives no gradient.
func stopGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	return nil, make([]Gradient, len(op.Inputs)), nil
}

// noInputGradient is for source operators (ConstantFill): their inputs, when
// present, only provide shape and receive no gradient.
func noInputGradient(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	return nil, make([]Gradient, len(op.Inputs)), nil
}
