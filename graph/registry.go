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

// GradientFunc produces the backward rewrite for one forward operator: given
// the operator record and one gradient per output (entries may be empty), it
// returns the gradient-producing operator records (possibly none) and one
// gradient per input, aligned positionally (entries may be empty for inputs
// that receive no gradient).
//
// A GradientFunc must not mutate the forward record. The records it returns
// are owned by the backward pass, which may rename their outputs during
// accumulation.
type GradientFunc func(op *OpDef, gOutput []Gradient) (gradientOps []*OpDef, gInput []Gradient, err error)

// RuleSource resolves an operator type to its gradient rule.
type RuleSource interface {
	Lookup(opType string) (GradientFunc, bool)
}

// ruleTable is the map-backed RuleSource used for both the builtin rules and
// caller registrations.
type ruleTable map[string]GradientFunc

func (t ruleTable) Lookup(opType string) (GradientFunc, bool) {
	fn, found := t[opType]
	return fn, found
}

// Registry resolves gradient rules for operator types and drives backward
// pass construction. Resolution order: the native source first, then the
// caller-registered rules. There is no process-global registry; each Registry
// is an independent context.
//
// A Registry is safe for concurrent use by multiple goroutines only after all
// Register calls are done: registration is not synchronized with lookups.
type Registry struct {
	native RuleSource
	custom ruleTable
}

// NewRegistry returns a Registry whose native source is the builtin rule
// table for the common operator types.
func NewRegistry() *Registry {
	return NewRegistryWithNative(builtinRules)
}

// NewRegistryWithNative returns a Registry with the given native-priority
// rule source. A nil source means every lookup falls through to the
// registered rules.
func NewRegistryWithNative(native RuleSource) *Registry {
	if native == nil {
		native = ruleTable(nil)
	}
	return &Registry{
		native: native,
		custom: make(ruleTable),
	}
}

// Register associates opType with a gradient rule, consulted when the native
// source cannot resolve the type. Registering the same type again replaces
// the previous rule.
func (r *Registry) Register(opType string, fn GradientFunc) {
	if opType == "" || fn == nil {
		Panicf("Registry.Register requires a non-empty operator type and a non-nil rule")
	}
	r.custom[opType] = fn
}

// gradientForOp resolves and invokes the gradient rule for op. gOutput must
// have exactly one entry per operator output. The returned gInput has exactly
// one entry per operator input.
//
// Native resolution is attempted first; any native failure (missing rule or
// rule error) falls through to the registered rules. If neither resolves, the
// returned error is an *UnregisteredGradientError carrying the native failure.
func (r *Registry) gradientForOp(op *OpDef, gOutput []Gradient) ([]*OpDef, []Gradient, error) {
	if len(gOutput) != len(op.Outputs) {
		Panicf("gradientForOp(%s): got %d output gradients, operator has %d outputs",
			op, len(gOutput), len(op.Outputs))
	}

	var nativeErr error
	if fn, found := r.native.Lookup(op.Type); found {
		gradientOps, gInput, err := fn(op, gOutput)
		if err == nil {
			return checkRuleResult(op, gradientOps, gInput), gInput, nil
		}
		nativeErr = err
	} else {
		nativeErr = errors.Errorf("no native gradient for operator type %q", op.Type)
	}

	fn, found := r.custom.Lookup(op.Type)
	if !found {
		return nil, nil, &UnregisteredGradientError{OpType: op.Type, NativeErr: nativeErr}
	}
	gradientOps, gInput, err := fn(op, gOutput)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "registered gradient rule for %q failed", op.Type)
	}
	return checkRuleResult(op, gradientOps, gInput), gInput, nil
}

// checkRuleResult validates the arity contract of a gradient rule. A
// violation is a bug in the rule, not a property of the forward graph, so it
// panics (with an error).
func checkRuleResult(op *OpDef, gradientOps []*OpDef, gInput []Gradient) []*OpDef {
	if len(gInput) != len(op.Inputs) {
		Panicf("gradient rule for %q returned %d input gradients, but operator %s has %d inputs",
			op.Type, len(gInput), op, len(op.Inputs))
	}
	for _, gradOp := range gradientOps {
		if gradOp == nil {
			Panicf("gradient rule for %q returned a nil gradient operator", op.Type)
		}
	}
	return gradientOps
}
