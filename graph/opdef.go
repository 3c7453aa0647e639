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

	. "github.com/gomlx/exceptions"
)

// Blob names a data cell in the flat operator namespace. Blobs have no inherent
// type: their semantics are purely structural, given by which operators read
// and write them.
type Blob string

// GradientName returns the conventional name for the gradient of blob b.
func GradientName(b Blob) Blob {
	return b + "_grad"
}

// autogenGradName is the name of the auto-generated all-ones seed gradient
// for target blob y.
func autogenGradName(y Blob) Blob {
	return y + "_autogen_grad"
}

// Device describes the placement of an operator. The zero value is a valid
// placement; a nil *Device on an OpDef means "unplaced" and is resolved by
// whatever assembles the final execution plan.
type Device struct {
	Type    string
	Ordinal int
}

func (d *Device) String() string {
	if d == nil {
		return "<unplaced>"
	}
	return fmt.Sprintf("%s:%d", d.Type, d.Ordinal)
}

// deviceEqual compares two placements, treating nil as its own distinct value.
func deviceEqual(a, b *Device) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// OpDef is the record of one operator: its type, the ordered blobs it reads
// and writes, an optional device placement and opaque attributes.
//
// Forward-pass records handed to NewHistory are treated as immutable -- the
// package only reads them. Gradient records are newly constructed, and the
// accumulation step may rename their outputs in place (see the autosplit
// disambiguation in the backward pass).
type OpDef struct {
	Type    string
	Inputs  []Blob
	Outputs []Blob
	Device  *Device
	Attrs   map[string]any
}

// OpOption configures an OpDef under construction by NewOp.
type OpOption func(*OpDef)

// WithDevice places the operator on the given device.
func WithDevice(d Device) OpOption {
	return func(op *OpDef) {
		op.Device = &d
	}
}

// WithAttr attaches an opaque attribute to the operator.
func WithAttr(key string, value any) OpOption {
	return func(op *OpDef) {
		if op.Attrs == nil {
			op.Attrs = make(map[string]any)
		}
		op.Attrs[key] = value
	}
}

// NewOp constructs an operator record. It panics (with an error) if opType is
// empty -- records without a type cannot be dispatched.
func NewOp(opType string, inputs, outputs []Blob, opts ...OpOption) *OpDef {
	if opType == "" {
		Panicf("NewOp requires a non-empty operator type")
	}
	op := &OpDef{
		Type:    opType,
		Inputs:  inputs,
		Outputs: outputs,
	}
	for _, opt := range opts {
		opt(op)
	}
	return op
}

func (op *OpDef) String() string {
	return fmt.Sprintf("%s(%s) -> (%s)", op.Type, joinBlobs(op.Inputs), joinBlobs(op.Outputs))
}

func joinBlobs(blobs []Blob) string {
	parts := make([]string, len(blobs))
	for ii, b := range blobs {
		parts[ii] = string(b)
	}
	return strings.Join(parts, ", ")
}
