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

	. "github.com/gomlx/exceptions"
)

// GradientKind distinguishes the three shapes a gradient value can take.
type GradientKind int

//go:generate go tool enumer -type=GradientKind -trimprefix=Gradient -output=gen_gradientkind_enumer.go gradient.go

const (
	// GradientEmpty means no gradient flows to the blob.
	GradientEmpty GradientKind = iota

	// GradientDense is a single blob holding a full gradient tensor.
	GradientDense

	// GradientSparse is an (indices, values) pair of blobs -- a gradient
	// expressed over a subset of rows of the original tensor.
	GradientSparse
)

// Gradient is a tagged value: either empty, a dense blob, or a sparse
// (indices, values) pair of blobs. The zero value is the empty gradient.
//
// Gradient is comparable: two gradients are equal iff they have the same kind
// and name the same blobs. This identity is what ties the two halves of a
// sparse gradient produced by different operators back together.
type Gradient struct {
	kind            GradientKind
	dense           Blob
	indices, values Blob
}

// NoGradient returns the empty gradient.
func NoGradient() Gradient {
	return Gradient{}
}

// DenseGradient returns a dense gradient held in blob b.
func DenseGradient(b Blob) Gradient {
	return Gradient{kind: GradientDense, dense: b}
}

// SparseGradient returns a sparse gradient, a pair of blobs holding the
// indices and the corresponding value rows.
func SparseGradient(indices, values Blob) Gradient {
	return Gradient{kind: GradientSparse, indices: indices, values: values}
}

// Kind returns which of the three variants this gradient is.
func (g Gradient) Kind() GradientKind { return g.kind }

// IsEmpty reports whether no gradient flows.
func (g Gradient) IsEmpty() bool { return g.kind == GradientEmpty }

// IsDense reports whether the gradient is a single dense blob.
func (g Gradient) IsDense() bool { return g.kind == GradientDense }

// IsSparse reports whether the gradient is an (indices, values) pair.
func (g Gradient) IsSparse() bool { return g.kind == GradientSparse }

// Dense returns the blob holding the dense gradient. It panics (with an
// error) on any other kind.
func (g Gradient) Dense() Blob {
	if g.kind != GradientDense {
		Panicf("Gradient.Dense() called on a %s gradient", g.kind)
	}
	return g.dense
}

// Indices returns the indices blob of a sparse gradient. It panics (with an
// error) on any other kind.
func (g Gradient) Indices() Blob {
	if g.kind != GradientSparse {
		Panicf("Gradient.Indices() called on a %s gradient", g.kind)
	}
	return g.indices
}

// Values returns the values blob of a sparse gradient. It panics (with an
// error) on any other kind.
func (g Gradient) Values() Blob {
	if g.kind != GradientSparse {
		Panicf("Gradient.Values() called on a %s gradient", g.kind)
	}
	return g.values
}

func (g Gradient) String() string {
	switch g.kind {
	case GradientEmpty:
		return "<no gradient>"
	case GradientDense:
		return string(g.dense)
	case GradientSparse:
		return fmt.Sprintf("(indices=%s, values=%s)", g.indices, g.values)
	}
	return fmt.Sprintf("Gradient(kind=%d)", int(g.kind))
}

// gradientIndexMap maps every blob named by the given gradients to the index
// of its gradient in the slice. First mention wins. It keeps the backward
// pass liveness and output matching O(1) per reference.
func gradientIndexMap(gradients []Gradient) map[Blob]int {
	index := make(map[Blob]int, len(gradients))
	record := func(b Blob, ii int) {
		if _, found := index[b]; !found {
			index[b] = ii
		}
	}
	for ii, g := range gradients {
		switch g.kind {
		case GradientEmpty:
			// Nothing to index.
		case GradientDense:
			record(g.dense, ii)
		case GradientSparse:
			record(g.indices, ii)
			record(g.values, ii)
		}
	}
	return index
}
