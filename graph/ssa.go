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
	"sort"

	"github.com/gradnet/gradnet/types"
)

// VersionedBlob identifies one specific write-generation of a blob.
type VersionedBlob struct {
	Blob    Blob
	Version int
}

// ssaEntry records the versions a forward operator read and wrote. One per
// replayed operator; the slice index is the position in the forward pass.
type ssaEntry struct {
	op          *OpDef
	inVersions  map[Blob]int
	outVersions map[Blob]int
}

// History is the SSA view of a forward operator sequence: per-operator
// input/output versions, the frontier (latest version of every blob after the
// replay), and the input-usage table mapping each versioned blob to the
// operator indices that consumed it.
//
// A History is built once by NewHistory and is read-only afterwards. The
// backward pass never mutates it, so one History can serve multiple
// (sequential or concurrent) backward-pass constructions over the same
// forward sequence -- each of those keeps its own working state.
type History struct {
	ssa      []ssaEntry
	frontier map[Blob]int
	usages   map[VersionedBlob][]int
}

// NewHistory replays the forward operator sequence and returns its SSA
// history. Replay is pure bookkeeping and cannot fail: inputs never written
// before default to version 0, and every write bumps the blob's version.
func NewHistory(ops []*OpDef) *History {
	h := &History{
		frontier: make(map[Blob]int),
		usages:   make(map[VersionedBlob][]int),
	}
	h.ssa = make([]ssaEntry, 0, len(ops))
	for _, op := range ops {
		h.play(op)
	}
	return h
}

// play appends one operator to the history, advancing the frontier.
func (h *History) play(op *OpDef) {
	opIdx := len(h.ssa)
	inVersions := make(map[Blob]int, len(op.Inputs))
	for _, b := range op.Inputs {
		v, seen := h.frontier[b]
		if !seen {
			// First reference: an external/undefined input at version 0.
			h.frontier[b] = 0
		}
		inVersions[b] = v
		key := VersionedBlob{b, v}
		h.usages[key] = append(h.usages[key], opIdx)
	}
	outVersions := make(map[Blob]int, len(op.Outputs))
	for _, b := range op.Outputs {
		if _, seen := h.frontier[b]; seen {
			h.frontier[b]++
		} else {
			h.frontier[b] = 0
		}
		outVersions[b] = h.frontier[b]
	}
	h.ssa = append(h.ssa, ssaEntry{op: op, inVersions: inVersions, outVersions: outVersions})
}

// Len returns the number of replayed operators.
func (h *History) Len() int { return len(h.ssa) }

// Op returns the forward operator record at index i.
func (h *History) Op(i int) *OpDef { return h.ssa[i].op }

// InputVersion returns the version of blob b that operator i read. ok is
// false if b is not an input of that operator.
func (h *History) InputVersion(i int, b Blob) (version int, ok bool) {
	version, ok = h.ssa[i].inVersions[b]
	return
}

// OutputVersion returns the version of blob b that operator i wrote. ok is
// false if b is not an output of that operator.
func (h *History) OutputVersion(i int, b Blob) (version int, ok bool) {
	version, ok = h.ssa[i].outVersions[b]
	return
}

// FrontierVersion returns the latest version of blob b after the full replay.
// ok is false if the blob never appeared in the forward sequence.
func (h *History) FrontierVersion(b Blob) (version int, ok bool) {
	version, ok = h.frontier[b]
	return
}

// Usages returns the forward-operator indices that consumed the exact
// (blob, version) pair, in forward order. Operators reading the same blob
// twice appear twice.
func (h *History) Usages(b Blob, version int) []int {
	return h.usages[VersionedBlob{b, version}]
}

// OutputProducers returns, for every versioned blob written during the
// replay, the index of the operator that produced it.
func (h *History) OutputProducers() map[VersionedBlob]int {
	producers := make(map[VersionedBlob]int)
	for i, e := range h.ssa {
		for b, v := range e.outVersions {
			producers[VersionedBlob{b, v}] = i
		}
	}
	return producers
}

// UndefinedBlobs returns the blobs that are consumed before any operator
// writes them: their first reference is as version 0 with no producer. These
// are the external inputs the replay requires; everything else is an internal
// temporary.
func (h *History) UndefinedBlobs() types.Set[Blob] {
	producers := h.OutputProducers()
	undefined := types.MakeSet[Blob]()
	for _, e := range h.ssa {
		for b, v := range e.inVersions {
			if v != 0 {
				continue
			}
			if _, produced := producers[VersionedBlob{b, 0}]; !produced {
				undefined.Insert(b)
			}
		}
	}
	return undefined
}

// OpIndicesInPath returns the sorted indices of the operators needed to
// produce the `outputs` blobs given that the `inputs` blobs are available --
// both taken at their latest (frontier) version. This dependency-slicing
// query is independent of the differentiation machinery.
func (h *History) OpIndicesInPath(inputs, outputs []Blob) []int {
	available := types.MakeSet[VersionedBlob]()
	for _, b := range inputs {
		available.Insert(VersionedBlob{b, h.frontier[b]})
	}
	producers := h.OutputProducers()
	queue := make([]VersionedBlob, 0, len(outputs))
	for _, b := range outputs {
		queue = append(queue, VersionedBlob{b, h.frontier[b]})
	}
	used := types.MakeSet[int]()
	for len(queue) > 0 {
		vb := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if available.Has(vb) {
			continue
		}
		opIdx, produced := producers[vb]
		if !produced || used.Has(opIdx) {
			continue
		}
		used.Insert(opIdx)
		for b, v := range h.ssa[opIdx].inVersions {
			queue = append(queue, VersionedBlob{b, v})
		}
	}
	indices := make([]int, 0, len(used))
	for opIdx := range used {
		indices = append(indices, opIdx)
	}
	sort.Ints(indices)
	return indices
}
