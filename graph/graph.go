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

// Package graph derives backward passes for recorded operator sequences.
//
// A forward pass is a flat list of operator records (OpDef) reading and
// writing named data cells ("blobs") in a mutable namespace: the same blob
// name may be overwritten many times. Given such a sequence and a set of
// target blobs, the package computes the reverse sequence of operator records
// that produces the gradients of the targets with respect to every blob the
// gradient reaches, inserting accumulation operators wherever gradients flow
// in from multiple paths.
//
// The main elements in the package are:
//
//   - OpDef: the record of one operator -- type, ordered input and output
//     blobs, optional device placement and opaque attributes. The package
//     never executes operators and never sees tensor values; it only rewrites
//     records.
//
//   - History: the SSA view of a forward sequence, built by NewHistory. Each
//     write to a blob bumps its version, so the repeatedly-mutated namespace
//     becomes a version-annotated history. History also answers the
//     dependency-slicing queries (UndefinedBlobs, OpIndicesInPath) that other
//     tooling builds on.
//
//   - Gradient: a tagged value that is either empty, dense (one blob), or
//     sparse -- an (indices, values) pair covering a subset of rows.
//
//   - Registry: resolves per-operator-type gradient rules, native builtin
//     rules first, caller-registered rules (Register) second, and drives the
//     construction: Registry.BackwardPass walks the history last-to-first,
//     validating every reference against the versions live at that point,
//     and emits Sum (dense) or Concat (sparse) accumulations once a blob's
//     consumers are exhausted.
//
// Construction either completes deterministically or fails: every
// inconsistency (unregistered operator type, version mismatch, mixed
// sparse/dense contributions, ...) aborts the whole backward pass, since a
// partially built gradient graph would be unsound.
//
// Everything operates on in-memory records and a single call's confined
// working state; separate calls share nothing and may run concurrently.
package graph
