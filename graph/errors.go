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

	"github.com/pkg/errors"
)

// The errors in this file are all fatal to the backward-pass construction: a
// partially built gradient graph would be unsound, so nothing is ever
// recovered locally. Callers should treat any of them as a hard failure of
// graph compilation, not as a runtime or data error.

// UnregisteredGradientError means no gradient rule -- neither native nor
// caller registered -- exists for an operator type. NativeErr carries the
// reason the native lookup failed.
type UnregisteredGradientError struct {
	OpType    string
	NativeErr error
}

func (e *UnregisteredGradientError) Error() string {
	return fmt.Sprintf("no gradient registered for %q (native lookup: %v)", e.OpType, e.NativeErr)
}

func (e *UnregisteredGradientError) Unwrap() error { return e.NativeErr }

// VersionMismatchError means a gradient operator references a blob whose
// required version does not match the version that is live at that point of
// the reverse walk.
//
// GradientBlob is set when the offending reference was a gradient name: then
// Blob is the forward blob the gradient corresponds to.
type VersionMismatchError struct {
	Blob         Blob
	GradientBlob Blob
	Expected     int
	Actual       int // -1 when no version is tracked at all.
	Op           *OpDef
}

func (e *VersionMismatchError) Error() string {
	if e.GradientBlob != "" {
		return fmt.Sprintf(
			"gradient name %q is expected to correspond to version %d of %q, but currently we have version %d (forward operator %s)",
			e.GradientBlob, e.Expected, e.Blob, e.Actual, e.Op)
	}
	return fmt.Sprintf(
		"gradient operator needs %q at version %d, but currently we have version %d (forward operator %s)",
		e.Blob, e.Expected, e.Actual, e.Op)
}

// UndefinedLocalReferenceError means a gradient operator references a blob
// that is neither a forward blob at a valid version nor produced earlier in
// the same reverse walk.
type UndefinedLocalReferenceError struct {
	Blob Blob
	Op   *OpDef
}

func (e *UndefinedLocalReferenceError) Error() string {
	return fmt.Sprintf(
		"blob %q is not in the scope of forward operator %s and is not generated by any of the local gradient operators",
		e.Blob, e.Op)
}

// HeterogeneousGeneratorsError means both dense and sparse gradient
// contributions were recorded for the same versioned blob. Automatic
// aggregation of a mix of sparse and dense gradients is not supported.
type HeterogeneousGeneratorsError struct {
	Blob Blob
}

func (e *HeterogeneousGeneratorsError) Error() string {
	return fmt.Sprintf("mixed sparse and dense gradients for blob %q are unsupported", e.Blob)
}

// DeviceMismatchError means the gradient operators feeding one accumulation
// disagree on device placement.
type DeviceMismatchError struct {
	Blob Blob
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("gradient operators for blob %q do not all have the same device placement", e.Blob)
}

// NamingCollisionError means a passthrough gradient name collides with the
// name chosen for the synthesized accumulation output. This cannot be
// resolved automatically.
type NamingCollisionError struct {
	Base        Blob
	Passthrough Blob
}

func (e *NamingCollisionError) Error() string {
	return fmt.Sprintf(
		"passthrough gradient %q collides with the accumulation output name %q", e.Passthrough, e.Base)
}

// ErrMalformedTargets is returned by AsTargets for inputs that are neither a
// set of blobs nor a mapping from blob to optional gradient.
var ErrMalformedTargets = errors.New(
	"targets must be a slice of blobs or a map from blob to optional gradient")
