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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := MakeSet[int]()
	assert.Equal(t, 0, len(s))
	s.Insert(1, 2, 3)
	assert.True(t, s.Has(2))
	assert.False(t, s.Has(4))

	s2 := SetWith(1, 2, 3)
	assert.True(t, s.Equal(s2))
	s2.Insert(4)
	assert.False(t, s.Equal(s2))

	sub := s2.Sub(s)
	assert.True(t, sub.Equal(SetWith(4)))
}
