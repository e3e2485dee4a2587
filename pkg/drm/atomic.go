// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package drm

import "sort"

// AtomicProperty is one (object, property, value) triple of an atomic
// request.
type AtomicProperty struct {
	ObjectID   uint32
	PropertyID uint32
	Value      uint64
}

// AtomicReq accumulates property changes for a single atomic commit.
// Like libdrm's drmModeAtomicReq, a later assignment to the same object
// property overrides an earlier one.
type AtomicReq struct {
	items []AtomicProperty
}

// NewAtomicReq returns an empty request.
func NewAtomicReq() *AtomicReq {
	return &AtomicReq{}
}

// Add appends a property assignment.
func (r *AtomicReq) Add(objectID, propertyID uint32, value uint64) {
	r.items = append(r.items, AtomicProperty{
		ObjectID:   objectID,
		PropertyID: propertyID,
		Value:      value,
	})
}

// Merge appends all assignments of other after the ones already in r.
func (r *AtomicReq) Merge(other *AtomicReq) {
	if other == nil {
		return
	}

	r.items = append(r.items, other.items...)
}

// Clone returns an independent copy of the request.
func (r *AtomicReq) Clone() *AtomicReq {
	c := &AtomicReq{items: make([]AtomicProperty, len(r.items))}
	copy(c.items, r.items)

	return c
}

// Len returns the number of raw assignments, duplicates included.
func (r *AtomicReq) Len() int {
	return len(r.items)
}

// Items returns the effective assignments sorted by object and property,
// with duplicates resolved in favour of the last one added.
func (r *AtomicReq) Items() []AtomicProperty {
	sorted := make([]AtomicProperty, len(r.items))
	copy(sorted, r.items)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ObjectID != sorted[j].ObjectID {
			return sorted[i].ObjectID < sorted[j].ObjectID
		}

		return sorted[i].PropertyID < sorted[j].PropertyID
	})

	out := sorted[:0]

	for _, it := range sorted {
		if n := len(out); n > 0 && out[n-1].ObjectID == it.ObjectID && out[n-1].PropertyID == it.PropertyID {
			out[n-1] = it
			continue
		}

		out = append(out, it)
	}

	return out
}

// Value looks up the effective value of an object property.
func (r *AtomicReq) Value(objectID, propertyID uint32) (uint64, bool) {
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].ObjectID == objectID && r.items[i].PropertyID == propertyID {
			return r.items[i].Value, true
		}
	}

	return 0, false
}

// arrays converts the request to the four parallel arrays
// DRM_IOCTL_MODE_ATOMIC takes.
func (r *AtomicReq) arrays() (objs, counts, props []uint32, values []uint64) {
	for _, it := range r.Items() {
		if n := len(objs); n == 0 || objs[n-1] != it.ObjectID {
			objs = append(objs, it.ObjectID)
			counts = append(counts, 0)
		}

		counts[len(counts)-1]++
		props = append(props, it.PropertyID)
		values = append(values, it.Value)
	}

	return objs, counts, props, values
}
