/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package managed

import (
	"goarrg.com/rhi/vkm"
	"goarrg.com/rhi/vkm/internal/container"
	"goarrg.com/rhi/vkm/internal/util"
)

type binder interface {
	MaxDescriptorCount(binding int) int
	Bind(bindingIndex, descriptorIndex int, descriptors ...vkm.DescriptorInfo)
}

// descriptorArray hands out slots of one array binding, reusing freed slots
// before growing.
type descriptorArray[Key comparable] struct {
	noCopy    util.NoCopy
	set       binder
	binding   int
	next      int
	freeSlots container.Stack[int]
	slots     map[Key]int
}

func newDescriptorArray[Key comparable](set binder, binding int) descriptorArray[Key] {
	return descriptorArray[Key]{
		set:     set,
		binding: binding,
		slots:   map[Key]int{},
	}
}

func (d *descriptorArray[Key]) push(key Key, info vkm.DescriptorInfo) int {
	d.noCopy.Check()
	if i, found := d.slots[key]; found {
		return i
	}

	var i int
	if d.freeSlots.Empty() {
		if d.next >= d.set.MaxDescriptorCount(d.binding) {
			abort("Descriptor array binding [%d] is full with [%d] descriptors", d.binding, d.next)
		}
		i = d.next
		d.next++
	} else {
		i = d.freeSlots.Pop()
	}

	d.slots[key] = i
	d.set.Bind(d.binding, i, info)
	instance.logger.VPrintf("Binding [%d] slot [%d] filled", d.binding, i)
	return i
}

/*
Pop marks the slot holding target as free. The stale descriptor stays bound
until the slot is reused, so callers must not index it after Pop.
*/
func (d *descriptorArray[Key]) Pop(target Key) {
	d.noCopy.Check()
	i, found := d.slots[target]
	if !found {
		return
	}
	delete(d.slots, target)
	d.freeSlots.Push(i)
}

// Lookup returns the slot holding target.
func (d *descriptorArray[Key]) Lookup(target Key) (int, bool) {
	d.noCopy.Check()
	i, found := d.slots[target]
	return i, found
}

// Len returns the number of occupied slots.
func (d *descriptorArray[Key]) Len() int {
	d.noCopy.Check()
	return len(d.slots)
}

/*
DescriptorArrayBuffer manages inserting and removing Buffers from a descriptor array,
it is the user's responsibility to handle sync.
*/
type DescriptorArrayBuffer struct {
	descriptorArray[*vkm.Buffer]
}

func NewDescriptorArrayBuffer(set *vkm.DescriptorSet, binding int) *DescriptorArrayBuffer {
	ret := &DescriptorArrayBuffer{
		descriptorArray: newDescriptorArray[*vkm.Buffer](set, binding),
	}
	ret.noCopy.Init()
	return ret
}

func (d *DescriptorArrayBuffer) Push(info vkm.DescriptorBufferInfo) int {
	return d.push(info.Buffer, info)
}

/*
DescriptorArrayImage manages inserting and removing Textures from a sampled or storage image array,
it is the user's responsibility to handle sync and layout changes.
*/
type DescriptorArrayImage struct {
	descriptorArray[*vkm.Texture]
}

func NewDescriptorArrayImage(set *vkm.DescriptorSet, binding int) *DescriptorArrayImage {
	ret := &DescriptorArrayImage{
		descriptorArray: newDescriptorArray[*vkm.Texture](set, binding),
	}
	ret.noCopy.Init()
	return ret
}

func (d *DescriptorArrayImage) Push(info vkm.DescriptorImageInfo) int {
	return d.push(info.Texture, info)
}
