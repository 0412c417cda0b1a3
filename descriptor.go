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

package vkm

import (
	"bytes"
	"fmt"

	"goarrg.com/rhi/vkm/internal/container"

	vk "github.com/vulkan-go/vulkan"
)

type DescriptorType vk.DescriptorType

const (
	DescriptorTypeSampler              DescriptorType = DescriptorType(vk.DescriptorTypeSampler)
	DescriptorTypeCombinedImageSampler DescriptorType = DescriptorType(vk.DescriptorTypeCombinedImageSampler)
	DescriptorTypeSampledImage         DescriptorType = DescriptorType(vk.DescriptorTypeSampledImage)
	DescriptorTypeStorageImage         DescriptorType = DescriptorType(vk.DescriptorTypeStorageImage)
	DescriptorTypeUniformTexelBuffer   DescriptorType = DescriptorType(vk.DescriptorTypeUniformTexelBuffer)
	DescriptorTypeStorageTexelBuffer   DescriptorType = DescriptorType(vk.DescriptorTypeStorageTexelBuffer)
	DescriptorTypeUniformBuffer        DescriptorType = DescriptorType(vk.DescriptorTypeUniformBuffer)
	DescriptorTypeStorageBuffer        DescriptorType = DescriptorType(vk.DescriptorTypeStorageBuffer)
	DescriptorTypeInputAttachment      DescriptorType = DescriptorType(vk.DescriptorTypeInputAttachment)
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeUniformBuffer:
		return "UniformBuffer"
	case DescriptorTypeUniformTexelBuffer:
		return "UniformTexelBuffer"

	case DescriptorTypeStorageBuffer:
		return "StorageBuffer"
	case DescriptorTypeStorageTexelBuffer:
		return "StorageTexelBuffer"

	case DescriptorTypeStorageImage:
		return "StorageImage"

	case DescriptorTypeCombinedImageSampler:
		return "CombinedImageSampler"

	case DescriptorTypeSampledImage:
		return "SampledImage"
	case DescriptorTypeSampler:
		return "Sampler"

	case DescriptorTypeInputAttachment:
		return "InputAttachment"

	default:
		abort("Unknown DescriptorType: %d", t)
	}

	return ""
}

type DescriptorInfo interface {
	isDescriptorInfo()
}

// DescriptorBufferInfo binds Range bytes of Buffer from Offset, a Range of 0
// binds the rest of the buffer.
type DescriptorBufferInfo struct {
	Buffer *Buffer
	Offset uint64
	Range  uint64
}

func (d DescriptorBufferInfo) isDescriptorInfo() {}

func (d DescriptorBufferInfo) vkDescriptorBufferInfo() vk.DescriptorBufferInfo {
	d.Buffer.noCopy.check()
	r := vk.DeviceSize(vk.WholeSize)
	if d.Range > 0 {
		r = vk.DeviceSize(d.Range)
	}
	return vk.DescriptorBufferInfo{
		Buffer: d.Buffer.vkBuffer,
		Offset: vk.DeviceSize(d.Offset),
		Range:  r,
	}
}

// DescriptorImageInfo binds a texture as a sampled, storage or input
// attachment image.
type DescriptorImageInfo struct {
	Texture *Texture
	Layout  vk.ImageLayout
}

func (d DescriptorImageInfo) isDescriptorInfo() {}

func (d DescriptorImageInfo) vkDescriptorImageInfo() vk.DescriptorImageInfo {
	d.Texture.noCopy.check()
	return vk.DescriptorImageInfo{
		ImageView:   d.Texture.vkImageView,
		ImageLayout: d.Layout,
	}
}

type DescriptorCombinedImageSamplerInfo struct {
	Sampler *Sampler
	Texture *Texture
	Layout  vk.ImageLayout
}

func (d DescriptorCombinedImageSamplerInfo) isDescriptorInfo() {
}

func (d DescriptorCombinedImageSamplerInfo) vkDescriptorImageInfo() vk.DescriptorImageInfo {
	d.Sampler.noCopy.check()
	d.Texture.noCopy.check()
	return vk.DescriptorImageInfo{
		Sampler:     d.Sampler.vkSampler,
		ImageView:   d.Texture.vkImageView,
		ImageLayout: d.Layout,
	}
}

// DescriptorAllocator owns the pool sets of one descriptor set layout are
// allocated from. It is not safe for concurrent use.
type DescriptorAllocator struct {
	noCopy           noCopy
	ctx              *DeviceContext
	set              uint32
	layout           *descriptorSetLayout
	vkDescriptorPool vk.DescriptorPool
	poolSizes        []vk.DescriptorPoolSize
	len              uint32
	cap              uint32
	freeSets         container.Stack[vk.DescriptorSet]
}

func newDescriptorAllocator(ctx *DeviceContext, set uint32, layout *descriptorSetLayout) (*DescriptorAllocator, error) {
	a := &DescriptorAllocator{
		ctx:    ctx,
		set:    set,
		layout: layout,
		cap:    ctx.config.descriptorPoolMaxSets,
	}

	for _, b := range layout.bindings {
		a.poolSizes = append(a.poolSizes, vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(b.Type),
			DescriptorCount: b.Count + ctx.config.descriptorCountSlack,
		})
	}

	pool, ret := ctx.drv.CreateDescriptorPool(&vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       a.cap,
		PoolSizeCount: uint32(len(a.poolSizes)),
		PPoolSizes:    a.poolSizes,
	})
	if err := vkResult(ret, "Failed to create descriptor pool for %s", layout.name); err != nil {
		return nil, err
	}
	a.vkDescriptorPool = pool
	a.noCopy.init()
	return a, nil
}

func (a *DescriptorAllocator) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	{
		buff.WriteString(fmt.Sprintf("\"set\": %d,", a.set))
		buff.WriteString(fmt.Sprintf("\"layout\": %s,", jsonString(a.layout)))
		buff.WriteString(fmt.Sprintf("\"vkDescriptorPool\": %q,", toHex(a.vkDescriptorPool)))
		buff.WriteString(fmt.Sprintf("\"len\": %d,", a.len))
		buff.WriteString(fmt.Sprintf("\"cap\": %d,", a.cap))
	}

	{
		buff.WriteString("\"poolSizes\": [")
		if len(a.poolSizes) > 0 {
			for _, s := range a.poolSizes {
				buff.WriteString(fmt.Sprintf("{\"type\": %q, \"count\": %d},", DescriptorType(s.Type).String(), s.DescriptorCount))
			}
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("],")
	}

	{
		buff.WriteString("\"freeSets\": [")
		sets := a.freeSets.Data()
		if len(sets) > 0 {
			for _, s := range sets {
				buff.WriteString(fmt.Sprintf("%q,", toHex(s)))
			}
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("]")
	}

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (a *DescriptorAllocator) MaxSets() uint32 {
	a.noCopy.check()
	return a.cap
}

func (a *DescriptorAllocator) PoolSizes() []vk.DescriptorPoolSize {
	a.noCopy.check()
	return append([]vk.DescriptorPoolSize(nil), a.poolSizes...)
}

func (a *DescriptorAllocator) Bindings() []DescriptorSetLayoutBinding {
	a.noCopy.check()
	return append([]DescriptorSetLayoutBinding(nil), a.layout.bindings...)
}

func (a *DescriptorAllocator) canAllocate() bool {
	return (!a.freeSets.Empty()) || (a.len < a.cap)
}

// Allocate returns a set recycled from a destroyed DescriptorSet or allocates
// a new one, ErrorPoolExhausted once maxSets sets are alive.
func (a *DescriptorAllocator) Allocate() (*DescriptorSet, error) {
	a.noCopy.check()

	s := &DescriptorSet{
		allocator: a,
	}

	switch {
	case !a.freeSets.Empty():
		s.vkDescriptorSet = a.freeSets.Pop()

	case a.canAllocate():
		set, ret := a.ctx.drv.AllocateDescriptorSet(a.vkDescriptorPool, a.layout.vkDescriptorSetLayout)
		if err := vkResult(ret, "Failed to allocate %s_set_%d", a.layout.name, a.len); err != nil {
			return nil, err
		}
		s.vkDescriptorSet = set
		a.len++

	default:
		return nil, ErrorPoolExhausted{}
	}

	s.noCopy.init()
	return s, nil
}

func (a *DescriptorAllocator) release(set vk.DescriptorSet) {
	a.freeSets.Push(set)
}

func (a *DescriptorAllocator) destroy() {
	a.noCopy.check()
	instance.logger.VPrintf("Destroying descriptor allocator: %s", prettyString(a))
	a.ctx.drv.DestroyDescriptorPool(a.vkDescriptorPool)
	a.vkDescriptorPool = vk.NullDescriptorPool
	a.freeSets.Resize(0)
	a.noCopy.close()
}

type DescriptorSet struct {
	noCopy          noCopy
	allocator       *DescriptorAllocator
	vkDescriptorSet vk.DescriptorSet
}

// MaxDescriptorCount returns the array size of binding as declared by the
// set's layout.
func (s *DescriptorSet) MaxDescriptorCount(binding int) int {
	s.noCopy.check()
	b, ok := s.allocator.layout.binding(uint32(binding))
	if !ok {
		abort("Descriptor set has no binding %d", binding)
	}
	return int(b.Count)
}

func (s *DescriptorSet) VkDescriptorSet() vk.DescriptorSet {
	s.noCopy.check()
	return s.vkDescriptorSet
}

// Bind writes descriptors into consecutive array elements of bindingIndex
// starting at descriptorIndex. All descriptors must be of the same kind.
func (s *DescriptorSet) Bind(bindingIndex, descriptorIndex int, descriptors ...DescriptorInfo) {
	s.noCopy.check()
	s.allocator.noCopy.check()

	if len(descriptors) == 0 {
		return
	}

	binding, ok := s.allocator.layout.binding(uint32(bindingIndex))
	if !ok {
		abort("Trying to bind to binding %d which is not in the layout: %s", bindingIndex, jsonString(s.allocator.layout))
	}
	if descriptorIndex+len(descriptors) > int(binding.Count) {
		abort("Trying to bind %d descriptors at index %d while layout's max is %d", len(descriptors), descriptorIndex, binding.Count)
	}

	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          s.vkDescriptorSet,
		DstBinding:      uint32(bindingIndex),
		DstArrayElement: uint32(descriptorIndex),
		DescriptorCount: uint32(len(descriptors)),
		DescriptorType:  vk.DescriptorType(binding.Type),
	}

	switch descriptors[0].(type) {
	case DescriptorBufferInfo:
		infos := make([]vk.DescriptorBufferInfo, 0, len(descriptors))
		for _, d := range descriptors {
			infos = append(infos, d.(DescriptorBufferInfo).vkDescriptorBufferInfo())
		}
		write.PBufferInfo = infos
	case *Sampler:
		infos := make([]vk.DescriptorImageInfo, 0, len(descriptors))
		for _, d := range descriptors {
			sampler := d.(*Sampler)
			sampler.noCopy.check()
			infos = append(infos, vk.DescriptorImageInfo{Sampler: sampler.vkSampler})
		}
		write.PImageInfo = infos
	case DescriptorImageInfo:
		infos := make([]vk.DescriptorImageInfo, 0, len(descriptors))
		for _, d := range descriptors {
			infos = append(infos, d.(DescriptorImageInfo).vkDescriptorImageInfo())
		}
		write.PImageInfo = infos
	case DescriptorCombinedImageSamplerInfo:
		infos := make([]vk.DescriptorImageInfo, 0, len(descriptors))
		for _, d := range descriptors {
			infos = append(infos, d.(DescriptorCombinedImageSamplerInfo).vkDescriptorImageInfo())
		}
		write.PImageInfo = infos
	default:
		abort("Trying to bind unknown descriptor type: %#v", descriptors[0])
	}

	s.allocator.ctx.drv.UpdateDescriptorSets([]vk.WriteDescriptorSet{write})
}

// Destroy returns the set to its allocator for reuse.
func (s *DescriptorSet) Destroy() {
	if s == nil {
		return
	}
	s.noCopy.check()
	if s.allocator.noCopy.alive() {
		s.allocator.release(s.vkDescriptorSet)
	}
	s.noCopy.close()
}
