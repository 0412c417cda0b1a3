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
	vk "github.com/vulkan-go/vulkan"
)

// CommandBuffer is a primary command buffer in the recording state. It is
// only valid between DeviceContext.GetCommandBuffer and
// DeviceContext.SubmitAndWait.
type CommandBuffer struct {
	noCopy          noCopy
	ctx             *DeviceContext
	vkCommandBuffer vk.CommandBuffer

	currentRenderPass *RenderPass
	currentSubPass    int
	boundPipeline     *Pipeline
}

func (cb *CommandBuffer) VkCommandBuffer() vk.CommandBuffer {
	cb.noCopy.check()
	return cb.vkCommandBuffer
}

func (cb *CommandBuffer) CopyBuffer(src, dst *Buffer, regions []vk.BufferCopy) {
	cb.noCopy.check()
	src.noCopy.check()
	dst.noCopy.check()

	if cb.currentRenderPass != nil {
		abort("CopyBuffer called inside a renderpass")
	}
	if !src.usageFlags.HasBits(BufferUsageTransferSrc) {
		abort("CopyBuffer source is missing BufferUsageTransferSrc: %s", src.usageFlags)
	}
	if !dst.usageFlags.HasBits(BufferUsageTransferDst) {
		abort("CopyBuffer destination is missing BufferUsageTransferDst: %s", dst.usageFlags)
	}
	cb.ctx.drv.CmdCopyBuffer(cb.vkCommandBuffer, src.vkBuffer, dst.vkBuffer, regions)
}

func (cb *CommandBuffer) CopyBufferToImage(src *Buffer, dst *Texture, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	cb.noCopy.check()
	src.noCopy.check()
	dst.noCopy.check()

	if cb.currentRenderPass != nil {
		abort("CopyBufferToImage called inside a renderpass")
	}
	cb.ctx.drv.CmdCopyBufferToImage(cb.vkCommandBuffer, src.vkBuffer, dst.vkImage, layout, regions)
}

// PipelineBarrier records image layout transitions between src and dst stages.
func (cb *CommandBuffer) PipelineBarrier(src, dst vk.PipelineStageFlags, barriers []vk.ImageMemoryBarrier) {
	cb.noCopy.check()
	cb.ctx.drv.CmdPipelineBarrier(cb.vkCommandBuffer, src, dst, 0, nil, nil, barriers)
}

type BufferBarrier struct {
	Buffer    *Buffer
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// BufferBarrier makes writes to whole buffers visible to later stages.
func (cb *CommandBuffer) BufferBarrier(src, dst vk.PipelineStageFlags, barriers ...BufferBarrier) {
	cb.noCopy.check()

	infos := make([]vk.BufferMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		b.Buffer.noCopy.check()
		infos = append(infos, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.Buffer.vkBuffer,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
	}
	cb.ctx.drv.CmdPipelineBarrier(cb.vkCommandBuffer, src, dst, 0, nil, infos, nil)
}

// ExecutionBarrier waits for src stages before dst stages start with a global
// memory barrier covering all reads and writes.
func (cb *CommandBuffer) ExecutionBarrier(src, dst vk.PipelineStageFlags) {
	cb.noCopy.check()
	cb.ctx.drv.CmdPipelineBarrier(cb.vkCommandBuffer, src, dst, 0, []vk.MemoryBarrier{{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}}, nil, nil)
}

// BindPipeline binds p at the bind point of its kind, descriptor sets and push
// constants recorded afterwards use its layout.
func (cb *CommandBuffer) BindPipeline(p *Pipeline) {
	cb.noCopy.check()
	p.noCopy.check()

	switch p.kind {
	case PipelineKindGraphics:
		if cb.currentRenderPass == nil {
			abort("Binding a graphics pipeline outside a renderpass")
		}
	case PipelineKindCompute:
		if cb.currentRenderPass != nil {
			abort("Binding a compute pipeline inside a renderpass")
		}
	}

	cb.ctx.drv.CmdBindPipeline(cb.vkCommandBuffer, p.kind.vkPipelineBindPoint(), p.vkPipeline)
	cb.boundPipeline = p
}

func (cb *CommandBuffer) pipeline() *Pipeline {
	if cb.boundPipeline == nil {
		abort("No pipeline bound")
	}
	cb.boundPipeline.noCopy.check()
	return cb.boundPipeline
}

func (cb *CommandBuffer) BindDescriptorSets(firstSet uint32, sets ...*DescriptorSet) {
	cb.noCopy.check()
	p := cb.pipeline()

	if err := p.layout.cmdValidate(firstSet, sets); err != nil {
		abort("Failed to validate descriptor sets: %s", err)
	}

	vkSets := make([]vk.DescriptorSet, 0, len(sets))
	for _, s := range sets {
		vkSets = append(vkSets, s.vkDescriptorSet)
	}
	cb.ctx.drv.CmdBindDescriptorSets(cb.vkCommandBuffer, p.kind.vkPipelineBindPoint(), p.layout.vkPipelineLayout, firstSet, vkSets)
}

func (cb *CommandBuffer) PushConstants(stage ShaderStage, offset uint32, data []byte) {
	cb.noCopy.check()
	p := cb.pipeline()

	if len(data) == 0 {
		return
	}
	if err := p.layout.cmdValidatePushConstants(stage, offset, len(data)); err != nil {
		abort("Failed to validate push constants: %s", err)
	}
	cb.ctx.drv.CmdPushConstants(cb.vkCommandBuffer, p.layout.vkPipelineLayout, vk.ShaderStageFlags(stage), offset, data)
}
