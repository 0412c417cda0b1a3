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

type IndexType vk.IndexType

const (
	IndexTypeUint16 IndexType = IndexType(vk.IndexTypeUint16)
	IndexTypeUint32 IndexType = IndexType(vk.IndexTypeUint32)
)

func (t IndexType) String() string {
	switch t {
	case IndexTypeUint16:
		return "Uint16"
	case IndexTypeUint32:
		return "Uint32"

	default:
		abort("Unknown IndexType: %d", t)
	}

	return ""
}

func (t IndexType) Size() uint32 {
	if t == IndexTypeUint16 {
		return 2
	}
	return 4
}

// BeginRenderPass begins subpass 0 of rp on fb with inline contents. clears
// needs one value per attachment, see ClearValues.
func (cb *CommandBuffer) BeginRenderPass(rp *RenderPass, fb *FrameBuffer, area vk.Rect2D, clears []vk.ClearValue) {
	cb.noCopy.check()
	rp.noCopy.check()
	fb.noCopy.check()

	if cb.currentRenderPass != nil {
		abort("BeginRenderPass called inside a renderpass")
	}
	if len(clears) != len(rp.attachments) {
		abort("BeginRenderPass given %d clear values for %d attachments", len(clears), len(rp.attachments))
	}

	cb.ctx.drv.CmdBeginRenderPass(cb.vkCommandBuffer, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.vkRenderPass,
		Framebuffer:     fb.vkFramebuffer,
		RenderArea:      area,
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	})
	cb.currentRenderPass = rp
	cb.currentSubPass = 0
	cb.boundPipeline = nil
}

func (cb *CommandBuffer) NextSubpass() {
	cb.noCopy.check()
	if cb.currentRenderPass == nil {
		abort("NextSubpass called outside a renderpass")
	}
	if cb.currentSubPass+1 >= cb.currentRenderPass.subPassCount {
		abort("NextSubpass called on the last subpass [%d]", cb.currentSubPass)
	}
	cb.ctx.drv.CmdNextSubpass(cb.vkCommandBuffer)
	cb.currentSubPass++
	cb.boundPipeline = nil
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.noCopy.check()
	if cb.currentRenderPass == nil {
		abort("EndRenderPass called outside a renderpass")
	}
	cb.ctx.drv.CmdEndRenderPass(cb.vkCommandBuffer)
	cb.currentRenderPass = nil
	cb.currentSubPass = 0
	cb.boundPipeline = nil
}

func (cb *CommandBuffer) SetViewport(viewport vk.Viewport) {
	cb.noCopy.check()
	cb.ctx.drv.CmdSetViewport(cb.vkCommandBuffer, []vk.Viewport{viewport})
}

func (cb *CommandBuffer) SetScissor(rect vk.Rect2D) {
	cb.noCopy.check()
	cb.ctx.drv.CmdSetScissor(cb.vkCommandBuffer, []vk.Rect2D{rect})
}

// BindVertexBuffers binds buffers to consecutive vertex bindings starting at
// firstBinding, offsets may be nil.
func (cb *CommandBuffer) BindVertexBuffers(firstBinding uint32, buffers []*Buffer, offsets []uint64) {
	cb.noCopy.check()

	if offsets != nil && len(offsets) != len(buffers) {
		abort("BindVertexBuffers given %d offsets for %d buffers", len(offsets), len(buffers))
	}

	vkBuffers := make([]vk.Buffer, 0, len(buffers))
	vkOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		b.noCopy.check()
		if !b.usageFlags.HasBits(BufferUsageVertexBuffer) {
			abort("Buffer [%d] is missing BufferUsageVertexBuffer: %s", i, b.usageFlags)
		}
		vkBuffers = append(vkBuffers, b.vkBuffer)
		if offsets != nil {
			vkOffsets[i] = vk.DeviceSize(offsets[i])
		}
	}
	cb.ctx.drv.CmdBindVertexBuffers(cb.vkCommandBuffer, firstBinding, vkBuffers, vkOffsets)
}

func (cb *CommandBuffer) BindIndexBuffer(buffer *Buffer, offset uint64, indexType IndexType) {
	cb.noCopy.check()
	buffer.noCopy.check()

	if !buffer.usageFlags.HasBits(BufferUsageIndexBuffer) {
		abort("Buffer is missing BufferUsageIndexBuffer: %s", buffer.usageFlags)
	}
	if offset%uint64(indexType.Size()) != 0 {
		abort("Index buffer offset [%d] is not a multiple of %s", offset, indexType)
	}
	cb.ctx.drv.CmdBindIndexBuffer(cb.vkCommandBuffer, buffer.vkBuffer, vk.DeviceSize(offset), vk.IndexType(indexType))
}

func (cb *CommandBuffer) validateDraw() {
	if cb.currentRenderPass == nil {
		abort("Draw called outside a renderpass")
	}
	if p := cb.pipeline(); p.kind != PipelineKindGraphics {
		abort("Draw called with a %s pipeline bound", p.kind)
	}
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.noCopy.check()
	cb.validateDraw()
	cb.ctx.drv.CmdDraw(cb.vkCommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (cb *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	cb.noCopy.check()
	cb.validateDraw()
	cb.ctx.drv.CmdDrawIndexed(cb.vkCommandBuffer, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
