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
	"strings"
	"unsafe"

	"goarrg.com/debug"

	vk "github.com/vulkan-go/vulkan"
)

type BufferUsageFlags vk.BufferUsageFlags

const (
	BufferUsageTransferSrc        BufferUsageFlags = BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	BufferUsageTransferDst        BufferUsageFlags = BufferUsageFlags(vk.BufferUsageTransferDstBit)
	BufferUsageUniformBuffer      BufferUsageFlags = BufferUsageFlags(vk.BufferUsageUniformBufferBit)
	BufferUsageUniformTexelBuffer BufferUsageFlags = BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit)
	BufferUsageStorageBuffer      BufferUsageFlags = BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	BufferUsageStorageTexelBuffer BufferUsageFlags = BufferUsageFlags(vk.BufferUsageStorageTexelBufferBit)
	BufferUsageIndexBuffer        BufferUsageFlags = BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	BufferUsageVertexBuffer       BufferUsageFlags = BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	BufferUsageIndirectBuffer     BufferUsageFlags = BufferUsageFlags(vk.BufferUsageIndirectBufferBit)

	// newer than the bundled headers
	BufferUsageShaderDeviceAddress                      BufferUsageFlags = bufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureBuildInputReadOnly BufferUsageFlags = bufferUsageAccelerationStructureBuildInputReadOnly
)

const (
	bufferUsageShaderDeviceAddress                      = 0x00020000
	bufferUsageAccelerationStructureBuildInputReadOnly = 0x00080000
)

// WholeSize passed as a copy size copies the whole source buffer.
const WholeSize = ^uint64(0)

func (u BufferUsageFlags) HasBits(want BufferUsageFlags) bool {
	return (u & want) == want
}

func (u BufferUsageFlags) String() string {
	str := ""
	if u.HasBits(BufferUsageTransferSrc) {
		str += "TransferSrc|"
	}
	if u.HasBits(BufferUsageTransferDst) {
		str += "TransferDst|"
	}
	if u.HasBits(BufferUsageUniformBuffer) {
		str += "UniformBuffer|"
	}
	if u.HasBits(BufferUsageUniformTexelBuffer) {
		str += "UniformTexelBuffer|"
	}
	if u.HasBits(BufferUsageStorageBuffer) {
		str += "StorageBuffer|"
	}
	if u.HasBits(BufferUsageStorageTexelBuffer) {
		str += "StorageTexelBuffer|"
	}
	if u.HasBits(BufferUsageIndexBuffer) {
		str += "IndexBuffer|"
	}
	if u.HasBits(BufferUsageVertexBuffer) {
		str += "VertexBuffer|"
	}
	if u.HasBits(BufferUsageIndirectBuffer) {
		str += "IndirectBuffer|"
	}
	if u.HasBits(BufferUsageShaderDeviceAddress) {
		str += "ShaderDeviceAddress|"
	}
	if u.HasBits(BufferUsageAccelerationStructureBuildInputReadOnly) {
		str += "AccelerationStructureBuildInputReadOnly|"
	}
	return strings.TrimSuffix(str, "|")
}

type Buffer struct {
	noCopy      noCopy
	ctx         *DeviceContext
	vkBuffer    vk.Buffer
	allocation  *Allocation
	size        uint64
	usageFlags  BufferUsageFlags
	sharingMode vk.SharingMode
	isStaging   bool
}

// CreateBuffer creates a buffer with its own memory. Staging buffers are host
// visible and can be written with UploadBuffer, everything else is device
// local. TransferSrc and TransferDst are always added to usage.
func CreateBuffer(ctx *DeviceContext, size uint64, usage BufferUsageFlags, isStaging bool) (*Buffer, error) {
	ctx.noCopy.check()
	if size == 0 {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Buffer size must be > 0")
	}

	usage |= BufferUsageTransferSrc | BufferUsageTransferDst
	if ctx.config.bufferDeviceAddress {
		usage |= BufferUsageShaderDeviceAddress | BufferUsageAccelerationStructureBuildInputReadOnly
	}

	memUsage := MemoryUsageDeviceLocal
	if isStaging {
		memUsage = MemoryUsageStaging
	}

	b := &Buffer{
		ctx:         ctx,
		size:        size,
		usageFlags:  usage,
		sharingMode: vk.SharingModeExclusive,
		isStaging:   isStaging,
	}

	var err error
	b.vkBuffer, b.allocation, err = ctx.allocator.CreateBuffer(&vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: b.sharingMode,
	}, memUsage)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create buffer with size [%d] and usage [%s]", size, usage)
	}

	b.noCopy.init()
	instance.logger.VPrintf("Created buffer %s", genID(b.vkBuffer, size, usage, memUsage))
	return b, nil
}

func (b *Buffer) Size() uint64 {
	b.noCopy.check()
	return b.size
}

func (b *Buffer) Usage() BufferUsageFlags {
	b.noCopy.check()
	return b.usageFlags
}

func (b *Buffer) IsStaging() bool {
	b.noCopy.check()
	return b.isStaging
}

func (b *Buffer) SharingMode() vk.SharingMode {
	b.noCopy.check()
	return b.sharingMode
}

func (b *Buffer) VkBuffer() vk.Buffer {
	b.noCopy.check()
	return b.vkBuffer
}

// mapRange maps a staging buffer and calls f with the n bytes at offset.
func (b *Buffer) mapRange(offset uintptr, n int, f func([]byte)) error {
	if !b.isStaging {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "Buffer %s is not a staging buffer", genID(b.vkBuffer))
	}
	if uint64(offset)+uint64(n) > b.size {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "Accessing [%d] bytes at offset [%d] will overflow buffer of size [%d]",
			n, offset, b.size)
	}
	if n == 0 {
		return nil
	}

	ptr, err := b.ctx.allocator.Map(b.allocation)
	if err != nil {
		return err
	}
	f(unsafe.Slice((*byte)(unsafe.Add(ptr, offset)), n))
	b.ctx.allocator.Unmap(b.allocation)
	return nil
}

func (b *Buffer) write(offset uintptr, data []byte) error {
	return b.mapRange(offset, len(data), func(mapped []byte) { copy(mapped, data) })
}

// HostWrite copies data into a staging buffer at offset and aborts on failure.
func (b *Buffer) HostWrite(offset uintptr, data []byte) {
	b.noCopy.check()
	if err := b.write(offset, data); err != nil {
		abort("HostWrite(%d, len(data): %d) failed: %s", offset, len(data), err)
	}
}

// HostRead copies len(data) bytes at offset of a staging buffer into data and
// aborts on failure.
func (b *Buffer) HostRead(offset uintptr, data []byte) {
	b.noCopy.check()
	if err := b.mapRange(offset, len(data), func(mapped []byte) { copy(data, mapped) }); err != nil {
		abort("HostRead(%d, len(data): %d) failed: %s", offset, len(data), err)
	}
}

func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.noCopy.check()
	b.ctx.allocator.DestroyBuffer(b.vkBuffer, b.allocation)
	b.vkBuffer = vk.NullBuffer
	b.allocation = nil
	b.noCopy.close()
}

func (b *Buffer) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"vkBuffer\": %q,", toHex(b.vkBuffer)))
	buff.WriteString(fmt.Sprintf("\"size\": %d,", b.size))
	buff.WriteString(fmt.Sprintf("\"usage\": %q,", b.usageFlags.String()))
	buff.WriteString(fmt.Sprintf("\"isStaging\": %t", b.isStaging))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

// UploadBuffer copies data to the start of a staging buffer. The buffer must
// be a staging buffer at least len(data) in size, otherwise an error wrapping
// ErrorInvalidArgument is returned and nothing is written.
func UploadBuffer(buffer *Buffer, data []byte) error {
	buffer.noCopy.check()
	if err := buffer.write(0, data); err != nil {
		return debug.ErrorWrapf(err, "Failed to upload [%d] bytes", len(data))
	}
	return nil
}

// CopyBuffer records a copy of size bytes from the start of src to dstOffset
// in dst and blocks until the gpu finishes it.
func CopyBuffer(src, dst *Buffer, size, dstOffset uint64) error {
	src.noCopy.check()
	dst.noCopy.check()

	if size == WholeSize {
		size = src.size
	}
	if size > src.size || dstOffset > dst.size || size > dst.size-dstOffset {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "Copy of [%d] bytes to offset [%d] does not fit src [%d] / dst [%d]",
			size, dstOffset, src.size, dst.size)
	}

	cb, err := src.ctx.GetCommandBuffer()
	if err != nil {
		return err
	}
	cb.CopyBuffer(src, dst, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
	return src.ctx.SubmitAndWait(cb)
}

// CopyBufferToTexture copies a tightly packed buffer into mip 0 layer 0 of
// texture and leaves it in ShaderReadOnlyOptimal.
func CopyBufferToTexture(buffer *Buffer, texture *Texture) error {
	buffer.noCopy.check()
	texture.noCopy.check()

	need := uint64(texture.extent.X) * uint64(texture.extent.Y) * uint64(texture.extent.Z) * uint64(texture.format.Size())
	if buffer.size < need {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "Buffer of [%d] bytes is smaller than the [%d] bytes of %s texture %v",
			buffer.size, need, texture.format, texture.extent)
	}

	cb, err := buffer.ctx.GetCommandBuffer()
	if err != nil {
		return err
	}

	subresource := vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}

	cb.PipelineBarrier(
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		[]vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       0,
			DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			OldLayout:           vk.ImageLayoutUndefined,
			NewLayout:           vk.ImageLayoutTransferDstOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               texture.vkImage,
			SubresourceRange:    subresource,
		}},
	)

	cb.CopyBufferToImage(buffer, texture, vk.ImageLayoutTransferDstOptimal, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{},
		ImageExtent: vk.Extent3D{
			Width:  uint32(texture.extent.X),
			Height: uint32(texture.extent.Y),
			Depth:  uint32(texture.extent.Z),
		},
	}})

	cb.PipelineBarrier(
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		[]vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessShaderReadBit),
			OldLayout:           vk.ImageLayoutTransferDstOptimal,
			NewLayout:           vk.ImageLayoutShaderReadOnlyOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               texture.vkImage,
			SubresourceRange:    subresource,
		}},
	)

	return buffer.ctx.SubmitAndWait(cb)
}
