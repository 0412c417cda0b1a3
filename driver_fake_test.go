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
	"sync"
	"testing"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// fakeDriver stands in for a device. Handles point at Go memory so they are
// unique and comparable, device memory is a byte slice and buffer copies run
// when they are recorded.
type fakeDriver struct {
	mtx     sync.Mutex
	handles []*uint64

	depthFormats map[vk.Format]bool
	fail         map[string]vk.Result

	live       map[string]int
	created    map[string]int
	memory     map[vk.DeviceMemory][]byte
	bufferMem  map[vk.Buffer]vk.DeviceMemory
	bufferSize map[vk.Buffer]vk.DeviceSize
	mapped     int

	poolInfos         []vk.DescriptorPoolCreateInfo
	setLayoutInfos    []vk.DescriptorSetLayoutCreateInfo
	graphicsPipelines []vk.GraphicsPipelineCreateInfo
	renderPasses      []vk.RenderPassCreateInfo
	imageInfos        []vk.ImageCreateInfo
	writes            []vk.WriteDescriptorSet
	copies            []vk.BufferCopy
	cmds              []string
	barriers          []fakeBarrier
	imageCopies       []vk.BufferImageCopy
	submits           int
	waitIdles         int
	destroyed         bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		depthFormats: map[vk.Format]bool{
			vk.FormatD32Sfloat:       true,
			vk.FormatD24UnormS8Uint:  true,
			vk.FormatD32SfloatS8Uint: true,
		},
		fail:       map[string]vk.Result{},
		live:       map[string]int{},
		created:    map[string]int{},
		memory:     map[vk.DeviceMemory][]byte{},
		bufferMem:  map[vk.Buffer]vk.DeviceMemory{},
		bufferSize: map[vk.Buffer]vk.DeviceSize{},
	}
}

var _ driver = (*fakeDriver)(nil)

// fakeBarrier is one image layout transition recorded by CmdPipelineBarrier.
type fakeBarrier struct {
	srcStage, dstStage   vk.PipelineStageFlags
	srcAccess, dstAccess vk.AccessFlags
	oldLayout, newLayout vk.ImageLayout
	image                vk.Image
}

func (d *fakeDriver) handle(kind string) unsafe.Pointer {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	h := new(uint64)
	d.handles = append(d.handles, h)
	d.live[kind]++
	d.created[kind]++
	return unsafe.Pointer(h)
}

func (d *fakeDriver) release(kind string) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.live[kind]--
}

func (d *fakeDriver) result(call string) vk.Result {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if ret, ok := d.fail[call]; ok {
		return ret
	}
	return vk.Success
}

func (d *fakeDriver) record(cmd string) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.cmds = append(d.cmds, cmd)
}

func (d *fakeDriver) liveCount(kind string) int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.live[kind]
}

func (d *fakeDriver) createdCount(kind string) int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.created[kind]
}

func (d *fakeDriver) bufferData(b vk.Buffer) []byte {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.memory[d.bufferMem[b]]
}

func (d *fakeDriver) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	props := vk.PhysicalDeviceMemoryProperties{MemoryTypeCount: 2, MemoryHeapCount: 1}
	props.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	props.MemoryTypes[1].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	props.MemoryHeaps[0].Size = 1 << 30
	return props
}

func (d *fakeDriver) FormatProperties(format vk.Format) vk.FormatProperties {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.depthFormats[format] {
		return vk.FormatProperties{
			OptimalTilingFeatures: vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit | vk.FormatFeatureSampledImageBit),
		}
	}
	if Format(format).IsDepthStencil() {
		return vk.FormatProperties{}
	}
	return vk.FormatProperties{
		OptimalTilingFeatures: vk.FormatFeatureFlags(vk.FormatFeatureColorAttachmentBit | vk.FormatFeatureSampledImageBit),
	}
}

func (d *fakeDriver) DeviceProperties() vk.PhysicalDeviceProperties {
	props := vk.PhysicalDeviceProperties{
		ApiVersion: MinAPI,
		VendorID:   uint32(VendorAMD),
		DeviceID:   0x73BF,
	}
	copy(props.DeviceName[:], "Fake Device\x00")
	props.Limits.PointSizeRange = [2]float32{1, 64}
	props.Limits.LineWidthRange = [2]float32{1, 8}
	props.Limits.FramebufferColorSampleCounts = vk.SampleCountFlags(vk.SampleCount1Bit | vk.SampleCount8Bit)
	props.Limits.FramebufferDepthSampleCounts = vk.SampleCountFlags(vk.SampleCount1Bit | vk.SampleCount8Bit)
	props.Limits.MaxImageDimension2D = 16384
	props.Limits.MaxSamplerAnisotropy = 16
	props.Limits.MaxUniformBufferRange = 65536
	props.Limits.MaxStorageBufferRange = 1 << 27
	props.Limits.MaxBoundDescriptorSets = 8
	props.Limits.MaxPushConstantsSize = 128
	props.Limits.MaxComputeWorkGroupCount = [3]uint32{65535, 65535, 65535}
	props.Limits.MaxComputeWorkGroupSize = [3]uint32{1024, 1024, 64}
	props.Limits.MaxComputeWorkGroupInvocations = 1024
	return props
}

func (d *fakeDriver) CreateBuffer(info *vk.BufferCreateInfo) (vk.Buffer, vk.Result) {
	if ret := d.result("CreateBuffer"); ret != vk.Success {
		return vk.NullBuffer, ret
	}
	buffer := vk.Buffer(d.handle("buffer"))
	d.mtx.Lock()
	d.bufferSize[buffer] = info.Size
	d.mtx.Unlock()
	return buffer, vk.Success
}

func (d *fakeDriver) DestroyBuffer(buffer vk.Buffer) {
	d.mtx.Lock()
	delete(d.bufferMem, buffer)
	delete(d.bufferSize, buffer)
	d.mtx.Unlock()
	d.release("buffer")
}

func (d *fakeDriver) BufferMemoryRequirements(buffer vk.Buffer) vk.MemoryRequirements {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return vk.MemoryRequirements{Size: d.bufferSize[buffer], Alignment: 16, MemoryTypeBits: 0b11}
}

func (d *fakeDriver) BindBufferMemory(buffer vk.Buffer, memory vk.DeviceMemory) vk.Result {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.bufferMem[buffer] = memory
	return vk.Success
}

func (d *fakeDriver) CreateImage(info *vk.ImageCreateInfo) (vk.Image, vk.Result) {
	if ret := d.result("CreateImage"); ret != vk.Success {
		return vk.NullImage, ret
	}
	d.mtx.Lock()
	d.imageInfos = append(d.imageInfos, *info)
	d.mtx.Unlock()
	return vk.Image(d.handle("image")), vk.Success
}

func (d *fakeDriver) DestroyImage(image vk.Image) {
	d.release("image")
}

func (d *fakeDriver) ImageMemoryRequirements(image vk.Image) vk.MemoryRequirements {
	return vk.MemoryRequirements{Size: 256, Alignment: 256, MemoryTypeBits: 0b11}
}

func (d *fakeDriver) BindImageMemory(image vk.Image, memory vk.DeviceMemory) vk.Result {
	return vk.Success
}

func (d *fakeDriver) CreateImageView(info *vk.ImageViewCreateInfo) (vk.ImageView, vk.Result) {
	if ret := d.result("CreateImageView"); ret != vk.Success {
		return vk.NullImageView, ret
	}
	return vk.ImageView(d.handle("imageView")), vk.Success
}

func (d *fakeDriver) DestroyImageView(view vk.ImageView) {
	d.release("imageView")
}

func (d *fakeDriver) CreateSampler(info *vk.SamplerCreateInfo) (vk.Sampler, vk.Result) {
	return vk.Sampler(d.handle("sampler")), d.result("CreateSampler")
}

func (d *fakeDriver) DestroySampler(sampler vk.Sampler) {
	d.release("sampler")
}

func (d *fakeDriver) AllocateMemory(info *vk.MemoryAllocateInfo) (vk.DeviceMemory, vk.Result) {
	if ret := d.result("AllocateMemory"); ret != vk.Success {
		return vk.NullDeviceMemory, ret
	}
	memory := vk.DeviceMemory(d.handle("memory"))
	d.mtx.Lock()
	d.memory[memory] = make([]byte, info.AllocationSize)
	d.mtx.Unlock()
	return memory, vk.Success
}

func (d *fakeDriver) FreeMemory(memory vk.DeviceMemory) {
	d.mtx.Lock()
	delete(d.memory, memory)
	d.mtx.Unlock()
	d.release("memory")
}

func (d *fakeDriver) MapMemory(memory vk.DeviceMemory, offset, size vk.DeviceSize) (unsafe.Pointer, vk.Result) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	data := d.memory[memory]
	if len(data) == 0 {
		return nil, vk.ErrorMemoryMapFailed
	}
	d.mapped++
	return unsafe.Pointer(&data[offset]), vk.Success
}

func (d *fakeDriver) UnmapMemory(memory vk.DeviceMemory) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.mapped--
}

func (d *fakeDriver) CreateRenderPass(info *vk.RenderPassCreateInfo) (vk.RenderPass, vk.Result) {
	d.mtx.Lock()
	d.renderPasses = append(d.renderPasses, *info)
	d.mtx.Unlock()
	return vk.RenderPass(d.handle("renderPass")), vk.Success
}

func (d *fakeDriver) DestroyRenderPass(renderPass vk.RenderPass) {
	d.release("renderPass")
}

func (d *fakeDriver) CreateFramebuffer(info *vk.FramebufferCreateInfo) (vk.Framebuffer, vk.Result) {
	if ret := d.result("CreateFramebuffer"); ret != vk.Success {
		return vk.NullFramebuffer, ret
	}
	return vk.Framebuffer(d.handle("framebuffer")), vk.Success
}

func (d *fakeDriver) DestroyFramebuffer(framebuffer vk.Framebuffer) {
	d.release("framebuffer")
}

func (d *fakeDriver) CreateShaderModule(info *vk.ShaderModuleCreateInfo) (vk.ShaderModule, vk.Result) {
	return vk.ShaderModule(d.handle("shaderModule")), vk.Success
}

func (d *fakeDriver) DestroyShaderModule(module vk.ShaderModule) {
	d.release("shaderModule")
}

func (d *fakeDriver) CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, vk.Result) {
	d.mtx.Lock()
	d.setLayoutInfos = append(d.setLayoutInfos, *info)
	d.mtx.Unlock()
	return vk.DescriptorSetLayout(d.handle("descriptorSetLayout")), vk.Success
}

func (d *fakeDriver) DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout) {
	d.release("descriptorSetLayout")
}

func (d *fakeDriver) CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, vk.Result) {
	d.mtx.Lock()
	d.poolInfos = append(d.poolInfos, *info)
	d.mtx.Unlock()
	return vk.DescriptorPool(d.handle("descriptorPool")), vk.Success
}

func (d *fakeDriver) DestroyDescriptorPool(pool vk.DescriptorPool) {
	d.release("descriptorPool")
}

func (d *fakeDriver) AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, vk.Result) {
	if ret := d.result("AllocateDescriptorSet"); ret != vk.Success {
		return nil, ret
	}
	return vk.DescriptorSet(d.handle("descriptorSet")), vk.Success
}

func (d *fakeDriver) UpdateDescriptorSets(writes []vk.WriteDescriptorSet) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.writes = append(d.writes, writes...)
}

func (d *fakeDriver) CreatePipelineLayout(info *vk.PipelineLayoutCreateInfo) (vk.PipelineLayout, vk.Result) {
	return vk.PipelineLayout(d.handle("pipelineLayout")), vk.Success
}

func (d *fakeDriver) DestroyPipelineLayout(layout vk.PipelineLayout) {
	d.release("pipelineLayout")
}

func (d *fakeDriver) CreatePipelineCache() (vk.PipelineCache, vk.Result) {
	return vk.PipelineCache(d.handle("pipelineCache")), vk.Success
}

func (d *fakeDriver) DestroyPipelineCache(cache vk.PipelineCache) {
	d.release("pipelineCache")
}

func (d *fakeDriver) CreateGraphicsPipeline(cache vk.PipelineCache, info vk.GraphicsPipelineCreateInfo) (vk.Pipeline, vk.Result) {
	if ret := d.result("CreateGraphicsPipeline"); ret != vk.Success {
		return vk.NullPipeline, ret
	}
	d.mtx.Lock()
	d.graphicsPipelines = append(d.graphicsPipelines, info)
	d.mtx.Unlock()
	return vk.Pipeline(d.handle("pipeline")), vk.Success
}

func (d *fakeDriver) CreateComputePipeline(cache vk.PipelineCache, info vk.ComputePipelineCreateInfo) (vk.Pipeline, vk.Result) {
	return vk.Pipeline(d.handle("pipeline")), d.result("CreateComputePipeline")
}

func (d *fakeDriver) DestroyPipeline(pipeline vk.Pipeline) {
	d.release("pipeline")
}

func (d *fakeDriver) CreateCommandPool(info *vk.CommandPoolCreateInfo) (vk.CommandPool, vk.Result) {
	return vk.CommandPool(d.handle("commandPool")), vk.Success
}

func (d *fakeDriver) DestroyCommandPool(pool vk.CommandPool) {
	d.release("commandPool")
}

func (d *fakeDriver) AllocateCommandBuffer(pool vk.CommandPool) (vk.CommandBuffer, vk.Result) {
	return vk.CommandBuffer(d.handle("commandBuffer")), vk.Success
}

func (d *fakeDriver) BeginCommandBuffer(cb vk.CommandBuffer, info *vk.CommandBufferBeginInfo) vk.Result {
	d.record("Begin")
	return vk.Success
}

func (d *fakeDriver) EndCommandBuffer(cb vk.CommandBuffer) vk.Result {
	d.record("End")
	return vk.Success
}

func (d *fakeDriver) CreateFence() (vk.Fence, vk.Result) {
	return vk.Fence(d.handle("fence")), vk.Success
}

func (d *fakeDriver) DestroyFence(fence vk.Fence) {
	d.release("fence")
}

func (d *fakeDriver) WaitForFence(fence vk.Fence, timeout uint64) vk.Result {
	return d.result("WaitForFence")
}

func (d *fakeDriver) QueueSubmit(queue vk.Queue, cb vk.CommandBuffer, fence vk.Fence) vk.Result {
	d.mtx.Lock()
	d.submits++
	d.mtx.Unlock()
	return d.result("QueueSubmit")
}

func (d *fakeDriver) DeviceWaitIdle() vk.Result {
	d.mtx.Lock()
	d.waitIdles++
	d.mtx.Unlock()
	return d.result("DeviceWaitIdle")
}

func (d *fakeDriver) CmdCopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, regions []vk.BufferCopy) {
	d.record("CopyBuffer")
	d.mtx.Lock()
	defer d.mtx.Unlock()
	srcData := d.memory[d.bufferMem[src]]
	dstData := d.memory[d.bufferMem[dst]]
	for _, r := range regions {
		d.copies = append(d.copies, r)
		copy(dstData[r.DstOffset:r.DstOffset+r.Size], srcData[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

func (d *fakeDriver) CmdCopyBufferToImage(cb vk.CommandBuffer, src vk.Buffer, dst vk.Image, layout vk.ImageLayout, regions []vk.BufferImageCopy) {
	d.record("CopyBufferToImage")
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.imageCopies = append(d.imageCopies, regions...)
}

func (d *fakeDriver) CmdPipelineBarrier(cb vk.CommandBuffer, src, dst vk.PipelineStageFlags, flags vk.DependencyFlags,
	memory []vk.MemoryBarrier, buffer []vk.BufferMemoryBarrier, image []vk.ImageMemoryBarrier,
) {
	d.record("PipelineBarrier")
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, b := range image {
		d.barriers = append(d.barriers, fakeBarrier{
			srcStage: src, dstStage: dst,
			srcAccess: b.SrcAccessMask, dstAccess: b.DstAccessMask,
			oldLayout: b.OldLayout, newLayout: b.NewLayout,
			image: b.Image,
		})
	}
}

func (d *fakeDriver) CmdBeginRenderPass(cb vk.CommandBuffer, info *vk.RenderPassBeginInfo) {
	d.record("BeginRenderPass")
}

func (d *fakeDriver) CmdNextSubpass(cb vk.CommandBuffer) {
	d.record("NextSubpass")
}

func (d *fakeDriver) CmdEndRenderPass(cb vk.CommandBuffer) {
	d.record("EndRenderPass")
}

func (d *fakeDriver) CmdSetViewport(cb vk.CommandBuffer, viewports []vk.Viewport) {
	d.record("SetViewport")
}

func (d *fakeDriver) CmdSetScissor(cb vk.CommandBuffer, scissors []vk.Rect2D) {
	d.record("SetScissor")
}

func (d *fakeDriver) CmdBindPipeline(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, pipeline vk.Pipeline) {
	d.record("BindPipeline")
}

func (d *fakeDriver) CmdBindDescriptorSets(cb vk.CommandBuffer, bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, firstSet uint32, sets []vk.DescriptorSet) {
	d.record("BindDescriptorSets")
}

func (d *fakeDriver) CmdPushConstants(cb vk.CommandBuffer, layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	d.record("PushConstants")
}

func (d *fakeDriver) CmdBindVertexBuffers(cb vk.CommandBuffer, firstBinding uint32, buffers []vk.Buffer, offsets []vk.DeviceSize) {
	d.record("BindVertexBuffers")
}

func (d *fakeDriver) CmdBindIndexBuffer(cb vk.CommandBuffer, buffer vk.Buffer, offset vk.DeviceSize, indexType vk.IndexType) {
	d.record("BindIndexBuffer")
}

func (d *fakeDriver) CmdDraw(cb vk.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record("Draw")
}

func (d *fakeDriver) CmdDrawIndexed(cb vk.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record("DrawIndexed")
}

func (d *fakeDriver) CmdDispatch(cb vk.CommandBuffer, x, y, z uint32) {
	d.record("Dispatch")
}

func (d *fakeDriver) Destroy() {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.destroyed = true
}

func newTestContext(t *testing.T, opts ...func(*Config)) (*DeviceContext, *fakeDriver) {
	t.Helper()

	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	cfg.validate()

	drv := newFakeDriver()
	ctx, err := newDeviceContext(drv, nil, QueueFamilies{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if ctx.noCopy.alive() {
			ctx.Destroy()
		}
	})
	return ctx, drv
}

// expectAbort fails the test unless f aborts through the default platform.
func expectAbort(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		if recover() == nil {
			t.Fatal("Expected abort")
		}
	}()
	f()
}
