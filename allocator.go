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
	"runtime"
	"sync/atomic"
	"unsafe"

	"goarrg.com/debug"

	vk "github.com/vulkan-go/vulkan"
)

type MemoryUsage uint32

const (
	// MemoryUsageDeviceLocal is dedicated device local memory.
	MemoryUsageDeviceLocal MemoryUsage = iota
	// MemoryUsageStaging is host visible memory written sequentially by the
	// cpu and read once by a transfer.
	MemoryUsageStaging
)

func (u MemoryUsage) String() string {
	switch u {
	case MemoryUsageDeviceLocal:
		return "DeviceLocal"
	case MemoryUsageStaging:
		return "Staging"
	}
	abort("Unknown memory usage: %d", u)
	return ""
}

func (u MemoryUsage) propertyFlags() vk.MemoryPropertyFlags {
	switch u {
	case MemoryUsageDeviceLocal:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case MemoryUsageStaging:
		return vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	abort("Unknown memory usage: %d", u)
	return 0
}

// Allocation is the opaque token returned with every allocator backed
// resource, it must be handed back to the allocator that created it.
type Allocation struct {
	memory vk.DeviceMemory
	size   vk.DeviceSize
	usage  MemoryUsage
	typeID uint32
}

func (a *Allocation) Size() uint64 {
	return uint64(a.size)
}

func (a *Allocation) Usage() MemoryUsage {
	return a.usage
}

// Allocator creates and binds the backing memory for buffers and images. The
// buffer/image and its memory are created and destroyed together.
type Allocator interface {
	CreateBuffer(info *vk.BufferCreateInfo, usage MemoryUsage) (vk.Buffer, *Allocation, error)
	DestroyBuffer(buffer vk.Buffer, allocation *Allocation)
	CreateImage(info *vk.ImageCreateInfo, usage MemoryUsage) (vk.Image, *Allocation, error)
	DestroyImage(image vk.Image, allocation *Allocation)

	Map(allocation *Allocation) (unsafe.Pointer, error)
	Unmap(allocation *Allocation)

	Destroy()
}

const (
	structureTypeMemoryAllocateFlagsInfo = vk.StructureType(1000060000)
	memoryAllocateDeviceAddressBit       = uint32(0x00000002)
)

// memoryAllocateFlagsInfo mirrors VkMemoryAllocateFlagsInfo.
type memoryAllocateFlagsInfo struct {
	sType      vk.StructureType
	pNext      unsafe.Pointer
	flags      uint32
	deviceMask uint32
}

// dedicatedAllocator gives every resource its own vkDeviceMemory. The mesh
// viewer allocates few long lived resources so suballocation is not needed.
type dedicatedAllocator struct {
	noCopy        noCopy
	drv           driver
	memProps      vk.PhysicalDeviceMemoryProperties
	deviceAddress bool

	liveAllocations atomic.Int64
}

var _ Allocator = (*dedicatedAllocator)(nil)

func newDedicatedAllocator(drv driver, deviceAddress bool) *dedicatedAllocator {
	a := &dedicatedAllocator{
		drv:           drv,
		memProps:      drv.MemoryProperties(),
		deviceAddress: deviceAddress,
	}
	a.noCopy.init()
	return a
}

func (a *dedicatedAllocator) findMemoryType(typeBits uint32, want vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < a.memProps.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		if hasBits(a.memProps.MemoryTypes[i].PropertyFlags, want) {
			return i, true
		}
	}
	return 0, false
}

func (a *dedicatedAllocator) allocate(req vk.MemoryRequirements, usage MemoryUsage, deviceAddress bool) (*Allocation, error) {
	typeID, ok := a.findMemoryType(req.MemoryTypeBits, usage.propertyFlags())
	if !ok {
		return nil, debug.ErrorWrapf(ErrorAllocationFailed{}, "No memory type for usage [%s] in type bits [%s]",
			usage, toHex(req.MemoryTypeBits))
	}

	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeID,
	}

	var flagsInfo *memoryAllocateFlagsInfo
	if deviceAddress {
		flagsInfo = &memoryAllocateFlagsInfo{
			sType: structureTypeMemoryAllocateFlagsInfo,
			flags: memoryAllocateDeviceAddressBit,
		}
		info.PNext = unsafe.Pointer(flagsInfo)
	}

	memory, ret := a.drv.AllocateMemory(&info)
	runtime.KeepAlive(flagsInfo)
	if err := vkResult(ret, "Failed to allocate [%d] bytes of %s memory", req.Size, usage); err != nil {
		return nil, err
	}

	a.liveAllocations.Add(1)
	return &Allocation{memory: memory, size: req.Size, usage: usage, typeID: typeID}, nil
}

func (a *dedicatedAllocator) free(allocation *Allocation) {
	a.drv.FreeMemory(allocation.memory)
	allocation.memory = vk.NullDeviceMemory
	a.liveAllocations.Add(-1)
}

func (a *dedicatedAllocator) CreateBuffer(info *vk.BufferCreateInfo, usage MemoryUsage) (vk.Buffer, *Allocation, error) {
	a.noCopy.check()

	buffer, ret := a.drv.CreateBuffer(info)
	if err := vkResult(ret, "Failed to create buffer of size [%d]", info.Size); err != nil {
		return vk.NullBuffer, nil, err
	}

	allocation, err := a.allocate(a.drv.BufferMemoryRequirements(buffer), usage,
		a.deviceAddress && hasBits(info.Usage, vk.BufferUsageFlags(bufferUsageShaderDeviceAddress)))
	if err != nil {
		a.drv.DestroyBuffer(buffer)
		return vk.NullBuffer, nil, err
	}

	if err := vkResult(a.drv.BindBufferMemory(buffer, allocation.memory), "Failed to bind buffer memory"); err != nil {
		a.free(allocation)
		a.drv.DestroyBuffer(buffer)
		return vk.NullBuffer, nil, err
	}

	return buffer, allocation, nil
}

func (a *dedicatedAllocator) DestroyBuffer(buffer vk.Buffer, allocation *Allocation) {
	a.noCopy.check()
	a.drv.DestroyBuffer(buffer)
	a.free(allocation)
}

func (a *dedicatedAllocator) CreateImage(info *vk.ImageCreateInfo, usage MemoryUsage) (vk.Image, *Allocation, error) {
	a.noCopy.check()

	image, ret := a.drv.CreateImage(info)
	if err := vkResult(ret, "Failed to create image of extent [%dx%dx%d]",
		info.Extent.Width, info.Extent.Height, info.Extent.Depth); err != nil {
		return vk.NullImage, nil, err
	}

	allocation, err := a.allocate(a.drv.ImageMemoryRequirements(image), usage, false)
	if err != nil {
		a.drv.DestroyImage(image)
		return vk.NullImage, nil, err
	}

	if err := vkResult(a.drv.BindImageMemory(image, allocation.memory), "Failed to bind image memory"); err != nil {
		a.free(allocation)
		a.drv.DestroyImage(image)
		return vk.NullImage, nil, err
	}

	return image, allocation, nil
}

func (a *dedicatedAllocator) DestroyImage(image vk.Image, allocation *Allocation) {
	a.noCopy.check()
	a.drv.DestroyImage(image)
	a.free(allocation)
}

func (a *dedicatedAllocator) Map(allocation *Allocation) (unsafe.Pointer, error) {
	a.noCopy.check()
	if allocation.usage != MemoryUsageStaging {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Cannot map %s memory", allocation.usage)
	}
	ptr, ret := a.drv.MapMemory(allocation.memory, 0, allocation.size)
	if err := vkResult(ret, "Failed to map memory"); err != nil {
		return nil, err
	}
	return ptr, nil
}

func (a *dedicatedAllocator) Unmap(allocation *Allocation) {
	a.noCopy.check()
	a.drv.UnmapMemory(allocation.memory)
}

func (a *dedicatedAllocator) Destroy() {
	a.noCopy.check()
	if n := a.liveAllocations.Load(); n != 0 {
		instance.logger.WPrintf("Allocator destroyed with [%d] live allocations", n)
	}
	a.noCopy.close()
}
