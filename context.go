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
	"slices"
	"sync"

	"goarrg.com"
	"goarrg.com/debug"

	"goarrg.com/rhi/vkm/internal/container"
	"goarrg.com/rhi/vkm/internal/util"

	vk "github.com/vulkan-go/vulkan"
)

type state struct {
	platform goarrg.PlatformInterface
	logger   *debug.Logger
}

type platform struct{}

func (platform) Abort()                           { panic("Fatal Error") }
func (platform) AbortPopup(f string, args ...any) { panic("Fatal Error") }

var instanceInitOnce sync.Once

var instance = state{
	platform: platform{},
	logger:   debug.NewLogger("vkm"),
}

// InitInstance replaces the platform used by abort, only the first call has
// any effect.
func InitInstance(platform goarrg.PlatformInterface) {
	instanceInitOnce.Do(func() {
		instance.platform = platform
		util.Init(platform)
		instance.logger.IPrintf("Platform initialized")
	})
}

type QueueFamilies struct {
	Graphics uint32
	Transfer uint32
}

type executor struct {
	mtx           sync.Mutex
	vkCommandPool vk.CommandPool
	idle          container.Stack[vk.CommandBuffer]
	allocated     int
}

// DeviceContext owns everything created per logical device: the allocator,
// the layout caches, the pipeline cache and the command executor.
type DeviceContext struct {
	noCopy noCopy

	drv        driver
	allocator  Allocator
	config     config
	formats    formatProperties
	properties Properties
	layouts    *layoutCache

	pipelineCache vk.PipelineCache

	vkInstance     vk.Instance
	debugReport    vk.DebugReportCallback
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	families       QueueFamilies
	queue          vk.Queue
	executor       executor

	ownsInstance bool
}

// DeviceContextCreateInfo describes handles created outside of this package,
// usually by the windowing layer. The DeviceContext does not destroy them.
type DeviceContextCreateInfo struct {
	Config         Config
	Instance       vk.Instance
	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device
	Families       QueueFamilies
}

func newDeviceContext(drv driver, queue vk.Queue, families QueueFamilies, user Config) (*DeviceContext, error) {
	ctx := &DeviceContext{
		drv:        drv,
		families:   families,
		queue:      queue,
		layouts:    newLayoutCache(),
		properties: newProperties(drv.DeviceProperties()),
	}
	ctx.config.use(user)
	instance.logger.IPrintf("%s", prettyString(&ctx.properties))

	cache, ret := drv.CreatePipelineCache()
	if err := vkResult(ret, "Failed to create pipeline cache"); err != nil {
		return nil, err
	}
	ctx.pipelineCache = cache

	pool, ret := drv.CreateCommandPool(&vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit | vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: families.Graphics,
	})
	if err := vkResult(ret, "Failed to create command pool"); err != nil {
		drv.DestroyPipelineCache(cache)
		return nil, err
	}
	ctx.executor.vkCommandPool = pool

	ctx.allocator = newDedicatedAllocator(drv, user.BufferDeviceAddress)
	ctx.noCopy.init()
	return ctx, nil
}

// NewDeviceContext wraps an existing device, InitInstance should be called
// before it if aborts should go through a custom platform.
func NewDeviceContext(info DeviceContextCreateInfo) (*DeviceContext, error) {
	info.Config.validate()
	instance.logger.IPrintf("User requested config: %s", prettyString(&info.Config))

	if info.Device == nil || info.PhysicalDevice == nil {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "DeviceContextCreateInfo is missing a device")
	}

	var queue vk.Queue
	vk.GetDeviceQueue(info.Device, info.Families.Graphics, 0, &queue)

	ctx, err := newDeviceContext(&vkDriver{device: info.Device, gpu: info.PhysicalDevice}, queue, info.Families, info.Config)
	if err != nil {
		return nil, err
	}
	ctx.vkInstance = info.Instance
	ctx.physicalDevice = info.PhysicalDevice
	ctx.device = info.Device
	return ctx, nil
}

func enumerateLayers() []string {
	var count uint32
	if ret := vk.EnumerateInstanceLayerProperties(&count, nil); ret != vk.Success {
		abort("Failed to enumerate instance layers: %v", vk.Error(ret))
	}
	list := make([]vk.LayerProperties, count)
	if ret := vk.EnumerateInstanceLayerProperties(&count, list); ret != vk.Success {
		abort("Failed to enumerate instance layers: %v", vk.Error(ret))
	}
	names := make([]string, 0, count)
	for _, l := range list {
		l.Deref()
		names = append(names, vk.ToString(l.LayerName[:]))
	}
	return names
}

func enumerateExtensions() []string {
	var count uint32
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, nil); ret != vk.Success {
		abort("Failed to enumerate instance extensions: %v", vk.Error(ret))
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, list); ret != vk.Success {
		abort("Failed to enumerate instance extensions: %v", vk.Error(ret))
	}
	names := make([]string, 0, count)
	for _, e := range list {
		e.Deref()
		names = append(names, vk.ToString(e.ExtensionName[:]))
	}
	return names
}

// pickQueueFamilies returns the first graphics family and the first other
// family with transfer support, falling back to the graphics family.
func pickQueueFamilies(props []vk.QueueFamilyProperties) (QueueFamilies, bool) {
	graphics := -1
	for i := range props {
		props[i].Deref()
		if props[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			graphics = i
			break
		}
	}
	if graphics < 0 {
		return QueueFamilies{}, false
	}

	families := QueueFamilies{Graphics: uint32(graphics), Transfer: uint32(graphics)}
	for i := range props {
		if i != graphics && props[i].QueueFlags&vk.QueueFlags(vk.QueueTransferBit) != 0 {
			families.Transfer = uint32(i)
			return families, true
		}
	}
	instance.logger.WPrintf("No dedicated transfer queue family, using graphics family [%d]", graphics)
	return families, true
}

func queueFamilyProperties(gpu vk.PhysicalDevice) []vk.QueueFamilyProperties {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)
	return props
}

func pickPhysicalDevice(vkInstance vk.Instance, preferred int) (vk.PhysicalDevice, QueueFamilies, error) {
	var count uint32
	if err := vkResult(vk.EnumeratePhysicalDevices(vkInstance, &count, nil), "Failed to enumerate devices"); err != nil {
		return nil, QueueFamilies{}, err
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := vkResult(vk.EnumeratePhysicalDevices(vkInstance, &count, gpus), "Failed to enumerate devices"); err != nil {
		return nil, QueueFamilies{}, err
	}

	if preferred >= 0 {
		if preferred >= len(gpus) {
			return nil, QueueFamilies{}, debug.ErrorWrapf(ErrorDeviceNotFound{}, "Config.PreferredDevice [%d] but only [%d] devices", preferred, len(gpus))
		}
		families, ok := pickQueueFamilies(queueFamilyProperties(gpus[preferred]))
		if !ok {
			return nil, QueueFamilies{}, debug.ErrorWrapf(ErrorDeviceNotFound{}, "Device [%d] has no graphics queue", preferred)
		}
		return gpus[preferred], families, nil
	}

	for _, gpu := range gpus {
		if families, ok := pickQueueFamilies(queueFamilyProperties(gpu)); ok {
			return gpu, families, nil
		}
	}
	return nil, QueueFamilies{}, debug.ErrorWrapf(ErrorDeviceNotFound{}, "None of [%d] devices have a graphics queue", len(gpus))
}

// InitDevice loads vulkan and creates an instance, device and DeviceContext
// owning all of them.
func InitDevice(user Config) (*DeviceContext, error) {
	user.validate()
	instance.logger.IPrintf("User requested config: %s", prettyString(&user))

	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, debug.ErrorWrapf(ErrorDeviceNotFound{}, "Failed to load vulkan: %v", err)
	}
	if err := vk.Init(); err != nil {
		return nil, debug.ErrorWrapf(ErrorDeviceNotFound{}, "Failed to init vulkan: %v", err)
	}

	{
		have := enumerateLayers()
		for _, l := range user.RequiredLayers {
			if !slices.Contains(have, l) {
				abort("Missing required layer: %s", l)
			}
		}
	}

	extensions := slices.Clone(user.RequiredExtensions)
	{
		have := enumerateExtensions()
		for _, e := range user.RequiredExtensions {
			if !slices.Contains(have, e) {
				abort("Missing required instance extension: %s", e)
			}
		}
		for _, e := range user.OptionalExtensions {
			if slices.Contains(have, e) {
				extensions = append(extensions, e)
			} else {
				instance.logger.WPrintf("Missing optional instance extension: %s", e)
			}
		}
	}

	var vkInstance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:            vk.StructureTypeApplicationInfo,
			ApiVersion:       user.API,
			PApplicationName: user.AppName + "\x00",
			PEngineName:      "vkm\x00",
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: cStrings(extensions),
		EnabledLayerCount:       uint32(len(user.RequiredLayers)),
		PpEnabledLayerNames:     cStrings(user.RequiredLayers),
	}, nil, &vkInstance)
	if err := vkResult(ret, "Failed to create instance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(vkInstance); err != nil {
		vk.DestroyInstance(vkInstance, nil)
		return nil, debug.Errorf("Failed to load instance functions: %v", err)
	}

	debugReport := vk.NullDebugReportCallback
	if user.Validation {
		ret := vk.CreateDebugReportCallback(vkInstance, &vk.DebugReportCallbackCreateInfo{
			SType: vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
				vk.DebugReportPerformanceWarningBit),
			PfnCallback: vkDebugReport,
		}, nil, &debugReport)
		if err := vkResult(ret, "Failed to create debug report callback"); err != nil {
			vk.DestroyInstance(vkInstance, nil)
			return nil, err
		}
		instance.logger.IPrintf("Validation enabled")
	}

	destroyInstance := func() {
		if debugReport != vk.NullDebugReportCallback {
			vk.DestroyDebugReportCallback(vkInstance, debugReport, nil)
		}
		vk.DestroyInstance(vkInstance, nil)
	}

	gpu, families, err := pickPhysicalDevice(vkInstance, user.PreferredDevice)
	if err != nil {
		destroyInstance()
		return nil, err
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: families.Graphics,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	if families.Transfer != families.Graphics {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: families.Transfer,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	var device vk.Device
	ret = vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(user.DeviceExtensions)),
		PpEnabledExtensionNames: cStrings(user.DeviceExtensions),
		EnabledLayerCount:       uint32(len(user.RequiredLayers)),
		PpEnabledLayerNames:     cStrings(user.RequiredLayers),
	}, nil, &device)
	if err := vkResult(ret, "Failed to create device"); err != nil {
		destroyInstance()
		return nil, err
	}

	var queue vk.Queue
	vk.GetDeviceQueue(device, families.Graphics, 0, &queue)

	ctx, err := newDeviceContext(&vkDriver{device: device, gpu: gpu, ownsDevice: true}, queue, families, user)
	if err != nil {
		vk.DestroyDevice(device, nil)
		destroyInstance()
		return nil, err
	}
	ctx.vkInstance = vkInstance
	ctx.debugReport = debugReport
	ctx.physicalDevice = gpu
	ctx.device = device
	ctx.ownsInstance = true

	instance.logger.IPrintf("Initialization Completed")
	return ctx, nil
}

func (ctx *DeviceContext) Properties() Properties {
	ctx.noCopy.check()
	return ctx.properties
}

func (ctx *DeviceContext) QueueFamilies() QueueFamilies {
	ctx.noCopy.check()
	return ctx.families
}

func (ctx *DeviceContext) Allocator() Allocator {
	ctx.noCopy.check()
	return ctx.allocator
}

// SetAllocator replaces the default allocator, resources created with the
// previous one must be destroyed first.
func (ctx *DeviceContext) SetAllocator(a Allocator) {
	ctx.noCopy.check()
	ctx.allocator = a
}

func (ctx *DeviceContext) VkDevice() vk.Device {
	ctx.noCopy.check()
	return ctx.device
}

func (ctx *DeviceContext) VkPhysicalDevice() vk.PhysicalDevice {
	ctx.noCopy.check()
	return ctx.physicalDevice
}

func (ctx *DeviceContext) VkInstance() vk.Instance {
	ctx.noCopy.check()
	return ctx.vkInstance
}

// GetCommandBuffer returns a primary command buffer already in the recording
// state, reusing one from a previous SubmitAndWait when possible.
func (ctx *DeviceContext) GetCommandBuffer() (*CommandBuffer, error) {
	ctx.noCopy.check()
	e := &ctx.executor

	e.mtx.Lock()
	var vkCommandBuffer vk.CommandBuffer
	if !e.idle.Empty() {
		vkCommandBuffer = e.idle.Pop()
	} else {
		var ret vk.Result
		vkCommandBuffer, ret = ctx.drv.AllocateCommandBuffer(e.vkCommandPool)
		if err := vkResult(ret, "Failed to allocate command buffer"); err != nil {
			e.mtx.Unlock()
			return nil, err
		}
		e.allocated++
		instance.logger.VPrintf("Allocated command buffer [%d]: %s", e.allocated, toHex(vkCommandBuffer))
	}
	e.mtx.Unlock()

	ret := ctx.drv.BeginCommandBuffer(vkCommandBuffer, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := vkResult(ret, "Failed to begin command buffer"); err != nil {
		e.mtx.Lock()
		e.idle.Push(vkCommandBuffer)
		e.mtx.Unlock()
		return nil, err
	}

	cb := &CommandBuffer{ctx: ctx, vkCommandBuffer: vkCommandBuffer}
	cb.noCopy.init()
	return cb, nil
}

// SubmitAndWait ends recording, submits cb to the graphics queue and blocks
// until it completes. cb is recycled and must not be used afterwards.
// Failures are fatal, when the platform does not panic the error wraps
// ErrorDeviceLost.
func (ctx *DeviceContext) SubmitAndWait(cb *CommandBuffer) error {
	ctx.noCopy.check()
	cb.noCopy.check()

	if cb.currentRenderPass != nil {
		abort("SubmitAndWait called inside a renderpass")
	}

	e := &ctx.executor
	vkCommandBuffer := cb.vkCommandBuffer
	cb.noCopy.close()

	recycle := func() {
		e.mtx.Lock()
		e.idle.Push(vkCommandBuffer)
		e.mtx.Unlock()
	}

	if ret := ctx.drv.EndCommandBuffer(vkCommandBuffer); ret != vk.Success {
		recycle()
		abort("Failed to end command buffer: %v", vk.Error(ret))
		return debug.ErrorWrapf(ErrorDeviceLost{}, "Failed to end command buffer: %v", vk.Error(ret))
	}

	e.mtx.Lock()
	fence, ret := ctx.drv.CreateFence()
	if ret != vk.Success {
		e.mtx.Unlock()
		recycle()
		abort("Failed to create fence: %v", vk.Error(ret))
		return debug.ErrorWrapf(ErrorDeviceLost{}, "Failed to create fence: %v", vk.Error(ret))
	}
	ret = ctx.drv.QueueSubmit(ctx.queue, vkCommandBuffer, fence)
	e.mtx.Unlock()

	if ret != vk.Success {
		ctx.drv.DestroyFence(fence)
		recycle()
		abort("Failed to submit command buffer: %v", vk.Error(ret))
		return debug.ErrorWrapf(ErrorDeviceLost{}, "Failed to submit command buffer: %v", vk.Error(ret))
	}

	ret = ctx.drv.WaitForFence(fence, ctx.config.fenceTimeout)
	if ret != vk.Success {
		// the fence and cb may still be pending, only a drained device releases them
		if idle := ctx.drv.DeviceWaitIdle(); idle == vk.Success {
			ctx.drv.DestroyFence(fence)
			recycle()
		} else {
			instance.logger.EPrintf("Dropping command buffer %s, device did not drain: %v", toHex(vkCommandBuffer), vk.Error(idle))
		}
		abort("Failed to wait for command buffer: %v", vk.Error(ret))
		return debug.ErrorWrapf(ErrorDeviceLost{}, "Failed to wait for command buffer: %v", vk.Error(ret))
	}
	ctx.drv.DestroyFence(fence)
	recycle()
	return nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (ctx *DeviceContext) WaitIdle() {
	ctx.noCopy.check()
	if ret := ctx.drv.DeviceWaitIdle(); ret != vk.Success {
		abort("Failed to wait for device idle: %v", vk.Error(ret))
	}
}

// Destroy waits for the device and frees everything the context owns. All
// resources created from it must have been destroyed already.
func (ctx *DeviceContext) Destroy() {
	ctx.noCopy.check()
	ctx.drv.DeviceWaitIdle()

	instance.logger.VPrintf("formatProperties: %s", prettyString(&ctx.formats))
	instance.logger.VPrintf("layoutCache: %s", prettyString(ctx.layouts))
	instance.logger.IPrintf("Allocated [%d] command buffers", ctx.executor.allocated)

	ctx.layouts.destroy(ctx.drv)
	ctx.drv.DestroyPipelineCache(ctx.pipelineCache)
	ctx.drv.DestroyCommandPool(ctx.executor.vkCommandPool)
	ctx.executor.idle.Resize(0)
	ctx.allocator.Destroy()
	ctx.drv.Destroy()

	if ctx.ownsInstance {
		if ctx.debugReport != vk.NullDebugReportCallback {
			vk.DestroyDebugReportCallback(ctx.vkInstance, ctx.debugReport, nil)
		}
		vk.DestroyInstance(ctx.vkInstance, nil)
	}
	ctx.vkInstance = nil
	ctx.device = nil
	ctx.noCopy.close()
	instance.logger.IPrintf("Destroyed device context")
}
