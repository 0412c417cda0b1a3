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
	"testing"
	"time"

	vk "github.com/vulkan-go/vulkan"
)

func TestPickQueueFamilies(t *testing.T) {
	graphics := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit)
	transfer := vk.QueueFlags(vk.QueueTransferBit)
	compute := vk.QueueFlags(vk.QueueComputeBit)

	tests := []struct {
		name   string
		flags  []vk.QueueFlags
		want   QueueFamilies
		wantOK bool
	}{
		{"dedicated transfer", []vk.QueueFlags{compute, graphics, transfer}, QueueFamilies{Graphics: 1, Transfer: 2}, true},
		{"graphics only", []vk.QueueFlags{graphics}, QueueFamilies{Graphics: 0, Transfer: 0}, true},
		{"no graphics", []vk.QueueFlags{compute, transfer}, QueueFamilies{}, false},
		{"empty", nil, QueueFamilies{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			props := make([]vk.QueueFamilyProperties, len(tc.flags))
			for i, f := range tc.flags {
				props[i].QueueFlags = f
				props[i].QueueCount = 1
			}
			got, ok := pickQueueFamilies(props)
			if ok != tc.wantOK || got != tc.want {
				t.Errorf("Got %+v, %t want %+v, %t", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestDeviceContextProperties(t *testing.T) {
	ctx, _ := newTestContext(t)
	p := ctx.Properties()
	if p.Name != "Fake Device" || p.VendorID != VendorAMD {
		t.Errorf("Got device %q vendor %s", p.Name, p.VendorID)
	}
	if p.Limits.Compute.MaxDispatchSize.X != 65535 || p.Limits.MaxPushConstantsSize != 128 {
		t.Errorf("Got limits %+v", p.Limits)
	}
	if !p.Limits.LineWidth.CheckValue(8) || p.Limits.LineWidth.CheckValue(9) {
		t.Errorf("Got line width range %+v", p.Limits.LineWidth)
	}
}

func TestFenceTimeout(t *testing.T) {
	ctx, _ := newTestContext(t)
	if ctx.config.fenceTimeout != vk.MaxUint64 {
		t.Errorf("Zero timeout should wait forever, got %d", ctx.config.fenceTimeout)
	}

	ctx, _ = newTestContext(t, func(c *Config) { c.FenceTimeout = time.Second })
	if ctx.config.fenceTimeout != uint64(time.Second) {
		t.Errorf("Got timeout %d", ctx.config.fenceTimeout)
	}
}

func TestCommandBufferRecycling(t *testing.T) {
	ctx, drv := newTestContext(t)

	const n = 3
	cbs := make([]*CommandBuffer, 0, n)
	for range n {
		cb, err := ctx.GetCommandBuffer()
		if err != nil {
			t.Fatal(err)
		}
		cbs = append(cbs, cb)
	}
	if ctx.executor.allocated != n {
		t.Fatalf("Allocated %d command buffers, want %d", ctx.executor.allocated, n)
	}

	for _, cb := range cbs {
		if err := ctx.SubmitAndWait(cb); err != nil {
			t.Fatal(err)
		}
	}
	if ctx.executor.idle.Len() != n {
		t.Errorf("Got %d idle command buffers, want %d", ctx.executor.idle.Len(), n)
	}
	if drv.submits != n {
		t.Errorf("Got %d submits", drv.submits)
	}

	cb, err := ctx.GetCommandBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if ctx.executor.allocated != n || drv.createdCount("commandBuffer") != n {
		t.Errorf("Idle command buffer was not reused, allocated %d", ctx.executor.allocated)
	}
	if err := ctx.SubmitAndWait(cb); err != nil {
		t.Fatal(err)
	}

	// a submitted command buffer is no longer usable
	expectAbort(t, func() { cb.VkCommandBuffer() })

	if live := drv.liveCount("fence"); live != 0 {
		t.Errorf("Leaked %d fences", live)
	}
}

func TestSubmitAndWaitFailure(t *testing.T) {
	tests := []struct {
		name      string
		fail      map[string]vk.Result
		waitIdles int
		recycled  bool
	}{
		{"QueueSubmit", map[string]vk.Result{"QueueSubmit": vk.ErrorDeviceLost}, 0, true},
		{"WaitForFence", map[string]vk.Result{"WaitForFence": vk.Timeout}, 1, true},
		{"WaitForFence and DeviceWaitIdle", map[string]vk.Result{
			"WaitForFence":   vk.Timeout,
			"DeviceWaitIdle": vk.ErrorDeviceLost,
		}, 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, drv := newTestContext(t)
			cb, err := ctx.GetCommandBuffer()
			if err != nil {
				t.Fatal(err)
			}
			for call, ret := range tc.fail {
				drv.fail[call] = ret
			}
			expectAbort(t, func() { _ = ctx.SubmitAndWait(cb) })

			if drv.waitIdles != tc.waitIdles {
				t.Errorf("Got %d device waits, want %d", drv.waitIdles, tc.waitIdles)
			}
			// a buffer the gpu may still run is never handed out again
			idle, fences := 0, 1
			if tc.recycled {
				idle, fences = 1, 0
			}
			if ctx.executor.idle.Len() != idle {
				t.Errorf("Got %d idle command buffers, want %d", ctx.executor.idle.Len(), idle)
			}
			if live := drv.liveCount("fence"); live != fences {
				t.Errorf("Got %d live fences, want %d", live, fences)
			}
		})
	}
}

func TestSubmitInsideRenderPass(t *testing.T) {
	ctx, _ := newTestContext(t)
	rp, err := CreateSimpleRenderPass(ctx, FormatR8G8B8A8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Destroy()

	cb, err := ctx.GetCommandBuffer()
	if err != nil {
		t.Fatal(err)
	}
	cb.currentRenderPass = rp
	expectAbort(t, func() { _ = ctx.SubmitAndWait(cb) })
}

func TestDeviceContextDestroy(t *testing.T) {
	ctx, drv := newTestContext(t)

	p, err := CreateComputePipeline(ctx, mustShader(t, ctx, "cull.comp", computeCode()))
	if err != nil {
		t.Fatal(err)
	}
	p.Destroy()

	cb, err := ctx.GetCommandBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.SubmitAndWait(cb); err != nil {
		t.Fatal(err)
	}

	ctx.Destroy()
	if !drv.destroyed {
		t.Error("Driver was not destroyed")
	}
	for _, kind := range []string{"pipelineCache", "commandPool", "pipelineLayout", "descriptorSetLayout", "descriptorPool", "pipeline", "memory"} {
		if n := drv.liveCount(kind); n != 0 {
			t.Errorf("Leaked %d %s", n, kind)
		}
	}
	expectAbort(t, func() { _, _ = ctx.GetCommandBuffer() })
}
