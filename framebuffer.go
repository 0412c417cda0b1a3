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

	"goarrg.com/debug"
	"goarrg.com/gmath"

	vk "github.com/vulkan-go/vulkan"
)

// FrameBuffer owns one texture per render pass attachment.
type FrameBuffer struct {
	noCopy        noCopy
	ctx           *DeviceContext
	vkFramebuffer vk.Framebuffer
	textures      []*Texture
	extent        gmath.Extent2i32
}

func (fb *FrameBuffer) Textures() []*Texture {
	fb.noCopy.check()
	return slices.Clone(fb.textures)
}

func (fb *FrameBuffer) Extent() gmath.Extent2i32 {
	fb.noCopy.check()
	return fb.extent
}

func (fb *FrameBuffer) VkFramebuffer() vk.Framebuffer {
	fb.noCopy.check()
	return fb.vkFramebuffer
}

func (fb *FrameBuffer) Destroy() {
	if fb == nil {
		return
	}
	fb.noCopy.check()
	if fb.vkFramebuffer != vk.NullFramebuffer {
		fb.ctx.drv.DestroyFramebuffer(fb.vkFramebuffer)
	}
	for _, t := range fb.textures {
		t.Destroy()
	}
	fb.textures = nil
	fb.vkFramebuffer = vk.NullFramebuffer
	fb.noCopy.close()
}

// createFrameBuffer creates a render target texture for every attachment
// without a native image and wraps the native image, if any, as the last
// attachment.
func createFrameBuffer(ctx *DeviceContext, rp *RenderPass, extent gmath.Extent2i32, native vk.Image, nativeFormat Format) (*FrameBuffer, error) {
	fb := &FrameBuffer{ctx: ctx, extent: extent}
	fb.noCopy.init()

	owned := rp.attachments
	if native != vk.NullImage {
		owned = owned[:len(owned)-1]
	}

	views := make([]vk.ImageView, 0, len(rp.attachments))
	for _, a := range owned {
		t, err := CreateTexture(ctx, TextureCreateInfo{
			Format:       a.Format,
			Extent:       extent,
			Samples:      a.Samples,
			RenderTarget: true,
		})
		if err != nil {
			fb.Destroy()
			return nil, debug.ErrorWrapf(err, "Failed to create framebuffer attachment [%d]", len(fb.textures))
		}
		fb.textures = append(fb.textures, t)
		views = append(views, t.vkImageView)
	}

	if native != vk.NullImage {
		t, err := CreateTextureFromNative(ctx, native, nativeFormat, extent)
		if err != nil {
			fb.Destroy()
			return nil, err
		}
		fb.textures = append(fb.textures, t)
		views = append(views, t.vkImageView)
	}

	framebuffer, ret := ctx.drv.CreateFramebuffer(&vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.vkRenderPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(extent.X),
		Height:          uint32(extent.Y),
		Layers:          1,
	})
	if err := vkResult(ret, "Failed to create framebuffer [%dx%d]", extent.X, extent.Y); err != nil {
		fb.Destroy()
		return nil, err
	}
	fb.vkFramebuffer = framebuffer
	return fb, nil
}

func CreateFrameBuffer(ctx *DeviceContext, rp *RenderPass, extent gmath.Extent2i32) (*FrameBuffer, error) {
	ctx.noCopy.check()
	rp.noCopy.check()
	return createFrameBuffer(ctx, rp, extent, vk.NullImage, FormatUndefined)
}

// CreateSwapchainFrameBuffers creates one framebuffer per swapchain image, the
// image is bound as the render pass's last attachment.
func CreateSwapchainFrameBuffers(ctx *DeviceContext, rp *RenderPass, extent gmath.Extent2i32,
	format Format, images []vk.Image,
) ([]*FrameBuffer, error) {
	ctx.noCopy.check()
	rp.noCopy.check()

	frameBuffers := make([]*FrameBuffer, 0, len(images))
	for _, img := range images {
		fb, err := createFrameBuffer(ctx, rp, extent, img, format)
		if err != nil {
			for _, f := range frameBuffers {
				f.Destroy()
			}
			return nil, err
		}
		frameBuffers = append(frameBuffers, fb)
	}
	return frameBuffers, nil
}

var ClearColorGray = [4]float32{0.45, 0.55, 0.6, 1}

// RenderTarget is an offscreen simple pass with its framebuffer, the color
// attachment can be sampled after the pass ends.
type RenderTarget struct {
	noCopy      noCopy
	RenderPass  *RenderPass
	FrameBuffer *FrameBuffer
	ClearValues []vk.ClearValue
	Viewport    vk.Viewport
	RenderArea  vk.Rect2D
	Extent      gmath.Extent2i32
}

func CreateRenderTarget(ctx *DeviceContext, extent gmath.Extent2i32) (*RenderTarget, error) {
	ctx.noCopy.check()

	rp, err := CreateSimpleRenderPass(ctx, FormatR8G8B8A8Unorm)
	if err != nil {
		return nil, err
	}
	fb, err := CreateFrameBuffer(ctx, rp, extent)
	if err != nil {
		rp.Destroy()
		return nil, err
	}

	rt := &RenderTarget{
		RenderPass:  rp,
		FrameBuffer: fb,
		ClearValues: ClearValues(rp, ClearColorGray),
		Viewport: vk.Viewport{
			X: 0, Y: 0,
			Width:    float32(extent.X),
			Height:   float32(extent.Y),
			MinDepth: 0,
			MaxDepth: 1,
		},
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{},
			Extent: vk.Extent2D{Width: uint32(extent.X), Height: uint32(extent.Y)},
		},
		Extent: extent,
	}
	rt.noCopy.init()
	return rt, nil
}

// BeginRenderPass begins the target's pass on cb and sets the dynamic
// viewport and scissor to cover it.
func (rt *RenderTarget) BeginRenderPass(cb *CommandBuffer) {
	rt.noCopy.check()
	cb.BeginRenderPass(rt.RenderPass, rt.FrameBuffer, rt.RenderArea, rt.ClearValues)
	cb.SetScissor(rt.RenderArea)
	cb.SetViewport(rt.Viewport)
}

func (rt *RenderTarget) Destroy() {
	if rt == nil {
		return
	}
	rt.noCopy.check()
	rt.FrameBuffer.Destroy()
	rt.RenderPass.Destroy()
	rt.noCopy.close()
}
