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
	"slices"
	"strings"

	vk "github.com/vulkan-go/vulkan"
)

type SampleCountFlags vk.SampleCountFlags

const (
	SampleCount1  SampleCountFlags = SampleCountFlags(vk.SampleCount1Bit)
	SampleCount2  SampleCountFlags = SampleCountFlags(vk.SampleCount2Bit)
	SampleCount4  SampleCountFlags = SampleCountFlags(vk.SampleCount4Bit)
	SampleCount8  SampleCountFlags = SampleCountFlags(vk.SampleCount8Bit)
	SampleCount16 SampleCountFlags = SampleCountFlags(vk.SampleCount16Bit)
	SampleCount32 SampleCountFlags = SampleCountFlags(vk.SampleCount32Bit)
	SampleCount64 SampleCountFlags = SampleCountFlags(vk.SampleCount64Bit)
)

func (s SampleCountFlags) HasBits(want SampleCountFlags) bool {
	return (s & want) == want
}

func (s SampleCountFlags) String() string {
	str := ""
	if s.HasBits(SampleCount1) {
		str += "1|"
	}
	if s.HasBits(SampleCount2) {
		str += "2|"
	}
	if s.HasBits(SampleCount4) {
		str += "4|"
	}
	if s.HasBits(SampleCount8) {
		str += "8|"
	}
	if s.HasBits(SampleCount16) {
		str += "16|"
	}
	if s.HasBits(SampleCount32) {
		str += "32|"
	}
	if s.HasBits(SampleCount64) {
		str += "64|"
	}
	return strings.TrimSuffix(str, "|")
}

// MaxSubPasses is the most subpasses a RenderPass tracks attachments for.
const MaxSubPasses = 4

const (
	defaultPassDepthAttachment   = 3
	defaultPassResolveAttachment = 5
	simplePassDepthAttachment    = 1
)

type Attachment struct {
	Format      Format
	Samples     SampleCountFlags
	FinalLayout vk.ImageLayout
}

func (a Attachment) vkAttachmentDescription() vk.AttachmentDescription {
	desc := vk.AttachmentDescription{
		Format:         vk.Format(a.Format),
		Samples:        vk.SampleCountFlagBits(a.Samples),
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    a.FinalLayout,
	}
	if a.Format.Aspect().HasBits(ImageAspectStencil) {
		desc.StencilLoadOp = vk.AttachmentLoadOpClear
	}
	return desc
}

// RenderPass is immutable after creation. SubPass(i) lists every attachment
// index subpass i writes to, the depth attachment included.
type RenderPass struct {
	noCopy       noCopy
	ctx          *DeviceContext
	vkRenderPass vk.RenderPass
	attachments  []Attachment
	subPasses    [MaxSubPasses][]uint32
	subPassCount int
}

func (rp *RenderPass) Attachments() []Attachment {
	rp.noCopy.check()
	return slices.Clone(rp.attachments)
}

func (rp *RenderPass) SubPassCount() int {
	rp.noCopy.check()
	return rp.subPassCount
}

func (rp *RenderPass) SubPass(i int) []uint32 {
	rp.noCopy.check()
	if i < 0 || i >= rp.subPassCount {
		abort("SubPass index [%d] out of range [0, %d)", i, rp.subPassCount)
	}
	return slices.Clone(rp.subPasses[i])
}

func (rp *RenderPass) VkRenderPass() vk.RenderPass {
	rp.noCopy.check()
	return rp.vkRenderPass
}

func (rp *RenderPass) Destroy() {
	if rp == nil {
		return
	}
	rp.noCopy.check()
	rp.ctx.drv.DestroyRenderPass(rp.vkRenderPass)
	rp.vkRenderPass = vk.NullRenderPass
	rp.noCopy.close()
}

func (rp *RenderPass) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"vkRenderPass\": %q,", toHex(rp.vkRenderPass)))
	buff.WriteString("\"attachments\": [")
	if len(rp.attachments) > 0 {
		for _, a := range rp.attachments {
			buff.WriteString(fmt.Sprintf("{\"format\": %q, \"samples\": %q},", a.Format.String(), a.Samples.String()))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("],")
	buff.WriteString(fmt.Sprintf("\"subPasses\": %s", jsonString(rp.subPasses[:rp.subPassCount])))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

type subPassDescription struct {
	inputs  []uint32
	colors  []uint32
	resolve []uint32
	depth   uint32
}

func attachmentReferences(indices []uint32, layout vk.ImageLayout) []vk.AttachmentReference {
	if len(indices) == 0 {
		return nil
	}
	refs := make([]vk.AttachmentReference, len(indices))
	for i, index := range indices {
		refs[i] = vk.AttachmentReference{Attachment: index, Layout: layout}
	}
	return refs
}

func createRenderPass(ctx *DeviceContext, attachments []Attachment, subPasses []subPassDescription,
	dependencies []vk.SubpassDependency,
) (*RenderPass, error) {
	if len(subPasses) > MaxSubPasses {
		abort("Trying to create render pass with [%d] subpasses, max is %d", len(subPasses), MaxSubPasses)
	}

	descs := make([]vk.AttachmentDescription, len(attachments))
	for i, a := range attachments {
		descs[i] = a.vkAttachmentDescription()
	}

	rp := &RenderPass{ctx: ctx, attachments: slices.Clone(attachments), subPassCount: len(subPasses)}

	depthRefs := make([]vk.AttachmentReference, len(subPasses))
	vkSubPasses := make([]vk.SubpassDescription, len(subPasses))
	for i, sp := range subPasses {
		depthRefs[i] = vk.AttachmentReference{
			Attachment: sp.depth,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		vkSubPasses[i] = vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			InputAttachmentCount:    uint32(len(sp.inputs)),
			PInputAttachments:       attachmentReferences(sp.inputs, vk.ImageLayoutShaderReadOnlyOptimal),
			ColorAttachmentCount:    uint32(len(sp.colors)),
			PColorAttachments:       attachmentReferences(sp.colors, vk.ImageLayoutColorAttachmentOptimal),
			PResolveAttachments:     attachmentReferences(sp.resolve, vk.ImageLayoutColorAttachmentOptimal),
			PDepthStencilAttachment: &depthRefs[i],
		}

		set := slices.Clone(sp.colors)
		set = append(set, sp.depth)
		slices.Sort(set)
		rp.subPasses[i] = slices.Compact(set)
	}

	renderPass, ret := ctx.drv.CreateRenderPass(&vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descs)),
		PAttachments:    descs,
		SubpassCount:    uint32(len(vkSubPasses)),
		PSubpasses:      vkSubPasses,
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	})
	if err := vkResult(ret, "Failed to create render pass"); err != nil {
		return nil, err
	}
	rp.vkRenderPass = renderPass
	rp.noCopy.init()

	instance.logger.VPrintf("Created render pass: %s", prettyString(rp))
	return rp, nil
}

// chooseSampleCount returns 8 when both color and depth framebuffers support
// it, 1 otherwise.
func chooseSampleCount(props *Properties) SampleCountFlags {
	supported := props.Limits.FramebufferColorSampleCounts & props.Limits.FramebufferDepthSampleCounts
	if supported.HasBits(SampleCount8) {
		return SampleCount8
	}
	instance.logger.WPrintf("8x MSAA not supported by framebuffers [%s], using 1x", supported)
	return SampleCount1
}

// CreateDefaultRenderPass creates the deferred pass:
//
//	0, 1: R16G16B16A16Sfloat position and normal
//	2:    R8G8B8A8Unorm albedo and specular
//	3:    depth stencil
//	4:    B8G8R8A8Unorm lighting result
//	5:    surfaceFormat resolve target, presentable
//
// Subpass 0 fills the gbuffer, 1 reads it as input attachments and writes 4,
// 2 resolves 4 into 5.
func CreateDefaultRenderPass(ctx *DeviceContext, surfaceFormat Format) (*RenderPass, error) {
	ctx.noCopy.check()

	samples := chooseSampleCount(&ctx.properties)
	depthFormat := ChooseDepthFormat(ctx)

	attachments := []Attachment{
		{Format: FormatR16G16B16A16Sfloat, Samples: samples, FinalLayout: vk.ImageLayoutColorAttachmentOptimal},
		{Format: FormatR16G16B16A16Sfloat, Samples: samples, FinalLayout: vk.ImageLayoutColorAttachmentOptimal},
		{Format: FormatR8G8B8A8Unorm, Samples: samples, FinalLayout: vk.ImageLayoutColorAttachmentOptimal},
		{Format: depthFormat, Samples: samples, FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal},
		{Format: FormatB8G8R8A8Unorm, Samples: samples, FinalLayout: vk.ImageLayoutColorAttachmentOptimal},
		{Format: surfaceFormat, Samples: SampleCount1, FinalLayout: vk.ImageLayoutPresentSrc},
	}

	subPasses := []subPassDescription{
		{colors: []uint32{0, 1, 2}, depth: defaultPassDepthAttachment},
		{inputs: []uint32{0, 1, 2}, colors: []uint32{4}, depth: defaultPassDepthAttachment},
		{colors: []uint32{4}, resolve: []uint32{defaultPassResolveAttachment}, depth: defaultPassDepthAttachment},
	}

	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    0,
			DstSubpass:    1,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		},
		{
			SrcSubpass:    1,
			DstSubpass:    2,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		},
	}

	return createRenderPass(ctx, attachments, subPasses, dependencies)
}

// CreateSimpleRenderPass creates a single subpass pass with one color
// attachment left in ShaderReadOnlyOptimal and one depth attachment.
func CreateSimpleRenderPass(ctx *DeviceContext, colorFormat Format) (*RenderPass, error) {
	ctx.noCopy.check()

	attachments := []Attachment{
		{Format: colorFormat, Samples: SampleCount1, FinalLayout: vk.ImageLayoutShaderReadOnlyOptimal},
		{Format: ChooseDepthFormat(ctx), Samples: SampleCount1, FinalLayout: vk.ImageLayoutDepthStencilAttachmentOptimal},
	}

	subPasses := []subPassDescription{
		{colors: []uint32{0}, depth: simplePassDepthAttachment},
	}

	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:      vk.SubpassExternal,
			DstSubpass:      0,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			SrcAccessMask:   vk.AccessFlags(vk.AccessShaderReadBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
		{
			SrcSubpass:      0,
			DstSubpass:      vk.SubpassExternal,
			SrcStageMask:    vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			DstStageMask:    vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			SrcAccessMask:   vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask:   vk.AccessFlags(vk.AccessShaderReadBit),
			DependencyFlags: vk.DependencyFlags(vk.DependencyByRegionBit),
		},
	}

	return createRenderPass(ctx, attachments, subPasses, dependencies)
}

// ClearValues returns one clear value per attachment: color attachments get
// color, everything else depth 1 and stencil 0.
func ClearValues(rp *RenderPass, color [4]float32) []vk.ClearValue {
	rp.noCopy.check()
	values := make([]vk.ClearValue, len(rp.attachments))
	for i, a := range rp.attachments {
		if a.Format.Aspect() == ImageAspectColor {
			values[i].SetColor(color[:])
		} else {
			values[i].SetDepthStencil(1, 0)
		}
	}
	return values
}
