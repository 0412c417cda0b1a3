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

	"goarrg.com/debug"

	vk "github.com/vulkan-go/vulkan"
)

type VertexTopology vk.PrimitiveTopology

const (
	VertexTopologyPointList     VertexTopology = VertexTopology(vk.PrimitiveTopologyPointList)
	VertexTopologyLineList      VertexTopology = VertexTopology(vk.PrimitiveTopologyLineList)
	VertexTopologyLineStrip     VertexTopology = VertexTopology(vk.PrimitiveTopologyLineStrip)
	VertexTopologyTriangleList  VertexTopology = VertexTopology(vk.PrimitiveTopologyTriangleList)
	VertexTopologyTriangleStrip VertexTopology = VertexTopology(vk.PrimitiveTopologyTriangleStrip)
	VertexTopologyTriangleFan   VertexTopology = VertexTopology(vk.PrimitiveTopologyTriangleFan)
	VertexTopologyPatchList     VertexTopology = VertexTopology(vk.PrimitiveTopologyPatchList)
)

func (t VertexTopology) String() string {
	switch t {
	case VertexTopologyPointList:
		return "PointList"
	case VertexTopologyLineList:
		return "LineList"
	case VertexTopologyLineStrip:
		return "LineStrip"
	case VertexTopologyTriangleList:
		return "TriangleList"
	case VertexTopologyTriangleStrip:
		return "TriangleStrip"
	case VertexTopologyTriangleFan:
		return "TriangleFan"
	case VertexTopologyPatchList:
		return "PatchList"

	default:
		abort("Unknown VertexTopology: %d", t)
		return ""
	}
}

type PolygonMode vk.PolygonMode

const (
	PolygonModeFill  PolygonMode = PolygonMode(vk.PolygonModeFill)
	PolygonModeLine  PolygonMode = PolygonMode(vk.PolygonModeLine)
	PolygonModePoint PolygonMode = PolygonMode(vk.PolygonModePoint)
)

func (m PolygonMode) String() string {
	switch m {
	case PolygonModeFill:
		return "Fill"
	case PolygonModeLine:
		return "Line"
	case PolygonModePoint:
		return "Point"

	default:
		abort("Unknown PolygonMode: %d", m)
		return ""
	}
}

type PipelineInfo struct {
	Topology    VertexTopology
	PolygonMode PolygonMode
	LineWidth   float32
	// SampleCount of 0 takes the sample count of the subpass's first
	// attachment.
	SampleCount SampleCountFlags
	WriteDepth  bool
	SubPass     int
	// TextureCount sizes fragment shader sampler arrays declared without a
	// size.
	TextureCount uint32
}

func DefaultPipelineInfo() PipelineInfo {
	return PipelineInfo{
		Topology:    VertexTopologyTriangleList,
		PolygonMode: PolygonModeFill,
		LineWidth:   1,
		WriteDepth:  true,
	}
}

func (info *PipelineInfo) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Topology\": %q,", info.Topology.String()))
	buff.WriteString(fmt.Sprintf("\"PolygonMode\": %q,", info.PolygonMode.String()))
	buff.WriteString(fmt.Sprintf("\"LineWidth\": %g,", info.LineWidth))
	buff.WriteString(fmt.Sprintf("\"SampleCount\": %q,", info.SampleCount.String()))
	buff.WriteString(fmt.Sprintf("\"WriteDepth\": %t,", info.WriteDepth))
	buff.WriteString(fmt.Sprintf("\"SubPass\": %d,", info.SubPass))
	buff.WriteString(fmt.Sprintf("\"TextureCount\": %d", info.TextureCount))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

// patchTextureCount sizes the unsized combined image sampler arrays of the
// fragment stage, the layouts are modified in place.
func patchTextureCount(layouts []*ShaderLayout, count uint32) {
	for _, l := range layouts {
		if l.Stage != ShaderStageFragment {
			continue
		}
		for _, bindings := range l.DescriptorSets {
			for i := range bindings {
				if bindings[i].Type == DescriptorTypeCombinedImageSampler && bindings[i].Count == 0 {
					bindings[i].Count = count
				}
			}
		}
	}
}

// colorBlendAttachments returns one blend state per color attachment of
// subpass. Blending is disabled, the factors apply once it is turned on.
func colorBlendAttachments(rp *RenderPass, subPass int) []vk.PipelineColorBlendAttachmentState {
	var states []vk.PipelineColorBlendAttachmentState
	for _, i := range rp.subPasses[subPass] {
		if !rp.attachments[i].Format.Aspect().HasBits(ImageAspectColor) {
			continue
		}
		states = append(states, vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vkBool(false),
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(
				vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit,
			),
		})
	}
	return states
}

func (info *PipelineInfo) validate(ctx *DeviceContext, rp *RenderPass) error {
	if info.SubPass < 0 || info.SubPass >= rp.subPassCount {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "PipelineInfo.SubPass [%d] out of range [0, %d)", info.SubPass, rp.subPassCount)
	}
	if info.LineWidth == 0 {
		info.LineWidth = 1
	}
	if !ctx.properties.Limits.LineWidth.CheckValue(info.LineWidth) {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "PipelineInfo.LineWidth [%g] is not within Properties.Limits.LineWidth [%+v]",
			info.LineWidth, ctx.properties.Limits.LineWidth)
	}
	if info.SampleCount == 0 {
		info.SampleCount = SampleCount1
		if attachments := rp.subPasses[info.SubPass]; len(attachments) > 0 {
			info.SampleCount = rp.attachments[attachments[0]].Samples
		}
	}
	return nil
}

// CreateGraphicsPipeline builds a pipeline for subpass info.SubPass of rp
// with a layout reflected from shaders. Exactly one vertex shader is required.
func CreateGraphicsPipeline(ctx *DeviceContext, rp *RenderPass, shaders []*Shader, info PipelineInfo) (*Pipeline, error) {
	ctx.noCopy.check()
	rp.noCopy.check()

	if err := info.validate(ctx, rp); err != nil {
		return nil, err
	}

	var vertex *Shader
	layouts := make([]*ShaderLayout, 0, len(shaders))
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(shaders))
	for i, s := range shaders {
		s.noCopy.check()
		switch s.layout.Stage {
		case ShaderStageCompute:
			return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Shader [%d] %q is a compute shader", i, s.id)
		case ShaderStageVertex:
			if vertex != nil {
				return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Shader [%d] %q is a second vertex shader", i, s.id)
			}
			vertex = s
		}
		layouts = append(layouts, s.layout.clone())
		stages = append(stages, s.vkPipelineShaderStageCreateInfo())
	}
	if vertex == nil {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Graphics pipeline requires a vertex shader")
	}

	patchTextureCount(layouts, info.TextureCount)
	layout, err := reflectPipelineLayout(ctx, layouts)
	if err != nil {
		return nil, err
	}

	vertexInput := vertex.layout.VertexInput.vkPipelineVertexInputStateCreateInfo()
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(info.Topology),
		PrimitiveRestartEnable: vkBool(false),
	}
	// viewport and scissor are dynamic, only the counts matter
	viewport := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCountFlagBits(info.SampleCount),
		SampleShadingEnable:  vkBool(false),
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vkBool(true),
		RasterizerDiscardEnable: vkBool(false),
		PolygonMode:             vk.PolygonMode(info.PolygonMode),
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vkBool(false),
		LineWidth:               info.LineWidth,
	}
	stencilOp := vk.StencilOpState{
		FailOp:    vk.StencilOpKeep,
		PassOp:    vk.StencilOpKeep,
		CompareOp: vk.CompareOpAlways,
	}
	depth := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vkBool(true),
		DepthWriteEnable:      vkBool(info.WriteDepth),
		DepthCompareOp:        vk.CompareOpLessOrEqual,
		DepthBoundsTestEnable: vkBool(false),
		StencilTestEnable:     vkBool(false),
		Front:                 stencilOp,
		Back:                  stencilOp,
		MinDepthBounds:        0,
		MaxDepthBounds:        1,
	}
	blendAttachments := colorBlendAttachments(rp, info.SubPass)
	blend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vkBool(false),
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipeline, ret := ctx.drv.CreateGraphicsPipeline(ctx.pipelineCache, vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewport,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depth,
		PColorBlendState:    &blend,
		PDynamicState:       &dynamic,
		Layout:              layout.vkPipelineLayout,
		RenderPass:          rp.vkRenderPass,
		Subpass:             uint32(info.SubPass),
	})
	if err := vkResult(ret, "Failed to create graphics pipeline %s", layout.name); err != nil {
		layout.Destroy()
		return nil, err
	}

	p := &Pipeline{
		ctx:        ctx,
		kind:       PipelineKindGraphics,
		vkPipeline: pipeline,
		layout:     layout,
	}
	p.noCopy.init()
	instance.logger.VPrintf("Created graphics pipeline %s with %s", toHex(pipeline), prettyString(&info))
	return p, nil
}
