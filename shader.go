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

	"goarrg.com/debug"
	"goarrg.com/rhi/vkm/internal/spirv"

	vk "github.com/vulkan-go/vulkan"
)

type ShaderStage vk.ShaderStageFlags

const (
	ShaderStageVertex                 ShaderStage = ShaderStage(vk.ShaderStageVertexBit)
	ShaderStageTessellationControl    ShaderStage = ShaderStage(vk.ShaderStageTessellationControlBit)
	ShaderStageTessellationEvaluation ShaderStage = ShaderStage(vk.ShaderStageTessellationEvaluationBit)
	ShaderStageGeometry               ShaderStage = ShaderStage(vk.ShaderStageGeometryBit)
	ShaderStageFragment               ShaderStage = ShaderStage(vk.ShaderStageFragmentBit)
	ShaderStageCompute                ShaderStage = ShaderStage(vk.ShaderStageComputeBit)
	ShaderStageGraphics               ShaderStage = ShaderStage(vk.ShaderStageAllGraphics)
)

func (s ShaderStage) HasBits(want ShaderStage) bool {
	return (s & want) == want
}

func (s ShaderStage) String() string {
	str := ""

	if s.HasBits(ShaderStageVertex) {
		str += "Vertex|"
	}
	if s.HasBits(ShaderStageTessellationControl) {
		str += "TessellationControl|"
	}
	if s.HasBits(ShaderStageTessellationEvaluation) {
		str += "TessellationEvaluation|"
	}
	if s.HasBits(ShaderStageGeometry) {
		str += "Geometry|"
	}
	if s.HasBits(ShaderStageFragment) {
		str += "Fragment|"
	}
	if s.HasBits(ShaderStageCompute) {
		str += "Compute|"
	}

	return strings.TrimSuffix(str, "|")
}

func shaderStageFromExecutionModel(m spirv.ExecutionModel) (ShaderStage, error) {
	switch m {
	case spirv.ExecutionModelVertex:
		return ShaderStageVertex, nil
	case spirv.ExecutionModelTessellationControl:
		return ShaderStageTessellationControl, nil
	case spirv.ExecutionModelTessellationEvaluation:
		return ShaderStageTessellationEvaluation, nil
	case spirv.ExecutionModelGeometry:
		return ShaderStageGeometry, nil
	case spirv.ExecutionModelFragment:
		return ShaderStageFragment, nil
	case spirv.ExecutionModelGLCompute:
		return ShaderStageCompute, nil
	}
	return 0, debug.Errorf("Unsupported execution model [%d]", m)
}

// VertexSemantic is the vertex buffer binding a vertex shader input is read
// from.
type VertexSemantic uint32

const (
	VertexSemanticPosition VertexSemantic = iota
	VertexSemanticTexCoord
	VertexSemanticNormal
	VertexSemanticTangent
	VertexSemanticColor
)

var vertexSemantics = [...]struct {
	semantic VertexSemantic
	names    []string
}{
	{VertexSemanticPosition, []string{"inPos"}},
	{VertexSemanticTexCoord, []string{"inTex", "inUV"}},
	{VertexSemanticNormal, []string{"inNormal"}},
	{VertexSemanticTangent, []string{"inTangent"}},
	{VertexSemanticColor, []string{"inColor"}},
}

func (s VertexSemantic) String() string {
	switch s {
	case VertexSemanticPosition:
		return "Position"
	case VertexSemanticTexCoord:
		return "TexCoord"
	case VertexSemanticNormal:
		return "Normal"
	case VertexSemanticTangent:
		return "Tangent"
	case VertexSemanticColor:
		return "Color"

	default:
		abort("Unknown VertexSemantic: %d", s)
	}

	return ""
}

// LookupVertexSemantic maps a vertex shader input name to its semantic.
func LookupVertexSemantic(name string) (VertexSemantic, bool) {
	for _, s := range vertexSemantics {
		if slices.Contains(s.names, name) {
			return s.semantic, true
		}
	}
	return 0, false
}

type VertexInputLayout struct {
	Bindings   []vk.VertexInputBindingDescription
	Attributes []vk.VertexInputAttributeDescription
}

func (l *VertexInputLayout) vkPipelineVertexInputStateCreateInfo() vk.PipelineVertexInputStateCreateInfo {
	return vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(l.Bindings)),
		PVertexBindingDescriptions:      l.Bindings,
		VertexAttributeDescriptionCount: uint32(len(l.Attributes)),
		PVertexAttributeDescriptions:    l.Attributes,
	}
}

type PushConstantRange struct {
	Stage  ShaderStage
	Offset uint32
	Size   uint32
}

func (r PushConstantRange) vkPushConstantRange() vk.PushConstantRange {
	return vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(r.Stage),
		Offset:     r.Offset,
		Size:       r.Size,
	}
}

type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	// Count is 0 for runtime sized arrays until a pipeline gives it a size.
	Count uint32
	Stage ShaderStage
}

func (b DescriptorSetLayoutBinding) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"binding\": %d,", b.Binding))
	buff.WriteString(fmt.Sprintf("\"type\": %q,", b.Type.String()))
	buff.WriteString(fmt.Sprintf("\"count\": %d,", b.Count))
	buff.WriteString(fmt.Sprintf("\"stage\": %q", b.Stage.String()))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

// ShaderLayout is everything a pipeline needs to know about a shader module.
type ShaderLayout struct {
	EntryPoint     string
	Stage          ShaderStage
	VertexInput    VertexInputLayout
	PushConstants  []PushConstantRange
	DescriptorSets map[uint32][]DescriptorSetLayoutBinding
}

func (l *ShaderLayout) clone() *ShaderLayout {
	c := *l
	c.VertexInput.Bindings = slices.Clone(l.VertexInput.Bindings)
	c.VertexInput.Attributes = slices.Clone(l.VertexInput.Attributes)
	c.PushConstants = slices.Clone(l.PushConstants)
	c.DescriptorSets = make(map[uint32][]DescriptorSetLayoutBinding, len(l.DescriptorSets))
	for set, bindings := range l.DescriptorSets {
		c.DescriptorSets[set] = slices.Clone(bindings)
	}
	return &c
}

func (l *ShaderLayout) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"entryPoint\": %q,", l.EntryPoint))
	buff.WriteString(fmt.Sprintf("\"stage\": %q,", l.Stage.String()))

	buff.WriteString("\"vertexInput\": [")
	if len(l.VertexInput.Attributes) > 0 {
		for _, a := range l.VertexInput.Attributes {
			buff.WriteString(fmt.Sprintf("{\"location\": %d, \"binding\": %d, \"format\": %q, \"offset\": %d},",
				a.Location, a.Binding, Format(a.Format).String(), a.Offset))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("],")

	buff.WriteString("\"pushConstants\": [")
	if len(l.PushConstants) > 0 {
		for _, r := range l.PushConstants {
			buff.WriteString(fmt.Sprintf("{\"stage\": %q, \"offset\": %d, \"size\": %d},", r.Stage.String(), r.Offset, r.Size))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("],")

	buff.WriteString("\"descriptorSets\": {")
	{
		err := mapRunFuncSorted(l.DescriptorSets, func(set uint32, bindings []DescriptorSetLayoutBinding) error {
			buff.WriteString(fmt.Sprintf("\"%d\": %s,", set, jsonString(bindings)))
			return nil
		})
		if err == nil {
			buff.Truncate(buff.Len() - 1)
		}
	}
	buff.WriteString("}")

	buff.WriteString("}")
	return buff.Bytes(), nil
}

// Validate checks the layout against device limits.
func (l *ShaderLayout) Validate(props *Properties) error {
	for _, r := range l.PushConstants {
		if r.Offset+r.Size > props.Limits.MaxPushConstantsSize {
			return debug.Errorf("Shader's push constants Offset [%d] + Size [%d] is greater than Properties.Limits.MaxPushConstantsSize [%d]",
				r.Offset, r.Size, props.Limits.MaxPushConstantsSize)
		}
	}
	for set := range l.DescriptorSets {
		if set >= props.Limits.MaxBoundDescriptorSets {
			return debug.Errorf("Shader uses descriptor set [%d] but Properties.Limits.MaxBoundDescriptorSets is [%d]",
				set, props.Limits.MaxBoundDescriptorSets)
		}
	}
	return nil
}

func reflectVertexInput(inputs []spirv.InterfaceVariable) (VertexInputLayout, error) {
	layout := VertexInputLayout{}
	strides := map[uint32]uint32{}

	// inputs are sorted by location
	for _, in := range inputs {
		if in.BuiltIn {
			continue
		}
		semantic, ok := LookupVertexSemantic(in.Name)
		if !ok {
			return VertexInputLayout{}, debug.ErrorWrapf(ErrorUnknownVertexInput{Name: in.Name},
				"Vertex input at location [%d] has no vertex semantic", in.Location)
		}
		format := Format(in.Format)
		if format == FormatUndefined {
			return VertexInputLayout{}, debug.Errorf("Vertex input %q has an unsupported type", in.Name)
		}

		binding := uint32(semantic)
		if _, ok := strides[binding]; !ok {
			layout.Bindings = append(layout.Bindings, vk.VertexInputBindingDescription{
				Binding:   binding,
				InputRate: vk.VertexInputRateVertex,
			})
		}
		layout.Attributes = append(layout.Attributes, vk.VertexInputAttributeDescription{
			Location: in.Location,
			Binding:  binding,
			Format:   vk.Format(format),
			Offset:   strides[binding],
		})
		strides[binding] += format.Size()
	}

	for i := range layout.Bindings {
		layout.Bindings[i].Stride = strides[layout.Bindings[i].Binding]
	}
	slices.SortFunc(layout.Bindings, func(a, b vk.VertexInputBindingDescription) int {
		return int(a.Binding) - int(b.Binding)
	})
	return layout, nil
}

// ReflectShader reads the interface of a SPIR-V module. Vertex inputs are only
// reflected for vertex shaders, their names must be in the vertex semantic
// table or an error wrapping ErrorUnknownVertexInput is returned.
func ReflectShader(code []byte) (*ShaderLayout, error) {
	module, err := spirv.Reflect(code)
	if err != nil {
		return nil, err
	}

	stage, err := shaderStageFromExecutionModel(module.Stage)
	if err != nil {
		return nil, err
	}

	layout := &ShaderLayout{
		EntryPoint:     module.EntryPoint,
		Stage:          stage,
		DescriptorSets: map[uint32][]DescriptorSetLayoutBinding{},
	}

	if stage == ShaderStageVertex {
		if layout.VertexInput, err = reflectVertexInput(module.Inputs); err != nil {
			return nil, err
		}
	}

	for _, block := range module.PushConstants {
		layout.PushConstants = append(layout.PushConstants, PushConstantRange{
			Stage:  stage,
			Offset: block.Offset,
			Size:   block.Size,
		})
	}

	for _, b := range module.Bindings {
		layout.DescriptorSets[b.Set] = append(layout.DescriptorSets[b.Set], DescriptorSetLayoutBinding{
			Binding: b.Binding,
			Type:    DescriptorType(b.Type),
			Count:   b.Count,
			Stage:   stage,
		})
	}

	return layout, nil
}

// Shader is an immutable shader module with its reflected layout.
type Shader struct {
	noCopy         noCopy
	ctx            *DeviceContext
	id             string
	vkShaderModule vk.ShaderModule
	layout         *ShaderLayout
}

// CreateShader reads SPIR-V from fs, creates the module and reflects it.
func CreateShader(ctx *DeviceContext, fs FileSystem, path string) (*Shader, error) {
	ctx.noCopy.check()
	code, err := fs.ReadFile(path)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to read shader %q", path)
	}
	return CreateShaderFromCode(ctx, path, code)
}

func CreateShaderFromCode(ctx *DeviceContext, id string, code []byte) (*Shader, error) {
	ctx.noCopy.check()
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Shader %q code size [%d] is not a multiple of 4", id, len(code))
	}

	layout, err := ReflectShader(code)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to reflect shader %q", id)
	}
	if err := layout.Validate(&ctx.properties); err != nil {
		return nil, debug.ErrorWrapf(err, "Shader %q is invalid", id)
	}

	module, ret := ctx.drv.CreateShaderModule(&vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	})
	if err := vkResult(ret, "Failed to create shader module %q", id); err != nil {
		return nil, err
	}

	s := &Shader{
		ctx:            ctx,
		id:             id,
		vkShaderModule: module,
		layout:         layout,
	}
	s.noCopy.init()
	instance.logger.VPrintf("Created shader %q: %s", id, prettyString(layout))
	return s, nil
}

func (s *Shader) ID() string {
	s.noCopy.check()
	return s.id
}

func (s *Shader) Stage() ShaderStage {
	s.noCopy.check()
	return s.layout.Stage
}

// Layout returns a copy of the reflected layout.
func (s *Shader) Layout() *ShaderLayout {
	s.noCopy.check()
	return s.layout.clone()
}

func (s *Shader) vkPipelineShaderStageCreateInfo() vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(s.layout.Stage),
		Module: s.vkShaderModule,
		PName:  cString(s.layout.EntryPoint),
	}
}

func (s *Shader) Destroy() {
	if s == nil {
		return
	}
	s.noCopy.check()
	s.ctx.drv.DestroyShaderModule(s.vkShaderModule)
	s.vkShaderModule = vk.NullShaderModule
	s.noCopy.close()
}
