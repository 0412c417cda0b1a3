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
	"errors"
	"math"
	"testing"

	"goarrg.com/gmath"

	vk "github.com/vulkan-go/vulkan"
)

func mustReflect(t *testing.T, code []byte) *ShaderLayout {
	t.Helper()
	l, err := ReflectShader(code)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func mustShader(t *testing.T, ctx *DeviceContext, id string, code []byte) *Shader {
	t.Helper()
	s, err := CreateShaderFromCode(ctx, id, code)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if s.noCopy.alive() {
			s.Destroy()
		}
	})
	return s
}

func TestMergePushConstants(t *testing.T) {
	ranges := mergePushConstants([]*ShaderLayout{
		mustReflect(t, vertexCode()),
		mustReflect(t, fragmentCode()),
	})
	want := []PushConstantRange{
		{Stage: ShaderStageVertex, Offset: 0, Size: 64},
		{Stage: ShaderStageFragment, Offset: 64, Size: 64},
	}
	if len(ranges) != len(want) {
		t.Fatalf("Got %d ranges: %+v", len(ranges), ranges)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("Range %d: got %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestValidatePushConstants(t *testing.T) {
	l := &PipelineLayout{
		pushConstantRanges: []PushConstantRange{
			{Stage: ShaderStageVertex, Offset: 0, Size: 64},
			{Stage: ShaderStageFragment, Offset: 64, Size: 64},
		},
		name: "test",
	}

	tests := []struct {
		name   string
		stage  ShaderStage
		offset uint32
		size   int
		ok     bool
	}{
		{"vertex", ShaderStageVertex, 0, 64, true},
		{"fragment tail", ShaderStageFragment, 96, 32, true},
		{"past range", ShaderStageVertex, 32, 64, false},
		{"wrong stage", ShaderStageFragment, 0, 16, false},
		{"offset wraps", ShaderStageVertex, math.MaxUint32 - 15, 32, false},
		{"fragment wraps", ShaderStageFragment, math.MaxUint32, 2, false},
	}
	for _, tc := range tests {
		err := l.cmdValidatePushConstants(tc.stage, tc.offset, tc.size)
		if (err == nil) != tc.ok {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}
}

func TestMergeDescriptorSets(t *testing.T) {
	vert := &ShaderLayout{
		Stage: ShaderStageVertex,
		DescriptorSets: map[uint32][]DescriptorSetLayoutBinding{
			0: {
				{Binding: 1, Type: DescriptorTypeStorageBuffer, Count: 4, Stage: ShaderStageVertex},
				{Binding: 0, Type: DescriptorTypeUniformBuffer, Count: 1, Stage: ShaderStageVertex},
			},
		},
	}
	frag := &ShaderLayout{
		Stage: ShaderStageFragment,
		DescriptorSets: map[uint32][]DescriptorSetLayoutBinding{
			0: {{Binding: 1, Type: DescriptorTypeStorageBuffer, Count: 8, Stage: ShaderStageFragment}},
			2: {{Binding: 0, Type: DescriptorTypeCombinedImageSampler, Count: 16, Stage: ShaderStageFragment}},
		},
	}

	sets, err := mergeDescriptorSets([]*ShaderLayout{vert, frag, {Stage: ShaderStageGeometry}})
	if err != nil {
		t.Fatal(err)
	}
	if len(sets) != 2 {
		t.Fatalf("Got %d sets: %+v", len(sets), sets)
	}

	want := []DescriptorSetLayoutBinding{
		{Binding: 0, Type: DescriptorTypeUniformBuffer, Count: 1, Stage: ShaderStageVertex},
		{Binding: 1, Type: DescriptorTypeStorageBuffer, Count: 8, Stage: ShaderStageVertex | ShaderStageFragment},
	}
	if len(sets[0]) != len(want) {
		t.Fatalf("Got set 0 %+v", sets[0])
	}
	for i := range want {
		if sets[0][i] != want[i] {
			t.Errorf("Set 0 binding %d: got %+v, want %+v", i, sets[0][i], want[i])
		}
	}
	if sets[2][0].Count != 16 {
		t.Errorf("Got set 2 %+v", sets[2])
	}

	// the inputs are not modified
	if vert.DescriptorSets[0][0].Stage != ShaderStageVertex || vert.DescriptorSets[0][0].Count != 4 {
		t.Errorf("Merge modified its input: %+v", vert.DescriptorSets[0])
	}
}

func TestMergeDescriptorSetsTypeMismatch(t *testing.T) {
	a := &ShaderLayout{DescriptorSets: map[uint32][]DescriptorSetLayoutBinding{
		0: {{Binding: 0, Type: DescriptorTypeUniformBuffer, Count: 1, Stage: ShaderStageVertex}},
	}}
	b := &ShaderLayout{DescriptorSets: map[uint32][]DescriptorSetLayoutBinding{
		0: {{Binding: 0, Type: DescriptorTypeStorageBuffer, Count: 1, Stage: ShaderStageFragment}},
	}}
	if _, err := mergeDescriptorSets([]*ShaderLayout{a, b}); !errors.Is(err, ErrorInvalidArgument{}) {
		t.Errorf("Expected ErrorInvalidArgument, got: %v", err)
	}
}

func TestComputePipelineLayout(t *testing.T) {
	ctx, drv := newTestContext(t)
	s := mustShader(t, ctx, "cull.comp", computeCode())

	p, err := CreateComputePipeline(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind() != PipelineKindCompute {
		t.Errorf("Got kind %s", p.Kind())
	}

	l := p.Layout()
	if l.SetCount() != 3 {
		t.Fatalf("Got %d sets, want 3", l.SetCount())
	}
	if l.DescriptorAllocator(1) != nil {
		t.Error("Set without bindings has an allocator")
	}
	if _, err := p.NewDescriptorSet(1); !errors.Is(err, ErrorInvalidArgument{}) {
		t.Errorf("Expected ErrorInvalidArgument for a set without bindings, got: %v", err)
	}

	if len(drv.poolInfos) != 2 {
		t.Fatalf("Got %d pools, want one per set with bindings", len(drv.poolInfos))
	}
	for i, info := range drv.poolInfos {
		if info.MaxSets < 1 {
			t.Errorf("Pool %d has MaxSets %d", i, info.MaxSets)
		}
		if len(info.PPoolSizes) != 1 || info.PPoolSizes[0].DescriptorCount != 1+defaultDescriptorCountSlack {
			t.Errorf("Pool %d sizes %+v", i, info.PPoolSizes)
		}
	}

	// set 0 and set 2 have identical bindings and share a layout
	if n := drv.createdCount("descriptorSetLayout"); n != 2 {
		t.Errorf("Created %d descriptor set layouts, want 2", n)
	}

	again, err := CreateComputePipeline(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if drv.createdCount("descriptorSetLayout") != 2 || drv.createdCount("pipelineLayout") != 1 {
		t.Errorf("Layouts were not reused: %v", drv.created)
	}
	if again.Layout().VkPipelineLayout() != l.VkPipelineLayout() {
		t.Error("Equal layouts got different handles")
	}

	p.Destroy()
	again.Destroy()
	if drv.liveCount("descriptorPool") != 0 || drv.liveCount("pipeline") != 0 {
		t.Errorf("Leaked pools or pipelines: %v", drv.live)
	}
	// cached layouts live until the context is destroyed
	if drv.liveCount("pipelineLayout") != 1 {
		t.Errorf("Pipeline layout destroyed early: %v", drv.live)
	}
	ctx.Destroy()
	if drv.liveCount("pipelineLayout") != 0 || drv.liveCount("descriptorSetLayout") != 0 {
		t.Errorf("Context leaked layouts: %v", drv.live)
	}
}

func TestComputePipelineWrongStage(t *testing.T) {
	ctx, _ := newTestContext(t)
	s := mustShader(t, ctx, "mesh.vert", vertexCode())
	if _, err := CreateComputePipeline(ctx, s); !errors.Is(err, ErrorInvalidArgument{}) {
		t.Errorf("Expected ErrorInvalidArgument, got: %v", err)
	}
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	ctx, drv := newTestContext(t, func(c *Config) { c.DescriptorPoolMaxSets = 2 })
	p, err := CreateComputePipeline(ctx, mustShader(t, ctx, "cull.comp", computeCode()))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	a, err := p.NewDescriptorSet(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.NewDescriptorSet(0); err != nil {
		t.Fatal(err)
	}
	if _, err := p.NewDescriptorSet(0); !errors.Is(err, ErrorPoolExhausted{}) {
		t.Fatalf("Expected ErrorPoolExhausted, got: %v", err)
	}

	// other sets have their own pool
	if _, err := p.NewDescriptorSet(2); err != nil {
		t.Fatal(err)
	}

	a.Destroy()
	if _, err := p.NewDescriptorSet(0); err != nil {
		t.Fatalf("Freed set was not reused: %v", err)
	}
	if n := drv.createdCount("descriptorSet"); n != 3 {
		t.Errorf("Allocated %d sets from the driver, want 3", n)
	}
}

func TestGraphicsPipeline(t *testing.T) {
	ctx, drv := newTestContext(t)
	vert := mustShader(t, ctx, "mesh.vert", vertexCode())
	frag := mustShader(t, ctx, "mesh.frag", fragmentCode())

	rp, err := CreateDefaultRenderPass(ctx, FormatB8G8R8A8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Destroy()

	info := DefaultPipelineInfo()
	info.TextureCount = 16
	p, err := CreateGraphicsPipeline(ctx, rp, []*Shader{vert, frag}, info)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	if len(drv.graphicsPipelines) != 1 {
		t.Fatalf("Got %d pipelines", len(drv.graphicsPipelines))
	}
	got := drv.graphicsPipelines[0]
	if got.StageCount != 2 || got.Subpass != 0 {
		t.Errorf("Got %d stages for subpass %d", got.StageCount, got.Subpass)
	}
	if got.PMultisampleState.RasterizationSamples != vk.SampleCount8Bit {
		t.Errorf("Sample count was not taken from the subpass: %d", got.PMultisampleState.RasterizationSamples)
	}
	if got.PColorBlendState.AttachmentCount != 3 {
		t.Errorf("Got %d blend attachments for the gbuffer subpass", got.PColorBlendState.AttachmentCount)
	}
	if got.PVertexInputState.VertexBindingDescriptionCount != 3 {
		t.Errorf("Got %d vertex bindings", got.PVertexInputState.VertexBindingDescriptionCount)
	}

	l := p.Layout()
	if ranges := l.PushConstantRanges(); len(ranges) != 2 {
		t.Errorf("Got push constant ranges %+v", ranges)
	}
	bindings := l.DescriptorAllocator(1).Bindings()
	if len(bindings) != 1 || bindings[0].Count != 16 || bindings[0].Type != DescriptorTypeCombinedImageSampler {
		t.Errorf("Texture array was not sized: %+v", bindings)
	}
	camera := l.DescriptorAllocator(0).Bindings()
	if len(camera) != 1 || camera[0].Stage != ShaderStageVertex|ShaderStageFragment {
		t.Errorf("Shared uniform was not merged: %+v", camera)
	}

	// the shader's own layout stays unsized
	if frag.Layout().DescriptorSets[1][0].Count != 0 {
		t.Error("Pipeline creation modified the shader layout")
	}
}

func TestGraphicsPipelineInvalid(t *testing.T) {
	ctx, drv := newTestContext(t)
	vert := mustShader(t, ctx, "mesh.vert", vertexCode())
	frag := mustShader(t, ctx, "mesh.frag", fragmentCode())
	comp := mustShader(t, ctx, "cull.comp", computeCode())

	rp, err := CreateSimpleRenderPass(ctx, FormatR8G8B8A8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Destroy()

	wide := DefaultPipelineInfo()
	wide.LineWidth = 16
	subPass := DefaultPipelineInfo()
	subPass.SubPass = 1

	tests := []struct {
		name    string
		shaders []*Shader
		info    PipelineInfo
	}{
		{"no vertex", []*Shader{frag}, DefaultPipelineInfo()},
		{"two vertex", []*Shader{vert, vert, frag}, DefaultPipelineInfo()},
		{"compute", []*Shader{vert, comp}, DefaultPipelineInfo()},
		{"line width", []*Shader{vert, frag}, wide},
		{"subpass", []*Shader{vert, frag}, subPass},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := CreateGraphicsPipeline(ctx, rp, tc.shaders, tc.info); !errors.Is(err, ErrorInvalidArgument{}) {
				t.Errorf("Expected ErrorInvalidArgument, got: %v", err)
			}
		})
	}

	drv.fail["CreateGraphicsPipeline"] = vk.ErrorOutOfDeviceMemory
	if _, err := CreateGraphicsPipeline(ctx, rp, []*Shader{vert, frag}, DefaultPipelineInfo()); !errors.Is(err, ErrorAllocationFailed{}) {
		t.Errorf("Expected ErrorAllocationFailed, got: %v", err)
	}
	if drv.liveCount("descriptorPool") != 0 {
		t.Errorf("Failed pipeline leaked %d pools", drv.liveCount("descriptorPool"))
	}
}

func TestDescriptorSetBind(t *testing.T) {
	ctx, drv := newTestContext(t)
	vert := mustShader(t, ctx, "mesh.vert", vertexCode())
	frag := mustShader(t, ctx, "mesh.frag", fragmentCode())

	rp, err := CreateSimpleRenderPass(ctx, FormatR8G8B8A8Unorm)
	if err != nil {
		t.Fatal(err)
	}
	defer rp.Destroy()

	info := DefaultPipelineInfo()
	info.TextureCount = 4
	p, err := CreateGraphicsPipeline(ctx, rp, []*Shader{vert, frag}, info)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	set, err := p.NewDescriptorSet(1)
	if err != nil {
		t.Fatal(err)
	}
	defer set.Destroy()
	if set.MaxDescriptorCount(0) != 4 {
		t.Errorf("Got max descriptor count %d", set.MaxDescriptorCount(0))
	}

	sampler, err := CreateSampler(ctx, SamplerInfo{Filter: SamplerFilterLinear, AddressMode: SamplerAddressModeRepeat})
	if err != nil {
		t.Fatal(err)
	}
	defer sampler.Destroy()
	tex, err := CreateTexture(ctx, TextureCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: gmath.Extent2i32{X: 4, Y: 4}})
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Destroy()

	image := DescriptorCombinedImageSamplerInfo{Sampler: sampler, Texture: tex, Layout: vk.ImageLayoutShaderReadOnlyOptimal}
	set.Bind(0, 2, image, image)
	if len(drv.writes) != 1 {
		t.Fatalf("Got %d writes", len(drv.writes))
	}
	w := drv.writes[0]
	if w.DstArrayElement != 2 || w.DescriptorCount != 2 || w.DescriptorType != vk.DescriptorTypeCombinedImageSampler || len(w.PImageInfo) != 2 {
		t.Errorf("Got write %+v", w)
	}

	expectAbort(t, func() { set.Bind(0, 3, image, image) })
	expectAbort(t, func() { set.Bind(5, 0, image) })
}

func TestCommandBufferPipelineValidation(t *testing.T) {
	ctx, _ := newTestContext(t)
	p, err := CreateComputePipeline(ctx, mustShader(t, ctx, "cull.comp", computeCode()))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	set0, err := p.NewDescriptorSet(0)
	if err != nil {
		t.Fatal(err)
	}
	defer set0.Destroy()

	cb, err := ctx.GetCommandBuffer()
	if err != nil {
		t.Fatal(err)
	}

	expectAbort(t, func() { cb.Dispatch(gmath.Extent3u32{X: 1, Y: 1, Z: 1}) })

	cb.BindPipeline(p)
	cb.BindDescriptorSets(0, set0)
	expectAbort(t, func() { cb.BindDescriptorSets(2, set0, set0) })
	expectAbort(t, func() { cb.PushConstants(ShaderStageCompute, 0, make([]byte, 4)) })
	expectAbort(t, func() { cb.Dispatch(gmath.Extent3u32{X: 1 << 20, Y: 1, Z: 1}) })
	cb.Dispatch(gmath.Extent3u32{X: 64, Y: 1, Z: 1})

	if err := ctx.SubmitAndWait(cb); err != nil {
		t.Fatal(err)
	}
}

func TestValidateDispatch(t *testing.T) {
	ctx, _ := newTestContext(t)
	if err := ValidateDispatch(ctx, gmath.Extent3u32{X: 65535, Y: 1, Z: 1}); err != nil {
		t.Errorf("Dispatch at the limit failed: %v", err)
	}
	if err := ValidateDispatch(ctx, gmath.Extent3u32{X: 1, Y: 1, Z: 65536}); !errors.Is(err, ErrorInvalidArgument{}) {
		t.Errorf("Expected ErrorInvalidArgument, got: %v", err)
	}
}
