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

	vk "github.com/vulkan-go/vulkan"
)

type PipelineKind uint32

const (
	PipelineKindGraphics PipelineKind = iota
	PipelineKindCompute
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineKindGraphics:
		return "Graphics"
	case PipelineKindCompute:
		return "Compute"

	default:
		abort("Unknown PipelineKind: %d", k)
	}

	return ""
}

func (k PipelineKind) vkPipelineBindPoint() vk.PipelineBindPoint {
	if k == PipelineKindCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

// mergePushConstants concatenates every stage's ranges, ranges are never
// merged even when they overlap.
func mergePushConstants(layouts []*ShaderLayout) []PushConstantRange {
	var ranges []PushConstantRange
	for _, l := range layouts {
		ranges = append(ranges, l.PushConstants...)
	}
	return ranges
}

// mergeDescriptorSets unions the descriptor sets of every stage. A binding
// used by more than one stage gets the union of the stages and the largest
// count, the descriptor type must agree.
func mergeDescriptorSets(layouts []*ShaderLayout) (map[uint32][]DescriptorSetLayoutBinding, error) {
	merged := map[uint32][]DescriptorSetLayoutBinding{}

	for _, l := range layouts {
		err := mapRunFuncSorted(l.DescriptorSets, func(set uint32, bindings []DescriptorSetLayoutBinding) error {
			current := merged[set]
			for _, b := range bindings {
				i := slices.IndexFunc(current, func(c DescriptorSetLayoutBinding) bool { return c.Binding == b.Binding })
				if i < 0 {
					current = append(current, b)
					continue
				}
				if current[i].Type != b.Type {
					return debug.ErrorWrapf(ErrorInvalidArgument{}, "Set [%d] binding [%d] is %s in %s but %s in %s",
						set, b.Binding, current[i].Type, current[i].Stage, b.Type, b.Stage)
				}
				current[i].Stage |= b.Stage
				current[i].Count = max(current[i].Count, b.Count)
			}
			slices.SortFunc(current, func(a, b DescriptorSetLayoutBinding) int {
				return int(a.Binding) - int(b.Binding)
			})
			merged[set] = current
			return nil
		})
		if err != nil && len(l.DescriptorSets) > 0 {
			return nil, err
		}
	}

	return merged, nil
}

// PipelineLayout is the pipeline layout of a set of shaders plus one
// DescriptorAllocator per set number that has bindings.
type PipelineLayout struct {
	noCopy           noCopy
	ctx              *DeviceContext
	id               string
	name             string
	vkPipelineLayout vk.PipelineLayout

	pushConstantRanges   []PushConstantRange
	descriptorSetLayouts []*descriptorSetLayout
	allocators           map[uint32]*DescriptorAllocator
}

// ReflectPipelineLayout builds the pipeline layout of the given shaders.
func ReflectPipelineLayout(ctx *DeviceContext, shaders ...*Shader) (*PipelineLayout, error) {
	ctx.noCopy.check()
	layouts := make([]*ShaderLayout, 0, len(shaders))
	for _, s := range shaders {
		s.noCopy.check()
		layouts = append(layouts, s.layout)
	}
	return reflectPipelineLayout(ctx, layouts)
}

func reflectPipelineLayout(ctx *DeviceContext, layouts []*ShaderLayout) (*PipelineLayout, error) {
	sets, err := mergeDescriptorSets(layouts)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to merge descriptor sets")
	}

	layout := &PipelineLayout{
		ctx:                ctx,
		pushConstantRanges: mergePushConstants(layouts),
		allocators:         map[uint32]*DescriptorAllocator{},
	}

	{
		var id, name strings.Builder
		for _, r := range layout.pushConstantRanges {
			id.WriteString(genID(toHex(uint32(r.Stage)), toHex(r.Offset), toHex(r.Size)))
			name.WriteString(fmt.Sprintf("[%s,%d,%d]", r.Stage, r.Offset, r.Size))
		}
		if id.Len() == 0 {
			id.WriteString("[]")
			name.WriteString("[\"\",0,0]")
		}
		layout.id = id.String()
		layout.name = name.String()
	}

	numSets := uint32(0)
	for set := range sets {
		numSets = max(numSets, set+1)
	}

	// set numbers without bindings still need a layout for the ones after them
	for set := uint32(0); set < numSets; set++ {
		setLayout := &descriptorSetLayout{bindings: sets[set]}
		if len(setLayout.bindings) > 0 {
			var id, name strings.Builder
			for _, b := range setLayout.bindings {
				id.WriteString(fmt.Sprintf("%d:%s:%s:%d,", b.Binding, toHex(uint32(b.Stage)), toHex(uint32(b.Type)), b.Count))
				name.WriteString(fmt.Sprintf("%d:%s:%s:%d,", b.Binding, b.Stage, b.Type, b.Count))
			}
			setLayout.id = fmt.Sprintf("[%s]", strings.TrimSuffix(id.String(), ","))
			setLayout.name = fmt.Sprintf("[%s]", strings.TrimSuffix(name.String(), ","))
		} else {
			setLayout.id = "[null]"
			setLayout.name = "[null]"
		}
		layout.id += setLayout.id
		layout.name += setLayout.name

		if err := ctx.layouts.createOrRetrieveDescriptorSetLayout(ctx.drv, setLayout); err != nil {
			layout.destroyAllocators()
			return nil, err
		}
		layout.descriptorSetLayouts = append(layout.descriptorSetLayouts, setLayout)

		if len(setLayout.bindings) > 0 {
			a, err := newDescriptorAllocator(ctx, set, setLayout)
			if err != nil {
				layout.destroyAllocators()
				return nil, err
			}
			layout.allocators[set] = a
		}
	}

	if err := ctx.layouts.createOrRetrievePipelineLayout(ctx.drv, layout); err != nil {
		layout.destroyAllocators()
		return nil, err
	}

	layout.noCopy.init()
	instance.logger.VPrintf("Created pipeline layout: %s", prettyString(layout))
	return layout, nil
}

func (l *PipelineLayout) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"id\": %q,", l.id))
	buff.WriteString(fmt.Sprintf("\"name\": %q,", l.name))
	buff.WriteString(fmt.Sprintf("\"vkPipelineLayout\": %q,", toHex(l.vkPipelineLayout)))

	buff.WriteString("\"pushConstantRanges\": [")
	if len(l.pushConstantRanges) > 0 {
		for _, r := range l.pushConstantRanges {
			buff.WriteString(fmt.Sprintf("{\"stage\": %q, \"offset\": %d, \"size\": %d},", r.Stage.String(), r.Offset, r.Size))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("],")

	buff.WriteString("\"descriptorSetLayouts\": [")
	if len(l.descriptorSetLayouts) > 0 {
		for _, layout := range l.descriptorSetLayouts {
			buff.WriteString(fmt.Sprintf("%s,", jsonString(layout)))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("]")

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (l *PipelineLayout) PushConstantRanges() []PushConstantRange {
	l.noCopy.check()
	return slices.Clone(l.pushConstantRanges)
}

func (l *PipelineLayout) SetCount() int {
	l.noCopy.check()
	return len(l.descriptorSetLayouts)
}

// DescriptorAllocator returns the allocator of set, nil if the set has no
// bindings.
func (l *PipelineLayout) DescriptorAllocator(set uint32) *DescriptorAllocator {
	l.noCopy.check()
	return l.allocators[set]
}

// NewDescriptorSet allocates a set for set number set.
func (l *PipelineLayout) NewDescriptorSet(set uint32) (*DescriptorSet, error) {
	l.noCopy.check()
	a, ok := l.allocators[set]
	if !ok {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Pipeline layout %s has no bindings in set [%d]", l.name, set)
	}
	s, err := a.Allocate()
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to allocate set [%d] from %s", set, l.name)
	}
	return s, nil
}

func (l *PipelineLayout) VkPipelineLayout() vk.PipelineLayout {
	l.noCopy.check()
	return l.vkPipelineLayout
}

func (l *PipelineLayout) cmdValidatePushConstants(stage ShaderStage, offset uint32, size int) error {
	end := uint64(offset) + uint64(size)
	if size >= 0 {
		for _, r := range l.pushConstantRanges {
			if r.Stage.HasBits(stage) && offset >= r.Offset && end <= uint64(r.Offset)+uint64(r.Size) {
				return nil
			}
		}
	}
	return debug.Errorf("Push constants [%d, %d) for stage %s are outside of pipeline layout %s", offset, end, stage, l.name)
}

func (l *PipelineLayout) cmdValidate(firstSet uint32, sets []*DescriptorSet) error {
	if int(firstSet)+len(sets) > len(l.descriptorSetLayouts) {
		return debug.Errorf("DescriptorSet count mismatch between given sets and pipeline layout: expecting at most %d sets given %d sets from %d",
			len(l.descriptorSetLayouts), len(sets), firstSet)
	}
	for i, s := range sets {
		s.noCopy.check()
		if s.allocator.layout.vkDescriptorSetLayout != l.descriptorSetLayouts[firstSet+uint32(i)].vkDescriptorSetLayout {
			return debug.Errorf("DescriptorSet [%d] was not allocated for set [%d] of pipeline layout %s", i, firstSet+uint32(i), l.name)
		}
	}
	return nil
}

func (l *PipelineLayout) destroyAllocators() {
	for set, a := range l.allocators {
		a.destroy()
		delete(l.allocators, set)
	}
}

// Destroy frees the descriptor pools, outstanding sets become invalid. The
// layout handles are cached by the DeviceContext.
func (l *PipelineLayout) Destroy() {
	if l == nil {
		return
	}
	l.noCopy.check()
	l.destroyAllocators()
	l.noCopy.close()
}

// Pipeline is either a graphics or compute pipeline, the kind decides the
// bind point.
type Pipeline struct {
	noCopy     noCopy
	ctx        *DeviceContext
	kind       PipelineKind
	vkPipeline vk.Pipeline
	layout     *PipelineLayout
}

func (p *Pipeline) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"kind\": %q,", p.kind.String()))
	buff.WriteString(fmt.Sprintf("\"vkPipeline\": %q,", toHex(p.vkPipeline)))
	buff.WriteString(fmt.Sprintf("\"layout\": %s", jsonString(p.layout)))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (p *Pipeline) Kind() PipelineKind {
	p.noCopy.check()
	return p.kind
}

func (p *Pipeline) Layout() *PipelineLayout {
	p.noCopy.check()
	return p.layout
}

// NewDescriptorSet allocates a descriptor set for set number set of the
// pipeline's layout.
func (p *Pipeline) NewDescriptorSet(set uint32) (*DescriptorSet, error) {
	p.noCopy.check()
	return p.layout.NewDescriptorSet(set)
}

func (p *Pipeline) VkPipeline() vk.Pipeline {
	p.noCopy.check()
	return p.vkPipeline
}

// Destroy destroys the pipeline and its descriptor pools.
func (p *Pipeline) Destroy() {
	if p == nil {
		return
	}
	p.noCopy.check()
	p.ctx.drv.DestroyPipeline(p.vkPipeline)
	p.vkPipeline = vk.NullPipeline
	p.layout.Destroy()
	p.noCopy.close()
}
