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
	"sync"

	"golang.org/x/exp/maps"

	vk "github.com/vulkan-go/vulkan"
)

type descriptorSetLayout struct {
	id                    string
	name                  string
	vkDescriptorSetLayout vk.DescriptorSetLayout
	bindings              []DescriptorSetLayoutBinding
}

func (s *descriptorSetLayout) binding(i uint32) (DescriptorSetLayoutBinding, bool) {
	for _, b := range s.bindings {
		if b.Binding == i {
			return b, true
		}
	}
	return DescriptorSetLayoutBinding{}, false
}

func (s *descriptorSetLayout) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"id\": %q,", s.id))
	buff.WriteString(fmt.Sprintf("\"name\": %q,", s.name))
	buff.WriteString(fmt.Sprintf("\"vkDescriptorSetLayout\": %q,", toHex(s.vkDescriptorSetLayout)))

	buff.WriteString("\"bindings\": [")
	if len(s.bindings) > 0 {
		for _, binding := range s.bindings {
			buff.WriteString(fmt.Sprintf("%s,", jsonString(binding)))
		}
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("]")

	buff.WriteString("}")
	return buff.Bytes(), nil
}

// layoutCache dedups descriptor set layouts and pipeline layouts across
// pipelines, entries live until the DeviceContext is destroyed.
type layoutCache struct {
	mtx                  sync.Mutex
	descriptorSetLayouts map[string]vk.DescriptorSetLayout
	pipelineLayouts      map[string]vk.PipelineLayout
}

func newLayoutCache() *layoutCache {
	return &layoutCache{
		descriptorSetLayouts: map[string]vk.DescriptorSetLayout{},
		pipelineLayouts:      map[string]vk.PipelineLayout{},
	}
}

func (c *layoutCache) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	{
		buff.WriteString("\"descriptorSetLayouts\": {")
		err := mapRunFuncSorted(c.descriptorSetLayouts, func(k string, v vk.DescriptorSetLayout) error {
			buff.WriteString(fmt.Sprintf("%q: %q,", k, toHex(v)))
			return nil
		})
		if err == nil {
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("},")
	}

	{
		buff.WriteString("\"pipelineLayouts\": {")
		keys := maps.Keys(c.pipelineLayouts)
		slices.Sort(keys)
		if len(keys) > 0 {
			for _, k := range keys {
				buff.WriteString(fmt.Sprintf("%q: %q,", k, toHex(c.pipelineLayouts[k])))
			}
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("}")
	}

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *layoutCache) createOrRetrieveDescriptorSetLayout(drv driver, layout *descriptorSetLayout) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var ok bool
	layout.vkDescriptorSetLayout, ok = c.descriptorSetLayouts[layout.id]
	if ok {
		return nil
	}

	bindings := make([]vk.DescriptorSetLayoutBinding, 0, len(layout.bindings))
	for _, b := range layout.bindings {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stage),
		})
	}
	vkLayout, ret := drv.CreateDescriptorSetLayout(&vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	})
	if err := vkResult(ret, "Failed to create descriptor set layout %s", layout.name); err != nil {
		return err
	}
	layout.vkDescriptorSetLayout = vkLayout
	c.descriptorSetLayouts[layout.id] = vkLayout
	return nil
}

func (c *layoutCache) createOrRetrievePipelineLayout(drv driver, layout *PipelineLayout) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var ok bool
	layout.vkPipelineLayout, ok = c.pipelineLayouts[layout.id]
	if ok {
		return nil
	}

	setLayouts := make([]vk.DescriptorSetLayout, 0, len(layout.descriptorSetLayouts))
	for _, set := range layout.descriptorSetLayouts {
		setLayouts = append(setLayouts, set.vkDescriptorSetLayout)
	}
	ranges := make([]vk.PushConstantRange, 0, len(layout.pushConstantRanges))
	for _, r := range layout.pushConstantRanges {
		ranges = append(ranges, r.vkPushConstantRange())
	}

	vkLayout, ret := drv.CreatePipelineLayout(&vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	})
	if err := vkResult(ret, "Failed to create pipeline layout %s", layout.name); err != nil {
		return err
	}
	layout.vkPipelineLayout = vkLayout
	c.pipelineLayouts[layout.id] = vkLayout
	return nil
}

func (c *layoutCache) destroy(drv driver) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	_ = mapRunFuncSorted(c.pipelineLayouts, func(_ string, v vk.PipelineLayout) error {
		drv.DestroyPipelineLayout(v)
		return nil
	})
	_ = mapRunFuncSorted(c.descriptorSetLayouts, func(_ string, v vk.DescriptorSetLayout) error {
		drv.DestroyDescriptorSetLayout(v)
		return nil
	})
	clear(c.pipelineLayouts)
	clear(c.descriptorSetLayouts)
}
