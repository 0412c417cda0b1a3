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
	"goarrg.com/debug"
	"goarrg.com/gmath"

	vk "github.com/vulkan-go/vulkan"
)

func CreateComputePipeline(ctx *DeviceContext, s *Shader) (*Pipeline, error) {
	ctx.noCopy.check()
	s.noCopy.check()

	if s.layout.Stage != ShaderStageCompute {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Shader %q is a %s shader, expected Compute", s.id, s.layout.Stage)
	}

	layout, err := reflectPipelineLayout(ctx, []*ShaderLayout{s.layout})
	if err != nil {
		return nil, err
	}

	pipeline, ret := ctx.drv.CreateComputePipeline(ctx.pipelineCache, vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  s.vkPipelineShaderStageCreateInfo(),
		Layout: layout.vkPipelineLayout,
	})
	if err := vkResult(ret, "Failed to create compute pipeline %q", s.id); err != nil {
		layout.Destroy()
		return nil, err
	}

	p := &Pipeline{
		ctx:        ctx,
		kind:       PipelineKindCompute,
		vkPipeline: pipeline,
		layout:     layout,
	}
	p.noCopy.init()
	instance.logger.VPrintf("Created compute pipeline %s from %q", toHex(pipeline), s.id)
	return p, nil
}

// ValidateDispatch checks a group count against
// Properties.Limits.Compute.MaxDispatchSize.
func ValidateDispatch(ctx *DeviceContext, groupCount gmath.Extent3u32) error {
	ctx.noCopy.check()
	limit := ctx.properties.Limits.Compute.MaxDispatchSize
	if groupCount.X > limit.X || groupCount.Y > limit.Y || groupCount.Z > limit.Z {
		return debug.ErrorWrapf(ErrorInvalidArgument{}, "Dispatch size [%d,%d,%d] is greater than Properties.Limits.Compute.MaxDispatchSize [%d,%d,%d]",
			groupCount.X, groupCount.Y, groupCount.Z, limit.X, limit.Y, limit.Z)
	}
	return nil
}
