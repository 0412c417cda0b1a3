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
	"goarrg.com/gmath"
)

// Dispatch records groupCount workgroups of the bound compute pipeline.
func (cb *CommandBuffer) Dispatch(groupCount gmath.Extent3u32) {
	cb.noCopy.check()

	if cb.currentRenderPass != nil {
		abort("Dispatch called inside a renderpass")
	}
	if p := cb.pipeline(); p.kind != PipelineKindCompute {
		abort("Dispatch called with a %s pipeline bound", p.kind)
	}
	if err := ValidateDispatch(cb.ctx, groupCount); err != nil {
		abort("Failed to validate dispatch: %s", err)
	}
	cb.ctx.drv.CmdDispatch(cb.vkCommandBuffer, groupCount.X, groupCount.Y, groupCount.Z)
}
