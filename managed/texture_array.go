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

package managed

import (
	"goarrg.com/rhi/vkm"

	vk "github.com/vulkan-go/vulkan"
)

/*
TextureArray fills a combined image sampler array binding, usually the
fragment texture array sized by PipelineInfo.TextureCount, with textures that
share one sampler. Textures are expected in ShaderReadOnlyOptimal.
*/
type TextureArray struct {
	descriptorArray[*vkm.Texture]
	sampler *vkm.Sampler
}

func NewTextureArray(set *vkm.DescriptorSet, binding int, sampler *vkm.Sampler) *TextureArray {
	ret := &TextureArray{
		descriptorArray: newDescriptorArray[*vkm.Texture](set, binding),
		sampler:         sampler,
	}
	ret.noCopy.Init()
	return ret
}

// Push binds t to a free slot and returns its index, a texture already in the
// array keeps its slot.
func (a *TextureArray) Push(t *vkm.Texture) int {
	return a.push(t, vkm.DescriptorCombinedImageSamplerInfo{
		Sampler: a.sampler,
		Texture: t,
		Layout:  vk.ImageLayoutShaderReadOnlyOptimal,
	})
}

func (a *TextureArray) Capacity() int {
	a.noCopy.Check()
	return a.set.MaxDescriptorCount(a.binding)
}
