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
	"testing"

	"goarrg.com/rhi/vkm"

	vk "github.com/vulkan-go/vulkan"
)

type bind struct {
	binding, index int
	info           vkm.DescriptorInfo
}

type fakeBinder struct {
	count int
	binds []bind
}

func (b *fakeBinder) MaxDescriptorCount(int) int {
	return b.count
}

func (b *fakeBinder) Bind(bindingIndex, descriptorIndex int, descriptors ...vkm.DescriptorInfo) {
	for i, d := range descriptors {
		b.binds = append(b.binds, bind{bindingIndex, descriptorIndex + i, d})
	}
}

func newTestTextureArray(count int) (*TextureArray, *fakeBinder) {
	binder := &fakeBinder{count: count}
	a := &TextureArray{descriptorArray: newDescriptorArray[*vkm.Texture](binder, 1)}
	a.noCopy.Init()
	return a, binder
}

func expectAbort(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		if recover() == nil {
			t.Fatal("Expected abort")
		}
	}()
	f()
}

func TestTextureArray(t *testing.T) {
	a, binder := newTestTextureArray(3)
	if a.Capacity() != 3 {
		t.Errorf("Got capacity %d", a.Capacity())
	}

	textures := []*vkm.Texture{{}, {}, {}, {}}
	for i, tex := range textures[:3] {
		if got := a.Push(tex); got != i {
			t.Errorf("Texture %d got slot %d", i, got)
		}
	}
	if got := a.Push(textures[1]); got != 1 || len(binder.binds) != 3 {
		t.Errorf("Pushing a texture twice got slot %d with %d binds", got, len(binder.binds))
	}
	expectAbort(t, func() { a.Push(textures[3]) })

	for _, b := range binder.binds {
		info, ok := b.info.(vkm.DescriptorCombinedImageSamplerInfo)
		if !ok || b.binding != 1 || info.Layout != vk.ImageLayoutShaderReadOnlyOptimal || info.Texture != textures[b.index] {
			t.Errorf("Got bind %+v", b)
		}
	}

	a.Pop(textures[0])
	a.Pop(textures[0])
	if _, ok := a.Lookup(textures[0]); ok || a.Len() != 2 {
		t.Errorf("Pop left %d slots", a.Len())
	}

	// the freed slot is reused before the array grows
	if got := a.Push(textures[3]); got != 0 {
		t.Errorf("Got slot %d, want the freed slot 0", got)
	}
	if i, ok := a.Lookup(textures[3]); !ok || i != 0 {
		t.Errorf("Lookup got %d, %t", i, ok)
	}
	last := binder.binds[len(binder.binds)-1]
	if last.index != 0 || last.info.(vkm.DescriptorCombinedImageSamplerInfo).Texture != textures[3] {
		t.Errorf("Got bind %+v", last)
	}
}

func TestDescriptorArrayBuffer(t *testing.T) {
	binder := &fakeBinder{count: 2}
	a := &DescriptorArrayBuffer{descriptorArray: newDescriptorArray[*vkm.Buffer](binder, 0)}
	a.noCopy.Init()

	b0, b1 := &vkm.Buffer{}, &vkm.Buffer{}
	if a.Push(vkm.DescriptorBufferInfo{Buffer: b0}) != 0 || a.Push(vkm.DescriptorBufferInfo{Buffer: b1, Offset: 16}) != 1 {
		t.Fatal("Buffers got the wrong slots")
	}
	if info := binder.binds[1].info.(vkm.DescriptorBufferInfo); info.Offset != 16 {
		t.Errorf("Got bind %+v", info)
	}

	a.Pop(b0)
	a.Pop(b1)
	if a.Len() != 0 {
		t.Errorf("Got %d slots", a.Len())
	}
	// freed slots come back last in first out
	if got := a.Push(vkm.DescriptorBufferInfo{Buffer: b0}); got != 1 {
		t.Errorf("Got slot %d", got)
	}
}
