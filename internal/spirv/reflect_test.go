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

package spirv_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"goarrg.com/rhi/vkm/internal/spirv"
	"goarrg.com/rhi/vkm/internal/spirv/spirvasm"
)

func vertexModule() *spirvasm.Module {
	m := spirvasm.New()
	f32 := m.Float32()
	vec2 := m.Vector(f32, 2)
	vec3 := m.Vector(f32, 3)
	vec4 := m.Vector(f32, 4)
	mat4 := m.Matrix(vec4, 4)

	pos := m.Input("inPos", 0, vec3)
	uv := m.Input("inUV", 2, vec2)
	normal := m.Input("inNormal", 1, vec3)
	vid := m.BuiltInInput("gl_VertexIndex", 42, m.Int32())

	m.PushConstant("constants", []uint32{0}, mat4)
	m.Binding("ubo", spirv.StorageClassUniform, 0, 0, m.UniformBlock(mat4))
	m.EntryPoint(spirv.ExecutionModelVertex, "main", pos, uv, normal, vid)
	return m
}

func TestReflectVertexInputs(t *testing.T) {
	mod, err := spirv.Reflect(vertexModule().Bytes())
	if err != nil {
		t.Fatal(err)
	}

	if mod.Stage != spirv.ExecutionModelVertex || mod.EntryPoint != "main" {
		t.Fatalf("Got stage %s entry %q", mod.Stage, mod.EntryPoint)
	}

	var got []spirv.InterfaceVariable
	for _, in := range mod.Inputs {
		if !in.BuiltIn {
			got = append(got, in)
		}
	}
	want := []spirv.InterfaceVariable{
		{Name: "inPos", Location: 0, Format: spirv.FormatR32G32B32Sfloat},
		{Name: "inNormal", Location: 1, Format: spirv.FormatR32G32B32Sfloat},
		{Name: "inUV", Location: 2, Format: spirv.FormatR32G32Sfloat},
	}
	if len(got) != len(want) {
		t.Fatalf("Got %d inputs, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Input %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(mod.Inputs) != 4 {
		t.Errorf("Expected the builtin to be reported, got %d inputs", len(mod.Inputs))
	}
}

func TestReflectPushConstantRange(t *testing.T) {
	tests := []struct {
		name       string
		offsets    []uint32
		wantOffset uint32
		wantSize   uint32
	}{
		{"vertex", []uint32{0}, 0, 64},
		{"fragment", []uint32{64}, 64, 64},
		{"two", []uint32{16, 80}, 16, 128},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := spirvasm.New()
			vec4 := m.Vector(m.Float32(), 4)
			mat4 := m.Matrix(vec4, 4)
			members := make([]uint32, len(tc.offsets))
			for i := range members {
				members[i] = mat4
			}
			m.PushConstant("pc", tc.offsets, members...)
			m.EntryPoint(spirv.ExecutionModelFragment, "main")

			mod, err := spirv.Reflect(m.Bytes())
			if err != nil {
				t.Fatal(err)
			}
			if len(mod.PushConstants) != 1 {
				t.Fatalf("Got %d push constant blocks", len(mod.PushConstants))
			}
			pc := mod.PushConstants[0]
			if pc.Offset != tc.wantOffset || pc.Size != tc.wantSize {
				t.Errorf("Got offset %d size %d, want %d %d", pc.Offset, pc.Size, tc.wantOffset, tc.wantSize)
			}
		})
	}
}

func TestReflectBindings(t *testing.T) {
	m := spirvasm.New()
	vec4 := m.Vector(m.Float32(), 4)

	m.Binding("ubo", spirv.StorageClassUniform, 0, 0, m.UniformBlock(vec4))
	m.Binding("textures", spirv.StorageClassUniformConstant, 1, 0,
		m.RuntimeArray(m.SampledImage(m.Image(spirv.Dim2D, 1))))
	m.Binding("shadows", spirv.StorageClassUniformConstant, 1, 1,
		m.Array(m.SampledImage(m.Image(spirv.Dim2D, 1)), 4))
	m.Binding("gbuffer", spirv.StorageClassUniformConstant, 0, 1, m.Image(spirv.DimSubpassData, 2))
	m.Binding("particles", spirv.StorageClassStorageBuffer, 0, 2, m.UniformBlock(vec4))
	m.Binding("output", spirv.StorageClassUniformConstant, 2, 0, m.Image(spirv.Dim2D, 2))
	m.EntryPoint(spirv.ExecutionModelFragment, "main")

	mod, err := spirv.Reflect(m.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	want := []spirv.DescriptorBinding{
		{Name: "ubo", Set: 0, Binding: 0, Type: spirv.DescriptorTypeUniformBuffer, Count: 1},
		{Name: "gbuffer", Set: 0, Binding: 1, Type: spirv.DescriptorTypeInputAttachment, Count: 1},
		{Name: "particles", Set: 0, Binding: 2, Type: spirv.DescriptorTypeStorageBuffer, Count: 1},
		{Name: "textures", Set: 1, Binding: 0, Type: spirv.DescriptorTypeCombinedImageSampler, Count: 0},
		{Name: "shadows", Set: 1, Binding: 1, Type: spirv.DescriptorTypeCombinedImageSampler, Count: 4},
		{Name: "output", Set: 2, Binding: 0, Type: spirv.DescriptorTypeStorageImage, Count: 1},
	}
	if len(mod.Bindings) != len(want) {
		t.Fatalf("Got %d bindings, want %d: %+v", len(mod.Bindings), len(want), mod.Bindings)
	}
	for i := range want {
		if mod.Bindings[i] != want[i] {
			t.Errorf("Binding %d: got %+v, want %+v", i, mod.Bindings[i], want[i])
		}
	}
}

func TestReflectBigEndian(t *testing.T) {
	words := vertexModule().Words()
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.BigEndian.PutUint32(b[i*4:], w)
	}
	mod, err := spirv.Reflect(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(mod.Inputs) != 4 {
		t.Errorf("Got %d inputs", len(mod.Inputs))
	}
}

func TestReflectInvalid(t *testing.T) {
	valid := vertexModule().Bytes()

	noEntry := spirvasm.New()
	noEntry.Float32()

	truncated := append([]byte(nil), valid[:len(valid)-4]...)
	// claim the last instruction is longer than the module
	binary.LittleEndian.PutUint32(truncated[len(truncated)-4:], 0xFFFF0000|uint32(spirv.OpVariable))

	// OpTypeVector missing its component count
	shortVector := spirvasm.New()
	{
		vec := shortVector.Reserve()
		shortVector.Declare(spirv.OpTypeVector, vec, shortVector.Float32())
		shortVector.EntryPoint(spirv.ExecutionModelVertex, "main", shortVector.Input("inPos", 0, vec))
	}

	shortImage := spirvasm.New()
	{
		img := shortImage.Reserve()
		shortImage.Declare(spirv.OpTypeImage, img, shortImage.Float32(), uint32(spirv.Dim2D))
		shortImage.Binding("tex", spirv.StorageClassUniformConstant, 0, 0, img)
		shortImage.EntryPoint(spirv.ExecutionModelFragment, "main")
	}

	selfArray := spirvasm.New()
	{
		length := selfArray.Constant(selfArray.Uint32(), 4)
		arr := selfArray.Reserve()
		selfArray.Declare(spirv.OpTypeArray, arr, arr, length)
		selfArray.Binding("ubo", spirv.StorageClassUniform, 0, 0, arr)
		selfArray.EntryPoint(spirv.ExecutionModelFragment, "main")
	}

	forwardMember := spirvasm.New()
	{
		s, later := forwardMember.Reserve(), forwardMember.Reserve()
		forwardMember.Declare(spirv.OpTypeStruct, s, later)
		forwardMember.Declare(spirv.OpTypeStruct, later, s)
		forwardMember.Binding("ubo", spirv.StorageClassUniform, 0, 0, s)
		forwardMember.EntryPoint(spirv.ExecutionModelFragment, "main")
	}

	redeclared := spirvasm.New()
	{
		f32 := redeclared.Float32()
		redeclared.Declare(spirv.OpTypeInt, f32, 32, 0)
		redeclared.EntryPoint(spirv.ExecutionModelFragment, "main")
	}

	// 0x10000 * 0x10000 descriptors
	hugeArray := spirvasm.New()
	{
		inner := hugeArray.Array(hugeArray.UniformBlock(hugeArray.Float32()), 0x10000)
		hugeArray.Binding("ubo", spirv.StorageClassUniform, 0, 0, hugeArray.Array(inner, 0x10000))
		hugeArray.EntryPoint(spirv.ExecutionModelFragment, "main")
	}

	hugeStride := spirvasm.New()
	{
		arr := hugeStride.Array(hugeStride.Float32(), 0x10000)
		hugeStride.Decorate(arr, spirv.DecorationArrayStride, 0x10000)
		hugeStride.PushConstant("constants", []uint32{0}, arr)
		hugeStride.EntryPoint(spirv.ExecutionModelVertex, "main")
	}

	hugeOffset := spirvasm.New()
	{
		vec4 := hugeOffset.Vector(hugeOffset.Float32(), 4)
		hugeOffset.PushConstant("constants", []uint32{0xFFFFFFF8}, vec4)
		hugeOffset.EntryPoint(spirv.ExecutionModelVertex, "main")
	}

	tests := []struct {
		name string
		code []byte
	}{
		{"empty", nil},
		{"unaligned", valid[:len(valid)-1]},
		{"magic", append([]byte{0, 0, 0, 0}, valid[4:]...)},
		{"noEntryPoint", noEntry.Bytes()},
		{"truncated", truncated},
		{"shortVector", shortVector.Bytes()},
		{"shortImage", shortImage.Bytes()},
		{"selfArray", selfArray.Bytes()},
		{"forwardMember", forwardMember.Bytes()},
		{"redeclared", redeclared.Bytes()},
		{"hugeArray", hugeArray.Bytes()},
		{"hugeStride", hugeStride.Bytes()},
		{"hugeOffset", hugeOffset.Bytes()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := spirv.Reflect(tc.code)
			if !errors.Is(err, spirv.ErrorInvalidModule{}) {
				t.Errorf("Expected ErrorInvalidModule, got: %v", err)
			}
		})
	}
}
