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

/*
Package spirvasm builds SPIR-V modules word by word. The modules only carry
the interface sections, they are meant for reflection and are not valid input
to a driver.
*/
package spirvasm

import (
	"encoding/binary"

	"goarrg.com/rhi/vkm/internal/spirv"
)

type Module struct {
	nextID uint32

	entryPoints []uint32
	debug       []uint32
	annotations []uint32
	types       []uint32

	scalars map[[3]uint32]uint32
}

func New() *Module {
	return &Module{nextID: 1, scalars: map[[3]uint32]uint32{}}
}

func (m *Module) id() uint32 {
	id := m.nextID
	m.nextID++
	return id
}

func instruction(op spirv.Op, operands ...uint32) []uint32 {
	return append([]uint32{uint32(len(operands)+1)<<16 | uint32(op)}, operands...)
}

func literalString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func (m *Module) typeOp(op spirv.Op, operands ...uint32) uint32 {
	id := m.id()
	m.types = append(m.types, instruction(op, append([]uint32{id}, operands...)...)...)
	return id
}

// Reserve returns a fresh result id without declaring anything.
func (m *Module) Reserve() uint32 {
	return m.id()
}

// Declare appends a raw instruction to the types section, for modules the
// typed helpers cannot express.
func (m *Module) Declare(op spirv.Op, operands ...uint32) {
	m.types = append(m.types, instruction(op, operands...)...)
}

func (m *Module) scalar(op spirv.Op, width, signed uint32) uint32 {
	key := [3]uint32{uint32(op), width, signed}
	if id, ok := m.scalars[key]; ok {
		return id
	}
	var id uint32
	if op == spirv.OpTypeFloat {
		id = m.typeOp(op, width)
	} else {
		id = m.typeOp(op, width, signed)
	}
	m.scalars[key] = id
	return id
}

func (m *Module) Float32() uint32 {
	return m.scalar(spirv.OpTypeFloat, 32, 0)
}

func (m *Module) Int32() uint32 {
	return m.scalar(spirv.OpTypeInt, 32, 1)
}

func (m *Module) Uint32() uint32 {
	return m.scalar(spirv.OpTypeInt, 32, 0)
}

func (m *Module) Vector(component, count uint32) uint32 {
	return m.typeOp(spirv.OpTypeVector, component, count)
}

func (m *Module) Matrix(column, count uint32) uint32 {
	return m.typeOp(spirv.OpTypeMatrix, column, count)
}

func (m *Module) Struct(members ...uint32) uint32 {
	return m.typeOp(spirv.OpTypeStruct, members...)
}

func (m *Module) Pointer(storage spirv.StorageClass, pointee uint32) uint32 {
	return m.typeOp(spirv.OpTypePointer, uint32(storage), pointee)
}

func (m *Module) Constant(typeID, value uint32) uint32 {
	id := m.id()
	m.types = append(m.types, instruction(spirv.OpConstant, typeID, id, value)...)
	return id
}

func (m *Module) Array(element, length uint32) uint32 {
	return m.typeOp(spirv.OpTypeArray, element, m.Constant(m.Uint32(), length))
}

func (m *Module) RuntimeArray(element uint32) uint32 {
	return m.typeOp(spirv.OpTypeRuntimeArray, element)
}

// Image declares a float image, sampled is 1 for sampled and 2 for storage.
func (m *Module) Image(dim spirv.Dim, sampled uint32) uint32 {
	return m.typeOp(spirv.OpTypeImage, m.Float32(), uint32(dim), 0, 0, 0, sampled, 0)
}

func (m *Module) SampledImage(image uint32) uint32 {
	return m.typeOp(spirv.OpTypeSampledImage, image)
}

func (m *Module) Sampler() uint32 {
	return m.typeOp(spirv.OpTypeSampler)
}

func (m *Module) Variable(storage spirv.StorageClass, pointee uint32) uint32 {
	ptr := m.Pointer(storage, pointee)
	id := m.id()
	m.types = append(m.types, instruction(spirv.OpVariable, ptr, id, uint32(storage))...)
	return id
}

func (m *Module) Name(id uint32, name string) {
	m.debug = append(m.debug, instruction(spirv.OpName, append([]uint32{id}, literalString(name)...)...)...)
}

func (m *Module) Decorate(id uint32, dec spirv.Decoration, literals ...uint32) {
	m.annotations = append(m.annotations, instruction(spirv.OpDecorate, append([]uint32{id, uint32(dec)}, literals...)...)...)
}

func (m *Module) MemberDecorate(id, member uint32, dec spirv.Decoration, literals ...uint32) {
	m.annotations = append(m.annotations,
		instruction(spirv.OpMemberDecorate, append([]uint32{id, member, uint32(dec)}, literals...)...)...)
}

func (m *Module) EntryPoint(model spirv.ExecutionModel, name string, interfaces ...uint32) {
	operands := append([]uint32{uint32(model), m.id()}, literalString(name)...)
	m.entryPoints = append(m.entryPoints, instruction(spirv.OpEntryPoint, append(operands, interfaces...)...)...)
}

// Input declares a named stage input at location.
func (m *Module) Input(name string, location, typeID uint32) uint32 {
	v := m.Variable(spirv.StorageClassInput, typeID)
	m.Name(v, name)
	m.Decorate(v, spirv.DecorationLocation, location)
	return v
}

// BuiltInInput declares a stage input decorated as a builtin.
func (m *Module) BuiltInInput(name string, builtIn, typeID uint32) uint32 {
	v := m.Variable(spirv.StorageClassInput, typeID)
	m.Name(v, name)
	m.Decorate(v, spirv.DecorationBuiltIn, builtIn)
	return v
}

// PushConstant declares a push constant block with one member per type at the
// given offsets.
func (m *Module) PushConstant(name string, offsets []uint32, members ...uint32) uint32 {
	s := m.Struct(members...)
	m.Decorate(s, spirv.DecorationBlock)
	for i, off := range offsets {
		m.MemberDecorate(s, uint32(i), spirv.DecorationOffset, off)
		if t := members[i]; m.isMatrix(t) {
			m.MemberDecorate(s, uint32(i), spirv.DecorationMatrixStride, 16)
		}
	}
	v := m.Variable(spirv.StorageClassPushConstant, s)
	m.Name(v, name)
	return v
}

func (m *Module) isMatrix(id uint32) bool {
	for i := 0; i < len(m.types); {
		n := int(m.types[i] >> 16)
		if spirv.Op(m.types[i]&0xFFFF) == spirv.OpTypeMatrix && m.types[i+1] == id {
			return true
		}
		i += n
	}
	return false
}

// Binding declares a resource variable of type at set and binding.
func (m *Module) Binding(name string, storage spirv.StorageClass, set, binding, typeID uint32) uint32 {
	v := m.Variable(storage, typeID)
	m.Name(v, name)
	m.Decorate(v, spirv.DecorationDescriptorSet, set)
	m.Decorate(v, spirv.DecorationBinding, binding)
	return v
}

// UniformBlock declares a Block decorated struct of members laid out back to
// back.
func (m *Module) UniformBlock(members ...uint32) uint32 {
	s := m.Struct(members...)
	m.Decorate(s, spirv.DecorationBlock)
	for i := range members {
		m.MemberDecorate(s, uint32(i), spirv.DecorationOffset, uint32(i)*16)
	}
	return s
}

func (m *Module) Words() []uint32 {
	words := []uint32{spirv.Magic, 0x00010000, 0, m.nextID, 0}
	words = append(words, m.entryPoints...)
	words = append(words, m.debug...)
	words = append(words, m.annotations...)
	words = append(words, m.types...)
	return words
}

func (m *Module) Bytes() []byte {
	words := m.Words()
	b := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}
