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

package spirv

import (
	"encoding/binary"
	"math"
	"slices"
	"strings"
)

type typeInfo struct {
	op       Op
	operands []uint32
}

type variable struct {
	id           uint32
	pointerType  uint32
	storageClass StorageClass
}

type decorations struct {
	values  map[Decoration]uint32
	members map[uint32]map[Decoration]uint32
}

func (d *decorations) has(dec Decoration) bool {
	_, ok := d.values[dec]
	return ok
}

func (d *decorations) memberHas(member uint32, dec Decoration) bool {
	_, ok := d.members[member][dec]
	return ok
}

type parser struct {
	names       map[uint32]string
	decorations map[uint32]*decorations
	types       map[uint32]typeInfo
	constants   map[uint32]uint32
	sizes       map[[2]uint32]uint32
	variables   []variable

	entryPoint     string
	stage          ExecutionModel
	interfaceIDs   []uint32
	haveEntryPoint bool
}

func (p *parser) decoration(id uint32) *decorations {
	d, ok := p.decorations[id]
	if !ok {
		d = &decorations{values: map[Decoration]uint32{}, members: map[uint32]map[Decoration]uint32{}}
		p.decorations[id] = d
	}
	return d
}

func decodeString(words []uint32) (string, int) {
	sb := strings.Builder{}
	for i, w := range words {
		for b := 0; b < 4; b++ {
			c := byte(w >> (8 * b))
			if c == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(words)
}

func decodeWords(code []byte) ([]uint32, error) {
	if len(code)%4 != 0 {
		return nil, errorInvalid("Code size [%d] is not a multiple of 4", len(code))
	}
	if len(code) < headerWords*4 {
		return nil, errorInvalid("Code size [%d] is smaller than the header", len(code))
	}

	var order binary.ByteOrder
	switch Magic {
	case binary.LittleEndian.Uint32(code):
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(code):
		order = binary.BigEndian
	default:
		return nil, errorInvalid("Bad magic [0x%08X]", binary.LittleEndian.Uint32(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = order.Uint32(code[i*4:])
	}
	return words, nil
}

func (p *parser) parse(words []uint32) error {
	for i := headerWords; i < len(words); {
		wordCount := int(words[i] >> 16)
		op := Op(words[i] & 0xFFFF)
		if wordCount == 0 || i+wordCount > len(words) {
			return errorInvalid("Instruction at word [%d] has invalid length [%d]", i, wordCount)
		}
		operands := words[i+1 : i+wordCount]
		i += wordCount

		if op == OpFunction {
			// everything after the first function is code
			break
		}

		switch op {
		case OpName:
			if len(operands) < 1 {
				return errorInvalid("OpName without target")
			}
			p.names[operands[0]], _ = decodeString(operands[1:])

		case OpEntryPoint:
			if len(operands) < 3 {
				return errorInvalid("OpEntryPoint with [%d] operands", len(operands))
			}
			if p.haveEntryPoint {
				continue
			}
			p.haveEntryPoint = true
			p.stage = ExecutionModel(operands[0])
			name, n := decodeString(operands[2:])
			p.entryPoint = name
			p.interfaceIDs = slices.Clone(operands[2+n:])

		case OpDecorate:
			if len(operands) < 2 {
				return errorInvalid("OpDecorate with [%d] operands", len(operands))
			}
			value := uint32(0)
			if len(operands) > 2 {
				value = operands[2]
			}
			p.decoration(operands[0]).values[Decoration(operands[1])] = value

		case OpMemberDecorate:
			if len(operands) < 3 {
				return errorInvalid("OpMemberDecorate with [%d] operands", len(operands))
			}
			value := uint32(0)
			if len(operands) > 3 {
				value = operands[3]
			}
			d := p.decoration(operands[0])
			if d.members[operands[1]] == nil {
				d.members[operands[1]] = map[Decoration]uint32{}
			}
			d.members[operands[1]][Decoration(operands[2])] = value

		case OpTypeVoid, OpTypeBool, OpTypeInt, OpTypeFloat, OpTypeVector, OpTypeMatrix,
			OpTypeImage, OpTypeSampler, OpTypeSampledImage, OpTypeArray, OpTypeRuntimeArray,
			OpTypeStruct, OpTypePointer, OpTypeFunction:
			if len(operands) < 1 {
				return errorInvalid("Type op [%d] without result id", op)
			}
			if err := p.declareType(op, operands[0], operands[1:]); err != nil {
				return err
			}

		case OpConstant, OpSpecConstant:
			if len(operands) < 3 {
				return errorInvalid("Constant op [%d] with [%d] operands", op, len(operands))
			}
			p.constants[operands[1]] = operands[2]

		case OpVariable:
			if len(operands) < 3 {
				return errorInvalid("OpVariable with [%d] operands", len(operands))
			}
			p.variables = append(p.variables, variable{
				id:           operands[1],
				pointerType:  operands[0],
				storageClass: StorageClass(operands[2]),
			})
		}
	}

	if !p.haveEntryPoint {
		return errorInvalid("Module has no entry point")
	}
	return nil
}

// typeOperandCounts is the minimum operand count of each type op, not counting
// the result id.
var typeOperandCounts = map[Op]int{
	OpTypeInt:          2,
	OpTypeFloat:        1,
	OpTypeVector:       2,
	OpTypeMatrix:       2,
	OpTypeImage:        7,
	OpTypeSampledImage: 1,
	OpTypeArray:        2,
	OpTypeRuntimeArray: 1,
	OpTypePointer:      2,
	OpTypeFunction:     1,
}

func (p *parser) declareType(op Op, id uint32, operands []uint32) error {
	if len(operands) < typeOperandCounts[op] {
		return errorInvalid("Type op [%d] for id [%d] with [%d] operands", op, id, len(operands))
	}
	if _, ok := p.types[id]; ok {
		return errorInvalid("Type id [%d] declared twice", id)
	}

	// types other than pointers may only name types declared before them,
	// which keeps every type graph walk finite
	var refs []uint32
	switch op {
	case OpTypeVector, OpTypeMatrix, OpTypeImage, OpTypeSampledImage, OpTypeArray, OpTypeRuntimeArray:
		refs = operands[:1]
	case OpTypeStruct:
		refs = operands
	}
	for _, ref := range refs {
		if _, ok := p.types[ref]; !ok {
			return errorInvalid("Type [%d] refers to undeclared type [%d]", id, ref)
		}
	}

	p.types[id] = typeInfo{op: op, operands: slices.Clone(operands)}
	return nil
}

// mul returns a*b or an error if the product does not fit in 32 bits.
func mul(a, b uint32) (uint32, error) {
	product := uint64(a) * uint64(b)
	if product > math.MaxUint32 {
		return 0, errorInvalid("Size [%d * %d] overflows", a, b)
	}
	return uint32(product), nil
}

func (p *parser) typeOf(id uint32) (typeInfo, error) {
	t, ok := p.types[id]
	if !ok {
		return typeInfo{}, errorInvalid("Unknown type id [%d]", id)
	}
	return t, nil
}

// pointee returns the type a pointer type points to.
func (p *parser) pointee(pointerType uint32) (uint32, error) {
	t, err := p.typeOf(pointerType)
	if err != nil {
		return 0, err
	}
	if t.op != OpTypePointer || len(t.operands) < 2 {
		return 0, errorInvalid("Variable type [%d] is not a pointer", pointerType)
	}
	return t.operands[1], nil
}

// unwrapArrays strips array types returning the element type and the total
// element count, 0 if any dimension is runtime sized.
func (p *parser) unwrapArrays(id uint32) (uint32, uint32, error) {
	count := uint32(1)
	for {
		t, err := p.typeOf(id)
		if err != nil {
			return 0, 0, err
		}
		switch t.op {
		case OpTypeArray:
			length, ok := p.constants[t.operands[1]]
			if !ok {
				return 0, 0, errorInvalid("Array type [%d] has non constant length", id)
			}
			if count, err = mul(count, length); err != nil {
				return 0, 0, err
			}
			id = t.operands[0]
		case OpTypeRuntimeArray:
			count = 0
			id = t.operands[0]
		default:
			return id, count, nil
		}
	}
}

func (p *parser) isBuiltIn(v variable, typeID uint32) bool {
	if d, ok := p.decorations[v.id]; ok && d.has(DecorationBuiltIn) {
		return true
	}
	t, err := p.typeOf(typeID)
	if err != nil || t.op != OpTypeStruct {
		return false
	}
	d, ok := p.decorations[typeID]
	if !ok {
		return false
	}
	for m := range t.operands {
		if d.memberHas(uint32(m), DecorationBuiltIn) {
			return true
		}
	}
	return false
}

func (p *parser) inputFormat(typeID uint32) Format {
	t, err := p.typeOf(typeID)
	if err != nil {
		return FormatUndefined
	}

	components := uint32(1)
	if t.op == OpTypeVector {
		components = t.operands[1]
		if t, err = p.typeOf(t.operands[0]); err != nil {
			return FormatUndefined
		}
	}
	if components < 1 || components > 4 || len(t.operands) < 1 || t.operands[0] != 32 {
		return FormatUndefined
	}

	var base Format
	switch {
	case t.op == OpTypeFloat:
		base = FormatR32Sfloat
	case t.op == OpTypeInt && len(t.operands) > 1 && t.operands[1] == 1:
		base = FormatR32Sint
	case t.op == OpTypeInt:
		base = FormatR32Uint
	default:
		return FormatUndefined
	}
	return base + Format(3*(components-1))
}

// sizeOf returns the byte size of a type laid out with explicit offsets and
// strides.
func (p *parser) sizeOf(id uint32, matrixStride uint32) (uint32, error) {
	key := [2]uint32{id, matrixStride}
	if size, ok := p.sizes[key]; ok {
		return size, nil
	}
	size, err := p.computeSize(id, matrixStride)
	if err != nil {
		return 0, err
	}
	p.sizes[key] = size
	return size, nil
}

func (p *parser) computeSize(id uint32, matrixStride uint32) (uint32, error) {
	t, err := p.typeOf(id)
	if err != nil {
		return 0, err
	}
	switch t.op {
	case OpTypeBool:
		return 4, nil
	case OpTypeInt, OpTypeFloat:
		return t.operands[0] / 8, nil
	case OpTypeVector:
		size, err := p.sizeOf(t.operands[0], 0)
		if err != nil {
			return 0, err
		}
		return mul(size, t.operands[1])
	case OpTypeMatrix:
		if matrixStride != 0 {
			return mul(matrixStride, t.operands[1])
		}
		size, err := p.sizeOf(t.operands[0], 0)
		if err != nil {
			return 0, err
		}
		return mul(size, t.operands[1])
	case OpTypeArray:
		length, ok := p.constants[t.operands[1]]
		if !ok {
			return 0, errorInvalid("Array type [%d] has non constant length", id)
		}
		if d, ok := p.decorations[id]; ok && d.has(DecorationArrayStride) {
			return mul(d.values[DecorationArrayStride], length)
		}
		size, err := p.sizeOf(t.operands[0], matrixStride)
		if err != nil {
			return 0, err
		}
		return mul(size, length)
	case OpTypeRuntimeArray:
		return 0, nil
	case OpTypeStruct:
		_, end, err := p.structRange(id)
		return end, err
	}
	return 0, errorInvalid("Type [%d] with op [%d] has no size", id, t.op)
}

// structRange returns the lowest member offset and the end of the last byte
// of a struct.
func (p *parser) structRange(id uint32) (uint32, uint32, error) {
	t, err := p.typeOf(id)
	if err != nil {
		return 0, 0, err
	}
	if t.op != OpTypeStruct {
		return 0, 0, errorInvalid("Type [%d] is not a struct", id)
	}
	if len(t.operands) == 0 {
		return 0, 0, nil
	}

	d := p.decoration(id)
	begin := uint32(math.MaxUint32)
	end := uint32(0)
	for m, memberType := range t.operands {
		offset := d.members[uint32(m)][DecorationOffset]
		size, err := p.sizeOf(memberType, d.members[uint32(m)][DecorationMatrixStride])
		if err != nil {
			return 0, 0, err
		}
		if offset > math.MaxUint32-size {
			return 0, 0, errorInvalid("Struct [%d] member [%d] ends past 4GiB", id, m)
		}
		begin = min(begin, offset)
		end = max(end, offset+size)
	}
	return begin, end, nil
}

func (p *parser) descriptorType(v variable, typeID uint32) (DescriptorType, bool, error) {
	t, err := p.typeOf(typeID)
	if err != nil {
		return 0, false, err
	}
	switch t.op {
	case OpTypeSampler:
		return DescriptorTypeSampler, true, nil
	case OpTypeSampledImage:
		return DescriptorTypeCombinedImageSampler, true, nil
	case OpTypeImage:
		if len(t.operands) < 6 {
			return 0, false, errorInvalid("OpTypeImage [%d] with [%d] operands", typeID, len(t.operands))
		}
		dim, sampled := Dim(t.operands[1]), t.operands[5]
		switch {
		case dim == DimSubpassData:
			return DescriptorTypeInputAttachment, true, nil
		case dim == DimBuffer && sampled == 1:
			return DescriptorTypeUniformTexelBuffer, true, nil
		case dim == DimBuffer:
			return DescriptorTypeStorageTexelBuffer, true, nil
		case sampled == 1:
			return DescriptorTypeSampledImage, true, nil
		default:
			return DescriptorTypeStorageImage, true, nil
		}
	case OpTypeStruct:
		if v.storageClass == StorageClassStorageBuffer {
			return DescriptorTypeStorageBuffer, true, nil
		}
		if d, ok := p.decorations[typeID]; ok && d.has(DecorationBufferBlock) {
			return DescriptorTypeStorageBuffer, true, nil
		}
		return DescriptorTypeUniformBuffer, true, nil
	}
	return 0, false, nil
}

func (p *parser) reflect() (*Module, error) {
	m := &Module{
		EntryPoint: p.entryPoint,
		Stage:      p.stage,
	}

	for _, v := range p.variables {
		typeID, err := p.pointee(v.pointerType)
		if err != nil {
			return nil, err
		}

		switch v.storageClass {
		case StorageClassInput:
			if !slices.Contains(p.interfaceIDs, v.id) {
				continue
			}
			in := InterfaceVariable{
				Name:    p.names[v.id],
				BuiltIn: p.isBuiltIn(v, typeID),
			}
			if !in.BuiltIn {
				in.Location = p.decoration(v.id).values[DecorationLocation]
				in.Format = p.inputFormat(typeID)
			}
			m.Inputs = append(m.Inputs, in)

		case StorageClassPushConstant:
			begin, end, err := p.structRange(typeID)
			if err != nil {
				return nil, err
			}
			name := p.names[v.id]
			if name == "" {
				name = p.names[typeID]
			}
			m.PushConstants = append(m.PushConstants, PushConstantBlock{
				Name:   name,
				Offset: begin,
				Size:   end - begin,
			})

		case StorageClassUniformConstant, StorageClassUniform, StorageClassStorageBuffer:
			elemType, count, err := p.unwrapArrays(typeID)
			if err != nil {
				return nil, err
			}
			descriptorType, ok, err := p.descriptorType(v, elemType)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			d := p.decoration(v.id)
			m.Bindings = append(m.Bindings, DescriptorBinding{
				Name:    p.names[v.id],
				Set:     d.values[DecorationDescriptorSet],
				Binding: d.values[DecorationBinding],
				Type:    descriptorType,
				Count:   count,
			})
		}
	}

	slices.SortFunc(m.Inputs, func(a, b InterfaceVariable) int {
		return int(a.Location) - int(b.Location)
	})
	slices.SortFunc(m.Bindings, func(a, b DescriptorBinding) int {
		if a.Set != b.Set {
			return int(a.Set) - int(b.Set)
		}
		return int(a.Binding) - int(b.Binding)
	})

	return m, nil
}

// Reflect decodes the interface of the first entry point in code.
func Reflect(code []byte) (*Module, error) {
	words, err := decodeWords(code)
	if err != nil {
		return nil, err
	}

	p := parser{
		names:       map[uint32]string{},
		decorations: map[uint32]*decorations{},
		types:       map[uint32]typeInfo{},
		constants:   map[uint32]uint32{},
		sizes:       map[[2]uint32]uint32{},
	}
	if err := p.parse(words); err != nil {
		return nil, err
	}

	m, err := p.reflect()
	if err != nil {
		return nil, err
	}
	instance.logger.VPrintf("Reflected %s entry point %q: [%d] inputs, [%d] push constant blocks, [%d] bindings",
		m.Stage, m.EntryPoint, len(m.Inputs), len(m.PushConstants), len(m.Bindings))
	return m, nil
}
