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
Package spirv reads the interface of a SPIR-V module: entry point stage,
stage inputs, push constant blocks and descriptor bindings. Only the metadata
a pipeline layout needs is decoded, function bodies are skipped.
*/
package spirv

import (
	"goarrg.com/debug"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("vkm", "internal", "spirv"),
}

const Magic uint32 = 0x07230203

const headerWords = 5

type Op uint16

const (
	OpName             Op = 5
	OpMemberName       Op = 6
	OpEntryPoint       Op = 15
	OpTypeVoid         Op = 19
	OpTypeBool         Op = 20
	OpTypeInt          Op = 21
	OpTypeFloat        Op = 22
	OpTypeVector       Op = 23
	OpTypeMatrix       Op = 24
	OpTypeImage        Op = 25
	OpTypeSampler      Op = 26
	OpTypeSampledImage Op = 27
	OpTypeArray        Op = 28
	OpTypeRuntimeArray Op = 29
	OpTypeStruct       Op = 30
	OpTypePointer      Op = 32
	OpTypeFunction     Op = 33
	OpConstant         Op = 43
	OpSpecConstant     Op = 50
	OpFunction         Op = 54
	OpVariable         Op = 59
	OpDecorate         Op = 71
	OpMemberDecorate   Op = 72
)

type Decoration uint32

const (
	DecorationBlock         Decoration = 2
	DecorationBufferBlock   Decoration = 3
	DecorationArrayStride   Decoration = 6
	DecorationMatrixStride  Decoration = 7
	DecorationBuiltIn       Decoration = 11
	DecorationLocation      Decoration = 30
	DecorationBinding       Decoration = 33
	DecorationDescriptorSet Decoration = 34
	DecorationOffset        Decoration = 35
)

type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassPushConstant    StorageClass = 9
	StorageClassStorageBuffer   StorageClass = 12
)

type ExecutionModel uint32

const (
	ExecutionModelVertex                 ExecutionModel = 0
	ExecutionModelTessellationControl    ExecutionModel = 1
	ExecutionModelTessellationEvaluation ExecutionModel = 2
	ExecutionModelGeometry               ExecutionModel = 3
	ExecutionModelFragment               ExecutionModel = 4
	ExecutionModelGLCompute              ExecutionModel = 5
)

func (m ExecutionModel) String() string {
	switch m {
	case ExecutionModelVertex:
		return "Vertex"
	case ExecutionModelTessellationControl:
		return "TessellationControl"
	case ExecutionModelTessellationEvaluation:
		return "TessellationEvaluation"
	case ExecutionModelGeometry:
		return "Geometry"
	case ExecutionModelFragment:
		return "Fragment"
	case ExecutionModelGLCompute:
		return "GLCompute"
	}
	return "Unknown"
}

type Dim uint32

const (
	Dim1D          Dim = 0
	Dim2D          Dim = 1
	Dim3D          Dim = 2
	DimCube        Dim = 3
	DimRect        Dim = 4
	DimBuffer      Dim = 5
	DimSubpassData Dim = 6
)

// DescriptorType values match VkDescriptorType.
type DescriptorType uint32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformTexelBuffer   DescriptorType = 4
	DescriptorTypeStorageTexelBuffer   DescriptorType = 5
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
	DescriptorTypeInputAttachment      DescriptorType = 10
)

// Format values match VkFormat for the 32 bit scalar and vector formats a
// stage input can have, FormatUndefined for anything else.
type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR32Uint            Format = 98
	FormatR32Sint            Format = 99
	FormatR32Sfloat          Format = 100
	FormatR32G32Uint         Format = 101
	FormatR32G32Sint         Format = 102
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Uint      Format = 104
	FormatR32G32B32Sint      Format = 105
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Uint   Format = 107
	FormatR32G32B32A32Sint   Format = 108
	FormatR32G32B32A32Sfloat Format = 109
)

type InterfaceVariable struct {
	Name     string
	Location uint32
	Format   Format
	BuiltIn  bool
}

type PushConstantBlock struct {
	Name   string
	Offset uint32
	Size   uint32
}

type DescriptorBinding struct {
	Name    string
	Set     uint32
	Binding uint32
	Type    DescriptorType
	// Count is 0 for runtime sized arrays.
	Count uint32
}

type Module struct {
	EntryPoint    string
	Stage         ExecutionModel
	Inputs        []InterfaceVariable
	PushConstants []PushConstantBlock
	Bindings      []DescriptorBinding
}

type ErrorInvalidModule struct{}

func (ErrorInvalidModule) Is(target error) bool {
	_, ok := target.(ErrorInvalidModule)
	return ok
}

func (ErrorInvalidModule) Error() string {
	return "Invalid SPIR-V Module"
}

func errorInvalid(fmt string, args ...any) error {
	return debug.ErrorWrapf(ErrorInvalidModule{}, fmt, args...)
}
