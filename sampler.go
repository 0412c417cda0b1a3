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
	"math"

	vk "github.com/vulkan-go/vulkan"
)

type SamplerFilter vk.Filter

const (
	SamplerFilterNearest SamplerFilter = SamplerFilter(vk.FilterNearest)
	SamplerFilterLinear  SamplerFilter = SamplerFilter(vk.FilterLinear)
)

func (f SamplerFilter) String() string {
	switch f {
	case SamplerFilterNearest:
		return "Nearest"
	case SamplerFilterLinear:
		return "Linear"
	}
	abort("Unknown sampler filter: %d", f)
	return ""
}

func (f SamplerFilter) mipmapMode() vk.SamplerMipmapMode {
	if f == SamplerFilterLinear {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

type SamplerAddressMode vk.SamplerAddressMode

const (
	SamplerAddressModeRepeat         SamplerAddressMode = SamplerAddressMode(vk.SamplerAddressModeRepeat)
	SamplerAddressModeMirroredRepeat SamplerAddressMode = SamplerAddressMode(vk.SamplerAddressModeMirroredRepeat)
	SamplerAddressModeClampToEdge    SamplerAddressMode = SamplerAddressMode(vk.SamplerAddressModeClampToEdge)
	SamplerAddressModeClampToBorder  SamplerAddressMode = SamplerAddressMode(vk.SamplerAddressModeClampToBorder)
)

func (m SamplerAddressMode) String() string {
	switch m {
	case SamplerAddressModeRepeat:
		return "Repeat"
	case SamplerAddressModeMirroredRepeat:
		return "MirroredRepeat"
	case SamplerAddressModeClampToEdge:
		return "ClampToEdge"
	case SamplerAddressModeClampToBorder:
		return "ClampToBorder"
	}
	abort("Unknown sampler address mode: %d", m)
	return ""
}

type SamplerInfo struct {
	// Filter is used for mag, min and mipmap filtering.
	Filter      SamplerFilter
	AddressMode SamplerAddressMode
}

type Sampler struct {
	noCopy    noCopy
	ctx       *DeviceContext
	vkSampler vk.Sampler
	info      SamplerInfo
}

var _ DescriptorInfo = (*Sampler)(nil)

func (s *Sampler) isDescriptorInfo() {}

func CreateSampler(ctx *DeviceContext, info SamplerInfo) (*Sampler, error) {
	ctx.noCopy.check()

	sampler, ret := ctx.drv.CreateSampler(&vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(info.Filter),
		MinFilter:               vk.Filter(info.Filter),
		MipmapMode:              info.Filter.mipmapMode(),
		AddressModeU:            vk.SamplerAddressMode(info.AddressMode),
		AddressModeV:            vk.SamplerAddressMode(info.AddressMode),
		AddressModeW:            vk.SamplerAddressMode(info.AddressMode),
		MipLodBias:              0,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpLess,
		MinLod:                  0,
		MaxLod:                  math.MaxFloat32,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	})
	if err := vkResult(ret, "Failed to create sampler %s", genID(info.Filter, info.AddressMode)); err != nil {
		return nil, err
	}

	s := &Sampler{ctx: ctx, vkSampler: sampler, info: info}
	s.noCopy.init()
	return s, nil
}

func (s *Sampler) Info() SamplerInfo {
	s.noCopy.check()
	return s.info
}

func (s *Sampler) Destroy() {
	if s == nil {
		return
	}
	s.noCopy.check()
	s.ctx.drv.DestroySampler(s.vkSampler)
	s.vkSampler = vk.NullSampler
	s.noCopy.close()
}
