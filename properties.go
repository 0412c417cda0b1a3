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

	"goarrg.com/gmath"

	vk "github.com/vulkan-go/vulkan"
)

type UUID [16]byte

func (uuid *UUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%04X-%012X", uuid[:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:])
}

type VendorID uint32

const (
	VendorAMD    VendorID = 0x1002
	VendorNVIDIA VendorID = 0x10de
	VendorIntel  VendorID = 0x8086
)

func (id VendorID) String() string {
	switch id {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorIntel:
		return "Intel"
	default:
		return fmt.Sprintf("Unknown: 0x%04X", uint32(id))
	}
}

type (
	Limits struct {
		PointSize gmath.Bounds[float32]
		LineWidth gmath.Bounds[float32]

		FramebufferColorSampleCounts SampleCountFlags
		FramebufferDepthSampleCounts SampleCountFlags

		MaxImageDimension2D  uint32
		MaxSamplerAnisotropy float32
		MaxUBOSize           uint32
		MaxSBOSize           uint32

		MaxBoundDescriptorSets uint32
		MaxPushConstantsSize   uint32

		Compute struct {
			MaxDispatchSize gmath.Extent3u32
			MaxLocalSize    gmath.Extent3u32
			MaxInvocations  uint32
		}
	}
	Properties struct {
		Name          string
		UUID          UUID
		VendorID      VendorID
		DeviceID      uint32
		DriverVersion uint32
		API           uint32
		Limits        Limits
	}
)

func newProperties(props vk.PhysicalDeviceProperties) Properties {
	p := Properties{
		Name:          vk.ToString(props.DeviceName[:]),
		UUID:          UUID(props.PipelineCacheUUID),
		VendorID:      VendorID(props.VendorID),
		DeviceID:      props.DeviceID,
		DriverVersion: props.DriverVersion,
		API:           props.ApiVersion,
	}

	l := props.Limits
	p.Limits.PointSize = gmath.Bounds[float32]{l.PointSizeRange[0], l.PointSizeRange[1]}
	p.Limits.LineWidth = gmath.Bounds[float32]{l.LineWidthRange[0], l.LineWidthRange[1]}
	p.Limits.FramebufferColorSampleCounts = SampleCountFlags(l.FramebufferColorSampleCounts)
	p.Limits.FramebufferDepthSampleCounts = SampleCountFlags(l.FramebufferDepthSampleCounts)
	p.Limits.MaxImageDimension2D = l.MaxImageDimension2D
	p.Limits.MaxSamplerAnisotropy = l.MaxSamplerAnisotropy
	p.Limits.MaxUBOSize = l.MaxUniformBufferRange
	p.Limits.MaxSBOSize = l.MaxStorageBufferRange
	p.Limits.MaxBoundDescriptorSets = l.MaxBoundDescriptorSets
	p.Limits.MaxPushConstantsSize = l.MaxPushConstantsSize
	p.Limits.Compute.MaxDispatchSize = gmath.Extent3u32{
		X: l.MaxComputeWorkGroupCount[0], Y: l.MaxComputeWorkGroupCount[1], Z: l.MaxComputeWorkGroupCount[2],
	}
	p.Limits.Compute.MaxLocalSize = gmath.Extent3u32{
		X: l.MaxComputeWorkGroupSize[0], Y: l.MaxComputeWorkGroupSize[1], Z: l.MaxComputeWorkGroupSize[2],
	}
	p.Limits.Compute.MaxInvocations = l.MaxComputeWorkGroupInvocations
	return p
}

func (p *Properties) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Name\": %q,", p.Name))
	buff.WriteString(fmt.Sprintf("\"UUID\": %q,", p.UUID.String()))
	buff.WriteString(fmt.Sprintf("\"VendorID\": %q,", p.VendorID.String()))
	buff.WriteString(fmt.Sprintf("\"DeviceID\": %d,", p.DeviceID))
	buff.WriteString(fmt.Sprintf("\"DriverVersion\": %d,", p.DriverVersion))
	buff.WriteString(fmt.Sprintf("\"API\": %q,", vkAPI2String(p.API)))
	buff.WriteString(fmt.Sprintf("\"Limits\": %s,", jsonString(p.Limits)))

	buff.Truncate(buff.Len() - 1)
	buff.WriteString("}")
	return buff.Bytes(), nil
}
