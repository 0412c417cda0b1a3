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
	"strings"
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

type Format vk.Format

const (
	FormatUndefined          Format = Format(vk.FormatUndefined)
	FormatR8G8B8A8Unorm      Format = Format(vk.FormatR8g8b8a8Unorm)
	FormatR8G8B8A8Srgb       Format = Format(vk.FormatR8g8b8a8Srgb)
	FormatB8G8R8A8Unorm      Format = Format(vk.FormatB8g8r8a8Unorm)
	FormatB8G8R8A8Srgb       Format = Format(vk.FormatB8g8r8a8Srgb)
	FormatR16G16B16A16Sfloat Format = Format(vk.FormatR16g16b16a16Sfloat)
	FormatR32Sfloat          Format = Format(vk.FormatR32Sfloat)
	FormatR32G32Sfloat       Format = Format(vk.FormatR32g32Sfloat)
	FormatR32G32B32Sfloat    Format = Format(vk.FormatR32g32b32Sfloat)
	FormatR32G32B32A32Sfloat Format = Format(vk.FormatR32g32b32a32Sfloat)
	FormatR32Sint            Format = Format(vk.FormatR32Sint)
	FormatR32G32Sint         Format = Format(vk.FormatR32g32Sint)
	FormatR32G32B32Sint      Format = Format(vk.FormatR32g32b32Sint)
	FormatR32G32B32A32Sint   Format = Format(vk.FormatR32g32b32a32Sint)
	FormatR32Uint            Format = Format(vk.FormatR32Uint)
	FormatR32G32Uint         Format = Format(vk.FormatR32g32Uint)
	FormatR32G32B32Uint      Format = Format(vk.FormatR32g32b32Uint)
	FormatR32G32B32A32Uint   Format = Format(vk.FormatR32g32b32a32Uint)

	FormatD16Unorm         Format = Format(vk.FormatD16Unorm)
	FormatX8D24UnormPack32 Format = Format(vk.FormatX8D24UnormPack32)
	FormatD32Sfloat        Format = Format(vk.FormatD32Sfloat)
	FormatS8Uint           Format = Format(vk.FormatS8Uint)
	FormatD16UnormS8Uint   Format = Format(vk.FormatD16UnormS8Uint)
	FormatD24UnormS8Uint   Format = Format(vk.FormatD24UnormS8Uint)
	FormatD32SfloatS8Uint  Format = Format(vk.FormatD32SfloatS8Uint)
)

var formatNames = map[Format]string{
	FormatUndefined:          "Undefined",
	FormatR8G8B8A8Unorm:      "R8G8B8A8Unorm",
	FormatR8G8B8A8Srgb:       "R8G8B8A8Srgb",
	FormatB8G8R8A8Unorm:      "B8G8R8A8Unorm",
	FormatB8G8R8A8Srgb:       "B8G8R8A8Srgb",
	FormatR16G16B16A16Sfloat: "R16G16B16A16Sfloat",
	FormatR32Sfloat:          "R32Sfloat",
	FormatR32G32Sfloat:       "R32G32Sfloat",
	FormatR32G32B32Sfloat:    "R32G32B32Sfloat",
	FormatR32G32B32A32Sfloat: "R32G32B32A32Sfloat",
	FormatR32Sint:            "R32Sint",
	FormatR32G32Sint:         "R32G32Sint",
	FormatR32G32B32Sint:      "R32G32B32Sint",
	FormatR32G32B32A32Sint:   "R32G32B32A32Sint",
	FormatR32Uint:            "R32Uint",
	FormatR32G32Uint:         "R32G32Uint",
	FormatR32G32B32Uint:      "R32G32B32Uint",
	FormatR32G32B32A32Uint:   "R32G32B32A32Uint",
	FormatD16Unorm:           "D16Unorm",
	FormatX8D24UnormPack32:   "X8D24UnormPack32",
	FormatD32Sfloat:          "D32Sfloat",
	FormatS8Uint:             "S8Uint",
	FormatD16UnormS8Uint:     "D16UnormS8Uint",
	FormatD24UnormS8Uint:     "D24UnormS8Uint",
	FormatD32SfloatS8Uint:    "D32SfloatS8Uint",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int32(f))
}

// Size is the byte size of one texel or vertex attribute, 0 for formats
// outside the table.
func (f Format) Size() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatR32Sfloat, FormatR32Sint, FormatR32Uint,
		FormatX8D24UnormPack32, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD16Unorm:
		return 2
	case FormatS8Uint:
		return 1
	case FormatD16UnormS8Uint:
		return 3
	case FormatR16G16B16A16Sfloat, FormatR32G32Sfloat, FormatR32G32Sint, FormatR32G32Uint, FormatD32SfloatS8Uint:
		return 8
	case FormatR32G32B32Sfloat, FormatR32G32B32Sint, FormatR32G32B32Uint:
		return 12
	case FormatR32G32B32A32Sfloat, FormatR32G32B32A32Sint, FormatR32G32B32A32Uint:
		return 16
	}
	return 0
}

// Aspect is the image aspect a view of the format covers.
func (f Format) Aspect() ImageAspectFlags {
	switch f {
	case FormatD16Unorm, FormatX8D24UnormPack32, FormatD32Sfloat:
		return ImageAspectDepth
	case FormatS8Uint:
		return ImageAspectStencil
	case FormatD16UnormS8Uint, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return ImageAspectDepth | ImageAspectStencil
	}
	return ImageAspectColor
}

func (f Format) IsDepthStencil() bool {
	return !f.Aspect().HasBits(ImageAspectColor)
}

type ImageAspectFlags vk.ImageAspectFlags

const (
	ImageAspectColor   ImageAspectFlags = ImageAspectFlags(vk.ImageAspectColorBit)
	ImageAspectDepth   ImageAspectFlags = ImageAspectFlags(vk.ImageAspectDepthBit)
	ImageAspectStencil ImageAspectFlags = ImageAspectFlags(vk.ImageAspectStencilBit)
)

func (a ImageAspectFlags) HasBits(want ImageAspectFlags) bool {
	return (a & want) == want
}

func (a ImageAspectFlags) String() string {
	str := ""
	if a.HasBits(ImageAspectColor) {
		str += "Color|"
	}
	if a.HasBits(ImageAspectDepth) {
		str += "Depth|"
	}
	if a.HasBits(ImageAspectStencil) {
		str += "Stencil|"
	}
	return strings.TrimSuffix(str, "|")
}

type FormatFeatureFlags vk.FormatFeatureFlags

const (
	FormatFeatureSampledImage           FormatFeatureFlags = FormatFeatureFlags(vk.FormatFeatureSampledImageBit)
	FormatFeatureStorageImage           FormatFeatureFlags = FormatFeatureFlags(vk.FormatFeatureStorageImageBit)
	FormatFeatureColorAttachment        FormatFeatureFlags = FormatFeatureFlags(vk.FormatFeatureColorAttachmentBit)
	FormatFeatureColorAttachmentBlend   FormatFeatureFlags = FormatFeatureFlags(vk.FormatFeatureColorAttachmentBlendBit)
	FormatFeatureDepthStencilAttachment FormatFeatureFlags = FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	FormatFeatureTransferSrc            FormatFeatureFlags = 0x00004000
	FormatFeatureTransferDst            FormatFeatureFlags = 0x00008000
)

func (f FormatFeatureFlags) HasBits(want FormatFeatureFlags) bool {
	return (f & want) == want
}

func (f FormatFeatureFlags) String() string {
	str := ""
	if f.HasBits(FormatFeatureSampledImage) {
		str += "SampledImage|"
	}
	if f.HasBits(FormatFeatureStorageImage) {
		str += "StorageImage|"
	}
	if f.HasBits(FormatFeatureColorAttachment) {
		str += "ColorAttachment|"
	}
	if f.HasBits(FormatFeatureColorAttachmentBlend) {
		str += "ColorAttachmentBlend|"
	}
	if f.HasBits(FormatFeatureDepthStencilAttachment) {
		str += "DepthStencilAttachment|"
	}
	if f.HasBits(FormatFeatureTransferSrc) {
		str += "TransferSrc|"
	}
	if f.HasBits(FormatFeatureTransferDst) {
		str += "TransferDst|"
	}
	return strings.TrimSuffix(str, "|")
}

// formatProperties caches optimal tiling features per format, queried lazily.
type formatProperties struct {
	mtx                   sync.Mutex
	optimalTilingFeatures map[Format]FormatFeatureFlags
}

func (p *formatProperties) features(drv driver, f Format) FormatFeatureFlags {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	haveFeatures, ok := p.optimalTilingFeatures[f]
	if !ok {
		props := drv.FormatProperties(vk.Format(f))
		haveFeatures = FormatFeatureFlags(props.OptimalTilingFeatures)
		if p.optimalTilingFeatures == nil {
			p.optimalTilingFeatures = map[Format]FormatFeatureFlags{}
		}
		p.optimalTilingFeatures[f] = haveFeatures
		instance.logger.VPrintf("Format [%s] has features: %s", f, haveFeatures)
	}
	return haveFeatures
}

func (p *formatProperties) MarshalJSON() ([]byte, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString("\"optimalTilingFeatures\": {")

	err := mapRunFuncSorted(p.optimalTilingFeatures, func(k Format, v FormatFeatureFlags) error {
		buff.WriteString(fmt.Sprintf("%q: [", k.String()))
		if v != 0 {
			for _, f := range strings.Split(v.String(), "|") {
				buff.WriteString(fmt.Sprintf("%q,", f))
			}
			buff.Truncate(buff.Len() - 1)
		}
		buff.WriteString("],")
		return nil
	})
	if err == nil {
		buff.Truncate(buff.Len() - 1)
	}

	buff.WriteString("}")
	buff.WriteString("}")
	return buff.Bytes(), nil
}

var depthFormatCandidates = []Format{
	FormatD32SfloatS8Uint,
	FormatD32Sfloat,
	FormatD24UnormS8Uint,
	FormatD16UnormS8Uint,
	FormatD16Unorm,
}

// ChooseDepthFormat returns the first depth format usable as an optimal
// tiling depth stencil attachment, D32Sfloat if none are.
func ChooseDepthFormat(ctx *DeviceContext) Format {
	ctx.noCopy.check()
	for _, f := range depthFormatCandidates {
		if ctx.formats.features(ctx.drv, f).HasBits(FormatFeatureDepthStencilAttachment) {
			return f
		}
	}
	instance.logger.WPrintf("No depth format supports DepthStencilAttachment, falling back to %s", FormatD32Sfloat)
	return FormatD32Sfloat
}
