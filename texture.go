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
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"goarrg.com/debug"
	"goarrg.com/gmath"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	vk "github.com/vulkan-go/vulkan"
)

type ImageUsageFlags vk.ImageUsageFlags

const (
	ImageUsageTransferSrc            ImageUsageFlags = ImageUsageFlags(vk.ImageUsageTransferSrcBit)
	ImageUsageTransferDst            ImageUsageFlags = ImageUsageFlags(vk.ImageUsageTransferDstBit)
	ImageUsageSampled                ImageUsageFlags = ImageUsageFlags(vk.ImageUsageSampledBit)
	ImageUsageStorage                ImageUsageFlags = ImageUsageFlags(vk.ImageUsageStorageBit)
	ImageUsageColorAttachment        ImageUsageFlags = ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	ImageUsageDepthStencilAttachment ImageUsageFlags = ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	ImageUsageTransientAttachment    ImageUsageFlags = ImageUsageFlags(vk.ImageUsageTransientAttachmentBit)
	ImageUsageInputAttachment        ImageUsageFlags = ImageUsageFlags(vk.ImageUsageInputAttachmentBit)
)

func (u ImageUsageFlags) HasBits(want ImageUsageFlags) bool {
	return (u & want) == want
}

func (u ImageUsageFlags) String() string {
	str := ""
	if u.HasBits(ImageUsageTransferSrc) {
		str += "TransferSrc|"
	}
	if u.HasBits(ImageUsageTransferDst) {
		str += "TransferDst|"
	}
	if u.HasBits(ImageUsageSampled) {
		str += "Sampled|"
	}
	if u.HasBits(ImageUsageStorage) {
		str += "Storage|"
	}
	if u.HasBits(ImageUsageColorAttachment) {
		str += "ColorAttachment|"
	}
	if u.HasBits(ImageUsageDepthStencilAttachment) {
		str += "DepthStencilAttachment|"
	}
	if u.HasBits(ImageUsageTransientAttachment) {
		str += "TransientAttachment|"
	}
	if u.HasBits(ImageUsageInputAttachment) {
		str += "InputAttachment|"
	}
	return strings.TrimSuffix(str, "|")
}

func pickImageUsage(format Format, isRenderTarget bool) ImageUsageFlags {
	usage := ImageUsageTransferSrc | ImageUsageTransferDst | ImageUsageSampled
	if isRenderTarget {
		usage |= ImageUsageInputAttachment
		if format.IsDepthStencil() {
			usage |= ImageUsageDepthStencilAttachment
		} else {
			usage |= ImageUsageColorAttachment | ImageUsageStorage
		}
	}
	return usage
}

type TextureCreateInfo struct {
	Format       Format
	Extent       gmath.Extent2i32
	Samples      SampleCountFlags
	RenderTarget bool
}

// Texture is a 2D image with a view over its full aspect. A texture created
// from a native image has no allocation and never destroys the image.
type Texture struct {
	noCopy      noCopy
	ctx         *DeviceContext
	vkImage     vk.Image
	vkImageView vk.ImageView
	allocation  *Allocation
	format      Format
	extent      gmath.Extent3i32
	samples     SampleCountFlags
	usageFlags  ImageUsageFlags
}

func (t *Texture) createView(aspect ImageAspectFlags) error {
	view, ret := t.ctx.drv.CreateImageView(&vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.vkImage,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(t.format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err := vkResult(ret, "Failed to create image view"); err != nil {
		return err
	}
	t.vkImageView = view
	return nil
}

func CreateTexture(ctx *DeviceContext, info TextureCreateInfo) (*Texture, error) {
	ctx.noCopy.check()
	if info.Extent.X <= 0 || info.Extent.Y <= 0 {
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Invalid texture extent [%dx%d]", info.Extent.X, info.Extent.Y)
	}
	if info.Samples == 0 {
		info.Samples = SampleCount1
	}

	t := &Texture{
		ctx:        ctx,
		format:     info.Format,
		extent:     gmath.Extent3i32{X: info.Extent.X, Y: info.Extent.Y, Z: 1},
		samples:    info.Samples,
		usageFlags: pickImageUsage(info.Format, info.RenderTarget),
	}

	var err error
	t.vkImage, t.allocation, err = ctx.allocator.CreateImage(&vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  uint32(info.Extent.X),
			Height: uint32(info.Extent.Y),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCountFlagBits(info.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(t.usageFlags),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, MemoryUsageDeviceLocal)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create texture %s", genID(info.Format, t.usageFlags))
	}

	if err := t.createView(info.Format.Aspect()); err != nil {
		ctx.allocator.DestroyImage(t.vkImage, t.allocation)
		return nil, err
	}

	t.noCopy.init()
	instance.logger.VPrintf("Created texture %s", genID(t.vkImage, info.Format, t.samples, t.usageFlags))
	return t, nil
}

// CreateTextureFromNative wraps an image owned by someone else, usually a
// swapchain. Only the view is created and destroyed.
func CreateTextureFromNative(ctx *DeviceContext, img vk.Image, format Format, extent gmath.Extent2i32) (*Texture, error) {
	ctx.noCopy.check()
	t := &Texture{
		ctx:     ctx,
		vkImage: img,
		format:  format,
		extent:  gmath.Extent3i32{X: extent.X, Y: extent.Y, Z: 1},
		samples: SampleCount1,
	}
	if err := t.createView(ImageAspectColor); err != nil {
		return nil, err
	}
	t.noCopy.init()
	return t, nil
}

func (t *Texture) Format() Format {
	t.noCopy.check()
	return t.format
}

func (t *Texture) Extent() gmath.Extent3i32 {
	if t == nil {
		return gmath.Extent3i32{}
	}
	t.noCopy.check()
	return t.extent
}

func (t *Texture) Samples() SampleCountFlags {
	t.noCopy.check()
	return t.samples
}

func (t *Texture) Usage() ImageUsageFlags {
	t.noCopy.check()
	return t.usageFlags
}

func (t *Texture) Aspect() ImageAspectFlags {
	t.noCopy.check()
	return t.format.Aspect()
}

// IsNative reports whether the image is owned outside of this texture.
func (t *Texture) IsNative() bool {
	t.noCopy.check()
	return t.allocation == nil
}

func (t *Texture) VkImage() vk.Image {
	t.noCopy.check()
	return t.vkImage
}

func (t *Texture) VkImageView() vk.ImageView {
	t.noCopy.check()
	return t.vkImageView
}

func (t *Texture) Destroy() {
	if t == nil {
		return
	}
	t.noCopy.check()
	t.ctx.drv.DestroyImageView(t.vkImageView)
	if t.allocation != nil {
		t.ctx.allocator.DestroyImage(t.vkImage, t.allocation)
	}
	t.vkImage = vk.NullImage
	t.vkImageView = vk.NullImageView
	t.allocation = nil
	t.noCopy.close()
}

func (t *Texture) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"vkImage\": %q,", toHex(t.vkImage)))
	buff.WriteString(fmt.Sprintf("\"format\": %q,", t.format.String()))
	buff.WriteString(fmt.Sprintf("\"extent\": [%d,%d,%d],", t.extent.X, t.extent.Y, t.extent.Z))
	buff.WriteString(fmt.Sprintf("\"samples\": %q,", t.samples.String()))
	buff.WriteString(fmt.Sprintf("\"usage\": %q,", t.usageFlags.String()))
	buff.WriteString(fmt.Sprintf("\"native\": %t", t.allocation == nil))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func decodeRGBA(data []byte) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Stride == rgba.Rect.Dx()*4 && rgba.Rect.Min == (image.Point{}) {
		return rgba, nil
	}
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst, nil
}

// LoadTextureFromFile decodes an image from fs into an R8G8B8A8Unorm texture
// ready for sampling. Block compressed containers are rejected.
func LoadTextureFromFile(ctx *DeviceContext, fs FileSystem, path string) (*Texture, error) {
	ctx.noCopy.check()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".ktx", ".dds":
		return nil, debug.ErrorWrapf(ErrorInvalidArgument{}, "Can't load image with extension %q", ext)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to read %q", path)
	}
	pixels, err := decodeRGBA(data)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to decode %q", path)
	}

	staging, err := CreateBuffer(ctx, uint64(len(pixels.Pix)), 0, true)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := UploadBuffer(staging, pixels.Pix); err != nil {
		return nil, err
	}

	texture, err := CreateTexture(ctx, TextureCreateInfo{
		Format:  FormatR8G8B8A8Unorm,
		Extent:  gmath.Extent2i32{X: int32(pixels.Rect.Dx()), Y: int32(pixels.Rect.Dy())},
		Samples: SampleCount1,
	})
	if err != nil {
		return nil, err
	}

	if err := CopyBufferToTexture(staging, texture); err != nil {
		texture.Destroy()
		return nil, err
	}

	instance.logger.VPrintf("Loaded texture %q [%dx%d]", path, pixels.Rect.Dx(), pixels.Rect.Dy())
	return texture, nil
}
