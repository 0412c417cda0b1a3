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
	"slices"
	"time"

	"goarrg.com/gmath"

	vk "github.com/vulkan-go/vulkan"
)

const (
	MinAPI uint32 = 1<<22 | 1<<12 // 1.1.0
	MaxAPI uint32 = 1<<22 | 3<<12 // 1.3.0
)

const (
	defaultDescriptorPoolMaxSets = 4
	defaultDescriptorCountSlack  = 2
	defaultStagingBatchSize      = 8 << 20
)

type Config struct {
	API     uint32
	AppName string

	// Validation enables VK_LAYER_KHRONOS_validation and routes its reports
	// into the package logger.
	Validation bool
	// PreferredDevice indexes the enumerated physical devices, -1 picks the
	// first device with a graphics queue.
	PreferredDevice int

	RequiredLayers     []string
	RequiredExtensions []string
	OptionalExtensions []string
	DeviceExtensions   []string

	DescriptorPoolMaxSets uint32
	DescriptorCountSlack  uint32

	// BufferDeviceAddress adds ShaderDeviceAddress and
	// AccelerationStructureBuildInputReadOnly to every buffer's usage, the
	// device must have been created with the matching features.
	BufferDeviceAddress bool

	// FenceTimeout of 0 waits forever.
	FenceTimeout     time.Duration
	StagingBatchSize uint64
}

func vkAPI2String(api uint32) string {
	return fmt.Sprintf("%d.%d.%d", ((api >> 22) & 0x7F), ((api >> 12) & 0x3FF), (api & 0xFFF))
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"API\": %q,", vkAPI2String(c.API)))
	buff.WriteString(fmt.Sprintf("\"AppName\": %q,", c.AppName))
	buff.WriteString(fmt.Sprintf("\"Validation\": %t,", c.Validation))
	buff.WriteString(fmt.Sprintf("\"PreferredDevice\": %d,", c.PreferredDevice))

	buff.WriteString(fmt.Sprintf("\"RequiredLayers\": %s,", jsonString(c.RequiredLayers)))
	buff.WriteString(fmt.Sprintf("\"RequiredExtensions\": %s,", jsonString(c.RequiredExtensions)))
	buff.WriteString(fmt.Sprintf("\"OptionalExtensions\": %s,", jsonString(c.OptionalExtensions)))
	buff.WriteString(fmt.Sprintf("\"DeviceExtensions\": %s,", jsonString(c.DeviceExtensions)))

	buff.WriteString(fmt.Sprintf("\"DescriptorPoolMaxSets\": %d,", c.DescriptorPoolMaxSets))
	buff.WriteString(fmt.Sprintf("\"DescriptorCountSlack\": %d,", c.DescriptorCountSlack))
	buff.WriteString(fmt.Sprintf("\"BufferDeviceAddress\": %t,", c.BufferDeviceAddress))
	buff.WriteString(fmt.Sprintf("\"FenceTimeout\": %q,", c.FenceTimeout.String()))
	buff.WriteString(fmt.Sprintf("\"StagingBatchSize\": %d", c.StagingBatchSize))

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() {
	if c.API == 0 {
		c.API = MinAPI
	} else if !gmath.InRange(c.API, MinAPI, MaxAPI) {
		abort("Config.API is outside of valid api range [%q, %q]", vkAPI2String(MinAPI), vkAPI2String(MaxAPI))
	}
	if c.AppName == "" {
		c.AppName = "vkm"
	}
	if c.PreferredDevice < -1 {
		abort("Config.PreferredDevice must be >= -1")
	}
	if c.DescriptorPoolMaxSets == 0 {
		c.DescriptorPoolMaxSets = defaultDescriptorPoolMaxSets
	}
	if c.DescriptorCountSlack == 0 {
		c.DescriptorCountSlack = defaultDescriptorCountSlack
	}
	if c.FenceTimeout < 0 {
		abort("Config.FenceTimeout must be >= 0")
	}
	if c.StagingBatchSize == 0 {
		c.StagingBatchSize = defaultStagingBatchSize
	}

	if c.Validation {
		c.RequiredLayers = append(c.RequiredLayers, "VK_LAYER_KHRONOS_validation")
		c.RequiredExtensions = append(c.RequiredExtensions, "VK_EXT_debug_report")
	}
	slices.Sort(c.RequiredLayers)
	c.RequiredLayers = slices.Compact(c.RequiredLayers)
	slices.Sort(c.RequiredExtensions)
	c.RequiredExtensions = slices.Compact(c.RequiredExtensions)
	slices.Sort(c.OptionalExtensions)
	c.OptionalExtensions = slices.Compact(c.OptionalExtensions)
	slices.Sort(c.DeviceExtensions)
	c.DeviceExtensions = slices.Compact(c.DeviceExtensions)
}

// DefaultConfig returns the settings used by the mesh viewer.
func DefaultConfig() Config {
	return Config{
		API:                   MinAPI,
		AppName:               "vkm",
		PreferredDevice:       -1,
		DescriptorPoolMaxSets: defaultDescriptorPoolMaxSets,
		DescriptorCountSlack:  defaultDescriptorCountSlack,
		StagingBatchSize:      defaultStagingBatchSize,
	}
}

// config is the part of Config a DeviceContext keeps after init.
type config struct {
	descriptorPoolMaxSets uint32
	descriptorCountSlack  uint32
	bufferDeviceAddress   bool
	fenceTimeout          uint64
	stagingBatchSize      uint64
}

func (c *config) use(user Config) {
	c.descriptorPoolMaxSets = user.DescriptorPoolMaxSets
	c.descriptorCountSlack = user.DescriptorCountSlack
	c.bufferDeviceAddress = user.BufferDeviceAddress
	c.stagingBatchSize = user.StagingBatchSize
	c.fenceTimeout = vk.MaxUint64
	if user.FenceTimeout > 0 {
		c.fenceTimeout = uint64(user.FenceTimeout.Nanoseconds())
	}
}
