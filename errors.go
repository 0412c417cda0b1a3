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
	"goarrg.com/debug"

	vk "github.com/vulkan-go/vulkan"
)

type ErrorDeviceNotFound struct{}

func (ErrorDeviceNotFound) Is(target error) bool {
	_, ok := target.(ErrorDeviceNotFound)
	return ok
}

func (ErrorDeviceNotFound) Error() string {
	return "Device Not Found"
}

type ErrorDeviceLost struct{}

func (ErrorDeviceLost) Is(target error) bool {
	_, ok := target.(ErrorDeviceLost)
	return ok
}

func (ErrorDeviceLost) Error() string {
	return "Device Lost"
}

type ErrorAllocationFailed struct{}

func (ErrorAllocationFailed) Is(target error) bool {
	_, ok := target.(ErrorAllocationFailed)
	return ok
}

func (ErrorAllocationFailed) Error() string {
	return "Allocation Failed"
}

type ErrorPoolExhausted struct{}

func (ErrorPoolExhausted) Is(target error) bool {
	_, ok := target.(ErrorPoolExhausted)
	return ok
}

func (ErrorPoolExhausted) Error() string {
	return "Descriptor Pool Exhausted"
}

type ErrorInvalidArgument struct{}

func (ErrorInvalidArgument) Is(target error) bool {
	_, ok := target.(ErrorInvalidArgument)
	return ok
}

func (ErrorInvalidArgument) Error() string {
	return "Invalid Argument"
}

// ErrorUnknownVertexInput is returned when a vertex shader input has a name
// outside of the vertex semantic table.
type ErrorUnknownVertexInput struct {
	Name string
}

func (ErrorUnknownVertexInput) Is(target error) bool {
	_, ok := target.(ErrorUnknownVertexInput)
	return ok
}

func (e ErrorUnknownVertexInput) Error() string {
	return "Unknown Vertex Input: " + e.Name
}

const (
	resultErrorOutOfPoolMemory = vk.Result(-1000069000)
	resultErrorFragmentedPool  = vk.Result(-12)
)

// vkResult converts a non success result into an error, mapping the
// out of memory family onto ErrorAllocationFailed so callers can errors.Is it.
func vkResult(ret vk.Result, fmt string, args ...any) error {
	switch ret {
	case vk.Success:
		return nil

	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorTooManyObjects:
		return debug.ErrorWrapf(ErrorAllocationFailed{}, fmt+": %v", append(args, vk.Error(ret))...)

	case resultErrorOutOfPoolMemory, resultErrorFragmentedPool:
		return debug.ErrorWrapf(ErrorPoolExhausted{}, fmt+": %v", append(args, vk.Error(ret))...)

	case vk.ErrorDeviceLost:
		return debug.ErrorWrapf(ErrorDeviceLost{}, fmt+": %v", append(args, vk.Error(ret))...)

	default:
		return debug.Errorf(fmt+": %v", append(args, vk.Error(ret))...)
	}
}
