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
	"strings"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

func abort(fmt string, args ...any) {
	instance.logger.EPrintf(fmt, args...)
	instance.platform.Abort()
}

func SetLogLevel(l uint32) {
	instance.logger.SetLevel(l)
}

// layer messages that only report on things this package does on purpose,
// like allocating one block per resource
var debugReportBlacklist = map[int32]struct{}{
	-602362517: {}, // UNASSIGNED-BestPractices-vkAllocateMemory-small-allocation
	-1277938581: {}, // UNASSIGNED-BestPractices-vkAllocateMemory-too-many-objects
}

func vkDebugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer,
) vk.Bool32 {
	if _, blacklisted := debugReportBlacklist[messageCode]; blacklisted {
		return vk.False
	}

	prefix := "[" + strings.TrimSpace(pLayerPrefix) + "] "
	message := strings.TrimSpace(pMessage)

	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		instance.logger.EPrintf("%s[Code: %d] [Obj: 0x%X]\n%s", prefix, messageCode, object, message)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		instance.logger.WPrintf("%s[Code: %d] [Obj: 0x%X]\n%s", prefix, messageCode, object, message)
	default:
		instance.logger.VPrintf("%s[Code: %d] [Obj: 0x%X]\n%s", prefix, messageCode, object, message)
	}

	return vk.False
}
