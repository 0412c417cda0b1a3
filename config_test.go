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
	"encoding/json"
	"slices"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	var c Config
	c.validate()
	want := Config{
		API:                   MinAPI,
		AppName:               "vkm",
		DescriptorPoolMaxSets: defaultDescriptorPoolMaxSets,
		DescriptorCountSlack:  defaultDescriptorCountSlack,
		StagingBatchSize:      defaultStagingBatchSize,
	}
	if got, want := jsonString(&c), jsonString(&want); got != want {
		t.Errorf("Got %s, want %s", got, want)
	}

	c = Config{
		Validation:         true,
		RequiredLayers:     []string{"VK_LAYER_KHRONOS_validation", "VK_LAYER_LUNARG_monitor"},
		RequiredExtensions: []string{"VK_KHR_surface", "VK_KHR_surface"},
	}
	c.validate()
	if !slices.Equal(c.RequiredLayers, []string{"VK_LAYER_KHRONOS_validation", "VK_LAYER_LUNARG_monitor"}) {
		t.Errorf("Got layers %v", c.RequiredLayers)
	}
	if !slices.Equal(c.RequiredExtensions, []string{"VK_EXT_debug_report", "VK_KHR_surface"}) {
		t.Errorf("Got extensions %v", c.RequiredExtensions)
	}
}

func TestConfigInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"api too old", Config{API: 1 << 22}},
		{"api too new", Config{API: 1<<22 | 9<<12}},
		{"device", Config{PreferredDevice: -2}},
		{"fence timeout", Config{FenceTimeout: -time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expectAbort(t, func() { tc.config.validate() })
		})
	}
}

func TestConfigMarshalJSON(t *testing.T) {
	c := DefaultConfig()
	c.AppName = `mesh "viewer"`
	c.FenceTimeout = 2 * time.Second
	c.DeviceExtensions = []string{"VK_KHR_swapchain"}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(jsonString(&c)), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["API"] != "1.1.0" || decoded["AppName"] != c.AppName || decoded["FenceTimeout"] != "2s" {
		t.Errorf("Got %v", decoded)
	}
	if decoded["PreferredDevice"] != float64(-1) {
		t.Errorf("Got PreferredDevice %v", decoded["PreferredDevice"])
	}
}

func TestConfigFenceTimeout(t *testing.T) {
	var c config
	c.use(DefaultConfig())
	if c.fenceTimeout != ^uint64(0) {
		t.Errorf("Got fence timeout %d", c.fenceTimeout)
	}
	user := DefaultConfig()
	user.FenceTimeout = time.Millisecond
	c.use(user)
	if c.fenceTimeout != uint64(time.Millisecond) {
		t.Errorf("Got fence timeout %d", c.fenceTimeout)
	}
}
