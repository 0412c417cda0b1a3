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
	"context"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"goarrg.com/debug"
	"golang.org/x/sync/errgroup"
)

// ShaderCompiler turns the glsl source at src into spirv at dst, both paths
// are relative to the FileSystem given to CompileStale.
type ShaderCompiler interface {
	Compile(ctx context.Context, src, dst string, stage ShaderStage) error
}

var shaderSourceStages = map[string]ShaderStage{
	".vert": ShaderStageVertex,
	".frag": ShaderStageFragment,
	".geom": ShaderStageGeometry,
	".comp": ShaderStageCompute,
}

// ShaderSourceStage returns the stage of a glsl source by its extension.
func ShaderSourceStage(name string) (ShaderStage, bool) {
	s, ok := shaderSourceStages[path.Ext(name)]
	return s, ok
}

// GlslangCompiler runs glslangValidator -V for every compile.
type GlslangCompiler struct {
	// Binary defaults to glslangValidator found through PATH.
	Binary string
	// Root is joined with the src and dst paths.
	Root string
	Args []string
}

func glslangStage(stage ShaderStage) string {
	switch stage {
	case ShaderStageVertex:
		return "vert"
	case ShaderStageFragment:
		return "frag"
	case ShaderStageGeometry:
		return "geom"
	case ShaderStageCompute:
		return "comp"
	case ShaderStageTessellationControl:
		return "tesc"
	case ShaderStageTessellationEvaluation:
		return "tese"

	default:
		abort("Unknown ShaderStage: %s", stage)
	}
	return ""
}

func (c GlslangCompiler) Compile(ctx context.Context, src, dst string, stage ShaderStage) error {
	bin := c.Binary
	if bin == "" {
		bin = "glslangValidator"
	}

	args := slices.Clone(c.Args)
	args = append(args, "-V", "-S", glslangStage(stage),
		"-o", filepath.Join(c.Root, filepath.FromSlash(dst)),
		filepath.Join(c.Root, filepath.FromSlash(src)))

	instance.logger.VPrintf("Running %s %s", bin, strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to compile %q:\n%s", src, strings.TrimSpace(string(out)))
	}
	return nil
}

func isStale(fs FileSystem, src, dst string) (bool, error) {
	if !fs.Exists(dst) {
		return true, nil
	}
	srcTime, err := fs.LastWriteTime(src)
	if err != nil {
		return false, err
	}
	dstTime, err := fs.LastWriteTime(dst)
	if err != nil {
		return false, err
	}
	return !dstTime.After(srcTime), nil
}

// CompileStale compiles every shader source under root whose <name>.spv is
// missing or not newer than the source, in parallel. It returns the sources
// that were compiled, sorted, and the first error.
func CompileStale(ctx context.Context, fs FileSystem, compiler ShaderCompiler, root string) ([]string, error) {
	files, err := fs.Enumerate(root)
	if err != nil {
		return nil, err
	}

	var mtx sync.Mutex
	var compiled []string

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, src := range files {
		if gctx.Err() != nil {
			break
		}
		stage, ok := ShaderSourceStage(src)
		if !ok {
			continue
		}
		dst := src + ".spv"
		stale, err := isStale(fs, src, dst)
		if err != nil {
			// no compile may outlive the call
			cancel()
			_ = g.Wait()
			return nil, err
		}
		if !stale {
			instance.logger.VPrintf("Shader %q is up to date", src)
			continue
		}

		g.Go(func() error {
			instance.logger.WPrintf("Compile %s", src)
			if err := compiler.Compile(gctx, src, dst, stage); err != nil {
				return err
			}
			mtx.Lock()
			compiled = append(compiled, src)
			mtx.Unlock()
			return nil
		})
	}

	err = g.Wait()
	slices.Sort(compiled)
	return compiled, err
}
