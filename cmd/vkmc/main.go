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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"goarrg.com/debug"
	"goarrg.com/rhi/vkm"

	"golang.org/x/tools/go/packages"
)

var flags flag.FlagSet

type generator uint32

const (
	generatorJSON generator = iota
	generatorGO
)

var generatorNames = [...]string{
	generatorJSON: "json",
	generatorGO:   "go",
}

func (g *generator) UnmarshalText(data []byte) error {
	for i, n := range generatorNames {
		if n == string(data) {
			*g = generator(i)
			return nil
		}
	}
	return debug.Errorf("Unknown generator: %q", data)
}

func (g generator) MarshalText() ([]byte, error) {
	if int(g) >= len(generatorNames) {
		return nil, debug.Errorf("Unknown generator: %d", g)
	}
	return []byte(generatorNames[g]), nil
}

type options struct {
	outDir      string
	glslang     string
	skipCompile bool
	generator   generator
}

func main() {
	debug.SetLevel(debug.LogLevelWarn)

	flags.Usage = help
	flags.Init("", flag.ExitOnError)

	var opts options
	v := flags.Bool("v", false, "Verbose - Print high level tasks")
	vv := flags.Bool("vv", false, "Very Verbose - Print everything")
	flags.StringVar(&opts.outDir, "out-dir", ".", "Sets the output directory for metadata.")
	flags.StringVar(&opts.glslang, "glslang", "glslangValidator", "Sets the glslangValidator binary used to compile stale shaders.")
	flags.BoolVar(&opts.skipCompile, "skip-compile", false, "Only reflect existing .spv files, do not compile stale sources.")
	flags.TextVar(&opts.generator, "generator", generatorJSON, "Sets the generator to use when outputting metadata.\n"+
		"Valid values are \"json\" and \"go\".")

	if err := flags.Parse(os.Args[1:]); err != nil {
		panic(err)
	}

	switch {
	case *vv:
		debug.SetLevel(debug.LogLevelVerbose)
		vkm.SetLogLevel(debug.LogLevelVerbose)
	case *v:
		debug.SetLevel(debug.LogLevelInfo)
	}

	if flags.NArg() != 1 {
		debug.EPrintf("vkmc takes exactly one directory.")
		help()
		os.Exit(2)
	}

	if err := run(context.Background(), flags.Arg(0), opts); err != nil {
		debug.EPrintf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir string, opts options) error {
	fs := vkm.NewDirFileSystem(dir)

	if !opts.skipCompile {
		debug.IPrintf("Compiling stale shaders in: %q", dir)
		compiled, err := vkm.CompileStale(ctx, fs, vkm.GlslangCompiler{Binary: opts.glslang, Root: dir}, ".")
		if err != nil {
			return err
		}
		for _, c := range compiled {
			debug.IPrintf("Compiled: %q", c)
		}
	}

	files, err := fs.Enumerate(".")
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to list %q", dir)
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return debug.ErrorWrapf(err, "Failed to create %q", opts.outDir)
	}

	pkg := ""
	if opts.generator == generatorGO {
		if pkg, err = packageName(opts.outDir); err != nil {
			return err
		}
	}

	for _, name := range files {
		if path.Ext(name) != ".spv" {
			continue
		}
		spv, err := fs.ReadFile(name)
		if err != nil {
			return debug.ErrorWrapf(err, "Failed to read %q", name)
		}
		layout, err := vkm.ReflectShader(spv)
		if err != nil {
			return debug.ErrorWrapf(err, "Failed to reflect %q", name)
		}
		j, err := layout.MarshalJSON()
		if err != nil {
			return debug.ErrorWrapf(err, "Failed to marshal layout of %q", name)
		}

		var out string
		var data []byte
		switch opts.generator {
		case generatorJSON:
			out = filepath.Join(opts.outDir, filepath.FromSlash(name)+".json")
			data = j
		case generatorGO:
			id := identifier(name)
			out = filepath.Join(opts.outDir, "zvkmc_"+id+".go")
			data = genGo(pkg, id, name, spv, layout, j)
		}

		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return debug.ErrorWrapf(err, "Failed to create %q", filepath.Dir(out))
		}
		debug.IPrintf("Writing metadata to: %q", out)
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return debug.ErrorWrapf(err, "Failed to write %q", out)
		}
	}
	return nil
}

func help() {
	fmt.Fprintf(os.Stderr, "vkmc compiles every stale glsl shader in a directory with glslangValidator\n"+
		"and writes the reflected vkm.ShaderLayout of every .spv next to it.\n"+
		"\nSources are recognized by the .vert, .frag, .geom and .comp extensions and compile to <source>.spv.\n"+
		"\n")
	args := ""
	flags.VisitAll(func(f *flag.Flag) {
		n, u := flag.UnquoteUsage(f)
		if f.DefValue != "" {
			u += "\n\nDefaults to \"" + f.DefValue + "\"."
		}
		args += "\t-" + f.Name + " " + n + "\n\t\t" + strings.ReplaceAll(strings.TrimSpace(u), "\n", "\n\t\t") + "\n"
	})
	fmt.Fprintf(os.Stderr, "Usage:\n\t%s [arguments] <dir>\n\nArguments:\n%s", filepath.Base(os.Args[0]), args)
}

// identifier turns a slash separated shader path into a Go identifier suffix.
func identifier(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsDigit(r), unicode.IsLetter(r):
			return r
		case r == '/', r == '.':
			return '_'
		}
		return -1
	}, name)
}

// packageName returns the package the generated files join, falling back to
// the directory name when dir holds no Go files yet.
func packageName(dir string) (string, error) {
	p, err := packages.Load(&packages.Config{Mode: packages.NeedName}, dir)
	if err != nil {
		return "", debug.ErrorWrapf(err, "Failed to load package at %q", dir)
	}
	switch {
	case len(p) == 0:
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		return filepath.Base(abs), nil
	case p[0].Name != "":
		return p[0].Name, nil
	default:
		return path.Base(p[0].PkgPath), nil
	}
}

func genGo(pkg, id, name string, spv []byte, layout *vkm.ShaderLayout, layoutJSON []byte) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// go run goarrg.com/rhi/vkm/cmd/vkmc %s\n", strings.Join(os.Args[1:], " "))
	fmt.Fprintf(&sb, "// Code generated by the command above; DO NOT EDIT.\n\n")
	fmt.Fprintf(&sb, "package %s\n\n", pkg)
	fmt.Fprintf(&sb, "// %s stage: %s, entry point: %q\n", name, layout.Stage, layout.EntryPoint)
	fmt.Fprintf(&sb, "func vkmcLoad_%s() (spv []byte, layout string) {\n", id)
	fmt.Fprintf(&sb, "\tspv = %#v\n", spv)
	fmt.Fprintf(&sb, "\tlayout = %q\n", string(layoutJSON))
	fmt.Fprintf(&sb, "\treturn\n")
	fmt.Fprintf(&sb, "}\n")
	return []byte(sb.String())
}
