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
	"unsafe"

	"goarrg.com/debug"

	"goarrg.com/rhi/vkm/internal/util"
)

// MeshSource is one submesh produced by an importer. Indices are relative to
// the first vertex of the submesh.
type MeshSource interface {
	Name() string
	Positions() [][3]float32
	Indices() []uint32
	Bounds() (min, max [3]float32)
}

// Mesh is an in memory MeshSource, Bounds is computed from Vertices.
type Mesh struct {
	MeshName string
	Vertices [][3]float32
	Faces    []uint32
}

var _ MeshSource = (*Mesh)(nil)

func (m *Mesh) Name() string            { return m.MeshName }
func (m *Mesh) Positions() [][3]float32 { return m.Vertices }
func (m *Mesh) Indices() []uint32       { return m.Faces }

func (m *Mesh) Bounds() (lo, hi [3]float32) {
	if len(m.Vertices) == 0 {
		return
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for i := range v {
			lo[i] = min(lo[i], v[i])
			hi[i] = max(hi[i], v[i])
		}
	}
	return
}

type MeshInfo struct {
	Name        string
	FirstIndex  uint32
	IndexCount  uint32
	FirstVertex int32
	VertexCount uint32
	Min         [3]float32
	Max         [3]float32
}

// Draw records an indexed draw of the submesh, the owning BatchedMesh must be
// bound.
func (m MeshInfo) Draw(cb *CommandBuffer, instanceCount uint32) {
	cb.DrawIndexed(m.IndexCount, instanceCount, m.FirstIndex, m.FirstVertex, 0)
}

const vertexStride = uint64(unsafe.Sizeof([3]float32{}))

// BatchedMesh packs positions and uint32 indices of many submeshes into one
// vertex and one index buffer through a shared staging buffer.
type BatchedMesh struct {
	noCopy noCopy
	ctx    *DeviceContext

	indexBuffer  *Buffer
	vertexBuffer *Buffer
	staging      *Buffer

	meshes      []MeshInfo
	vertexCount uint32
	indexCount  uint32
}

// CreateBatchedMesh allocates index, vertex and staging buffers of
// Config.StagingBatchSize bytes each.
func CreateBatchedMesh(ctx *DeviceContext) (*BatchedMesh, error) {
	ctx.noCopy.check()
	size := ctx.config.stagingBatchSize

	indexBuffer, err := CreateBuffer(ctx, size, BufferUsageIndexBuffer, false)
	if err != nil {
		return nil, err
	}
	vertexBuffer, err := CreateBuffer(ctx, size, BufferUsageVertexBuffer, false)
	if err != nil {
		indexBuffer.Destroy()
		return nil, err
	}
	staging, err := CreateBuffer(ctx, size, 0, true)
	if err != nil {
		indexBuffer.Destroy()
		vertexBuffer.Destroy()
		return nil, err
	}

	m := &BatchedMesh{
		ctx:          ctx,
		indexBuffer:  indexBuffer,
		vertexBuffer: vertexBuffer,
		staging:      staging,
	}
	m.noCopy.init()
	return m, nil
}

// Add appends src after every previously added submesh. Nothing is written
// when the buffers cannot hold it, the returned error then wraps
// ErrorInvalidArgument.
func (m *BatchedMesh) Add(src MeshSource) (MeshInfo, error) {
	m.noCopy.check()

	positions := src.Positions()
	indices := src.Indices()
	vertexBytes := uint64(len(positions)) * vertexStride
	indexBytes := uint64(len(indices)) * uint64(IndexTypeUint32.Size())
	vertexOffset := uint64(m.vertexCount) * vertexStride
	indexOffset := uint64(m.indexCount) * uint64(IndexTypeUint32.Size())

	if vertexOffset+vertexBytes > m.vertexBuffer.size || indexOffset+indexBytes > m.indexBuffer.size {
		return MeshInfo{}, debug.ErrorWrapf(ErrorInvalidArgument{},
			"Mesh %q with [%d] vertices and [%d] indices does not fit the batch of [%d] bytes",
			src.Name(), len(positions), len(indices), m.staging.size)
	}
	for i, idx := range indices {
		if int(idx) >= len(positions) {
			return MeshInfo{}, debug.ErrorWrapf(ErrorInvalidArgument{},
				"Mesh %q index [%d] = %d is out of range of [%d] vertices", src.Name(), i, idx, len(positions))
		}
	}

	info := MeshInfo{
		Name:        src.Name(),
		FirstIndex:  m.indexCount,
		IndexCount:  uint32(len(indices)),
		FirstVertex: int32(m.vertexCount),
		VertexCount: uint32(len(positions)),
	}
	info.Min, info.Max = src.Bounds()

	if len(positions) > 0 {
		util.HostWriteSlice(m.staging, 0, positions)
		if err := CopyBuffer(m.staging, m.vertexBuffer, vertexBytes, vertexOffset); err != nil {
			return MeshInfo{}, debug.ErrorWrapf(err, "Failed to copy vertices of %q", src.Name())
		}
	}
	if len(indices) > 0 {
		util.HostWriteSlice(m.staging, 0, indices)
		if err := CopyBuffer(m.staging, m.indexBuffer, indexBytes, indexOffset); err != nil {
			return MeshInfo{}, debug.ErrorWrapf(err, "Failed to copy indices of %q", src.Name())
		}
	}

	m.vertexCount += info.VertexCount
	m.indexCount += info.IndexCount
	m.meshes = append(m.meshes, info)
	instance.logger.VPrintf("Batched mesh %q: %s", info.Name, genID(info.FirstIndex, info.IndexCount, uint32(info.FirstVertex), info.VertexCount))
	return info, nil
}

func (m *BatchedMesh) Meshes() []MeshInfo {
	m.noCopy.check()
	return append([]MeshInfo(nil), m.meshes...)
}

func (m *BatchedMesh) VertexCount() uint32 {
	m.noCopy.check()
	return m.vertexCount
}

func (m *BatchedMesh) IndexCount() uint32 {
	m.noCopy.check()
	return m.indexCount
}

func (m *BatchedMesh) VertexBuffer() *Buffer {
	m.noCopy.check()
	return m.vertexBuffer
}

func (m *BatchedMesh) IndexBuffer() *Buffer {
	m.noCopy.check()
	return m.indexBuffer
}

// Bind binds the vertex buffer to binding 0 and the uint32 index buffer.
func (m *BatchedMesh) Bind(cb *CommandBuffer) {
	m.noCopy.check()
	cb.BindVertexBuffers(0, []*Buffer{m.vertexBuffer}, nil)
	cb.BindIndexBuffer(m.indexBuffer, 0, IndexTypeUint32)
}

func (m *BatchedMesh) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("\"vertexCount\": %d,", m.vertexCount))
	buff.WriteString(fmt.Sprintf("\"indexCount\": %d,", m.indexCount))
	buff.WriteString("\"meshes\": [")
	for _, info := range m.meshes {
		buff.WriteString(fmt.Sprintf("{\"name\": %q, \"firstIndex\": %d, \"indexCount\": %d, \"firstVertex\": %d, \"vertexCount\": %d},",
			info.Name, info.FirstIndex, info.IndexCount, info.FirstVertex, info.VertexCount))
	}
	if len(m.meshes) > 0 {
		buff.Truncate(buff.Len() - 1)
	}
	buff.WriteString("]")
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (m *BatchedMesh) Destroy() {
	if m == nil {
		return
	}
	m.noCopy.check()
	instance.logger.VPrintf("Destroying batched mesh: %s", prettyString(m))
	m.staging.Destroy()
	m.vertexBuffer.Destroy()
	m.indexBuffer.Destroy()
	m.meshes = nil
	m.noCopy.close()
}
