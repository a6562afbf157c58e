package services

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Minimal glTF 2.0 binary container: one buffer, positions + indices.
// Field order in these structs is the serialization order, so the JSON
// chunk is byte-stable for identical meshes.

type glbAsset struct {
	Version   string `json:"version"`
	Generator string `json:"generator"`
}

type glbBuffer struct {
	ByteLength int `json:"byteLength"`
}

type glbBufferView struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
	Target     int `json:"target"`
}

type glbAccessor struct {
	BufferView    int       `json:"bufferView"`
	ComponentType int       `json:"componentType"`
	Count         int       `json:"count"`
	Type          string    `json:"type"`
	Min           []float32 `json:"min,omitempty"`
	Max           []float32 `json:"max,omitempty"`
}

type glbPrimitive struct {
	Attributes map[string]int `json:"attributes"`
	Indices    int            `json:"indices"`
}

type glbMesh struct {
	Primitives []glbPrimitive `json:"primitives"`
}

type glbNode struct {
	Mesh int `json:"mesh"`
}

type glbScene struct {
	Nodes []int `json:"nodes"`
}

type glbDoc struct {
	Asset       glbAsset        `json:"asset"`
	Buffers     []glbBuffer     `json:"buffers"`
	BufferViews []glbBufferView `json:"bufferViews"`
	Accessors   []glbAccessor   `json:"accessors"`
	Meshes      []glbMesh       `json:"meshes"`
	Nodes       []glbNode       `json:"nodes"`
	Scenes      []glbScene      `json:"scenes"`
	Scene       int             `json:"scene"`
}

const (
	glbMagic        = 0x46546C67 // "glTF"
	glbChunkJSON    = 0x4E4F534A
	glbChunkBIN     = 0x004E4942
	componentFloat  = 5126
	componentUint32 = 5125
	targetArray     = 34962
	targetElement   = 34963
)

func pad4(n int) int {
	return (4 - n%4) % 4
}

func encodeGLB(m *triMesh) ([]byte, error) {
	if len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return nil, fmt.Errorf("empty mesh")
	}

	var bin bytes.Buffer
	minP := []float32{float32(math.Inf(1)), float32(math.Inf(1)), float32(math.Inf(1))}
	maxP := []float32{float32(math.Inf(-1)), float32(math.Inf(-1)), float32(math.Inf(-1))}
	for _, v := range m.Vertices {
		for i := 0; i < 3; i++ {
			f := float32(v[i])
			if f < minP[i] {
				minP[i] = f
			}
			if f > maxP[i] {
				maxP[i] = f
			}
			if err := binary.Write(&bin, binary.LittleEndian, f); err != nil {
				return nil, err
			}
		}
	}
	posLen := bin.Len()
	for i := 0; i < pad4(posLen); i++ {
		bin.WriteByte(0)
	}
	idxOffset := bin.Len()
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			if err := binary.Write(&bin, binary.LittleEndian, uint32(f[i])); err != nil {
				return nil, err
			}
		}
	}
	idxLen := bin.Len() - idxOffset
	for i := 0; i < pad4(bin.Len()); i++ {
		bin.WriteByte(0)
	}

	doc := glbDoc{
		Asset:   glbAsset{Version: "2.0", Generator: "soleforge-geometry"},
		Buffers: []glbBuffer{{ByteLength: bin.Len()}},
		BufferViews: []glbBufferView{
			{Buffer: 0, ByteOffset: 0, ByteLength: posLen, Target: targetArray},
			{Buffer: 0, ByteOffset: idxOffset, ByteLength: idxLen, Target: targetElement},
		},
		Accessors: []glbAccessor{
			{BufferView: 0, ComponentType: componentFloat, Count: len(m.Vertices), Type: "VEC3", Min: minP, Max: maxP},
			{BufferView: 1, ComponentType: componentUint32, Count: len(m.Faces) * 3, Type: "SCALAR"},
		},
		Meshes: []glbMesh{{Primitives: []glbPrimitive{{
			Attributes: map[string]int{"POSITION": 0},
			Indices:    1,
		}}}},
		Nodes:  []glbNode{{Mesh: 0}},
		Scenes: []glbScene{{Nodes: []int{0}}},
		Scene:  0,
	}
	jsonChunk, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	for i := 0; i < pad4(len(jsonChunk)); i++ {
		jsonChunk = append(jsonChunk, ' ')
	}

	total := 12 + 8 + len(jsonChunk) + 8 + bin.Len()
	var out bytes.Buffer
	for _, v := range []uint32{glbMagic, 2, uint32(total)} {
		binary.Write(&out, binary.LittleEndian, v)
	}
	binary.Write(&out, binary.LittleEndian, uint32(len(jsonChunk)))
	binary.Write(&out, binary.LittleEndian, uint32(glbChunkJSON))
	out.Write(jsonChunk)
	binary.Write(&out, binary.LittleEndian, uint32(bin.Len()))
	binary.Write(&out, binary.LittleEndian, uint32(glbChunkBIN))
	out.Write(bin.Bytes())

	return out.Bytes(), nil
}
