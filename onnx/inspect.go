package onnx

import (
	"sort"
)

// ValueSummary describes a graph input or output.
type ValueSummary struct {
	Name     string   `json:"name"      yaml:"name"`
	ElemType DataType `json:"elem_type" yaml:"elem_type"`
	Dims     []int64  `json:"dims"      yaml:"dims"`
}

// Summary is an overview of a model used by the inspect command.
type Summary struct {
	IRVersion        int64              `json:"ir_version"         yaml:"ir_version"`
	Opset            int64              `json:"opset"              yaml:"opset"`
	Producer         string             `json:"producer"           yaml:"producer"`
	GraphName        string             `json:"graph_name"         yaml:"graph_name"`
	Nodes            int                `json:"nodes"              yaml:"nodes"`
	OpCounts         map[string]int     `json:"op_counts"          yaml:"op_counts"`
	Inputs           []ValueSummary     `json:"inputs"             yaml:"inputs"`
	Outputs          []ValueSummary     `json:"outputs"            yaml:"outputs"`
	InitializerBytes map[DataType]int64 `json:"initializer_bytes"  yaml:"initializer_bytes"`
}

// Summarize collects the overview of a model.
func Summarize(m *Model) Summary {
	s := Summary{
		IRVersion:        m.IRVersion,
		Opset:            m.OpsetVersion(""),
		Producer:         m.ProducerName,
		GraphName:        m.Graph.Name,
		Nodes:            len(m.Graph.Nodes),
		OpCounts:         make(map[string]int),
		InitializerBytes: make(map[DataType]int64),
	}

	for _, n := range m.Graph.Nodes {
		s.OpCounts[n.OpType]++
	}
	for _, t := range m.Graph.Initializers {
		s.InitializerBytes[t.DataType] += int64(t.ByteSize())
	}
	for _, in := range m.Graph.Inputs {
		// Inputs backed by initializers are constants, not feeds.
		if m.Graph.IsInitializer(in.Name) {
			continue
		}
		s.Inputs = append(s.Inputs, ValueSummary{Name: in.Name, ElemType: in.ElemType(), Dims: in.Dims()})
	}
	for _, out := range m.Graph.Outputs {
		s.Outputs = append(s.Outputs, ValueSummary{Name: out.Name, ElemType: out.ElemType(), Dims: out.Dims()})
	}

	return s
}

// SortedOps returns the op types of the summary ordered by descending count.
func (s Summary) SortedOps() []string {
	ops := make([]string, 0, len(s.OpCounts))
	for op := range s.OpCounts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if s.OpCounts[ops[i]] != s.OpCounts[ops[j]] {
			return s.OpCounts[ops[i]] > s.OpCounts[ops[j]]
		}
		return ops[i] < ops[j]
	})
	return ops
}
