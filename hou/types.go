// Package hou is the typed tool surface over the Houdini bridge. Every
// call acquires the live session through the connection manager, runs
// through the safe executor, and leaves all network state to those
// layers.
package hou

import "time"

// NodeRef identifies one node in the scene graph.
type NodeRef struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// SceneInfo describes the open hip file.
type SceneInfo struct {
	HipFile        string    `json:"hip_file"`
	HoudiniVersion string    `json:"houdini_version"`
	NodeCount      int       `json:"node_count"`
	Nodes          []NodeRef `json:"nodes"`
}

// NodeInfo is the expanded view of a single node.
type NodeInfo struct {
	Path            string         `json:"path"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	TypeDescription string         `json:"type_description,omitempty"`
	Children        []string       `json:"children,omitempty"`
	Inputs          []string       `json:"inputs,omitempty"`
	Outputs         []string       `json:"outputs,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

// NodeDetail pairs a bulk-query path with its outcome. A failed lookup
// carries its error here rather than aborting the whole batch.
type NodeDetail struct {
	Path string
	Info *NodeInfo
	Err  error
}

// NodeType is one entry of the node type enumeration.
type NodeType struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// ParamInfo is a parameter's current value.
type ParamInfo struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// ParamSpec describes one parameter slot of a node type's template.
type ParamSpec struct {
	Name    string `json:"name"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type"`
	Size    int    `json:"size,omitempty"`
	Default any    `json:"default,omitempty"`
}

// ParamSchema is the full parameter template of a node type.
type ParamSchema struct {
	NodeType string      `json:"node_type"`
	Params   []ParamSpec `json:"params"`
}

// GeometrySummary holds cooked-geometry counts and bounds for a SOP.
type GeometrySummary struct {
	Points   int64      `json:"points"`
	Prims    int64      `json:"prims"`
	Vertices int64      `json:"vertices"`
	Bounds   [6]float64 `json:"bounds"`
}

// CodeRequest asks the remote process to run a script snippet.
type CodeRequest struct {
	Code           string
	AllowDangerous bool
	Timeout        time.Duration
	MaxOutputSize  int
}

// CodeResult is the outcome of remote code execution.
type CodeResult struct {
	Stdout          string   `json:"stdout"`
	Stderr          string   `json:"stderr"`
	StdoutTruncated bool     `json:"stdout_truncated,omitempty"`
	StderrTruncated bool     `json:"stderr_truncated,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}
