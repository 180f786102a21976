package hou

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/scanline-labs/houbridge/cache"
	"github.com/scanline-labs/houbridge/conn"
	"github.com/scanline-labs/houbridge/execute"
	"github.com/scanline-labs/houbridge/pool"
)

const (
	// DefaultCacheTTL applies to node type and parameter schema
	// enumerations, which rarely change within a session.
	DefaultCacheTTL = time.Hour

	// detailBatchSize chunks bulk node queries so one huge request
	// list cannot monopolize the channel.
	detailBatchSize = 50
)

// ClientConfig wires a Client to the core layers.
type ClientConfig struct {
	Manager    *conn.Manager
	Executor   *execute.Executor
	Controller *pool.Controller
	Cache      *cache.Cache
	CacheTTL   time.Duration
	Logger     *slog.Logger
}

// Client exposes the scene, node, parameter, geometry and code tools.
type Client struct {
	mgr      *conn.Manager
	exec     *execute.Executor
	ctrl     *pool.Controller
	cache    *cache.Cache
	cacheTTL time.Duration
	log      *slog.Logger
}

// NewClient creates the tool client. Manager, Executor and Controller
// are required; Cache defaults to an in-memory one.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("hou: manager is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("hou: executor is required")
	}
	if cfg.Controller == nil {
		return nil, fmt.Errorf("hou: controller is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New(cache.Config{Name: "hou", DefaultTTL: DefaultCacheTTL})
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		mgr:      cfg.Manager,
		exec:     cfg.Executor,
		ctrl:     cfg.Controller,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		log:      cfg.Logger.With("component", "hou"),
	}, nil
}

// invoke runs one remote operation through the connection manager and
// the safe executor, decoding the result into out.
func (c *Client) invoke(ctx context.Context, op string, args any, out any, timeout time.Duration) error {
	session, err := c.mgr.EnsureConnected(ctx)
	if err != nil {
		return fmt.Errorf("hou: %s: %w", op, err)
	}

	r := c.exec.Run(ctx, func(ctx context.Context) (any, error) {
		return nil, session.Invoke(ctx, op, args, out)
	}, timeout, op)
	if r.Ok() {
		return nil
	}
	return fmt.Errorf("hou: %s: %w", op, r.Err)
}

// SceneInfo returns hip file, application version and the top-level
// node listing.
func (c *Client) SceneInfo(ctx context.Context) (*SceneInfo, error) {
	var info SceneInfo
	if err := c.invoke(ctx, "scene.info", nil, &info, 0); err != nil {
		return nil, err
	}
	return &info, nil
}

// NewScene clears the current scene and invalidates the enumeration
// caches, since the scene context they were built in is gone.
func (c *Client) NewScene(ctx context.Context) error {
	if err := c.invoke(ctx, "scene.new", nil, nil, 0); err != nil {
		return err
	}
	c.invalidateEnumerations(ctx)
	return nil
}

type listNodesArgs struct {
	Parent string `json:"parent"`
}

// ListNodes lists the children of parent ("/obj" when empty).
func (c *Client) ListNodes(ctx context.Context, parent string) ([]NodeRef, error) {
	if parent == "" {
		parent = "/obj"
	}
	var nodes []NodeRef
	if err := c.invoke(ctx, "node.list", listNodesArgs{Parent: parent}, &nodes, 0); err != nil {
		return nil, err
	}
	return nodes, nil
}

type createNodeArgs struct {
	Type   string `json:"type"`
	Parent string `json:"parent"`
	Name   string `json:"name,omitempty"`
}

// CreateNode creates a node of nodeType under parent. Name is optional;
// the remote process picks one when empty.
func (c *Client) CreateNode(ctx context.Context, nodeType, parent, name string) (*NodeRef, error) {
	if parent == "" {
		parent = "/obj"
	}
	var ref NodeRef
	args := createNodeArgs{Type: nodeType, Parent: parent, Name: name}
	if err := c.invoke(ctx, "node.create", args, &ref, 0); err != nil {
		return nil, err
	}
	c.invalidateEnumerations(ctx)
	return &ref, nil
}

type nodePathArgs struct {
	Path string `json:"path"`
}

// DeleteNode removes the node at path.
func (c *Client) DeleteNode(ctx context.Context, path string) error {
	if err := c.invoke(ctx, "node.delete", nodePathArgs{Path: path}, nil, 0); err != nil {
		return err
	}
	c.invalidateEnumerations(ctx)
	return nil
}

type nodeInfoArgs struct {
	Path      string `json:"path"`
	MaxParams int    `json:"max_params,omitempty"`
}

// NodeInfo returns the expanded view of one node. maxParams bounds the
// parameter listing; 0 means the remote default.
func (c *Client) NodeInfo(ctx context.Context, path string, maxParams int) (*NodeInfo, error) {
	var info NodeInfo
	args := nodeInfoArgs{Path: path, MaxParams: maxParams}
	if err := c.invoke(ctx, "node.info", args, &info, 0); err != nil {
		return nil, err
	}
	return &info, nil
}

// NodeDetails fans per-node queries out through the concurrency
// controller, chunked so very large path lists stay bounded. Results
// line up with the input paths; a failed lookup occupies its slot with
// an error instead of failing the call.
func (c *Client) NodeDetails(ctx context.Context, paths []string, maxConcurrency int) ([]NodeDetail, error) {
	session, err := c.mgr.EnsureConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("hou: node.details: %w", err)
	}

	details := make([]NodeDetail, 0, len(paths))
	for _, chunk := range pool.Batch(paths, detailBatchSize) {
		units := make([]pool.Unit, len(chunk))
		for i, path := range chunk {
			units[i] = pool.Unit{
				Name: "node.info",
				Op: func(ctx context.Context) (any, error) {
					var info NodeInfo
					if err := session.Invoke(ctx, "node.info", nodeInfoArgs{Path: path}, &info); err != nil {
						return nil, err
					}
					return &info, nil
				},
			}
		}

		for i, r := range c.ctrl.GatherLimit(ctx, units, maxConcurrency) {
			d := NodeDetail{Path: chunk[i]}
			if r.Success {
				d.Info = r.Value.(*NodeInfo)
			} else {
				d.Err = r.Err
			}
			details = append(details, d)
		}
	}
	return details, nil
}

// TypeFilter narrows a NodeTypes listing. Zero values match everything.
type TypeFilter struct {
	Category   string
	NameFilter string
	Limit      int
	Offset     int
}

// NodeTypes returns the node type enumeration, served from the cache
// when a live entry exists. Filtering happens locally so repeated
// filtered queries cost nothing on the wire.
func (c *Client) NodeTypes(ctx context.Context, filter TypeFilter) ([]NodeType, error) {
	key := cache.Key("node_types", c.mgr.Endpoint())
	value, err := c.cache.GetOrSet(ctx, key, c.cacheTTL, func(ctx context.Context) (any, error) {
		var types []NodeType
		if err := c.invoke(ctx, "nodetype.list", nil, &types, 0); err != nil {
			return nil, err
		}
		sort.Slice(types, func(i, j int) bool {
			if types[i].Category != types[j].Category {
				return types[i].Category < types[j].Category
			}
			return types[i].Name < types[j].Name
		})
		return types, nil
	})
	if err != nil {
		return nil, err
	}

	types, err := coerce[[]NodeType](value)
	if err != nil {
		return nil, fmt.Errorf("hou: nodetype.list: %w", err)
	}
	return filterTypes(types, filter), nil
}

// Categories returns the distinct node type categories, derived from the
// cached type enumeration so it shares its freshness.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	types, err := c.NodeTypes(ctx, TypeFilter{})
	if err != nil {
		return nil, err
	}

	var categories []string
	for _, t := range types {
		if n := len(categories); n == 0 || categories[n-1] != t.Category {
			categories = append(categories, t.Category)
		}
	}
	return categories, nil
}

func filterTypes(types []NodeType, f TypeFilter) []NodeType {
	nameFilter := strings.ToLower(f.NameFilter)
	matched := make([]NodeType, 0, len(types))
	for _, t := range types {
		if f.Category != "" && !strings.EqualFold(t.Category, f.Category) {
			continue
		}
		if nameFilter != "" && !strings.Contains(strings.ToLower(t.Name), nameFilter) {
			continue
		}
		matched = append(matched, t)
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched
}

// Params lists the current parameter values of a node.
func (c *Client) Params(ctx context.Context, path string) ([]ParamInfo, error) {
	var params []ParamInfo
	if err := c.invoke(ctx, "param.list", nodePathArgs{Path: path}, &params, 0); err != nil {
		return nil, err
	}
	return params, nil
}

type setParamArgs struct {
	Path  string `json:"path"`
	Parm  string `json:"parm"`
	Value any    `json:"value"`
}

// SetParam sets one parameter on a node.
func (c *Client) SetParam(ctx context.Context, path, parm string, value any) error {
	return c.invoke(ctx, "param.set", setParamArgs{Path: path, Parm: parm, Value: value}, nil, 0)
}

type paramSchemaArgs struct {
	NodeType string `json:"node_type"`
}

// ParamSchemaFor returns the parameter template of a node type, cached
// per type since templates are immutable for a running session.
func (c *Client) ParamSchemaFor(ctx context.Context, nodeType string) (*ParamSchema, error) {
	key := cache.Key("param_schema", c.mgr.Endpoint(), nodeType)
	value, err := c.cache.GetOrSet(ctx, key, c.cacheTTL, func(ctx context.Context) (any, error) {
		var schema ParamSchema
		if err := c.invoke(ctx, "param.schema", paramSchemaArgs{NodeType: nodeType}, &schema, 0); err != nil {
			return nil, err
		}
		return &schema, nil
	})
	if err != nil {
		return nil, err
	}

	schema, err := coerce[*ParamSchema](value)
	if err != nil {
		return nil, fmt.Errorf("hou: param.schema: %w", err)
	}
	return schema, nil
}

// GeometrySummary returns cooked-geometry counts and bounds for a node.
func (c *Client) GeometrySummary(ctx context.Context, path string) (*GeometrySummary, error) {
	var summary GeometrySummary
	if err := c.invoke(ctx, "geometry.summary", nodePathArgs{Path: path}, &summary, 0); err != nil {
		return nil, err
	}
	return &summary, nil
}

// CacheStats reports the enumeration cache counters.
func (c *Client) CacheStats() cache.Stats { return c.cache.Stats() }

// invalidateEnumerations drops every cached enumeration after a
// mutating operation. Failures only log: a stale-for-one-TTL cache is
// not worth surfacing to the tool caller.
func (c *Client) invalidateEnumerations(ctx context.Context) {
	if err := c.cache.Clear(ctx); err != nil {
		c.log.Warn("cache invalidation failed", "error", err)
	}
}

// coerce recovers a typed value from the cache. In-memory entries keep
// their Go type; entries read back from a persistent store come out as
// generic JSON shapes and take the remarshal path.
func coerce[T any](value any) (T, error) {
	if typed, ok := value.(T); ok {
		return typed, nil
	}
	var typed T
	raw, err := json.Marshal(value)
	if err != nil {
		return typed, err
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return typed, err
	}
	return typed, nil
}
