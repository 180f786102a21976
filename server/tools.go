package server

import (
	"context"
	"fmt"
	"time"

	"github.com/scanline-labs/houbridge/hou"
)

// ToolHandler executes one tool against the bridge.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolDef pairs an advertised tool with its handler.
type ToolDef struct {
	Tool    Tool
	Handler ToolHandler
}

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intArg tolerates the float64 shape JSON numbers decode into.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// BridgeTools builds the tool registry over the typed client. Order is
// the advertised order in tools/list.
func BridgeTools(client *hou.Client) []ToolDef {
	return []ToolDef{
		{
			Tool: Tool{
				Name:        "scene_info",
				Description: "Get the open hip file, Houdini version and top-level nodes",
				InputSchema: objectSchema(nil, map[string]any{}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return client.SceneInfo(ctx)
			},
		},
		{
			Tool: Tool{
				Name:        "new_scene",
				Description: "Clear the current scene and start fresh",
				InputSchema: objectSchema(nil, map[string]any{}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				if err := client.NewScene(ctx); err != nil {
					return nil, err
				}
				return map[string]any{"message": "new scene created"}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "list_nodes",
				Description: "List child nodes of a parent path",
				InputSchema: objectSchema(nil, map[string]any{
					"parent": map[string]any{"type": "string", "description": "Parent node path, default /obj"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				nodes, err := client.ListNodes(ctx, stringArg(args, "parent", "/obj"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"nodes": nodes, "count": len(nodes)}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "create_node",
				Description: "Create a node under a parent path",
				InputSchema: objectSchema([]string{"type"}, map[string]any{
					"type":   map[string]any{"type": "string", "description": "Node type, e.g. geo or sphere"},
					"parent": map[string]any{"type": "string", "description": "Parent node path, default /obj"},
					"name":   map[string]any{"type": "string", "description": "Optional node name"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				nodeType := stringArg(args, "type", "")
				if nodeType == "" {
					return nil, fmt.Errorf("server: create_node: type is required")
				}
				return client.CreateNode(ctx, nodeType,
					stringArg(args, "parent", "/obj"), stringArg(args, "name", ""))
			},
		},
		{
			Tool: Tool{
				Name:        "delete_node",
				Description: "Delete the node at a path",
				InputSchema: objectSchema([]string{"path"}, map[string]any{
					"path": map[string]any{"type": "string"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path := stringArg(args, "path", "")
				if path == "" {
					return nil, fmt.Errorf("server: delete_node: path is required")
				}
				if err := client.DeleteNode(ctx, path); err != nil {
					return nil, err
				}
				return map[string]any{"message": "node deleted", "path": path}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "node_info",
				Description: "Get detailed information about one node",
				InputSchema: objectSchema([]string{"path"}, map[string]any{
					"path":       map[string]any{"type": "string"},
					"max_params": map[string]any{"type": "integer", "description": "Parameter listing cap"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path := stringArg(args, "path", "")
				if path == "" {
					return nil, fmt.Errorf("server: node_info: path is required")
				}
				return client.NodeInfo(ctx, path, intArg(args, "max_params", 0))
			},
		},
		{
			Tool: Tool{
				Name:        "node_details",
				Description: "Fetch details for many nodes concurrently",
				InputSchema: objectSchema([]string{"paths"}, map[string]any{
					"paths":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"max_concurrency": map[string]any{"type": "integer"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				raw, ok := args["paths"].([]any)
				if !ok || len(raw) == 0 {
					return nil, fmt.Errorf("server: node_details: paths is required")
				}
				paths := make([]string, 0, len(raw))
				for _, v := range raw {
					if s, ok := v.(string); ok {
						paths = append(paths, s)
					}
				}
				details, err := client.NodeDetails(ctx, paths, intArg(args, "max_concurrency", 0))
				if err != nil {
					return nil, err
				}
				out := make([]map[string]any, 0, len(details))
				for _, d := range details {
					entry := map[string]any{"path": d.Path}
					if d.Err != nil {
						entry["error"] = d.Err.Error()
					} else {
						entry["info"] = d.Info
					}
					out = append(out, entry)
				}
				return map[string]any{"details": out}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "list_node_types",
				Description: "List available node types, cached and filterable",
				InputSchema: objectSchema(nil, map[string]any{
					"category":    map[string]any{"type": "string", "description": "e.g. Sop, Object, Vop"},
					"name_filter": map[string]any{"type": "string", "description": "Case-insensitive substring"},
					"limit":       map[string]any{"type": "integer"},
					"offset":      map[string]any{"type": "integer"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				types, err := client.NodeTypes(ctx, hou.TypeFilter{
					Category:   stringArg(args, "category", ""),
					NameFilter: stringArg(args, "name_filter", ""),
					Limit:      intArg(args, "limit", 0),
					Offset:     intArg(args, "offset", 0),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"types": types, "count": len(types)}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "list_categories",
				Description: "List the node type categories available in this session",
				InputSchema: objectSchema(nil, map[string]any{}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				categories, err := client.Categories(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"categories": categories}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "get_params",
				Description: "List a node's current parameter values",
				InputSchema: objectSchema([]string{"path"}, map[string]any{
					"path": map[string]any{"type": "string"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path := stringArg(args, "path", "")
				if path == "" {
					return nil, fmt.Errorf("server: get_params: path is required")
				}
				params, err := client.Params(ctx, path)
				if err != nil {
					return nil, err
				}
				return map[string]any{"params": params}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "set_param",
				Description: "Set one parameter on a node",
				InputSchema: objectSchema([]string{"path", "parm", "value"}, map[string]any{
					"path":  map[string]any{"type": "string"},
					"parm":  map[string]any{"type": "string"},
					"value": map[string]any{"description": "New value; numbers, strings and booleans pass through"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path := stringArg(args, "path", "")
				parm := stringArg(args, "parm", "")
				if path == "" || parm == "" {
					return nil, fmt.Errorf("server: set_param: path and parm are required")
				}
				if err := client.SetParam(ctx, path, parm, args["value"]); err != nil {
					return nil, err
				}
				return map[string]any{"message": "parameter set", "path": path, "parm": parm}, nil
			},
		},
		{
			Tool: Tool{
				Name:        "param_schema",
				Description: "Get the parameter template of a node type, cached per type",
				InputSchema: objectSchema([]string{"node_type"}, map[string]any{
					"node_type": map[string]any{"type": "string"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				nodeType := stringArg(args, "node_type", "")
				if nodeType == "" {
					return nil, fmt.Errorf("server: param_schema: node_type is required")
				}
				return client.ParamSchemaFor(ctx, nodeType)
			},
		},
		{
			Tool: Tool{
				Name:        "geometry_summary",
				Description: "Get point/prim/vertex counts and bounds for a node",
				InputSchema: objectSchema([]string{"path"}, map[string]any{
					"path": map[string]any{"type": "string"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				path := stringArg(args, "path", "")
				if path == "" {
					return nil, fmt.Errorf("server: geometry_summary: path is required")
				}
				return client.GeometrySummary(ctx, path)
			},
		},
		{
			Tool: Tool{
				Name:        "execute_code",
				Description: "Run a Python snippet in the Houdini session (scanned for dangerous patterns first)",
				InputSchema: objectSchema([]string{"code"}, map[string]any{
					"code":            map[string]any{"type": "string"},
					"allow_dangerous": map[string]any{"type": "boolean"},
					"timeout_seconds": map[string]any{"type": "integer"},
				}),
			},
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				return client.ExecuteCode(ctx, hou.CodeRequest{
					Code:           stringArg(args, "code", ""),
					AllowDangerous: boolArg(args, "allow_dangerous"),
					Timeout:        time.Duration(intArg(args, "timeout_seconds", 0)) * time.Second,
				})
			},
		},
	}
}
