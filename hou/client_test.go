package hou

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scanline-labs/houbridge/conn"
	"github.com/scanline-labs/houbridge/execute"
	"github.com/scanline-labs/houbridge/pool"
)

// fakeSession answers operations from a handler table and records the
// order of wire calls.
type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	handlers map[string]func(args json.RawMessage) (any, error)
}

func (s *fakeSession) Invoke(ctx context.Context, op string, args any, out any) error {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	handler := s.handlers[op]
	s.mu.Unlock()

	if handler == nil {
		return errors.New("no handler for " + op)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	result, err := handler(raw)
	if err != nil {
		return err
	}
	if out == nil || result == nil {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func (s *fakeSession) Version() string  { return "21.0.440" }
func (s *fakeSession) Endpoint() string { return "localhost:18811" }
func (s *fakeSession) Close() error     { return nil }

func (s *fakeSession) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == op {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, session *fakeSession) *Client {
	t.Helper()

	mgr, err := conn.NewManager(conn.ManagerConfig{
		Host: "localhost",
		Port: 18811,
		Dialer: func(ctx context.Context, host string, port int) (conn.Session, error) {
			return session, nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	exec := execute.NewExecutor(execute.ExecutorConfig{Invalidator: mgr})
	ctrl := pool.NewController(pool.ControllerConfig{Runner: exec, MaxConcurrency: 4})

	client, err := NewClient(ClientConfig{
		Manager:    mgr,
		Executor:   exec,
		Controller: ctrl,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestClient_SceneInfo(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"scene.info": func(json.RawMessage) (any, error) {
			return map[string]any{
				"hip_file":        "/tmp/shot.hip",
				"houdini_version": "21.0.440",
				"node_count":      2,
				"nodes": []map[string]any{
					{"path": "/obj/geo1", "type": "geo", "name": "geo1"},
					{"path": "/obj/cam1", "type": "cam", "name": "cam1"},
				},
			}, nil
		},
	}}
	c := newTestClient(t, session)

	info, err := c.SceneInfo(context.Background())
	if err != nil {
		t.Fatalf("SceneInfo() error = %v", err)
	}
	if info.HipFile != "/tmp/shot.hip" {
		t.Errorf("HipFile = %q, want /tmp/shot.hip", info.HipFile)
	}
	if len(info.Nodes) != 2 || info.Nodes[0].Path != "/obj/geo1" {
		t.Errorf("Nodes = %+v, want two entries starting with /obj/geo1", info.Nodes)
	}
}

func TestClient_CreateNode_SendsArgs(t *testing.T) {
	var gotArgs createNodeArgs
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"node.create": func(raw json.RawMessage) (any, error) {
			if err := json.Unmarshal(raw, &gotArgs); err != nil {
				return nil, err
			}
			return NodeRef{Path: "/obj/mysphere", Type: "sphere", Name: "mysphere"}, nil
		},
	}}
	c := newTestClient(t, session)

	ref, err := c.CreateNode(context.Background(), "sphere", "", "mysphere")
	if err != nil {
		t.Fatalf("CreateNode() error = %v", err)
	}
	if ref.Path != "/obj/mysphere" {
		t.Errorf("ref.Path = %q, want /obj/mysphere", ref.Path)
	}
	if gotArgs.Type != "sphere" || gotArgs.Parent != "/obj" || gotArgs.Name != "mysphere" {
		t.Errorf("wire args = %+v, want sphere under /obj named mysphere", gotArgs)
	}
}

func TestClient_NodeTypes_Cached(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"nodetype.list": func(json.RawMessage) (any, error) {
			return []NodeType{
				{Name: "sphere", Category: "Sop"},
				{Name: "box", Category: "Sop"},
				{Name: "noise", Category: "Vop"},
			}, nil
		},
	}}
	c := newTestClient(t, session)
	ctx := context.Background()

	first, err := c.NodeTypes(ctx, TypeFilter{})
	if err != nil {
		t.Fatalf("NodeTypes() error = %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("NodeTypes() returned %d types, want 3", len(first))
	}

	if _, err := c.NodeTypes(ctx, TypeFilter{Category: "Sop"}); err != nil {
		t.Fatalf("NodeTypes() error = %v", err)
	}
	if n := session.callCount("nodetype.list"); n != 1 {
		t.Errorf("wire calls = %d, want 1 (second query served from cache)", n)
	}
}

func TestClient_Categories(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"nodetype.list": func(json.RawMessage) (any, error) {
			return []NodeType{
				{Name: "sphere", Category: "Sop"},
				{Name: "box", Category: "Sop"},
				{Name: "noise", Category: "Vop"},
				{Name: "geo", Category: "Object"},
			}, nil
		},
	}}
	c := newTestClient(t, session)

	got, err := c.Categories(context.Background())
	if err != nil {
		t.Fatalf("Categories() error = %v", err)
	}
	want := []string{"Object", "Sop", "Vop"}
	if len(got) != len(want) {
		t.Fatalf("Categories() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Categories()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if n := session.callCount("nodetype.list"); n != 1 {
		t.Errorf("wire calls = %d, want 1 (categories derive from the cached list)", n)
	}
}

func TestClient_NodeTypes_Filtering(t *testing.T) {
	types := []NodeType{
		{Name: "attribnoise", Category: "Sop"},
		{Name: "box", Category: "Sop"},
		{Name: "noise", Category: "Vop"},
		{Name: "sphere", Category: "Sop"},
	}

	got := filterTypes(types, TypeFilter{Category: "Sop"})
	if len(got) != 3 {
		t.Errorf("category filter returned %d, want 3", len(got))
	}

	got = filterTypes(types, TypeFilter{NameFilter: "NOISE"})
	if len(got) != 2 {
		t.Errorf("name filter returned %d, want 2 (case-insensitive)", len(got))
	}

	got = filterTypes(types, TypeFilter{Category: "Sop", Limit: 2, Offset: 1})
	if len(got) != 2 || got[0].Name != "box" {
		t.Errorf("paged filter = %+v, want [box sphere]", got)
	}

	if got = filterTypes(types, TypeFilter{Offset: 10}); got != nil {
		t.Errorf("offset past end = %+v, want nil", got)
	}
}

func TestClient_MutationInvalidatesCache(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"nodetype.list": func(json.RawMessage) (any, error) {
			return []NodeType{{Name: "sphere", Category: "Sop"}}, nil
		},
		"node.delete": func(json.RawMessage) (any, error) { return nil, nil },
	}}
	c := newTestClient(t, session)
	ctx := context.Background()

	if _, err := c.NodeTypes(ctx, TypeFilter{}); err != nil {
		t.Fatalf("NodeTypes() error = %v", err)
	}
	if err := c.DeleteNode(ctx, "/obj/geo1"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	if _, err := c.NodeTypes(ctx, TypeFilter{}); err != nil {
		t.Fatalf("NodeTypes() error = %v", err)
	}

	if n := session.callCount("nodetype.list"); n != 2 {
		t.Errorf("wire calls = %d, want 2 (mutation must drop the cache)", n)
	}
}

func TestClient_NodeDetails_OrderAndIsolation(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"node.info": func(raw json.RawMessage) (any, error) {
			var args nodeInfoArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}
			if args.Path == "/obj/missing" {
				return nil, errors.New("node not found: /obj/missing")
			}
			return NodeInfo{Path: args.Path, Name: args.Path[strings.LastIndex(args.Path, "/")+1:]}, nil
		},
	}}
	c := newTestClient(t, session)

	paths := []string{"/obj/geo1", "/obj/missing", "/obj/cam1"}
	details, err := c.NodeDetails(context.Background(), paths, 2)
	if err != nil {
		t.Fatalf("NodeDetails() error = %v", err)
	}
	if len(details) != 3 {
		t.Fatalf("NodeDetails() returned %d entries, want 3", len(details))
	}

	for i, d := range details {
		if d.Path != paths[i] {
			t.Errorf("details[%d].Path = %q, want %q", i, d.Path, paths[i])
		}
	}
	if details[0].Info == nil || details[0].Info.Name != "geo1" {
		t.Errorf("details[0].Info = %+v, want geo1", details[0].Info)
	}
	if details[1].Err == nil {
		t.Error("details[1].Err = nil, want lookup failure")
	}
	if details[2].Info == nil {
		t.Error("details[2].Info = nil, sibling failure should not spill over")
	}
}

func TestClient_SetParam(t *testing.T) {
	var gotArgs setParamArgs
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"param.set": func(raw json.RawMessage) (any, error) {
			return nil, json.Unmarshal(raw, &gotArgs)
		},
	}}
	c := newTestClient(t, session)

	if err := c.SetParam(context.Background(), "/obj/geo1/sphere1", "radx", 2.5); err != nil {
		t.Fatalf("SetParam() error = %v", err)
	}
	if gotArgs.Path != "/obj/geo1/sphere1" || gotArgs.Parm != "radx" || gotArgs.Value != 2.5 {
		t.Errorf("wire args = %+v, want radx=2.5 on /obj/geo1/sphere1", gotArgs)
	}
}

func TestClient_ParamSchemaFor_CachedPerType(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"param.schema": func(raw json.RawMessage) (any, error) {
			var args paramSchemaArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}
			return ParamSchema{
				NodeType: args.NodeType,
				Params:   []ParamSpec{{Name: "rad", Type: "float", Size: 3}},
			}, nil
		},
	}}
	c := newTestClient(t, session)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		schema, err := c.ParamSchemaFor(ctx, "sphere")
		if err != nil {
			t.Fatalf("ParamSchemaFor() error = %v", err)
		}
		if schema.NodeType != "sphere" || len(schema.Params) != 1 {
			t.Errorf("schema = %+v, want sphere with one param", schema)
		}
	}
	if _, err := c.ParamSchemaFor(ctx, "box"); err != nil {
		t.Fatalf("ParamSchemaFor() error = %v", err)
	}

	if n := session.callCount("param.schema"); n != 2 {
		t.Errorf("wire calls = %d, want 2 (one per node type)", n)
	}
}

func TestExecuteCode_RejectsDangerous(t *testing.T) {
	c := newTestClient(t, &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){}})

	_, err := c.ExecuteCode(context.Background(), CodeRequest{
		Code: "import shutil\nshutil.rmtree('/tmp/x')",
	})

	var dangerous *DangerousCodeError
	if !errors.As(err, &dangerous) {
		t.Fatalf("ExecuteCode() error = %v, want DangerousCodeError", err)
	}
	if len(dangerous.Patterns) != 1 || !strings.Contains(dangerous.Patterns[0], "rmtree") {
		t.Errorf("Patterns = %v, want one rmtree detection", dangerous.Patterns)
	}
}

func TestExecuteCode_AllowDangerousWarns(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"code.execute": func(json.RawMessage) (any, error) {
			return executeCodeResult{Stdout: "done"}, nil
		},
	}}
	c := newTestClient(t, session)

	result, err := c.ExecuteCode(context.Background(), CodeRequest{
		Code:           "hou.hipFile.clear()",
		AllowDangerous: true,
	})
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if result.Stdout != "done" {
		t.Errorf("Stdout = %q, want done", result.Stdout)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "scene wipe") {
		t.Errorf("Warnings = %v, want one scene wipe warning", result.Warnings)
	}
}

func TestExecuteCode_EmptyCode(t *testing.T) {
	c := newTestClient(t, &fakeSession{})

	if _, err := c.ExecuteCode(context.Background(), CodeRequest{Code: "   \n"}); !errors.Is(err, ErrEmptyCode) {
		t.Errorf("ExecuteCode() error = %v, want ErrEmptyCode", err)
	}
}

func TestExecuteCode_TruncatesOutput(t *testing.T) {
	session := &fakeSession{handlers: map[string]func(json.RawMessage) (any, error){
		"code.execute": func(json.RawMessage) (any, error) {
			return executeCodeResult{Stdout: strings.Repeat("x", 100)}, nil
		},
	}}
	c := newTestClient(t, session)

	result, err := c.ExecuteCode(context.Background(), CodeRequest{
		Code:          "print('x' * 100)",
		MaxOutputSize: 10,
		Timeout:       time.Second,
	})
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if len(result.Stdout) != 10 || !result.StdoutTruncated {
		t.Errorf("Stdout len = %d truncated = %v, want 10 and true", len(result.Stdout), result.StdoutTruncated)
	}
}

func TestDetectDangerous(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"clean", "node = hou.node('/obj').createNode('geo')", 0},
		{"exit", "hou.exit()", 1},
		{"write mode open", "open('/tmp/f', 'w')", 1},
		{"subprocess", "import subprocess", 1},
		{"multiple", "import subprocess\nos.system('rm -rf /')", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDangerous(tt.code); len(got) != tt.want {
				t.Errorf("DetectDangerous() = %v, want %d detections", got, tt.want)
			}
		})
	}
}
