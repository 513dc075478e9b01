package endpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type fakeEnv map[string]string

func (f fakeEnv) Lookup(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func TestResolveExplicitEnvURL(t *testing.T) {
	env := fakeEnv{"UE_MCP_WS_URL": "ws://0.0.0.0:19090"}
	r := New(env, "ws://configured:1", "", "")
	c, err := r.Resolve(Selector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.WsURL != "ws://127.0.0.1:19090" {
		t.Fatalf("wsURL = %q, want wildcard host rewritten to loopback", c.WsURL)
	}
	if c.Source != SourceEnv {
		t.Fatalf("source = %q, want env", c.Source)
	}
}

func TestResolveFallsBackToConfig(t *testing.T) {
	r := New(fakeEnv{}, "ws://configured:1", "", "")
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	os.Chdir(dir)

	c, err := r.Resolve(Selector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.WsURL != "ws://configured:1" || c.Source != SourceConfig {
		t.Fatalf("got %+v, want config fallback", c)
	}
}

func TestResolveConnectionFile(t *testing.T) {
	dir := t.TempDir()
	connFile := filepath.Join(dir, "connection.json")
	payload, _ := json.Marshal(map[string]any{"ws_url": "ws://127.0.0.1:19091"})
	if err := os.WriteFile(connFile, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	env := fakeEnv{"UE_MCP_CONNECTION_FILE": connFile}
	r := New(env, "ws://configured:1", "", "")
	c, err := r.Resolve(Selector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.WsURL != "ws://127.0.0.1:19091" || c.Source != SourceConnectionFile {
		t.Fatalf("got %+v", c)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	dir := t.TempDir()
	instDir := filepath.Join(dir, "instances")
	os.MkdirAll(instDir, 0o755)
	for i, id := range []string{"a", "b"} {
		payload, _ := json.Marshal(map[string]any{
			"ws_url":      "ws://127.0.0.1:1909" + string(rune('0'+i)),
			"instance_id": id,
		})
		os.WriteFile(filepath.Join(instDir, id+".json"), payload, 0o644)
	}
	env := fakeEnv{"UE_MCP_PROJECT_ROOT": dir}
	// place the instances directly under dir/Saved/UnrealMCP/instances as the resolver expects
	saved := filepath.Join(dir, "Saved", "UnrealMCP", "instances")
	os.MkdirAll(saved, 0o755)
	for i, id := range []string{"a", "b"} {
		payload, _ := json.Marshal(map[string]any{
			"ws_url":      "ws://127.0.0.1:1909" + string(rune('0'+i)),
			"instance_id": id,
		})
		os.WriteFile(filepath.Join(saved, id+".json"), payload, 0o644)
	}
	r := New(env, "ws://configured:1", "", "")
	_, err := r.Resolve(Selector{})
	if err == nil {
		t.Fatal("expected ambiguity error")
	}
}

func TestResolveConnectionFileConfigOverride(t *testing.T) {
	dir := t.TempDir()
	connFile := filepath.Join(dir, "connection.json")
	payload, _ := json.Marshal(map[string]any{"ws_url": "ws://127.0.0.1:19092"})
	if err := os.WriteFile(connFile, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(fakeEnv{}, "ws://configured:1", connFile, "")
	c, err := r.Resolve(Selector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.WsURL != "ws://127.0.0.1:19092" || c.Source != SourceConnectionFile {
		t.Fatalf("got %+v, want config-supplied connection file to be used", c)
	}
}

func TestResolveConnectionFileEnvTakesPriorityOverConfig(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "env-connection.json")
	cfgFile := filepath.Join(dir, "cfg-connection.json")
	os.WriteFile(envFile, mustJSON(map[string]any{"ws_url": "ws://127.0.0.1:19093"}), 0o644)
	os.WriteFile(cfgFile, mustJSON(map[string]any{"ws_url": "ws://127.0.0.1:19094"}), 0o644)

	env := fakeEnv{"UE_MCP_CONNECTION_FILE": envFile}
	r := New(env, "ws://configured:1", cfgFile, "")
	c, err := r.Resolve(Selector{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.WsURL != "ws://127.0.0.1:19093" {
		t.Fatalf("wsURL = %q, want env connection file to win over config", c.WsURL)
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func TestHexToIPv4(t *testing.T) {
	ip, err := hexToIPv4("0102A8C0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ip != "192.168.2.1" {
		t.Fatalf("ip = %q, want 192.168.2.1", ip)
	}
}

func TestNormalizeWindowsPath(t *testing.T) {
	got := normalizeWindowsPath(`C:\Users\dev\project`)
	want := "/mnt/c/Users/dev/project"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
