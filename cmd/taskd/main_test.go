package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskkit.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Stdio(t *testing.T) {
	path := writeConfig(t, `
[store]
backend = "memory"

[log]
level = "debug"
`)
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tasks.create","params":{"title":"Buy milk","priority":2}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tasks.count","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tasks.complete","params":{"id":"9"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tasks.nope","params":{}}`,
	}, "\n") + "\n"

	var stdout, stderr bytes.Buffer
	code := run([]string{"--config", path}, strings.NewReader(in), &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}

	byID := map[int]rpcResponse{}
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		var r rpcResponse
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		byID[r.ID] = r
	}
	if len(byID) != 4 {
		t.Fatalf("got %d responses, want 4:\n%s", len(byID), stdout.String())
	}

	if got := string(byID[1].Result); got != `{"id":"1"}` {
		t.Errorf("create result = %s", got)
	}
	if got := string(byID[2].Result); got != `{"count":1}` {
		t.Errorf("count result = %s", got)
	}
	if byID[3].Error == nil || byID[3].Error.Code != -32004 {
		t.Errorf("complete missing = %+v", byID[3].Error)
	}
	if byID[4].Error == nil || byID[4].Error.Code != -32601 {
		t.Errorf("unknown method = %+v", byID[4].Error)
	}

	if !strings.Contains(stderr.String(), "serving") {
		t.Errorf("expected serving log on stderr:\n%s", stderr.String())
	}
}

func TestRun_StdioRequiresTokenWhenConfigured(t *testing.T) {
	path := writeConfig(t, `
[auth]
tokens = { "s3cret" = "alice" }
`)
	in := `{"jsonrpc":"2.0","id":1,"method":"tasks.count","params":{}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tasks.count","params":{"token":"s3cret"}}` + "\n"

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--config", path}, strings.NewReader(in), &stdout, &stderr); code != exitOK {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}

	byID := map[int]rpcResponse{}
	for _, line := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		var r rpcResponse
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		byID[r.ID] = r
	}
	if byID[1].Error == nil || byID[1].Error.Code != -32001 {
		t.Errorf("anonymous call = %+v", byID[1])
	}
	if byID[2].Error != nil {
		t.Errorf("authorized call failed: %+v", byID[2].Error)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	path := writeConfig(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "none.toml")}},
		{"bad transport", []string{"--config", path, "--transport", "carrier-pigeon"}},
		{"websocket without auth", []string{"--config", path, "--transport", "websocket"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, strings.NewReader(""), &stdout, &stderr); code != exitUsage {
				t.Errorf("exit = %d, want %d; stderr:\n%s", code, exitUsage, stderr.String())
			}
		})
	}
}
