package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dd0wney/cluso-dagvc/pkg/auth"
	"github.com/dd0wney/cluso-dagvc/pkg/codec"
	"github.com/dd0wney/cluso-dagvc/pkg/diff"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
)

func topology(version string, extra ...graph.Node) *graph.Snapshot {
	nodes := append([]graph.Node{
		{ID: "gw", Kind: graph.KindGateway, Role: "ingress", Status: graph.StatusActive},
		{ID: "planner", Kind: graph.KindAgent, Role: "planner", Status: graph.StatusActive, Dependencies: []string{"gw"}},
	}, extra...)
	return graph.NewSnapshot("topo", version, nodes,
		[]graph.Edge{{ID: "e1", Source: "gw", Target: "planner", Kind: graph.EdgeControl}})
}

func writeFile(t *testing.T, name string, v any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := codec.WriteFile(path, v); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsage(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, exitUsage},
		{[]string{"help"}, exitUsage},
		{[]string{"frobnicate"}, exitUsage},
		{[]string{"hash"}, exitUsage},
		{[]string{"diff", "only-one"}, exitUsage},
		{[]string{"hash", "-alg", "md5", "x.json"}, exitUsage},
	}
	for _, tt := range tests {
		if code, _, _ := runCLI(tt.args...); code != tt.want {
			t.Errorf("run(%v) = %d, want %d", tt.args, code, tt.want)
		}
	}
}

func TestHash_FormatIndependent(t *testing.T) {
	jsonPath := writeFile(t, "s.json", topology("1"))
	yamlPath := writeFile(t, "s.yaml", topology("1"))

	code, a, stderr := runCLI("hash", jsonPath)
	if code != exitOK {
		t.Fatalf("hash json: %d %s", code, stderr)
	}
	_, b, _ := runCLI("hash", yamlPath)
	if a != b || !strings.HasPrefix(a, "sha256:") {
		t.Errorf("json hash %q, yaml hash %q", a, b)
	}

	_, c, _ := runCLI("hash", "-alg", "blake2b-256", jsonPath)
	if !strings.HasPrefix(c, "blake2b-256:") {
		t.Errorf("blake2b hash = %q", c)
	}
}

func TestValidate(t *testing.T) {
	cyclic := topology("1")
	cyclic.Nodes[0].Dependencies = []string{"planner"}
	errored := topology("1")
	errored.Nodes[1].Status = graph.StatusError

	tests := []struct {
		name string
		snap *graph.Snapshot
		args []string
		want int
		out  string
	}{
		{"valid", topology("1"), nil, exitOK, "ok:"},
		{"cycle", cyclic, nil, exitInvalid, "cycle_detected"},
		{"rule", errored, []string{"-rules", "forbid_error_nodes"}, exitInvalid, "rule_violation"},
		{"json", topology("1"), []string{"-json"}, exitOK, `"ok": true`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "s.json", tt.snap)
			args := append(append([]string{"validate"}, tt.args...), path)
			code, out, stderr := runCLI(args...)
			if code != tt.want {
				t.Errorf("code = %d, want %d (%s)", code, tt.want, stderr)
			}
			if !strings.Contains(out, tt.out) {
				t.Errorf("output %q does not contain %q", out, tt.out)
			}
		})
	}

	if code, _, _ := runCLI("validate", "-rules", "no_such_rule", writeFile(t, "s.json", topology("1"))); code != exitUsage {
		t.Errorf("unknown rule code = %d", code)
	}
}

func TestDiffThenApply(t *testing.T) {
	critic := graph.Node{ID: "critic", Kind: graph.KindAgent, Role: "critic", Status: graph.StatusActive}
	oldPath := writeFile(t, "old.json", topology("1"))
	newPath := writeFile(t, "new.yaml", topology("2", critic))
	diffPath := filepath.Join(t.TempDir(), "d.json")

	code, _, stderr := runCLI("diff", "-o", diffPath, oldPath, newPath)
	if code != exitOK {
		t.Fatalf("diff: %d %s", code, stderr)
	}
	d, err := codec.ReadDiffFile(diffPath)
	if err != nil {
		t.Fatal(err)
	}
	if st := d.Stats(); st != (diff.Stats{Added: 1}) {
		t.Errorf("stats = %+v", st)
	}

	_, stat, _ := runCLI("diff", "-stat", oldPath, newPath)
	if strings.TrimSpace(stat) != "1 added, 0 modified, 0 removed" {
		t.Errorf("stat = %q", stat)
	}

	outPath := filepath.Join(t.TempDir(), "applied.json")
	if code, _, stderr := runCLI("apply", "-o", outPath, oldPath, diffPath); code != exitOK {
		t.Fatalf("apply: %d %s", code, stderr)
	}
	applied, err := codec.ReadSnapshotFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	_, wantHash, _ := runCLI("hash", newPath)
	if applied.IntegrityHash != strings.TrimSpace(wantHash) {
		t.Errorf("applied hash %s, want %s", applied.IntegrityHash, wantHash)
	}

	// applying twice conflicts on the duplicate add
	if code, _, stderr := runCLI("apply", outPath, diffPath); code != exitInvalid || !strings.Contains(stderr, "duplicate") {
		t.Errorf("re-apply: %d %s", code, stderr)
	}
}

func TestOrderAndCycles(t *testing.T) {
	path := writeFile(t, "s.json", topology("1"))
	code, out, _ := runCLI("order", path)
	if code != exitOK || out != "1. gw\n2. planner\n" {
		t.Errorf("order = %d %q", code, out)
	}
	if code, out, _ := runCLI("cycles", path); code != exitOK || !strings.Contains(out, "no cycles") {
		t.Errorf("cycles = %d %q", code, out)
	}

	cyclic := topology("1")
	cyclic.Nodes[0].Dependencies = []string{"planner"}
	path = writeFile(t, "c.json", cyclic)
	if code, _, _ := runCLI("order", path); code != exitInvalid {
		t.Errorf("cyclic order code = %d", code)
	}
	code, out, _ = runCLI("cycles", path)
	if code != exitInvalid || !strings.Contains(out, "1 cycles") || !strings.Contains(out, " -> ") {
		t.Errorf("cycles = %d %q", code, out)
	}
	if !strings.Contains(out, "1 cyclic components") || !strings.Contains(out, "{gw, planner}") {
		t.Errorf("cycles components = %q", out)
	}
}

func TestImpact(t *testing.T) {
	path := writeFile(t, "s.json", topology("1"))

	code, out, _ := runCLI("impact", path, "gw")
	if code != exitOK || out != "1 nodes reachable from gw\n  1: planner\n" {
		t.Errorf("impact = %d %q", code, out)
	}
	code, out, _ = runCLI("impact", "-up", path, "planner")
	if code != exitOK || !strings.Contains(out, "1: gw") {
		t.Errorf("impact -up = %d %q", code, out)
	}
	if code, _, _ := runCLI("impact", path, "missing"); code != exitInvalid {
		t.Errorf("unknown node code = %d", code)
	}
	if code, _, _ := runCLI("impact", path); code != exitUsage {
		t.Errorf("missing node code = %d", code)
	}
}

func TestPack(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, "s.yaml", topology("1"))
	packed := filepath.Join(dir, "s"+codec.EnvelopeExt)
	unpacked := filepath.Join(dir, "s.json")

	if code, _, stderr := runCLI("pack", in, packed); code != exitOK {
		t.Fatalf("pack: %d %s", code, stderr)
	}
	data, err := os.ReadFile(packed)
	if err != nil || !codec.IsEnvelope(data) {
		t.Fatalf("packed file is not an envelope: %v", err)
	}
	if code, _, stderr := runCLI("pack", packed, unpacked); code != exitOK {
		t.Fatalf("unpack: %d %s", code, stderr)
	}
	_, h1, _ := runCLI("hash", in)
	_, h2, _ := runCLI("hash", unpacked)
	if h1 != h2 {
		t.Errorf("hash changed through pack/unpack: %s vs %s", h1, h2)
	}

	d := diff.Compute(topology("1"), topology("2"))
	diffIn := writeFile(t, "d.json", d)
	diffPacked := filepath.Join(dir, "d"+codec.EnvelopeExt)
	if code, _, stderr := runCLI("pack", diffIn, diffPacked); code != exitOK {
		t.Fatalf("pack diff: %d %s", code, stderr)
	}
	if _, err := codec.ReadDiffFile(diffPacked); err != nil {
		t.Errorf("packed diff unreadable: %v", err)
	}
}

func TestToken(t *testing.T) {
	secret := strings.Repeat("k", 32)
	code, out, stderr := runCLI("token", "-secret", secret, "-subject", "ops", "-role", auth.RoleEditor)
	if code != exitOK {
		t.Fatalf("token: %d %s", code, stderr)
	}
	m, err := auth.NewJWTManager(secret, 0)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(t.Context(), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.Subject != "ops" || claims.Role != auth.RoleEditor {
		t.Errorf("claims = %+v", claims)
	}

	if code, _, _ := runCLI("token", "-secret", "short", "-subject", "ops"); code != exitUsage {
		t.Errorf("short secret code = %d", code)
	}
	if code, _, _ := runCLI("token", "-secret", secret); code != exitUsage {
		t.Errorf("missing subject code = %d", code)
	}
}
