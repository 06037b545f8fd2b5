package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dd0wney/cluso-dagvc/pkg/archive"
	"github.com/dd0wney/cluso-dagvc/pkg/encryption"
	"github.com/dd0wney/cluso-dagvc/pkg/graph"
	"github.com/dd0wney/cluso-dagvc/pkg/versionstore"
)

func topology(version string, extra ...graph.Node) *graph.Snapshot {
	nodes := append([]graph.Node{
		{ID: "gw", Kind: graph.KindGateway, Role: "ingress", Status: graph.StatusActive},
		{ID: "planner", Kind: graph.KindAgent, Role: "planner", Status: graph.StatusActive, Dependencies: []string{"gw"}},
	}, extra...)
	return graph.NewSnapshot("topo", version, nodes,
		[]graph.Edge{{ID: "e1", Source: "gw", Target: "planner", Kind: graph.EdgeControl}})
}

// history commits two versions one second apart so List orders them
// deterministically.
func history(t *testing.T) *versionstore.Store {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := versionstore.New(versionstore.WithClock(func() time.Time { return now }))
	if _, _, err := s.Commit(topology("1")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Second)
	critic := graph.Node{ID: "critic", Kind: graph.KindAgent, Role: "critic", Status: graph.StatusActive, Dependencies: []string{"planner"}}
	if _, _, err := s.Commit(topology("2", critic)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateBundle([]graph.AgentStatus{{ID: "planner", Status: graph.StatusActive}}); err != nil {
		t.Fatal(err)
	}
	return s
}

func press(m model, k string) model {
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, _ := m.Update(msg)
	return next.(model)
}

func TestVersionsListedNewestFirst(t *testing.T) {
	m := newModel(history(t))
	if len(m.versions) != 2 || m.versions[0].Version != "2" {
		t.Fatalf("versions = %+v", m.versions)
	}
	out := m.View()
	if !strings.Contains(out, "2 versions") {
		t.Errorf("view missing version count:\n%s", out)
	}
}

func TestOpenShowsStartOrder(t *testing.T) {
	m := press(newModel(history(t)), "enter")
	if m.current != detailView || m.selected == nil || m.selected.Version != "2" {
		t.Fatalf("current = %v selected = %+v", m.current, m.selected)
	}
	rows := m.nodeTable.Rows()
	var ids []string
	for _, r := range rows {
		ids = append(ids, r[0])
	}
	if strings.Join(ids, ",") != "gw,planner,critic" {
		t.Errorf("node order = %v", ids)
	}
	if !strings.Contains(m.View(), "Nodes in start order") {
		t.Error("detail view not rendered")
	}

	m = press(m, "esc")
	if m.current != versionsView {
		t.Errorf("esc left view %v", m.current)
	}
}

func TestDiffPrevious(t *testing.T) {
	m := press(newModel(history(t)), "d")
	if m.current != diffView || m.diff == nil {
		t.Fatalf("current = %v diff = %v", m.current, m.diff)
	}
	if st := m.diff.Stats(); st.Added != 1 || st.Removed != 0 {
		t.Errorf("stats = %+v", st)
	}
	if !strings.Contains(m.View(), "add node critic") {
		t.Errorf("diff view:\n%s", m.View())
	}

	// the oldest version has no predecessor
	m = press(press(m, "esc"), "down")
	m = press(m, "d")
	if m.current != versionsView || m.message == "" {
		t.Errorf("diff of oldest: view %v message %q", m.current, m.message)
	}
}

func TestTabCyclesViews(t *testing.T) {
	m := newModel(history(t))
	for want := detailView; want < viewCount; want++ {
		m = press(m, "tab")
		if m.current != want {
			t.Fatalf("tab -> %v, want %v", m.current, want)
		}
	}
	if !strings.Contains(m.View(), "Recovery bundles") || len(m.bundleTable.Rows()) != 1 {
		t.Errorf("bundles view:\n%s", m.View())
	}
	m = press(m, "tab")
	if m.current != versionsView {
		t.Errorf("tab did not wrap: %v", m.current)
	}
}

func TestQuit(t *testing.T) {
	_, cmd := newModel(versionstore.New()).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	backend, err := archive.NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := archive.New(backend).Persist(context.Background(), history(t)); err != nil {
		t.Fatal(err)
	}

	store, err := load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if store.Len() != 2 || len(store.ListBundles()) != 1 {
		t.Errorf("loaded %d versions, %d bundles", store.Len(), len(store.ListBundles()))
	}

	empty, err := load(t.TempDir(), nil)
	if err != nil || empty.Len() != 0 {
		t.Errorf("empty archive: %v", err)
	}
}

func TestLoad_Sealed(t *testing.T) {
	dir := t.TempDir()
	backend, err := archive.NewFileBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	ring := encryption.NewKeyring()
	if err := ring.Add(1, key); err != nil {
		t.Fatal(err)
	}
	sealed := archive.New(archive.NewEncryptedBackend(backend, ring))
	if err := sealed.Persist(context.Background(), history(t)); err != nil {
		t.Fatal(err)
	}

	store, err := load(dir, ring)
	if err != nil || store.Len() != 2 {
		t.Fatalf("sealed load: %v", err)
	}
	if _, err := load(dir, nil); err == nil {
		t.Error("sealed archive loaded without keys")
	}
}
