package singlefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

func touchFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestStart_RequiresAtLeastOnePath(t *testing.T) {
	b := New()
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail with no configured paths")
	}
}

func TestStart_RejectsMissingFile(t *testing.T) {
	b := New()
	_ = b.Configure("rib-file", "/nonexistent/path.mrt")
	if err := b.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail for a nonexistent file")
	}
}

func TestPoll_ReturnsConfiguredFilesOnceThenEmpty(t *testing.T) {
	dir := t.TempDir()
	ribPath := touchFile(t, dir, "rib.mrt")
	updPath := touchFile(t, dir, "upd.mrt")

	b := New()
	_ = b.Configure("rib-file", ribPath)
	_ = b.Configure("upd-file", updPath)
	_ = b.Configure("collector", "rrc00")
	_ = b.Configure("project", "test-project")
	if err := b.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	descs, status, err := b.Poll(context.Background(), nil, datainterface.Window{From: 0, To: 1 << 31})
	if err != nil {
		t.Fatal(err)
	}
	if status != datainterface.StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descs))
	}
	for _, d := range descs {
		if d.Collector != "rrc00" || d.Project != "test-project" {
			t.Errorf("unexpected collector/project: %+v", d)
		}
	}

	var sawRIB, sawUpdates bool
	for _, d := range descs {
		if d.Type == inputdesc.TypeRIB {
			sawRIB = true
		}
		if d.Type == inputdesc.TypeUpdates {
			sawUpdates = true
		}
	}
	if !sawRIB || !sawUpdates {
		t.Fatalf("expected one RIB and one UPDATES descriptor, got %+v", descs)
	}

	descs2, status2, err := b.Poll(context.Background(), nil, datainterface.Window{From: 0, To: 1 << 31})
	if err != nil {
		t.Fatal(err)
	}
	if status2 != datainterface.StatusEmpty {
		t.Fatalf("expected StatusEmpty on the second poll, got %v", status2)
	}
	if descs2 != nil {
		t.Fatalf("expected nil descriptors on the second poll, got %+v", descs2)
	}
}

func TestConfigure_RejectsUnknownOption(t *testing.T) {
	b := New()
	if err := b.Configure("bogus", "value"); err == nil {
		t.Fatal("expected error for an unknown option")
	}
}
