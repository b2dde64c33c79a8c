package file

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/google/go-cmp/cmp"
)

func write(t *testing.T, path, body string) {
    t.Helper()
    if err := os.WriteFile(path, []byte(body), 0o644); err != nil { t.Fatal(err) }
}

func TestEnvOverridesFile(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    write(t, f, "a:1\n")
    t.Setenv("TEST_SHARDSTORE_SEEDS", "y:8, x:9")
    got := New(Options{Path: f, Env: "TEST_SHARDSTORE_SEEDS"}).Seeds()
    if diff := cmp.Diff([]string{"x:9", "y:8"}, got); diff != "" { t.Fatalf("(-want +got):\n%s", diff) }
}

func TestFileReadAndRefresh(t *testing.T) {
    f := filepath.Join(t.TempDir(), "seeds.txt")
    write(t, f, "# seeds\na:1\nb:2,a:1\n")
    d := New(Options{Path: f, Refresh: 10 * time.Millisecond})
    if diff := cmp.Diff([]string{"a:1", "b:2"}, d.Seeds()); diff != "" {
        t.Fatalf("initial (-want +got):\n%s", diff)
    }
    write(t, f, "b:2\nc:3\n")
    time.Sleep(15 * time.Millisecond)
    if diff := cmp.Diff([]string{"b:2", "c:3"}, d.Seeds()); diff != "" {
        t.Fatalf("refreshed (-want +got):\n%s", diff)
    }
}

func TestGlobMixesTextAndYAML(t *testing.T) {
    dir := t.TempDir()
    write(t, filepath.Join(dir, "a.seeds"), "a:1\nb:2\n")
    write(t, filepath.Join(dir, "b.yaml"), "seeds:\n  - b:2\n  - c:3\n")
    got := New(Options{Path: filepath.Join(dir, "*")}).Seeds()
    if diff := cmp.Diff([]string{"a:1", "b:2", "c:3"}, got); diff != "" {
        t.Fatalf("(-want +got):\n%s", diff)
    }
}
