package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeFFprobe writes a tiny shell script that stands in for ffprobe so
// these tests never depend on the real binary being installed.
func fakeFFprobe(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake ffprobe: %v", err)
	}
	return path
}

func TestProbeParsesFormatTags(t *testing.T) {
	bin := fakeFFprobe(t, `cat <<'EOF'
{"format":{"tags":{"artist":"The Beatles","title":"Help!"}},"streams":[]}
EOF
`)

	tags := Probe(context.Background(), bin, "/m/a.mp3", time.Second)
	if tags.Artist != "The Beatles" || tags.Title != "Help!" {
		t.Errorf("Probe() = %+v, want artist=The Beatles title=Help!", tags)
	}
}

func TestProbeFallsBackToStreamTags(t *testing.T) {
	bin := fakeFFprobe(t, `cat <<'EOF'
{"format":{"tags":{}},"streams":[{"tags":{"ARTIST":"Radiohead","TITLE":"Airbag"}}]}
EOF
`)

	tags := Probe(context.Background(), bin, "/m/a.flac", time.Second)
	if tags.Artist != "Radiohead" || tags.Title != "Airbag" {
		t.Errorf("Probe() = %+v, want artist=Radiohead title=Airbag", tags)
	}
}

func TestProbeReturnsZeroOnNonZeroExit(t *testing.T) {
	bin := fakeFFprobe(t, `exit 1`)

	tags := Probe(context.Background(), bin, "/m/broken.mp3", time.Second)
	if tags != (Tags{}) {
		t.Errorf("Probe() = %+v, want zero Tags on failure", tags)
	}
}

func TestProbeReturnsZeroOnGarbageOutput(t *testing.T) {
	bin := fakeFFprobe(t, `echo "not json"`)

	tags := Probe(context.Background(), bin, "/m/garbage.mp3", time.Second)
	if tags != (Tags{}) {
		t.Errorf("Probe() = %+v, want zero Tags on unparseable output", tags)
	}
}

func TestProbeTimesOutAndKillsChild(t *testing.T) {
	bin := fakeFFprobe(t, `sleep 5`)

	start := time.Now()
	tags := Probe(context.Background(), bin, "/m/slow.mp3", 100*time.Millisecond)
	elapsed := time.Since(start)

	if tags != (Tags{}) {
		t.Errorf("Probe() = %+v, want zero Tags on timeout", tags)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Probe() took %v, want well under the 5s sleep (timeout should cut it short)", elapsed)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	tags := Probe(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"), "/m/a.mp3", time.Second)
	if tags != (Tags{}) {
		t.Errorf("Probe() = %+v, want zero Tags when binary is missing", tags)
	}
}
