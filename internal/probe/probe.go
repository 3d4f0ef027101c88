// Package probe extracts artist/title tags from one audio file by shelling
// out to ffprobe, grounded on the same invocation shape the pack's ffprobe
// integration uses (JSON output via -show_format), but held to the harder
// contract this service needs: the probe must never return an error, only
// possibly-empty strings, and it must guarantee the child and any of its
// descendants are dead before it returns.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/liquidsoap-community/autodj/internal/errs"
	"golang.org/x/sys/unix"
)

const killGrace = 100 * time.Millisecond

// Tags is the result of probing one file. Either field may be empty if the
// file carries no tag, the probe timed out, or its output didn't parse.
type Tags struct {
	Artist string
	Title  string
}

type ffprobeOutput struct {
	Format struct {
		Tags map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		Tags map[string]string `json:"tags"`
	} `json:"streams"`
}

// Probe runs the named binary (typically "ffprobe") against path with a
// hard wall-clock timeout. It never returns an error: on timeout, non-zero
// exit, or unparseable output it returns a zero Tags, matching the tag
// probe's "never raise" contract.
//
// The child is placed in its own process group so a timeout can kill it and
// every descendant it spawned: SIGTERM first, then SIGKILL after a grace
// period, both sent to the whole group rather than just the direct child.
func Probe(ctx context.Context, binary, path string, timeout time.Duration) Tags {
	cmd := exec.Command(binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		slog.Debug(string(errs.OpProbe), "path", path, "error", errs.Wrap(errs.OpProbe, err))
		return Tags{}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			slog.Debug(string(errs.OpProbe), "path", path, "error", errs.Wrap(errs.OpProbe, errs.ErrProbeFailure))
			return Tags{}
		}
	case <-time.After(timeout):
		killGroup(cmd.Process.Pid, done)
		slog.Debug(string(errs.OpProbe), "path", path, "error", errs.Wrap(errs.OpProbe, errs.ErrProbeFailure), "reason", "timeout")
		return Tags{}
	case <-ctx.Done():
		killGroup(cmd.Process.Pid, done)
		slog.Debug(string(errs.OpProbe), "path", path, "error", errs.Wrap(errs.OpProbe, errs.ErrProbeFailure), "reason", "context canceled")
		return Tags{}
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		slog.Debug(string(errs.OpProbe), "path", path, "error", errs.Wrap(errs.OpProbe, errs.ErrProbeFailure))
		return Tags{}
	}

	artist, title := extractTags(parsed)
	return Tags{Artist: artist, Title: title}
}

// killGroup sends SIGTERM to the process group rooted at pgid, waits up to
// killGrace for the child to exit, and escalates to SIGKILL on the group if
// it hasn't.
func killGroup(pgid int, done <-chan error) {
	_ = unix.Kill(-pgid, unix.SIGTERM)

	select {
	case <-done:
		return
	case <-time.After(killGrace):
	}

	_ = unix.Kill(-pgid, unix.SIGKILL)
	<-done
}

// extractTags reads artist/title from the container-level tag map first,
// falling back to the first stream's tags (common for formats that store
// metadata on the audio stream rather than the format box, e.g. some FLAC
// files).
func extractTags(out ffprobeOutput) (artist, title string) {
	artist = lookupTag(out.Format.Tags, "artist")
	title = lookupTag(out.Format.Tags, "title")

	if artist == "" || title == "" {
		for _, s := range out.Streams {
			if artist == "" {
				artist = lookupTag(s.Tags, "artist")
			}
			if title == "" {
				title = lookupTag(s.Tags, "title")
			}
		}
	}
	return artist, title
}

// lookupTag is case-insensitive: ffprobe's tag keys vary by container
// (e.g. "ARTIST" in Vorbis comments vs "artist" in ID3 via ffmpeg).
func lookupTag(tags map[string]string, key string) string {
	for k, v := range tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
