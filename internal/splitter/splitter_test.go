package splitter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/tunevault/tunevault-go/internal/errors"
	"github.com/tunevault/tunevault-go/internal/timestamps"
)

// ffmpegStub writes its last argument as the output file and logs every
// invocation. It fails when the output name contains "Broken".
const ffmpegStub = `#!/bin/sh
for last; do :; done
echo "$@" >> "$(dirname "$0")/calls.log"
case "$last" in
  *Broken*) echo "Conversion failed" >&2; exit 1 ;;
esac
printf 'audio' > "$last"
`

func setup(t *testing.T) (*Splitter, string, string) {
	t.Helper()
	binDir := t.TempDir()
	ffmpeg := filepath.Join(binDir, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte(ffmpegStub), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	input := filepath.Join(t.TempDir(), "album.mp3")
	if err := os.WriteFile(input, []byte("raw"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return New(Config{FFmpegPath: ffmpeg}, nil), input, binDir
}

func f(v float64) *float64 { return &v }

func TestSplit(t *testing.T) {
	s, input, binDir := setup(t)
	outDir := filepath.Join(t.TempDir(), "tracks")

	spans := []timestamps.Span{
		{Start: 0, End: f(195), Title: "Intro"},
		{Start: 195, End: f(460), Title: "Song/One"},
		{Start: 460, Title: "Song Two"},
	}

	var progress []Progress
	results, err := s.Split(context.Background(), input, spans, outDir, func(p Progress) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	wantNames := []string{"01 - Intro.mp3", "02 - Song_One.mp3", "03 - Song Two.mp3"}
	for i, r := range results {
		if filepath.Base(r.Path) != wantNames[i] {
			t.Errorf("result %d name = %s, want %s", i, filepath.Base(r.Path), wantNames[i])
		}
		if r.TrackNumber != i+1 {
			t.Errorf("result %d track number = %d", i, r.TrackNumber)
		}
		if _, err := os.Stat(r.Path); err != nil {
			t.Errorf("output %s missing: %v", r.Path, err)
		}
	}

	if len(progress) != 3 || progress[2].Percent != 100 || progress[1].Track != "Song/One" {
		t.Errorf("unexpected progress: %+v", progress)
	}

	log, _ := os.ReadFile(filepath.Join(binDir, "calls.log"))
	lines := strings.Split(strings.TrimSpace(string(log)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 ffmpeg calls, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "-ss 195.000") || !strings.Contains(lines[1], "-t 265.000") {
		t.Errorf("second call args = %s", lines[1])
	}
	if strings.Contains(lines[2], "-t ") {
		t.Errorf("open-ended span must not pass -t: %s", lines[2])
	}
	if !strings.Contains(lines[0], "libmp3lame") {
		t.Errorf("expected mp3 codec args: %s", lines[0])
	}
}

func TestSplitFailureNamesSpanAndKeepsEarlierOutputs(t *testing.T) {
	s, input, _ := setup(t)
	outDir := t.TempDir()

	spans := []timestamps.Span{
		{Start: 0, End: f(60), Title: "Good"},
		{Start: 60, End: f(120), Title: "Broken Track"},
		{Start: 120, Title: "Never Reached"},
	}

	results, err := s.Split(context.Background(), input, spans, outDir, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if apperrors.GetErrorType(err) != apperrors.ErrTypeSplit {
		t.Errorf("expected split error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Broken Track") {
		t.Errorf("error %q does not name the failing span", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 completed result, got %d", len(results))
	}
	if _, err := os.Stat(filepath.Join(outDir, "01 - Good.mp3")); err != nil {
		t.Errorf("earlier output should remain on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "03 - Never Reached.mp3")); !os.IsNotExist(err) {
		t.Error("later span should not have been produced")
	}
}

func TestSplitPreconditions(t *testing.T) {
	s, input, _ := setup(t)

	if _, err := s.Split(context.Background(), input, nil, t.TempDir(), nil); err == nil {
		t.Error("expected error for zero spans")
	}

	spans := []timestamps.Span{{Start: 0, Title: "x"}}
	if _, err := s.Split(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), spans, t.TempDir(), nil); err == nil {
		t.Error("expected error for missing input")
	}
}

func TestSplitThreeDigitNumbering(t *testing.T) {
	s, input, _ := setup(t)
	spans := make([]timestamps.Span, 100)
	for i := range spans {
		spans[i] = timestamps.Span{Start: float64(i * 10), Title: "t"}
	}
	results, err := s.Split(context.Background(), input, spans, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if filepath.Base(results[0].Path) != "001 - t.mp3" {
		t.Errorf("first name = %s", filepath.Base(results[0].Path))
	}
}

func TestDurationFromFFprobe(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "ffprobe")
	stub := "#!/bin/sh\necho '{\"format\":{\"duration\":\"2012.345000\"}}'\n"
	if err := os.WriteFile(bin, []byte(stub), 0o755); err != nil {
		t.Fatal(err)
	}
	s := New(Config{FFprobePath: bin}, nil)
	d, err := s.Duration(context.Background(), "whatever.mp3")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 2012.345 {
		t.Errorf("duration = %v", d)
	}
}

func TestCodecArgs(t *testing.T) {
	if got := codecArgs(".wav"); got[0] != "-c" || got[1] != "copy" {
		t.Errorf("codecArgs(.wav) = %v", got)
	}
	if got := codecArgs(".flac"); got[1] != "flac" {
		t.Errorf("codecArgs(.flac) = %v", got)
	}
}
