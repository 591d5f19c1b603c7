package ytdlp

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

var progressRe = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%\s+of\s+~?\s*(\S+)\s+at\s+(\S+)`)

// Stage names reported alongside progress.
const (
	StageDownloading    = "downloading"
	StageMerging        = "merging"
	StagePostprocessing = "postprocessing"
)

// ToolError carries the last ERROR: line the tool printed before exiting
// non-zero.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string { return e.Message }

// Run executes the fetch tool and streams progress through onProgress.
// Cancellation and deadlines propagate through ctx; Run returns ctx.Err()
// when the context killed the process.
func Run(ctx context.Context, binary string, opts Options, onProgress func(percent float64, stage string)) error {
	cmd := exec.CommandContext(ctx, binary, opts.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}

	var lastError string
	stage := StageDownloading
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		log.Trace().Str("ytdlp", line).Msg("tool output")

		if pct, ok := parseProgress(line); ok {
			onProgress(pct, stage)
		}
		if s, ok := parseStage(line); ok && s != stage {
			stage = s
			onProgress(-1, stage)
		}
		if strings.HasPrefix(line, "ERROR:") {
			lastError = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastError != "" {
			return &ToolError{Message: lastError}
		}
		return &ToolError{Message: fmt.Sprintf("exit: %v", err)}
	}
	return nil
}

func parseProgress(line string) (float64, bool) {
	matches := progressRe.FindStringSubmatch(line)
	if len(matches) < 4 {
		return 0, false
	}
	pct, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

func parseStage(line string) (string, bool) {
	switch {
	case strings.Contains(line, "[Merger]") || strings.Contains(line, "Merging"):
		return StageMerging, true
	case strings.Contains(line, "[ExtractAudio]") || strings.Contains(line, "Post-process"):
		return StagePostprocessing, true
	}
	return "", false
}

// FindArtifact picks the final output file from the scratch directory:
// the largest regular file that is not an in-progress fragment.
func FindArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("scan output dir: %w", err)
	}

	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") ||
			strings.HasSuffix(name, ".temp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, name)
			bestSize = info.Size()
		}
	}

	if best == "" {
		return "", fmt.Errorf("no output file produced")
	}
	return best, nil
}
