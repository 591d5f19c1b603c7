package ytdlp

import (
	"path/filepath"
	"sort"
)

const defaultOutputTemplate = "%(title)s.%(ext)s"

// Options describe a single fetch invocation.
type Options struct {
	URL         string
	Format      string
	PreferAudio bool
	Headers     map[string]string
	Proxy       string

	// CookieFile is a path to a cookie file prepared by the caller.
	CookieFile string

	// OutputDir is the per-job scratch directory the tool writes into.
	OutputDir string

	// FilenameHint, when set, replaces the title-based output template.
	FilenameHint string
}

// Args maps the options onto a yt-dlp argument vector. Header flags are
// emitted in sorted key order so invocations are reproducible.
func (o Options) Args() []string {
	args := []string{
		"--no-warnings",
		"--newline",
		"--progress",
		"--retries", "5",
		"--continue",
		"--concurrent-fragments", "3",
	}

	tmpl := defaultOutputTemplate
	if o.FilenameHint != "" {
		tmpl = o.FilenameHint
	}
	args = append(args, "-o", filepath.Join(o.OutputDir, tmpl))

	format := o.Format
	if format == "" && o.PreferAudio {
		format = "bestaudio/best"
	}
	if format != "" {
		args = append(args, "-f", format)
	}
	if o.PreferAudio {
		args = append(args, "--extract-audio")
	}

	if len(o.Headers) > 0 {
		keys := make([]string, 0, len(o.Headers))
		for k := range o.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, "--add-header", k+":"+o.Headers[k])
		}
	}

	if o.Proxy != "" {
		args = append(args, "--proxy", o.Proxy)
	}

	if o.CookieFile != "" {
		args = append(args, "--cookies", o.CookieFile)
	}

	return append(args, o.URL)
}
