package ytdlp

import (
	"reflect"
	"strings"
	"testing"
)

func argValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("flag %s not present in %v", flag, args)
	return ""
}

func TestArgsDefaults(t *testing.T) {
	args := Options{URL: "https://example.com/v", OutputDir: "/tmp/job"}.Args()

	if args[len(args)-1] != "https://example.com/v" {
		t.Errorf("url must be the last argument, got %v", args)
	}
	if got := argValue(t, args, "-o"); got != "/tmp/job/%(title)s.%(ext)s" {
		t.Errorf("output template: %q", got)
	}
	for _, flag := range []string{"--newline", "--progress", "--no-warnings", "--continue"} {
		found := false
		for _, a := range args {
			if a == flag {
				found = true
			}
		}
		if !found {
			t.Errorf("missing %s in %v", flag, args)
		}
	}
	for _, a := range args {
		if a == "-f" {
			t.Error("no format flag expected when format is empty")
		}
	}
}

func TestArgsFilenameHint(t *testing.T) {
	args := Options{
		URL:          "https://example.com/v",
		OutputDir:    "/tmp/job",
		FilenameHint: "clip.mp4",
	}.Args()
	if got := argValue(t, args, "-o"); got != "/tmp/job/clip.mp4" {
		t.Errorf("output path: %q", got)
	}
}

func TestArgsPreferAudio(t *testing.T) {
	args := Options{URL: "u", OutputDir: "/tmp", PreferAudio: true}.Args()
	if got := argValue(t, args, "-f"); got != "bestaudio/best" {
		t.Errorf("audio format: %q", got)
	}
	hasExtract := false
	for _, a := range args {
		if a == "--extract-audio" {
			hasExtract = true
		}
	}
	if !hasExtract {
		t.Error("expected --extract-audio")
	}

	// An explicit format wins over the audio default.
	args = Options{URL: "u", OutputDir: "/tmp", PreferAudio: true, Format: "140"}.Args()
	if got := argValue(t, args, "-f"); got != "140" {
		t.Errorf("explicit format: %q", got)
	}
}

func TestArgsCookieFile(t *testing.T) {
	args := Options{
		URL:        "u",
		OutputDir:  "/tmp",
		CookieFile: "/tmp/job/.cookies/cookies.txt",
	}.Args()
	if got := argValue(t, args, "--cookies"); got != "/tmp/job/.cookies/cookies.txt" {
		t.Errorf("cookie file: %q", got)
	}

	for _, a := range (Options{URL: "u", OutputDir: "/tmp"}).Args() {
		if a == "--cookies" {
			t.Error("no cookie flag expected without a cookie file")
		}
	}
}

func TestArgsHeadersSortedAndProxy(t *testing.T) {
	opts := Options{
		URL:       "u",
		OutputDir: "/tmp",
		Headers:   map[string]string{"Referer": "r", "Cookie": "c"},
		Proxy:     "socks5://localhost:9050",
	}

	var headers []string
	args := opts.Args()
	for i, a := range args {
		if a == "--add-header" {
			headers = append(headers, args[i+1])
		}
	}
	if !reflect.DeepEqual(headers, []string{"Cookie:c", "Referer:r"}) {
		t.Errorf("headers not in sorted order: %v", headers)
	}
	if got := argValue(t, args, "--proxy"); got != "socks5://localhost:9050" {
		t.Errorf("proxy: %q", got)
	}

	// Repeated invocations are byte-identical.
	if strings.Join(opts.Args(), " ") != strings.Join(opts.Args(), " ") {
		t.Error("argument vector must be deterministic")
	}
}
