package installer

import (
	"fmt"
	"strings"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
)

// Route is one network path for fetching git-hosted dependencies during an
// npm install: a label for diagnostics plus the git env rewrites that force
// it.
type Route struct {
	Label string
	Env   []string
}

// gitMirrors are tried in order after the direct route fails with a git
// transport/auth signature.
var gitMirrors = []string{
	"https://gitclone.com/github.com/",
	"https://gh.llkk.cc/https://github.com/",
}

// gitErrorMarkers and transportAuthMarkers make up the git-fetch failure
// signature. Both tables are data, not control flow: extend them as the
// npm/git error surface changes across versions.
var gitErrorMarkers = []string{
	"npm error code 128",
	"unknown git error",
	"ls-remote",
	"git --no-replace-objects",
}

var transportAuthMarkers = []string{
	"failed to connect",
	"could not connect to server",
	"timed out",
	"connection reset",
	"recv failure",
	"permission denied (publickey)",
	"could not read from remote repository",
	"unable to access",
}

var gitHostMarkers = []string{
	"github.com",
	"libsignal-node",
}

// npmInstallRoutes builds the ordered attempt list: direct first, then each
// mirror.
func npmInstallRoutes(baseEnv []string) []Route {
	routes := []Route{{Label: "direct-github", Env: gitRouteEnv(baseEnv, "")}}
	for _, mirror := range gitMirrors {
		routes = append(routes, Route{
			Label: "mirror:" + mirror,
			Env:   gitRouteEnv(baseEnv, mirror),
		})
	}
	return routes
}

// gitRouteEnv builds GIT_CONFIG_* rewrites forcing git+ssh dependencies
// onto HTTPS and, when a mirror is given, redirecting GitHub through it.
func gitRouteEnv(base []string, mirror string) []string {
	out := append([]string{}, base...)
	out = append(out, "GIT_TERMINAL_PROMPT=0")

	type kv struct{ key, value string }
	configs := []kv{
		{"url.https://github.com/.insteadof", "ssh://git@github.com/"},
		{"url.https://github.com/.insteadof", "git@github.com:"},
		{"http.version", "HTTP/1.1"},
	}
	if m := strings.TrimSpace(mirror); m != "" {
		if !strings.HasSuffix(m, "/") {
			m += "/"
		}
		configs = append(configs,
			kv{fmt.Sprintf("url.%s.insteadof", m), "https://github.com/"},
			kv{fmt.Sprintf("url.%s.insteadof", m), "ssh://git@github.com/"},
			kv{fmt.Sprintf("url.%s.insteadof", m), "git@github.com:"},
		)
	}

	out = append(out, fmt.Sprintf("GIT_CONFIG_COUNT=%d", len(configs)))
	for idx, cfg := range configs {
		out = append(out,
			fmt.Sprintf("GIT_CONFIG_KEY_%d=%s", idx, cfg.key),
			fmt.Sprintf("GIT_CONFIG_VALUE_%d=%s", idx, cfg.value),
		)
	}
	return out
}

// isGitFetchFailure matches the npm exit-128 / git ls-remote failure
// signature that warrants retrying through a mirror route.
func isGitFetchFailure(out cmdrunner.Output) bool {
	text := strings.ToLower(out.Stdout + "\n" + out.Stderr)
	if !containsAny(text, gitErrorMarkers) {
		return false
	}
	return containsAny(text, transportAuthMarkers) || containsAny(text, gitHostMarkers)
}

func containsAny(text string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
