package installer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawdesk/clawdesk/internal/cmdrunner"
)

func TestNpmInstallRoutesOrder(t *testing.T) {
	routes := npmInstallRoutes(nil)
	require.Len(t, routes, 3)
	assert.Equal(t, "direct-github", routes[0].Label)
	assert.Contains(t, routes[1].Label, "gitclone.com")
	assert.Contains(t, routes[2].Label, "gh.llkk.cc")
}

func TestGitRouteEnvDirect(t *testing.T) {
	env := gitRouteEnv([]string{"NPM_CONFIG_LOGLEVEL=error"}, "")

	assert.Contains(t, env, "NPM_CONFIG_LOGLEVEL=error")
	assert.Contains(t, env, "GIT_TERMINAL_PROMPT=0")
	assert.Contains(t, env, "GIT_CONFIG_COUNT=3")
	assert.Contains(t, env, "GIT_CONFIG_KEY_0=url.https://github.com/.insteadof")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_0=ssh://git@github.com/")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_1=git@github.com:")
	assert.Contains(t, env, "GIT_CONFIG_KEY_2=http.version")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_2=HTTP/1.1")
}

func TestGitRouteEnvMirror(t *testing.T) {
	env := gitRouteEnv(nil, "https://gitclone.com/github.com")

	assert.Contains(t, env, "GIT_CONFIG_COUNT=6")
	// the mirror rewrite captures plain GitHub URLs too
	assert.Contains(t, env, "GIT_CONFIG_KEY_3=url.https://gitclone.com/github.com/.insteadof")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_3=https://github.com/")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_4=ssh://git@github.com/")
	assert.Contains(t, env, "GIT_CONFIG_VALUE_5=git@github.com:")
}

func TestIsGitFetchFailure(t *testing.T) {
	cases := []struct {
		name   string
		output cmdrunner.Output
		want   bool
	}{
		{
			name: "npm 128 with github host",
			output: cmdrunner.Output{Stderr: strings.Join([]string{
				"npm error code 128",
				"npm error An unknown git error occurred",
				"npm error command git ls-remote ssh://git@github.com/signalapp/libsignal-node.git",
			}, "\n")},
			want: true,
		},
		{
			name:   "transport failure",
			output: cmdrunner.Output{Stderr: "unknown git error: failed to connect to github.com port 443: Timed out"},
			want:   true,
		},
		{
			name:   "publickey auth failure",
			output: cmdrunner.Output{Stderr: "git --no-replace-objects ls-remote\nPermission denied (publickey)."},
			want:   true,
		},
		{
			name:   "ordinary npm failure",
			output: cmdrunner.Output{Stderr: "npm error code E404\nnpm error 404 Not Found"},
			want:   false,
		},
		{
			name:   "git marker without host or transport marker",
			output: cmdrunner.Output{Stderr: "npm error code 128\nfatal: not a git repository"},
			want:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isGitFetchFailure(tc.output))
		})
	}
}
