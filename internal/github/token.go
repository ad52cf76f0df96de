package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type TokenSource string

const (
	TokenSourceConfig TokenSource = "config"
	TokenSourceEnv    TokenSource = "env:GITHUB_TOKEN"
	TokenSourceGHEnv  TokenSource = "env:GH_TOKEN"
	TokenSourceGHCLI  TokenSource = "gh"
)

// ghTimeout bounds `gh auth token` so a broken credential helper cannot stall startup.
const ghTimeout = 5 * time.Second

// ResolveToken picks the token used to file incident issues.
//
// Precedence: configured value, GITHUB_TOKEN, GH_TOKEN, then
// `gh auth token -h github.com`. An empty token with a nil error means issue
// creation is disabled. The token is never logged.
func ResolveToken(ctx context.Context, configured string) (string, TokenSource, error) {
	if tok := strings.TrimSpace(configured); tok != "" {
		return tok, TokenSourceConfig, nil
	}
	if tok := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); tok != "" {
		return tok, TokenSourceEnv, nil
	}
	if tok := strings.TrimSpace(os.Getenv("GH_TOKEN")); tok != "" {
		return tok, TokenSourceGHEnv, nil
	}

	tok, err := ghAuthToken(ctx)
	if err != nil || tok == "" {
		return "", "", err
	}
	return tok, TokenSourceGHCLI, nil
}

func ghAuthToken(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}

	cmdCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, ghTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, "gh", "auth", "token", "-h", "github.com")
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GH_PAGER=") {
			env = append(env, kv)
		}
	}
	cmd.Env = append(env, "GH_PAGER=cat")

	out, err := cmd.Output()
	if err != nil {
		if cmdCtx.Err() != nil {
			return "", cmdCtx.Err()
		}
		// Not logged in: no token, not an error. gh's output is dropped.
		return "", nil
	}

	tok := strings.TrimSpace(string(out))
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, nil
}
