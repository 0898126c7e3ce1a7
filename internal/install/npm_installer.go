package install

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// NpmInstaller is the default Installer: it shells out to npm with an
// isolated cache/global prefix per manifest, so concurrent sessions never
// share npm's mutable global state.
type NpmInstaller struct {
	Command string // defaults to "npm"
}

// NewNpmInstaller builds an NpmInstaller invoking command (or "npm" if empty).
func NewNpmInstaller(command string) *NpmInstaller {
	if command == "" {
		command = "npm"
	}
	return &NpmInstaller{Command: command}
}

// Install runs "npm install" for deps inside manifestDir, with cacheDir
// as npm's download cache and globalDir as its global prefix, both
// isolated per manifest. npmrc, if non-empty, is written to
// cacheDir/.npmrc and passed as --userconfig.
func (n *NpmInstaller) Install(ctx context.Context, manifestDir string, deps map[string]string, globalDir, cacheDir, npmrc string) error {
	args := []string{"install", "--no-save", "--no-audit", "--no-fund", "--ignore-scripts", "--cache", cacheDir}

	if npmrc != "" {
		npmrcPath := filepath.Join(cacheDir, ".npmrc")
		if err := os.WriteFile(npmrcPath, []byte(npmrc), 0o600); err != nil {
			return errors.Wrap(err, "writing isolated npmrc")
		}
		args = append(args, "--userconfig", npmrcPath)
	}

	for name, version := range deps {
		args = append(args, fmt.Sprintf("%s@%s", name, version))
	}

	cmd := exec.CommandContext(ctx, n.Command, args...)
	cmd.Dir = manifestDir
	cmd.Env = append(os.Environ(), "NPM_CONFIG_PREFIX="+globalDir)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "npm install failed: %s", out)
	}
	return nil
}
