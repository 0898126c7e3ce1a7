package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"lsgateway/internal/server"
)

var appVersion = "dev"

func main() {
	var (
		showVersion bool
		logLevel    string

		downstreamCommand string
		downstreamArgs    string
		npmCommand        string
		tempRootDir       string

		typescriptLibRoot string
		typescriptVersion string
	)

	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&logLevel, "log-level", "warning", "log level: debug, info, warning, error")
	flag.StringVar(&downstreamCommand, "downstream-command", "typescript-language-server", "downstream language service executable")
	flag.StringVar(&downstreamArgs, "downstream-args", "--stdio", "comma-separated arguments passed to the downstream executable")
	flag.StringVar(&npmCommand, "npm-command", "npm", "dependency installer executable")
	flag.StringVar(&tempRootDir, "temp-root", os.TempDir(), "parent directory under which each session's workspace is materialized")
	flag.StringVar(&typescriptLibRoot, "typescript-lib-root", "", "absolute path prefix of the downstream's bundled lib.*.d.ts files")
	flag.StringVar(&typescriptVersion, "typescript-version", "5.6.3", "pinned TypeScript compiler version used for lib.*.d.ts external links")
	flag.Parse()

	if showVersion {
		fmt.Printf("lsgateway %s\n", appVersion)
		os.Exit(0)
	}

	opts := server.Options{
		LogLevel:          logLevel,
		DownstreamCommand: downstreamCommand,
		DownstreamArgs:    splitNonEmpty(downstreamArgs, ","),
		NpmCommand:        npmCommand,
		TempRootDir:       tempRootDir,
		AppVersion:        appVersion,
		TypeScriptLibRoot: typescriptLibRoot,
		TypeScriptVersion: typescriptVersion,
	}

	if err := server.Run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "lsgateway: %v\n", err)
		os.Exit(1)
	}
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
