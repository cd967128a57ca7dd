// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/guardian-io/guardian/internal/config"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:])
	case "dump":
		return runConfigDump(args[1:])
	case "init":
		return runConfigInit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  guardian config validate [--config=path]")
	fmt.Fprintln(os.Stderr, "  guardian config dump [--config=path]")
	fmt.Fprintln(os.Stderr, "  guardian config init [--config=path] [--force]")
}

func runConfigValidate(args []string) int {
	path := defaultConfigPath
	force := false
	parseConfigSubflags(args, &path, &force)

	loader, err := config.NewLoader(config.WithJSONFile(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: load %s: %v\n", path, err)
		return 1
	}
	if _, err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %s is invalid:\n%v\n", path, err)
		return 1
	}
	fmt.Printf("%s is valid\n", path)
	return 0
}

func runConfigDump(args []string) int {
	path := defaultConfigPath
	force := false
	parseConfigSubflags(args, &path, &force)

	loader, err := config.NewLoader(config.WithJSONFile(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: load %s: %v\n", path, err)
		return 1
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %s is invalid:\n%v\n", path, err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(cfg)
	return 0
}

func runConfigInit(args []string) int {
	path := defaultConfigPath
	force := false
	parseConfigSubflags(args, &path, &force)

	if err := config.RunInitWizard(path, force); err != nil {
		fmt.Fprintf(os.Stderr, "guardian: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s\n", path)
	return 0
}

func parseConfigSubflags(args []string, path *string, force *bool) {
	for _, a := range args {
		switch {
		case a == "--force":
			*force = true
		case strings.HasPrefix(a, "--config="):
			*path = strings.TrimPrefix(a, "--config=")
		}
	}
}
