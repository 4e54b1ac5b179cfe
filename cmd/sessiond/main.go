// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Command sessiond serves a query and chat API over locally stored
// chat sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wingedpig/sessiond/internal/app"
	"github.com/wingedpig/sessiond/internal/config"
)

var version = "dev"

const starterConfig = `{
  // sessiond configuration. Comments are allowed (HJSON).

  server: {
    host: "127.0.0.1"
    port: 8650
    // tls_cert: "~/.sessiond/cert.pem"
    // tls_key: "~/.sessiond/key.pem"
    // tls_tailscale: true
  }

  storage: {
    // Session directories live under <root>/<project>/<id>/.
    // root: "~/.sessiond/projects"
  }

  chat: {
    binary: "claude"
    // model: "claude-sonnet"
    timeout: "5m"
  }
}
`

func main() {
	// Subcommands are checked before flag parsing.
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "sessiond: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var (
		configPath  string
		host        string
		port        int
		storageRoot string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&configPath, "c", "", "path to config file (shorthand)")
	flag.StringVar(&host, "host", "", "override listen host")
	flag.IntVar(&port, "port", 0, "override listen port")
	flag.StringVar(&storageRoot, "root", "", "override storage root")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.BoolVar(&showVersion, "v", false, "print version and exit (shorthand)")
	flag.Parse()

	if showVersion {
		fmt.Printf("sessiond %s\n", version)
		return
	}

	if configPath == "" {
		// Search cwd then ~/.sessiond; missing config is fine, we run
		// on defaults.
		if found, err := config.NewLoader().FindConfig(); err == nil {
			configPath = found
		}
	}

	a, err := app.New(app.Options{
		ConfigPath:  configPath,
		Host:        host,
		Port:        port,
		StorageRoot: storageRoot,
	})
	if err != nil {
		log.Fatalf("sessiond: %v", err)
	}

	if err := a.Run(context.Background()); err != nil {
		log.Fatalf("sessiond: %v", err)
	}
}

// runInit writes a commented starter config to the current directory.
func runInit() error {
	const name = "sessiond.hjson"
	if _, err := os.Stat(name); err == nil {
		return fmt.Errorf("%s already exists", name)
	}
	if err := os.WriteFile(name, []byte(starterConfig), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", name)
	return nil
}
