/*
Copyright 2024 Parsec Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command parsecd runs the Parsec synchronization server: one HTTP listener
// serving the RPC and SSE routes of §6 over a single Data Store.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"

	"github.com/parsec-io/parsec-server/lib/config"
)

const configFileEnvar = "PARSECD_CONFIG_FILE"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, trace.DebugReport(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("parsecd", "Parsec synchronization server")

	var configPath, listenAddr string

	startCmd := app.Command("start", "Start the parsecd server").Default()
	startCmd.Flag("config", "Path to the server's YAML configuration file").
		Short('c').
		Envar(configFileEnvar).
		ExistingFileVar(&configPath)
	startCmd.Flag("listen-addr", "Override server.listen_addr from the configuration file").
		StringVar(&listenAddr)

	versionCmd := app.Command("version", "Print the parsecd version")

	selected, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	switch selected {
	case versionCmd.FullCommand():
		fmt.Println("parsecd")
		return nil
	case startCmd.FullCommand():
		return startServer(configPath, listenAddr)
	default:
		return trace.BadParameter("unrecognized command %q", selected)
	}
}

func startServer(configPath, listenAddrOverride string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if listenAddrOverride != "" {
		cfg.Server.ListenAddr = listenAddrOverride
	}

	log, err := cfg.Log.NewLogger()
	if err != nil {
		return trace.Wrap(err)
	}

	handler, err := buildHandler(cfg, log)
	if err != nil {
		return trace.Wrap(err)
	}

	log.WithField("addr", cfg.Server.ListenAddr).Info("starting parsecd")
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: handler,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return trace.Wrap(err)
	}
	return nil
}
