//
// Copyright 2024 Arborix, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/arborix/memtree/lib/memalloc"
)

const usage = `memtree daemon

memtreed opens a binary-tree-indexed arena allocator session and
exercises it with a synthetic allocate/free workload, dumping an audit
trail when the workload finishes and then reporting readiness to systemd.`

// Globals populated at build time.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

func main() {
	app := cli.NewApp()
	app.Name = "memtreed"
	app.Usage = usage

	var v []string
	if version != "" {
		v = append(v, version)
	}
	app.Version = strings.Join(v, "\n")

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log, l",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text (default = text)",
		},
		cli.IntFlag{
			Name:  "arena-size",
			Value: memalloc.DefaultArenaSize,
			Usage: "bytes to reserve for each session's arena",
		},
		cli.IntFlag{
			Name:  "workload-size",
			Value: 256,
			Usage: "number of allocate/free pairs to run against the initial session on startup",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("memtreed\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				return err
			}
			logrus.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
		}

		if logFormat := ctx.GlobalString("log-format"); logFormat == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
		}

		if logLevel := ctx.GlobalString("log-level"); logLevel != "" {
			switch logLevel {
			case "debug":
				logrus.SetLevel(logrus.DebugLevel)
			case "info":
				logrus.SetLevel(logrus.InfoLevel)
			case "warning":
				logrus.SetLevel(logrus.WarnLevel)
			case "error":
				logrus.SetLevel(logrus.ErrorLevel)
			case "fatal":
				logrus.SetLevel(logrus.FatalLevel)
			default:
				logrus.Fatalf("'%v' log-level option not recognized", logLevel)
			}
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Starting memtreed")
		logrus.Infof("Version: %s", version)
		if commitId != "" {
			logrus.Infof("Commit-ID: %s", commitId)
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			return err
		}

		mgr, err := newMemtreeMgr(ctx)
		if err != nil {
			return fmt.Errorf("failed to create memtreed manager: %v", err)
		}

		var signalChan = make(chan os.Signal, 1)
		signal.Notify(
			signalChan,
			syscall.SIGHUP,
			syscall.SIGINT,
			syscall.SIGTERM,
			syscall.SIGQUIT)
		go signalHandler(signalChan, mgr, prof)

		if err := mgr.Start(); err != nil {
			return fmt.Errorf("failed to start memtreed: %v", err)
		}

		// The startup workload already ran; memtreed now just waits to
		// be signaled, the way a supervised daemon normally would.
		// signalHandler exits the process once it is.
		select {}
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// runProfiler launches cpu or memory profiling data collection, if
// requested. The two are mutually exclusive, matching pprof's own
// restriction.
func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		prof = profile.Start(
			profile.CPUProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		)
		logrus.Info("Initiated cpu-profiling data collection.")
	}

	if memProfOn {
		prof = profile.Start(
			profile.MemProfile,
			profile.ProfilePath("."),
			profile.NoShutdownHook,
		)
		logrus.Info("Initiated memory-profiling data collection.")
	}

	return prof, nil
}

func signalHandler(signalChan chan os.Signal, mgr *MemtreeMgr, prof interface{ Stop() }) {
	s := <-signalChan

	logrus.Infof("Caught OS signal: %s", s)

	if err := mgr.Stop(); err != nil {
		logrus.Warnf("Failed to terminate memtreed gracefully: %s", err)
	}

	if prof != nil {
		prof.Stop()
	}

	logrus.Info("Exiting.")
	os.Exit(0)
}
