package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/config"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, cfg *config.Client, args []string) error
}

var commands = []command{
	{"send", "encrypt, hide and send a message", runSend},
	{"sync", "fetch and decrypt incoming messages", runSync},
	{"history", "list recorded messages", runHistory},
	{"analyze", "LSB statistics of an image", runAnalyze},
	{"capacity", "payload capacity of a cover image", runCapacity},
	{"seal-key", "passphrase-protect a private key file", runSealKey},
	{"contact", "add a contact public key", runContact},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: hermnet [-config file] [-env file] <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nGlobal flags:\n")
	flag.PrintDefaults()
}

func main() {
	configFile := flag.String("config", "hermnet.yaml", "YAML config file")
	envFile := flag.String("env", ".env", "dotenv file")
	handle := flag.String("handle", "", "Own handle (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClient(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
	if *handle != "" {
		cfg.Handle = *handle
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := config.SetupLogging(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name, args := flag.Arg(0), flag.Args()[1:]
	for _, c := range commands {
		if c.name != strings.ToLower(name) {
			continue
		}
		if err := c.run(ctx, cfg, args); err != nil {
			logrus.WithFields(logrus.Fields{"function": "main", "command": c.name}).Debug(err)
			fmt.Fprintf(os.Stderr, "❌ %s: %v\n", c.name, err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "❌ unknown command %q\n\n", name)
	usage()
	os.Exit(2)
}
