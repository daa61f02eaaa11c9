/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/suparena/userstore"
	"github.com/suparena/userstore/config"
	"github.com/suparena/userstore/dispatch"
	"github.com/suparena/userstore/storagemodels"
)

const usage = `Usage: userctl [--config FILE] COMMAND [FLAGS]

Commands:
  create         --first NAME --last NAME --age N
  get            --id ID
  read           --from N --to N            users with from < age < to
  update         --match-first NAME --match-last NAME --match-age N
                 [--first NAME] [--last NAME] [--age N] [--atomic]
  delete         --first NAME --last NAME --age N [--atomic]
  increment-age  --id ID
  change-name    --id ID --first NAME --last NAME
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("userctl", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", "", "YAML configuration file")
	showVersion := global.BoolP("version", "v", false, "Show version information")
	if err := global.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		info := userstore.GetVersionInfo()
		fmt.Printf("userctl version %s\n", info.Version)
		fmt.Printf("Git commit: %s\n", info.GitCommit)
		fmt.Printf("Build date: %s\n", info.BuildDate)
		fmt.Printf("Go version: %s\n", info.GoVersion)
		return 0
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := userstore.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return 1
	}
	defer closeStore(context.Background())

	bridge, err := dispatch.New(
		dispatch.WithPoolSize(cfg.PoolSize),
		dispatch.WithLogger(logger),
		dispatch.WithRegisterer(prometheus.DefaultRegisterer))
	if err != nil {
		logger.Error("failed to start dispatcher", zap.Error(err))
		return 1
	}
	defer bridge.Close()

	client := userstore.NewClient(userstore.NewRepository(store, userstore.WithLogger(logger)), bridge)
	return dispatchCommand(ctx, bridge, client, global.Arg(0), global.Args()[1:])
}

func dispatchCommand(ctx context.Context, bridge *dispatch.Bridge, client *userstore.Client, name string, args []string) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	switch name {
	case "create":
		first, last, age := userFlags(fs, "")
		if !parse(fs, args, "first", "last", "age") {
			return 2
		}
		user, ok := userFromFlags("", *first, *last, *age)
		if !ok {
			return 2
		}
		return await(ctx, bridge, client.Create(user))

	case "get":
		id := fs.String("id", "", "user identifier")
		if !parse(fs, args, "id") {
			return 2
		}
		return await(ctx, bridge, client.Get(*id))

	case "read":
		fromArg := fs.String("from", "", "exclusive lower age bound")
		toArg := fs.String("to", "", "exclusive upper age bound")
		if !parse(fs, args, "from", "to") {
			return 2
		}
		from, ok := parseAge("--from", *fromArg)
		if !ok {
			return 2
		}
		to, ok := parseAge("--to", *toArg)
		if !ok {
			return 2
		}
		return await(ctx, bridge, client.ReadRange(from, to))

	case "update":
		mFirst, mLast, mAge := userFlags(fs, "match-")
		first := fs.String("first", "", "new first name")
		last := fs.String("last", "", "new last name")
		age := fs.String("age", "", "new age")
		atomic := fs.Bool("atomic", false, "update all matches or none")
		if !parse(fs, args, "match-first", "match-last", "match-age") {
			return 2
		}
		patch, err := storagemodels.PatchFromInput(*first, *last, *age)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		match, ok := userFromFlags("match-", *mFirst, *mLast, *mAge)
		if !ok {
			return 2
		}
		return await(ctx, bridge, client.UpdateByMatch(match, patch, matchOptions(*atomic)...))

	case "delete":
		first, last, age := userFlags(fs, "")
		atomic := fs.Bool("atomic", false, "delete all matches or none")
		if !parse(fs, args, "first", "last", "age") {
			return 2
		}
		match, ok := userFromFlags("", *first, *last, *age)
		if !ok {
			return 2
		}
		return await(ctx, bridge, client.DeleteByMatch(match, matchOptions(*atomic)...))

	case "increment-age":
		id := fs.String("id", "", "user identifier")
		if !parse(fs, args, "id") {
			return 2
		}
		return await(ctx, bridge, client.IncrementAge(*id))

	case "change-name":
		id := fs.String("id", "", "user identifier")
		first := fs.String("first", "", "new first name")
		last := fs.String("last", "", "new last name")
		if !parse(fs, args, "id", "first", "last") {
			return 2
		}
		return await(ctx, bridge, client.ChangeName(*id, *first, *last))
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
	return 2
}

// userFlags registers the name and age flags. Ages are taken as text so that
// they are read as plain decimal numbers.
func userFlags(fs *flag.FlagSet, prefix string) (first, last, age *string) {
	first = fs.String(prefix+"first", "", "first name")
	last = fs.String(prefix+"last", "", "last name")
	age = fs.String(prefix+"age", "", "age")
	return first, last, age
}

func userFromFlags(prefix, first, last, age string) (storagemodels.User, bool) {
	n, ok := parseAge("--"+prefix+"age", age)
	return storagemodels.User{FirstName: first, LastName: last, Age: n}, ok
}

func parseAge(flagName, value string) (int, bool) {
	n, err := storagemodels.ParseAge(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flagName, err)
		return 0, false
	}
	return n, true
}

// parse parses args and reports an error for every required flag not given.
func parse(fs *flag.FlagSet, args []string, required ...string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	var missing []string
	for _, name := range required {
		if !fs.Changed(name) {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "%s: missing %s\n", fs.Name(), strings.Join(missing, ", "))
		return false
	}
	return true
}

func matchOptions(atomic bool) []userstore.MatchOption {
	if atomic {
		return []userstore.MatchOption{userstore.WithAtomicMatch()}
	}
	return nil
}

// await runs the foreground loop until task's outcome has been printed.
func await[T any](ctx context.Context, bridge *dispatch.Bridge, task *dispatch.Task[T]) int {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	code, delivered := 0, false
	task.OnComplete(func(out dispatch.Outcome[T]) {
		delivered = true
		if out.OK() {
			fmt.Println(out.Message())
		} else {
			fmt.Fprintln(os.Stderr, out.Message())
			code = 1
		}
		cancel()
	})

	_ = bridge.Run(loopCtx)
	if !delivered {
		// Close still waits for the operation itself to finish.
		fmt.Fprintf(os.Stderr, "interrupted before %s completed\n", task.Name())
		return 130
	}
	return code
}
