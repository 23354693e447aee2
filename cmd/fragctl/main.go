// fragctl is the command-line front end for a fragment store: a single
// file holding short, versioned text snippets addressed by a 16-bit hex id.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/getrafty/fragments/internal/config"
	"github.com/getrafty/fragments/internal/fragstore"
	"github.com/getrafty/fragments/internal/fsutil"

	flag "github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr, os.Args, os.Environ()))
}

func run(in io.Reader, out, errOut io.Writer, args []string, env []string) int {
	globalFlags := flag.NewFlagSet("fragctl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagCwd := globalFlags.StringP("cwd", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")
	flagStore := globalFlags.String("store", "", "Override store `path`")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		printGlobalUsage(errOut)

		return 1
	}

	workDir := *flagCwd
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(errOut, "error:", err)
			return 1
		}

		workDir = wd
	}

	cfg, _, err := config.Load(workDir, *flagConfig, config.Config{StorePath: *flagStore}, *flagStore != "", env)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printGlobalUsage(out)
		return 0
	}

	storePath := cfg.StorePath
	if !filepath.IsAbs(storePath) {
		storePath = filepath.Join(workDir, storePath)
	}

	cmdName := commandAndArgs[0]
	cmdArgs := commandAndArgs[1:]

	switch cmdName {
	case "init":
		return cmdInit(out, errOut, workDir, storePath, cfg, cmdArgs)
	case "upsert":
		return cmdUpsert(out, errOut, storePath, cmdArgs)
	case "get":
		return cmdGet(out, errOut, storePath, cmdArgs)
	case "versions":
		return cmdVersions(out, errOut, storePath)
	case "set-active":
		return cmdSetActive(out, errOut, storePath, cmdArgs)
	case "dump":
		return cmdDump(out, errOut, storePath, cmdArgs)
	case "repl":
		return cmdRepl(in, out, errOut, storePath)
	default:
		fmt.Fprintln(errOut, "error: unknown command:", cmdName)
		printGlobalUsage(errOut)

		return 1
	}
}

const globalUsage = `fragctl - fragment store CLI

Usage: fragctl [flags] <command> [args]

Flags:
  -h, --help             Show help
  -C, --cwd <dir>        Run as if started in <dir>
  -c, --config <file>    Use specified config file
  --store <path>         Override store path

Commands:
  init <versions...>           Create a new store with the given version names
  upsert <id> <text> [version] Create or update a fragment
  get <id> <version>            Print a fragment's text for a version
  versions                      List the store's version table
  set-active <version>          Change the active version
  dump                          Print every fragment as an aligned table
  repl                           Start an interactive session`

func printGlobalUsage(w io.Writer) {
	fmt.Fprintln(w, globalUsage)
}

func openStore(storePath string) (*fragstore.Engine, error) {
	return fragstore.Open(fragstore.Options{Path: storePath})
}

func cmdInit(out, errOut io.Writer, workDir, storePath string, cfg config.Config, args []string) int {
	versions := cfg.Versions
	if len(args) > 0 {
		versions = args
	}

	active := cfg.ActiveVersion

	err := fsutil.WithLock(storePath, func() error {
		e, openErr := fragstore.Open(fragstore.Options{Path: storePath, Versions: versions, ActiveVersion: active})
		if openErr != nil {
			return openErr
		}
		defer e.Close()

		return nil
	})

	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	projectCfg := config.Config{StorePath: storePath, Versions: versions, ActiveVersion: active}
	if active == "" {
		projectCfg.ActiveVersion = versions[0]
	}

	if err := config.Write(filepath.Join(workDir, config.FileName), projectCfg); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintf(out, "initialized %s with versions %s\n", storePath, strings.Join(versions, ", "))

	return 0
}

func cmdUpsert(out, errOut io.Writer, storePath string, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(errOut, "usage: fragctl upsert <id> <text> [version]")
		return 1
	}

	id, text := args[0], args[1]

	var version string
	if len(args) >= 3 {
		version = args[2]
	}

	err := fsutil.WithLock(storePath, func() error {
		e, openErr := openStore(storePath)
		if openErr != nil {
			return openErr
		}
		defer e.Close()

		return e.Upsert(id, text, version)
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintf(out, "ok: upserted %s\n", id)

	return 0
}

func cmdGet(out, errOut io.Writer, storePath string, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(errOut, "usage: fragctl get <id> <version>")
		return 1
	}

	id, version := args[0], args[1]

	var (
		value string
		found bool
	)

	err := fsutil.WithLock(storePath, func() error {
		e, openErr := openStore(storePath)
		if openErr != nil {
			return openErr
		}
		defer e.Close()

		var getErr error

		value, found, getErr = e.Get(id, version)

		return getErr
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	if !found {
		fmt.Fprintln(out, "(not found)")
		return 0
	}

	fmt.Fprintln(out, value)

	return 0
}

func cmdVersions(out, errOut io.Writer, storePath string) int {
	var (
		versions []string
		active   string
	)

	err := fsutil.WithLock(storePath, func() error {
		e, openErr := openStore(storePath)
		if openErr != nil {
			return openErr
		}
		defer e.Close()

		versions = e.GetAvailableVersions()
		active = e.GetActiveVersion()

		return nil
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	for _, v := range versions {
		marker := "  "
		if v == active {
			marker = "* "
		}

		fmt.Fprintf(out, "%s%s\n", marker, v)
	}

	return 0
}

func cmdSetActive(out, errOut io.Writer, storePath string, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(errOut, "usage: fragctl set-active <version>")
		return 1
	}

	err := fsutil.WithLock(storePath, func() error {
		e, openErr := openStore(storePath)
		if openErr != nil {
			return openErr
		}
		defer e.Close()

		return e.SetActiveVersion(args[0])
	})
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	fmt.Fprintf(out, "active version is now %s\n", args[0])

	return 0
}
