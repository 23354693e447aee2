package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/getrafty/fragments/internal/fragstore"
	"github.com/getrafty/fragments/internal/fsutil"

	"github.com/peterh/liner"
)

func cmdRepl(_ io.Reader, out, errOut io.Writer, storePath string) int {
	lock, err := fsutil.AcquireDefault(storePath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer lock.Release()

	e, err := openStore(storePath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	defer e.Close()

	r := &repl{engine: e, out: out}

	return r.run()
}

// repl's liner.State always drives the process's own stdin/stdout: liner is
// a readline implementation, not an io.Reader/io.Writer adapter, so unlike
// the rest of fragctl the interactive loop cannot be redirected to a buffer
// in tests.
type repl struct {
	engine *fragstore.Engine
	out    io.Writer
	liner  *liner.State
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".fragctl_history")
}

func (r *repl) run() int {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFilePath()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintf(r.out, "fragctl repl - active version: %s\n", r.engine.GetActiveVersion())
	fmt.Fprintln(r.out, "Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("fragctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nBye!")
				break
			}

			fmt.Fprintln(r.out, "error reading input:", err)

			return 1
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		if cmd == "exit" || cmd == "quit" || cmd == "q" {
			fmt.Fprintln(r.out, "Bye!")
			break
		}

		r.dispatch(cmd, args)
	}

	r.saveHistory()

	return 0
}

func (r *repl) saveHistory() {
	path := historyFilePath()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		r.liner.WriteHistory(f)
		f.Close()
	}
}

func (r *repl) completer(line string) []string {
	commands := []string{"upsert", "get", "versions", "set-active", "ids", "stat", "help", "exit", "quit", "q"}

	var completions []string

	lower := strings.ToLower(line)
	for _, c := range commands {
		if strings.HasPrefix(c, lower) {
			completions = append(completions, c)
		}
	}

	return completions
}

func (r *repl) dispatch(cmd string, args []string) {
	switch cmd {
	case "help", "?":
		r.printHelp()
	case "upsert":
		r.cmdUpsert(args)
	case "get":
		r.cmdGet(args)
	case "versions":
		r.cmdVersions()
	case "set-active":
		r.cmdSetActive(args)
	case "ids":
		r.cmdIDs()
	case "stat":
		r.cmdStat()
	default:
		fmt.Fprintf(r.out, "unknown command: %s (type 'help' for commands)\n", cmd)
	}
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  upsert <id> <text> [version]   Create or update a fragment")
	fmt.Fprintln(r.out, "  get <id> <version>             Print a fragment's text")
	fmt.Fprintln(r.out, "  versions                       List the version table")
	fmt.Fprintln(r.out, "  set-active <version>           Change the active version")
	fmt.Fprintln(r.out, "  ids                            List every stored fragment id")
	fmt.Fprintln(r.out, "  stat                           Show store size and compaction stats")
	fmt.Fprintln(r.out, "  help                           Show this help")
	fmt.Fprintln(r.out, "  exit / quit / q                Exit")
}

func (r *repl) cmdUpsert(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: upsert <id> <text> [version]")
		return
	}

	var version string
	if len(args) >= 3 {
		version = args[2]
	}

	if err := r.engine.Upsert(args[0], args[1], version); err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}

	fmt.Fprintln(r.out, "ok")
}

func (r *repl) cmdGet(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(r.out, "Usage: get <id> <version>")
		return
	}

	value, found, err := r.engine.Get(args[0], args[1])
	if err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}

	if !found {
		fmt.Fprintln(r.out, "(not found)")
		return
	}

	fmt.Fprintln(r.out, value)
}

func (r *repl) cmdVersions() {
	active := r.engine.GetActiveVersion()

	for _, v := range r.engine.GetAvailableVersions() {
		marker := "  "
		if v == active {
			marker = "* "
		}

		fmt.Fprintf(r.out, "%s%s\n", marker, v)
	}
}

func (r *repl) cmdSetActive(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(r.out, "Usage: set-active <version>")
		return
	}

	if err := r.engine.SetActiveVersion(args[0]); err != nil {
		fmt.Fprintln(r.out, "error:", err)
		return
	}

	fmt.Fprintf(r.out, "active version is now %s\n", args[0])
}

func (r *repl) cmdIDs() {
	ids := r.engine.IDs()
	if len(ids) == 0 {
		fmt.Fprintln(r.out, "(empty)")
		return
	}

	for _, id := range ids {
		fmt.Fprintln(r.out, id)
	}
}

func (r *repl) cmdStat() {
	stat := r.engine.Stat()
	fmt.Fprintf(r.out, "fragments:    %d\n", stat.FragmentCount)
	fmt.Fprintf(r.out, "data region:  [%d, %d)\n", stat.DataStart, stat.DataEnd)
	fmt.Fprintf(r.out, "live bytes:   %d\n", stat.LiveBytes)
	fmt.Fprintf(r.out, "free extents: %d\n", stat.FreeExtents)
}
