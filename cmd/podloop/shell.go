package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"podloop/internal/config"
)

func newShellCmd() *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell running podloop subcommands",
		Long:  "Runs any podloop subcommand without the program name, e.g. 'ctl toggle' or 'ctl travel 3'.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractiveShell(prompt, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "podloop> ", "shell prompt")
	return cmd
}

func runInteractiveShell(prompt string, out io.Writer) error {
	historyFile := filepath.Join(os.TempDir(), "podloop-shell.history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    shellCompleter(),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(out, "podloop shell. 'help' lists commands, 'log -v' raises the log level, 'exit' quits.")

	var session shellSession

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		tokens, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(out, "parse error: %v\n", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if tokens[0] == "shell" {
			fmt.Fprintln(out, "already in the shell")
			continue
		}
		if tokens[0] == "run" {
			fmt.Fprintln(out, "start the daemon from a separate terminal")
			continue
		}
		if tokens[0] == "log" {
			if err := session.handleLog(tokens[1:], out); err != nil {
				fmt.Fprintf(out, "log: %v\n", err)
			}
			continue
		}
		if err := executeArgs(session.args(tokens), out); err != nil {
			fmt.Fprintf(out, "command error: %v\n", err)
		}
	}
}

// executeArgs runs tokens against a fresh command tree so flags do not leak
// between lines.
func executeArgs(args []string, out io.Writer) error {
	saved := socketPath
	defer func() { socketPath = saved }()

	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}

// shellSession holds settings that apply to every line run in the shell.
type shellSession struct {
	level config.LogLevel
}

// handleLog parses the log builtin: "log --level debug", "log -vv" or
// "log" alone to print the session level.
func (s *shellSession) handleLog(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("log", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		vcount int
		level  string
		reset  bool
	)
	fs.CountVarP(&vcount, "verbose", "v", "raise the session log level")
	fs.StringVar(&level, "level", "", "session log level: error, warn, info, debug")
	fs.BoolVar(&reset, "reset", false, "use the configured log level again")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case reset:
		s.level = ""
	case level != "":
		l, err := config.ParseLogLevel(level)
		if err != nil {
			return err
		}
		s.level = l
	case vcount > 0:
		base := s.level
		if base == "" {
			base = config.LogLevelInfo
		}
		s.level = config.Verbosity(base, vcount)
	}

	if s.level == "" {
		fmt.Fprintln(out, "log level: from config")
		return nil
	}
	fmt.Fprintf(out, "log level: %s\n", s.level)
	return nil
}

// args prefixes tokens with the session log level, if one is set.
func (s *shellSession) args(tokens []string) []string {
	if s.level == "" {
		return tokens
	}
	return append([]string{"--log-level=" + string(s.level)}, tokens...)
}

// shellCompleter offers the top-level and ctl subcommand names.
func shellCompleter() readline.AutoCompleter {
	var ctlItems []readline.PrefixCompleterInterface
	for _, c := range newCtlCmd().Commands() {
		ctlItems = append(ctlItems, readline.PcItem(c.Name()))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("ctl", ctlItems...),
		readline.PcItem("schema"),
		readline.PcItem("version"),
		readline.PcItem("help"),
		readline.PcItem("log", readline.PcItem("--level"), readline.PcItem("--reset"), readline.PcItem("-v")),
		readline.PcItem("exit"),
	)
}
