package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"podloop/internal/app"
	"podloop/internal/config"
	"podloop/internal/ipc"
)

// ============================================================================
// ctl - command-line IPC client
// ============================================================================
//
//   podloop ctl toggle
//   podloop ctl skip -15
//   podloop ctl subscribe https://example.com/feed.xml "Example Show"
//   podloop ctl history
//   podloop ctl travel 3
//   podloop ctl assert-fact ep-42 rating 5
//
// ============================================================================

var socketPath string

// actionCommand builds one ctl subcommand that sends an action.
type actionCommand struct {
	use   string
	short string
	args  cobra.PositionalArgs
	build func(args []string) (app.Action, error)
}

var actionCommands = []actionCommand{
	{"toggle", "Toggle play/pause", cobra.NoArgs, func([]string) (app.Action, error) {
		return app.TogglePlay{}, nil
	}},
	{"play <episode-id>", "Play an episode", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.PlayItem{ID: a[0]}, nil
	}},
	{"seek <position-ms>", "Seek to an absolute position", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		ms, err := strconv.ParseInt(a[0], 10, 64)
		return app.Seek{PositionMs: ms}, err
	}},
	{"skip <seconds>", "Skip forward or back", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		s, err := strconv.Atoi(a[0])
		return app.Skip{Seconds: s}, err
	}},
	{"speed <x>", "Set playback speed", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		x, err := strconv.ParseFloat(a[0], 64)
		return app.SetSpeed{Speed: x}, err
	}},
	{"sleep [minutes]", "Start the sleep timer", cobra.MaximumNArgs(1), func(a []string) (app.Action, error) {
		if len(a) == 0 {
			return app.StartSleepTimer{}, nil
		}
		m, err := strconv.Atoi(a[0])
		return app.StartSleepTimer{Minutes: m}, err
	}},
	{"nav <screen>", "Navigate to a screen", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		s := app.Screen(a[0])
		if !s.Valid() {
			return nil, fmt.Errorf("unknown screen %q", a[0])
		}
		return app.Navigate{Screen: s}, nil
	}},
	{"back", "Pop the navigation stack", cobra.NoArgs, func([]string) (app.Action, error) {
		return app.Pop{}, nil
	}},
	{"player <open|close>", "Open or close the full player", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.SetPlayerOpen{Open: a[0] == "open"}, nil
	}},
	{"car <on|off>", "Toggle car mode", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.SetCarMode{Enabled: a[0] == "on"}, nil
	}},
	{"filter <label>", "Set the library filter", cobra.MinimumNArgs(1), func(a []string) (app.Action, error) {
		return app.SetFilter{Label: strings.Join(a, " ")}, nil
	}},
	{"subscribe <feed-url> [title]", "Subscribe to a feed", cobra.RangeArgs(1, 2), func(a []string) (app.Action, error) {
		s := app.Subscribe{FeedURL: a[0]}
		if len(a) > 1 {
			s.Title = a[1]
		}
		return s, nil
	}},
	{"unsubscribe <feed-url>", "Unsubscribe from a feed", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.Unsubscribe{FeedURL: a[0]}, nil
	}},
	{"enqueue <episode-id>", "Add an episode to the queue", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.AddToQueue{ID: a[0]}, nil
	}},
	{"dequeue <episode-id>", "Remove an episode from the queue", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.RemoveFromQueue{ID: a[0]}, nil
	}},
	{"download <episode-id>", "Download an episode", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.Download{ID: a[0]}, nil
	}},
	{"sync", "Refresh every feed", cobra.NoArgs, func([]string) (app.Action, error) {
		return app.SyncFeeds{}, nil
	}},
	{"resume", "Resume the last played episode", cobra.NoArgs, func([]string) (app.Action, error) {
		return app.ResumeLastPlayed{}, nil
	}},
	{"mark-older <episode-id>", "Mark older episodes of the same feed as played", cobra.ExactArgs(1), func(a []string) (app.Action, error) {
		return app.MarkOlderPlayed{ID: a[0]}, nil
	}},
}

// queryCommand builds one ctl subcommand that runs a diagnostic query.
type queryCommand struct {
	use   string
	short string
	query string
	args  cobra.PositionalArgs
	parse func(args []string) (ipc.QueryArgs, error)
}

func noQueryArgs([]string) (ipc.QueryArgs, error) { return ipc.QueryArgs{}, nil }

func indexArg(a []string) (ipc.QueryArgs, error) {
	i, err := strconv.Atoi(a[0])
	return ipc.QueryArgs{Index: i}, err
}

var queryCommands = []queryCommand{
	{"state", "Print the current application state", ipc.QueryState, cobra.NoArgs, noQueryArgs},
	{"history", "Print history size and cursor", ipc.QueryHistory, cobra.NoArgs, noQueryArgs},
	{"history-at <index>", "Print the state recorded at index", ipc.QueryHistoryAt, cobra.ExactArgs(1), indexArg},
	{"travel <index>", "Restore the state recorded at index", ipc.QueryTravel, cobra.ExactArgs(1), indexArg},
	{"events [n]", "Print recent event log entries", ipc.QueryEvents, cobra.MaximumNArgs(1), func(a []string) (ipc.QueryArgs, error) {
		if len(a) == 0 {
			return ipc.QueryArgs{}, nil
		}
		n, err := strconv.Atoi(a[0])
		return ipc.QueryArgs{N: n}, err
	}},
	{"grep <pattern>", "Search the event log", ipc.QueryGrep, cobra.MinimumNArgs(1), func(a []string) (ipc.QueryArgs, error) {
		return ipc.QueryArgs{Pattern: strings.Join(a, " ")}, nil
	}},
	{"failed", "Print failed event log entries", ipc.QueryFailed, cobra.NoArgs, noQueryArgs},
	{"search <term>", "Search the podcast directory", ipc.QuerySearch, cobra.MinimumNArgs(1), func(a []string) (ipc.QueryArgs, error) {
		return ipc.QueryArgs{Term: strings.Join(a, " ")}, nil
	}},
	{"kinds", "List action types", ipc.QueryKinds, cobra.NoArgs, noQueryArgs},
	{"facts [entity] [attribute]", "Print recorded facts", ipc.QueryFacts, cobra.MaximumNArgs(2), func(a []string) (ipc.QueryArgs, error) {
		var qa ipc.QueryArgs
		if len(a) > 0 {
			qa.Entity = a[0]
		}
		if len(a) > 1 {
			qa.Attribute = a[1]
		}
		return qa, nil
	}},
	{"assert-fact <entity> <attribute> <value>", "Record a fact", ipc.QueryAssertFact, cobra.MinimumNArgs(3), func(a []string) (ipc.QueryArgs, error) {
		return ipc.QueryArgs{Entity: a[0], Attribute: a[1], Value: strings.Join(a[2:], " ")}, nil
	}},
}

func newCtlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Send commands to a running daemon",
	}
	cmd.PersistentFlags().StringVar(&socketPath, "socket", "", "unix domain socket path (default from config)")

	for _, ac := range actionCommands {
		cmd.AddCommand(newActionCmd(ac))
	}
	for _, qc := range queryCommands {
		cmd.AddCommand(newQueryCmd(qc))
	}
	cmd.AddCommand(newSendCmd(), newBatchCmd())
	return cmd
}

func ctlClient(cmd *cobra.Command) (*ipc.Client, error) {
	if socketPath != "" {
		return ipc.NewClient(socketPath), nil
	}
	cfg, err := loadConfig(cmd, config.FlagOverrides{})
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(cfg.IPC.SocketPath), nil
}

// signedCommands take a number that may be negative, which pflag would read
// as a shorthand flag. They parse their own arguments.
var signedCommands = map[string]bool{"seek": true, "skip": true}

func newActionCmd(ac actionCommand) *cobra.Command {
	run := func(cmd *cobra.Command, args []string) error {
		a, err := ac.build(args)
		if err != nil {
			return fmt.Errorf("invalid argument: %w", err)
		}
		c, err := ctlClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Dispatch(cmd.Context(), a); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}

	cmd := &cobra.Command{
		Use:   ac.use,
		Short: ac.short,
		Args:  ac.args,
		RunE:  run,
	}
	if !signedCommands[cmd.Name()] {
		return cmd
	}

	cmd.DisableFlagParsing = true
	cmd.Args = cobra.ArbitraryArgs
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		fs := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
		fs.SetOutput(io.Discard)
		fs.AddFlagSet(cmd.InheritedFlags())
		help := fs.BoolP("help", "h", false, "help for "+cmd.Name())
		if err := fs.Parse(signedLast(args)); err != nil {
			return err
		}
		if *help {
			return cmd.Help()
		}
		if err := ac.args(cmd, fs.Args()); err != nil {
			return err
		}
		return run(cmd, fs.Args())
	}
	return cmd
}

// signedLast moves negative numbers behind "--" so flag parsing keeps them
// as positionals.
func signedLast(args []string) []string {
	var rest, nums []string
	for i, arg := range args {
		if arg == "--" {
			nums = append(nums, args[i+1:]...)
			break
		}
		if strings.HasPrefix(arg, "-") && isNumber(arg) {
			nums = append(nums, arg)
		} else {
			rest = append(rest, arg)
		}
	}
	if len(nums) == 0 {
		return rest
	}
	return append(append(rest, "--"), nums...)
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func newQueryCmd(qc queryCommand) *cobra.Command {
	return &cobra.Command{
		Use:   qc.use,
		Short: qc.short,
		Args:  qc.args,
		RunE: func(cmd *cobra.Command, args []string) error {
			qa, err := qc.parse(args)
			if err != nil {
				return fmt.Errorf("invalid argument: %w", err)
			}
			c, err := ctlClient(cmd)
			if err != nil {
				return err
			}
			var out json.RawMessage
			if err := c.Query(cmd.Context(), qc.query, qa, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// newSendCmd sends a raw action envelope, e.g.
// podloop ctl send '{"type":"navigate","data":{"screen":"queue"}}'
func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <json>",
		Short: "Send a raw action envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.UnmarshalAction([]byte(args[0]))
			if err != nil {
				return err
			}
			c, err := ctlClient(cmd)
			if err != nil {
				return err
			}
			if err := c.Dispatch(cmd.Context(), a); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

// newBatchCmd runs one ctl command per input line.
func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Run ctl commands read from stdin, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), cmd.InOrStdin(), func(ctx context.Context, tokens []string) error {
				ctl := newCtlCmd()
				ctl.SetArgs(append(tokens, ctlSocketArgs()...))
				ctl.SetOut(cmd.OutOrStdout())
				ctl.SilenceUsage = true
				return ctl.ExecuteContext(ctx)
			})
		},
	}
}

func ctlSocketArgs() []string {
	if socketPath == "" {
		return nil
	}
	return []string{"--socket", socketPath}
}

// runBatch splits each non-comment line into words and runs it. It stops at
// the first failing line.
func runBatch(ctx context.Context, r io.Reader, run func(context.Context, []string) error) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens, err := shlex.Split(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if err := run(ctx, tokens); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return sc.Err()
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Fprintln(w, "ok")
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(b))
	return nil
}
