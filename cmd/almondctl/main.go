package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cli "github.com/spf13/pflag"

	"github.com/ent0n29/almond/internal/protocol"
)

const usage = `usage: almondctl [flags] <command> [args]

commands:
  history                 print the conversation history
  say <text>              send a free-form command
  thingtalk <code>        send a ThingTalk program
  parsed [--title T] <json>
                          send a pre-parsed command
  get <key>               read a preference
  set <key> <value>       write a preference (JSON literal or plain string)
  stop                    stop the assistant service
  events                  stream events until interrupted
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := cli.NewFlagSet("almondctl", cli.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	base := flags.StringP("url", "u", envOr("ALMOND_URL", "http://127.0.0.1:8090"), "Service base URL")
	timeout := flags.Duration("timeout", 60*time.Second, "Request timeout")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := newClient(*base, *timeout)
	if err := dispatch(ctx, c, rest[0], rest[1:], stdout, stderr); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintln(stderr, err)
			fmt.Fprint(stderr, usage)
			return 2
		}
		fmt.Fprintln(stderr, "almondctl:", err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func dispatch(ctx context.Context, c *client, cmd string, args []string, stdout, stderr io.Writer) error {
	switch cmd {
	case "history":
		msgs, err := c.History(ctx)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintln(stdout, formatMessage(m))
		}
		return nil
	case "say":
		if len(args) == 0 {
			return usageError("say: missing text")
		}
		return c.Command(ctx, strings.Join(args, " "))
	case "thingtalk":
		if len(args) == 0 {
			return usageError("thingtalk: missing code")
		}
		return c.ThingTalk(ctx, strings.Join(args, " "))
	case "parsed":
		fs := cli.NewFlagSet("parsed", cli.ContinueOnError)
		fs.SetOutput(stderr)
		title := fs.StringP("title", "t", "", "Title shown in the history")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if fs.NArg() != 1 {
			return usageError("parsed: expected one JSON argument")
		}
		return c.ParsedCommand(ctx, *title, fs.Arg(0))
	case "get":
		if len(args) != 1 {
			return usageError("get: expected <key>")
		}
		v, err := c.GetPreference(ctx, args[0])
		if err != nil {
			return err
		}
		raw, err := v.MarshalJSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(raw))
		return nil
	case "set":
		if len(args) != 2 {
			return usageError("set: expected <key> <value>")
		}
		v, err := parseValue(args[1])
		if err != nil {
			return err
		}
		return c.SetPreference(ctx, args[0], v)
	case "stop":
		return c.Stop(ctx)
	case "events":
		return c.Events(ctx, func(msg any) {
			printEvent(stdout, msg)
		})
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func printEvent(w io.Writer, msg any) {
	switch m := msg.(type) {
	case protocol.NewMessageEvent:
		fmt.Fprintf(w, "+ %s\n", formatMessage(m.Message))
	case protocol.RemoveMessageEvent:
		fmt.Fprintf(w, "- #%d\n", m.ID)
	case protocol.ActivateEvent:
		fmt.Fprintln(w, "* activate")
	case protocol.VoiceHypothesisEvent:
		fmt.Fprintf(w, "~ %s\n", m.Text)
	case protocol.PreferenceChangedEvent:
		fmt.Fprintf(w, "= %s\n", m.Key)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
