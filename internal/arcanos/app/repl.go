package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Run drives the operator REPL until EOF, "exit", or context cancellation.
// Lines are read on a separate goroutine so an interrupt is honored even
// while the prompt is waiting on stdin.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "ARCANOS ready (instance %s, routing %s). Type 'exit' to quit.\n",
		a.instanceID, a.cfg.RoutingMode)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch line {
		case "exit", "quit":
			return nil
		case "status":
			st := a.CurrentStatus()
			fmt.Fprintf(out, "instance %s | trust %s | uptime %ds | turns %d\n",
				st.InstanceID, st.Trust, st.UptimeSeconds, st.TurnCount)
			continue
		case "stats":
			for k, v := range a.deps.Memory.GetStatistics() {
				fmt.Fprintf(out, "%s: %d\n", k, v)
			}
			continue
		case "clear":
			if err := a.deps.Memory.ClearConversations(); err != nil {
				fmt.Fprintf(out, "clear failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "conversation history cleared")
			}
			continue
		case "voice":
			transcript, reply, err := a.VoiceTurn(ctx, true)
			switch {
			case err != nil:
				fmt.Fprintf(out, "voice turn failed: %v\n", err)
			case transcript == "":
				fmt.Fprintln(out, "nothing heard")
			default:
				fmt.Fprintf(out, "you said: %s\n%s\n", transcript, reply)
			}
			continue
		}

		reply, err := a.HandleTurn(ctx, line, TurnOptions{Interactive: true})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if reply != "" {
			fmt.Fprintln(out, reply)
		}
	}
}
