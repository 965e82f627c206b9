package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dstanton/tiller/safety"
)

// terminalDecider collects approve/modify/reject decisions from the
// interactive terminal.
type terminalDecider struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalDecider(in io.Reader, out io.Writer) *terminalDecider {
	return &terminalDecider{in: bufio.NewReader(in), out: out}
}

// Present renders the preview and blocks until the user answers. Context
// cancellation counts as reject.
func (d *terminalDecider) Present(ctx context.Context, p safety.Preview) (safety.Decision, error) {
	fmt.Fprintln(d.out)
	fmt.Fprint(d.out, p.Render())

	for {
		if ctx.Err() != nil {
			return safety.Decision{}, ctx.Err()
		}
		fmt.Fprint(d.out, "[a]pprove / [m]odify / [r]eject? ")

		line, err := d.in.ReadString('\n')
		if err != nil {
			return safety.Decision{}, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a", "approve", "y", "yes":
			return safety.Decision{Kind: safety.DecisionApprove}, nil
		case "r", "reject", "n", "no":
			return safety.Decision{Kind: safety.DecisionReject}, nil
		case "m", "modify":
			args, err := d.readArgs()
			if err != nil {
				fmt.Fprintf(d.out, "could not parse arguments: %v\n", err)
				continue
			}
			return safety.Decision{Kind: safety.DecisionModify, NewArgs: args}, nil
		default:
			fmt.Fprintln(d.out, "please answer a, m, or r")
		}
	}
}

// readArgs reads one line of JSON as the replacement argument map.
func (d *terminalDecider) readArgs() (map[string]any, error) {
	fmt.Fprint(d.out, "new arguments as JSON: ")
	line, err := d.in.ReadString('\n')
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &args); err != nil {
		return nil, err
	}
	return args, nil
}
