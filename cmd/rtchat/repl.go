package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/AltairaLabs/rtsession/runtime/audio"
	"github.com/AltairaLabs/rtsession/runtime/session"
)

// sessionControl is the part of session.Controller the command loop drives.
type sessionControl interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(ctx context.Context, text string) error
	SwitchModality(ctx context.Context, to session.Modality) error
	SetGateEnabled(enabled bool)
	SetGateThresholds(micDB, remoteDB float64)
	State() session.State
	StatusMessage() string
	Modality() session.Modality
	GateState() audio.GateState
	CurrentVolume() float64
}

var errQuit = errors.New("quit")

// command is one parsed input line.
type command struct {
	name string
	args []string
	text string
}

// parseCommand splits a slash command from plain text. Blank lines yield a zero command.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{text: line}
	}
	fields := strings.Fields(line)
	return command{name: strings.ToLower(strings.TrimPrefix(fields[0], "/")), args: fields[1:]}
}

// repl reads commands and forwards them to the session.
type repl struct {
	ctrl sessionControl
	out  io.Writer
}

func newREPL(ctrl sessionControl, out io.Writer) *repl {
	return &repl{ctrl: ctrl, out: out}
}

// Run processes lines from in until EOF, /quit or ctx is done.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
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
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			err := r.execute(ctx, parseCommand(line))
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		}
	}
}

func (r *repl) execute(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "":
		if cmd.text == "" {
			return nil
		}
		return r.ctrl.SendText(ctx, cmd.text)
	case "quit", "exit":
		return errQuit
	case "voice":
		return r.ctrl.SwitchModality(ctx, session.ModalityTextAndAudio)
	case "text":
		return r.ctrl.SwitchModality(ctx, session.ModalityText)
	case "start":
		return r.ctrl.Start(ctx)
	case "stop":
		return r.ctrl.Stop()
	case "gate":
		return r.gate(cmd.args)
	case "threshold":
		return r.threshold(cmd.args)
	case "status":
		r.status()
		return nil
	default:
		return fmt.Errorf("unknown command /%s", cmd.name)
	}
}

func (r *repl) gate(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /gate on|off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		r.ctrl.SetGateEnabled(true)
	case "off":
		r.ctrl.SetGateEnabled(false)
	default:
		return errors.New("usage: /gate on|off")
	}
	return nil
}

func (r *repl) threshold(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: /threshold <mic dB> <remote dB>")
	}
	mic, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid mic threshold %q", args[0])
	}
	remote, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid remote threshold %q", args[1])
	}
	r.ctrl.SetGateThresholds(mic, remote)
	return nil
}

func (r *repl) status() {
	g := r.ctrl.GateState()
	fmt.Fprintf(r.out, "state=%s modality=%s volume=%.3f\n", r.ctrl.State(), r.ctrl.Modality(), r.ctrl.CurrentVolume())
	fmt.Fprintf(r.out, "gate enabled=%t open=%t mic=%.1fdB remote=%.1fdB thresholds=%.1f/%.1f\n",
		g.Enabled, g.Open, g.DisplayLevelDB, g.RemoteLevelDB, g.MicThresholdDB, g.RemoteThresholdDB)
	if msg := r.ctrl.StatusMessage(); msg != "" {
		fmt.Fprintf(r.out, "status: %s\n", msg)
	}
}
