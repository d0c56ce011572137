// Command ctlctl sends one Light CTL command to a node and prints the host
// events it reports back. Without -port it runs the node in-process against
// the simulated stack.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"mesh-ctl-client/internal/ctl"
	"mesh-ctl-client/internal/hci"
	"mesh-ctl-client/internal/node"
	"mesh-ctl-client/internal/simstack"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "ctlctl:", err)
		os.Exit(1)
	}
}

type options struct {
	port        string
	baud        int
	command     string
	request     string
	timeout     time.Duration
	provisioned bool
	list        bool
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("ctlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.port, "port", "", "serial port of the node (empty runs a simulated node)")
	fs.IntVar(&opts.baud, "baud", 115200, "serial baud rate")
	fs.StringVar(&opts.command, "cmd", "get", "command name ("+strings.Join(ctl.CommandNames(), ", ")+")")
	fs.StringVar(&opts.request, "req", "", `JSON request, e.g. {"dst":16,"lightness":1000}`)
	fs.DurationVar(&opts.timeout, "timeout", 2*time.Second, "how long to wait for events")
	fs.BoolVar(&opts.provisioned, "provisioned", true, "start the simulated node provisioned")
	fs.BoolVar(&opts.list, "list", false, "list command names and exit")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.list {
		for _, name := range ctl.CommandNames() {
			op, _ := ctl.CommandOpcode(name)
			fmt.Fprintf(stdout, "%-22s 0x%04X\n", name, op)
		}
		return nil
	}

	opcode, data, err := ctl.EncodeRequest(opts.command, []byte(opts.request))
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	out := &printer{enc: json.NewEncoder(stdout)}

	if opts.port != "" {
		return runSerial(opts, opcode, data, out, logger)
	}
	return runSim(opts, opcode, data, out, logger)
}

// printer writes decoded host events as JSON lines.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
	n   int
}

// SendData implements mesh.HostTransport for the in-process node.
func (p *printer) SendData(opcode uint16, data []byte) error {
	ev, err := ctl.DecodeEvent(opcode, data)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	return p.enc.Encode(ev)
}

func (p *printer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func runSerial(opts *options, opcode uint16, data []byte, out *printer, logger *slog.Logger) error {
	link, err := hci.Open(opts.port, opts.baud, logger)
	if err != nil {
		return err
	}
	defer link.Close()

	link.OnFrame(func(op uint16, payload []byte) {
		if err := out.SendData(op, payload); err != nil {
			logger.Warn("skip frame", "opcode", fmt.Sprintf("0x%04X", op), "err", err)
		}
	})
	if err := link.SendData(opcode, data); err != nil {
		return err
	}
	time.Sleep(opts.timeout)
	return nil
}

func runSim(opts *options, opcode uint16, data []byte, out *printer, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	rt := node.NewRuntime(logger)
	stack := simstack.New(simstack.Config{}, rt, logger)
	rt.Attach(ctl.NewApp(stack, out, logger))

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := rt.Start(opts.provisioned); err != nil {
		return err
	}
	handled, err := rt.Submit(ctx, opcode, data)
	if err != nil {
		return err
	}
	if !handled {
		return fmt.Errorf("%s not handled by node", opts.command)
	}

	// Wait until the events stop or the timeout expires.
	last, quiet := out.count(), 0
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for quiet < 5 {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if n := out.count(); n != last {
			last, quiet = n, 0
		} else {
			quiet++
		}
	}
	return nil
}
