// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/absmach/syncmq/client"
)

const (
	defaultQueue   = "42"
	defaultMessage = "hello, there!"
)

const usage = `usage: syncmqctl [global flags] <command> [flags] [args]

commands:
  create    create a queue (idempotent)
  delete    delete a queue
  send      create the queue if needed and send a message, waiting for its ack
  receive   create the queue if needed, receive one message and ack it
  ack       acknowledge the last received message
  list      list queues

global flags:
`

type globals struct {
	server   string
	protocol string
	timeout  time.Duration
	compress bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "syncmqctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("syncmqctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&g.server, "server", client.DefaultServer, "API server base URL")
	fs.StringVar(&g.protocol, "protocol", string(client.ProtocolConnect), "wire protocol: connect | grpc | grpcweb")
	fs.DurationVar(&g.timeout, "timeout", 0, "per-call timeout (0 waits forever)")
	fs.BoolVar(&g.compress, "gzip", false, "gzip request bodies")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	c, err := client.New(client.NewOptions().
		SetServer(g.server).
		SetProtocol(client.Protocol(g.protocol)).
		SetRequestTimeout(g.timeout).
		SetCompress(g.compress))
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "create":
		return runCreate(ctx, c, rest, out)
	case "delete":
		return runDelete(ctx, c, rest, out)
	case "send":
		return runSend(ctx, c, rest, out)
	case "receive":
		return runReceive(ctx, c, rest, out)
	case "ack":
		return runAck(ctx, c, rest, out)
	case "list":
		return runList(ctx, c, rest, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func queueFlags(name string, out io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	id := fs.String("queue", defaultQueue, "queue identifier")
	return fs, id
}

func runCreate(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs, id := queueFlags("create", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, created, err := c.Create(ctx, *id)
	if err != nil {
		return fmt.Errorf("create queue %q: %w", *id, err)
	}
	if created {
		fmt.Fprintf(out, "queue %s created\n", *id)
	} else {
		fmt.Fprintf(out, "queue %s already exists\n", *id)
	}
	return nil
}

func runDelete(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs, id := queueFlags("delete", out)
	force := fs.Bool("force", false, "close the queue even if callers are blocked on it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := c.Delete(ctx, *id, *force); err != nil {
		return fmt.Errorf("delete queue %q: %w", *id, err)
	}
	fmt.Fprintf(out, "queue %s deleted\n", *id)
	return nil
}

func runSend(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs, id := queueFlags("send", out)
	del := fs.Bool("delete", false, "delete the queue after the message is acknowledged")
	if err := fs.Parse(args); err != nil {
		return err
	}

	message := defaultMessage
	if fs.NArg() > 0 {
		message = fs.Arg(0)
	}

	if _, _, err := c.Create(ctx, *id); err != nil {
		return fmt.Errorf("create queue %q: %w", *id, err)
	}

	r, err := c.Send(ctx, *id, []byte(message))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintf(out, "message %s acknowledged (len:%d, round trip %s)\n", r.MessageID, r.Size, r.RoundTrip)

	if *del {
		if err := c.Delete(ctx, *id, false); err != nil {
			return fmt.Errorf("delete queue %q: %w", *id, err)
		}
	}
	return nil
}

func runReceive(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs, id := queueFlags("receive", out)
	capacity := fs.Int("capacity", client.DefaultReceiveCapacity, "receive buffer size in bytes")
	noAck := fs.Bool("no-ack", false, "leave the message unacknowledged")
	del := fs.Bool("delete", false, "delete the queue after acknowledging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, _, err := c.Create(ctx, *id); err != nil {
		return fmt.Errorf("create queue %q: %w", *id, err)
	}

	payload, _, err := c.Receive(ctx, *id, *capacity)
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}

	if !*noAck {
		if _, err := c.Ack(ctx, *id); err != nil {
			return fmt.Errorf("ack: %w", err)
		}
	}
	if *del {
		if err := c.Delete(ctx, *id, false); err != nil {
			return fmt.Errorf("delete queue %q: %w", *id, err)
		}
	}

	fmt.Fprintf(out, ">>> Received message (len:%d): %s\n", len(payload), payload)
	return nil
}

func runAck(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs, id := queueFlags("ack", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := c.Ack(ctx, *id)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	fmt.Fprintf(out, "message %s acknowledged\n", r.MessageID)
	return nil
}

func runList(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(out)
	prefix := fs.String("prefix", "", "only list queues whose id starts with prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	queues, err := c.List(ctx, *prefix)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPENDING\tWAITERS\tSENT\tACKED")
	for _, q := range queues {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n", q.ID, q.State, q.PendingBytes, q.Waiters, q.Sent, q.Acked)
	}
	return tw.Flush()
}
