// Command feedtail subscribes to a node's event feed and prints every
// event as one line on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"VeriStake/internal/events"
	"VeriStake/internal/feed"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run tails the feed until the stream ends or a signal arrives.
func run() error {
	var (
		addr string
		from uint64
	)

	flag.StringVar(&addr, "addr", "localhost:9000", "Feed address of the node")
	flag.Uint64Var(&from, "from", 1, "First sequence to print")
	flag.Parse()

	sub, err := feed.Subscribe(context.Background(), addr, from)
	if err != nil {
		return fmt.Errorf("subscribe:\n%w", err)
	}
	defer sub.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		sub.Close()
	}()

	for ev := range sub.Events() {
		printEvent(ev)
	}

	if err := sub.Err(); err != nil {
		return fmt.Errorf("feed:\n%w", err)
	}

	return nil
}

// printEvent writes one event as a single line.
func printEvent(ev events.Event) {
	ts := time.Unix(int64(ev.Timestamp), 0).UTC().Format(time.RFC3339)

	fmt.Printf("%d %s %s actor=%s subject=%s amount=%d aux=%d uuid=%s\n",
		ev.Seq, ts, ev.Kind, ev.Actor, ev.Subject, ev.Amount, ev.Aux, ev.UUID)
}
