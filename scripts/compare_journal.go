//go:build ignore

package main

import (
	"fmt"
	"os"

	"VeriStake/internal/events"
	"VeriStake/internal/storage"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <data1_path> <data2_path>\n", os.Args[0])
		os.Exit(1)
	}

	path1 := os.Args[1]
	path2 := os.Args[2]

	journal1, close1 := openJournal(path1)
	defer close1()

	journal2, close2 := openJournal(path2)
	defer close2()

	head1 := journal1.Head()
	head2 := journal2.Head()

	fmt.Printf("Journal 1 (%s): %d events\n", path1, head1)
	fmt.Printf("Journal 2 (%s): %d events\n", path2, head2)

	shared := head1
	if head2 < shared {
		shared = head2
	}

	// Compare the shared range
	diverged := compare(journal1, journal2, shared)

	if head1 == head2 && len(diverged) == 0 {
		fmt.Println("\n✓ Journals are identical!")
		os.Exit(0)
	}

	fmt.Println("\n✗ Journals differ:")

	if head1 != head2 {
		fmt.Printf("  - Heads differ: %d vs %d\n", head1, head2)
	}

	if len(diverged) > 0 {
		fmt.Printf("  - Events with different content: %d\n", len(diverged))
		for _, seq := range diverged {
			fmt.Printf("      seq %d\n", seq)
		}
	}

	os.Exit(1)
}

func openJournal(path string) (*events.Journal, func()) {
	store, err := storage.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}

	journal, err := events.OpenJournal(store)
	if err != nil {
		store.Close()
		fmt.Fprintf(os.Stderr, "open journal %s: %v\n", path, err)
		os.Exit(1)
	}

	return journal, func() { store.Close() }
}

func compare(journal1, journal2 *events.Journal, upto uint64) []uint64 {
	var diverged []uint64

	const page = 1024
	for from := uint64(1); from <= upto; {
		limit := page
		if remaining := upto - from + 1; remaining < uint64(limit) {
			limit = int(remaining)
		}

		batch1 := readPage(journal1, from, limit)
		batch2 := readPage(journal2, from, limit)

		if len(batch1) != len(batch2) {
			fmt.Fprintf(os.Stderr, "read mismatch at seq %d: %d vs %d events\n", from, len(batch1), len(batch2))
			os.Exit(1)
		}
		if len(batch1) == 0 {
			break
		}

		for i := range batch1 {
			if batch1[i] != batch2[i] {
				diverged = append(diverged, batch1[i].Seq)
			}
		}

		from = batch1[len(batch1)-1].Seq + 1
	}

	return diverged
}

func readPage(journal *events.Journal, from uint64, limit int) []events.Event {
	batch, err := journal.ReadSince(from, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read events from %d: %v\n", from, err)
		os.Exit(1)
	}
	return batch
}
