//go:build ignore

package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"

	"parallax/internal/journal"
)

// Verifies the tamper-evidence IDs of a journal archive: every entry's
// stored blake3 ID must match a fresh hash of its record bytes.
//
// Usage: go run scripts/verify_journal.go <archive_file>
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <archive_file>\n", os.Args[0])
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read archive: %v\n", err)
		os.Exit(1)
	}

	doc, err := journal.DecodeArchive(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode archive: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("archive created %s: %d validations, %d conservations\n",
		doc.CreatedAt.Format("2006-01-02 15:04:05"),
		len(doc.Validations), len(doc.Conservations))

	bad := 0
	bad += verify(doc.Validations)
	bad += verify(doc.Conservations)

	if bad > 0 {
		fmt.Printf("\n✗ %d tampered entries\n", bad)
		os.Exit(1)
	}

	fmt.Println("\n✓ all entries verify")
}

// verify recomputes each entry's record hash and reports mismatches.
func verify(entries []journal.Entry) int {
	bad := 0

	for _, e := range entries {
		sum := blake3.Sum256(e.Record)
		if hex.EncodeToString(sum[:]) != e.ID {
			fmt.Printf("  tampered: %s seq %d\n", e.Kind, e.Seq)
			bad++
		}
	}

	return bad
}
