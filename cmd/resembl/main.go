package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maci0/resembl"
)

// Exit codes: 0 success, 1 user error, 2 integrity error, 3 cancelled,
// 4 unexpected.
const (
	exitSuccess  = 0
	exitUserErr  = 1
	exitIntegrity = 2
	exitUnexpect = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUserErr)
	}

	dataDir := getDataDir()
	engine, err := resembl.New(resembl.Config{Paths: []string{dataDir}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitUnexpect)
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitUnexpect)
	}
	defer engine.CloseWithoutContext()

	switch os.Args[1] {
	case "add":
		cmdAdd(engine, os.Args[2:])
	case "get":
		cmdGet(engine, os.Args[2:])
	case "find":
		cmdFind(engine, os.Args[2:])
	case "compare":
		cmdCompare(engine, os.Args[2:])
	case "reindex":
		cmdReindex(engine)
	case "stats":
		cmdStats(engine)
	case "clean":
		cmdClean(engine)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(exitUserErr)
	}
}

func usage() {
	fmt.Println("Usage: resembl <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  add <name> <file>")
	fmt.Println("  get <checksum-prefix-or-name>")
	fmt.Println("  find <file> [top_n] [threshold]")
	fmt.Println("  compare <checksum-a> <checksum-b>")
	fmt.Println("  reindex")
	fmt.Println("  stats")
	fmt.Println("  clean")
}

func getDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: resolving home directory: %v\n", err)
		os.Exit(exitUnexpect)
	}
	dir := filepath.Join(home, ".resembl", "data")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitUnexpect)
	}
	return dir
}

func cmdAdd(engine *resembl.Engine, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: resembl add <name> <file>")
		os.Exit(exitUserErr)
	}
	code, err := os.ReadFile(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitUserErr)
	}

	checksum, outcome, err := engine.Add(args[0], string(code))
	if err != nil {
		exitForError(err)
	}
	fmt.Printf("%s %s\n", outcome, checksum.String())
}

func cmdGet(engine *resembl.Engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: resembl get <checksum-prefix-or-name>")
		os.Exit(exitUserErr)
	}
	snippet, err := engine.Lookup(args[0])
	if err != nil {
		exitForError(err)
	}
	snippet.PrettyPrint()
}

func cmdFind(engine *resembl.Engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: resembl find <file> [top_n] [threshold]")
		os.Exit(exitUserErr)
	}
	code, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitUserErr)
	}

	topN := 5
	if len(args) > 1 {
		fmt.Sscanf(args[1], "%d", &topN)
	}
	threshold := 0.5
	if len(args) > 2 {
		fmt.Sscanf(args[2], "%g", &threshold)
	}

	matches, err := engine.Find(string(code), topN, threshold)
	if err != nil {
		exitForError(err)
	}
	for _, m := range matches {
		fmt.Printf("%s hybrid=%.2f jaccard=%.3f levenshtein=%.2f\n", m.Checksum.String(), m.Hybrid, m.Jaccard, m.Levenshtein)
	}
}

func cmdCompare(engine *resembl.Engine, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: resembl compare <checksum-a> <checksum-b>")
		os.Exit(exitUserErr)
	}
	result, err := engine.Compare(args[0], args[1])
	if err != nil {
		exitForError(err)
	}
	fmt.Printf("hybrid=%.2f jaccard=%.3f levenshtein=%.2f cfg=%.3f shared_tokens=%d\n",
		result.Hybrid, result.Jaccard, result.Levenshtein, result.CFGSimilarity, result.SharedTokens)
}

func cmdReindex(engine *resembl.Engine) {
	if err := engine.Reindex(); err != nil {
		exitForError(err)
	}
	fmt.Println("reindex complete")
}

func cmdStats(engine *resembl.Engine) {
	stats, err := engine.Stats()
	if err != nil {
		exitForError(err)
	}
	fmt.Printf("snippets=%d mean_tokens=%.1f vocabulary=%d mean_pairwise_jaccard=%.3f\n",
		stats.NumSnippets, stats.MeanTokenCount, stats.VocabularySize, stats.MeanPairwiseJaccard)
}

func cmdClean(engine *resembl.Engine) {
	if err := engine.Clean(); err != nil {
		exitForError(err)
	}
	fmt.Println("clean complete")
}

func exitForError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if resembl.IsKind(err, resembl.CorruptCache) {
		os.Exit(exitIntegrity)
	}
	os.Exit(exitUserErr)
}
