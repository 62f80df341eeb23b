package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/RichardKnop/blockfile"
)

const (
	cliName string = "blockfile-check"

	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(cliName, flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		configFlag   = flags.String("config", "", "ini file with a [blockfile] section")
		logLevelFlag = flags.String("log-level", "", "log level: debug, info, warn, error (default: $LOG_LEVEL or info)")
	)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [-config file.ini] [-log-level level] <path>\n", cliName)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() > 1 {
		flags.Usage()
		return exitUsage
	}

	config, err := loadConfig(*configFlag, flags.Arg(0), *logLevelFlag)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %s\n", cliName, err)
		return exitUsage
	}
	if config.FilePath == "" {
		flags.Usage()
		return exitUsage
	}

	if err := check(config, stdout); err != nil {
		fmt.Fprintf(stderr, "%s: %s\n", cliName, err)
		return exitError
	}
	return exitOK
}

func loadConfig(configFile, path, logLevel string) (*blockfile.ConnectionConfig, error) {
	config := blockfile.DefaultConnectionConfig(path)
	config.LogLevel = "info"
	if configFile != "" {
		var err error
		config, err = blockfile.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		if path != "" {
			config.FilePath = path
		}
	}

	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	// The check below is the only repair pass.
	config.CheckOnDirty = false

	return config, nil
}

func check(config *blockfile.ConnectionConfig, stdout io.Writer) (err error) {
	bf, err := blockfile.OpenConfig(config)
	if err != nil {
		return fmt.Errorf("open %s: %w", config.FilePath, err)
	}
	defer func() {
		if cerr := bf.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", config.FilePath, cerr)
		}
	}()

	modified, err := bf.Check(bf.Writable())
	if err != nil {
		return fmt.Errorf("check %s: %w", config.FilePath, err)
	}

	stats, err := bf.Stats()
	if err != nil {
		return fmt.Errorf("stats %s: %w", config.FilePath, err)
	}
	printStats(stdout, config.FilePath, stats, modified)

	return nil
}

func printStats(w io.Writer, path string, stats blockfile.Stats, modified bool) {
	fmt.Fprintf(w, "file:             %s\n", path)
	fmt.Fprintf(w, "was mounted:      %t\n", stats.WasMounted)
	fmt.Fprintf(w, "repaired:         %t\n", modified)
	fmt.Fprintf(w, "span size:        %d\n", stats.SpanSize)
	fmt.Fprintf(w, "total pages:      %d\n", stats.TotalPages)
	fmt.Fprintf(w, "used pages:       %d\n", stats.UsedPages())
	fmt.Fprintf(w, "free pages:       %d\n", stats.FreePages)
	fmt.Fprintf(w, "free list blocks: %d\n", stats.FreeListBlocks)
	fmt.Fprintf(w, "metaindex pages:  %d\n", stats.MetaIndexPages)

	names := make([]string, 0, len(stats.IndexPages))
	for name := range stats.IndexPages {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "indices:          %d\n", len(names))
	for _, name := range names {
		fmt.Fprintf(w, "  %-30s %d pages\n", name, stats.IndexPages[name])
	}

	if lost := int(stats.TotalPages) - stats.UsedPages() - stats.FreePages; lost != 0 {
		fmt.Fprintf(w, "unaccounted:      %d\n", lost)
	}
}
