// Command dumpsyms reads a Microsoft PDB file and writes its Breakpad
// symbol-file representation to stdout (or a file, with -o).
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/luser/dump-syms/breakpad"
	"github.com/luser/dump-syms/pdb"
	"github.com/spf13/cobra"
)

var (
	platform    string
	outputPath  string
	pathFilters []string
)

var rootCmd = &cobra.Command{
	Use:   "dumpsyms <pdb-file>",
	Short: "Dump a PDB file as a Breakpad symbol file",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	log.SetFlags(0)

	rootCmd.Flags().StringVar(&platform, "platform", "", "override the auto-detected platform (x86, x86_64, arm, arm64, ppc64, unknown)")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write output to file instead of stdout")
	rootCmd.Flags().StringArrayVar(&pathFilters, "path-filter", nil, "rewrite FILE paths with the given old=new prefix (repeatable)")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pdbPath := args[0]

	f, err := pdb.Open(pdbPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := os.Stdout
	if outputPath != "" {
		out, err := os.Create(outputPath)
		if err != nil {
			return err
		}
		defer out.Close()
		return breakpad.Emit(ctx, f, pdbPath, out, buildOptions())
	}

	return breakpad.Emit(ctx, f, pdbPath, w, buildOptions())
}

func buildOptions() breakpad.Options {
	opts := breakpad.Options{Platform: platform}
	for _, filter := range pathFilters {
		from, to, ok := strings.Cut(filter, "=")
		if !ok {
			continue
		}
		opts.PathFilters = append(opts.PathFilters, breakpad.PathFilter{From: from, To: to})
	}
	return opts
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("dumpsyms: %v", err)
		os.Exit(1)
	}
}
