// Command tedge-bridge-cli inspects and tests a mapper's compiled bridge
// forwarding table without starting the mapper itself.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thin-edge/tedge-mapper-core/internal/bridge"
	"github.com/thin-edge/tedge-mapper-core/internal/lifecycle"
)

var (
	profile string
	debug   bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr exitCode
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitCode lets a subcommand request a specific process exit status
// (bridge test uses 2 for "no match"). It carries no text of its own: the
// subcommand prints its message to stderr before returning it.
type exitCode int

func (e exitCode) Error() string { return "" }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tedge-bridge-cli",
		Short:         "Inspect and test a mapper's bridge forwarding rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&profile, "profile", "", "mapper profile")

	inspect := &cobra.Command{
		Use:   "inspect <name>",
		Short: "Print the compiled forwarding table for a mapper",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
	inspect.Flags().BoolVar(&debug, "debug", false, "also print rules dropped by if/for evaluation")

	test := &cobra.Command{
		Use:   "test <name> <topic>",
		Short: "Test a concrete topic against a mapper's forwarding table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(args[0], args[1])
		},
	}

	root.AddCommand(inspect, test)
	return root
}

func compileForwarding(name string) (*bridge.ForwardingTable, error) {
	dir := lifecycle.ResolveDir(name, profile)

	layout, err := lifecycle.ScanLayout(dir)
	if err != nil {
		return nil, err
	}
	if !layout.HasTedgeTOML {
		return nil, fmt.Errorf("%s has no tedge.toml, nothing to bridge", dir)
	}

	rulesPath := filepath.Join(dir, "bridge", "rules.toml")
	file, err := bridge.LoadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", rulesPath, err)
	}

	resolver := bridge.NamespaceResolver(layout.TedgeTOML, layout.TedgeTOML, layout.TedgeTOML)
	table, err := bridge.Compile(file, resolver)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", rulesPath, err)
	}
	return table, nil
}

func runInspect(name string) error {
	table, err := compileForwarding(name)
	if err != nil {
		return err
	}

	entries, dropped := table.Inspect(debug)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	out := map[string]interface{}{"entries": entries}
	if debug {
		out["dropped"] = dropped
	}
	return enc.Encode(out)
}

func runTest(name, topic string) error {
	table, err := compileForwarding(name)
	if err != nil {
		return err
	}

	matches, err := table.Test(topic)
	if err != nil {
		if errors.Is(err, bridge.ErrNoMatch) {
			fmt.Fprintln(os.Stderr, err)
			return exitCode(2)
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(matches)
}
