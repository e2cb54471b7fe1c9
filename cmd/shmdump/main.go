// Command shmdump inspects a shared-memory metrics store the way an
// out-of-process consumer does: it attaches both segments read-only, prints
// the header and every published index entry with its current value, and can
// archive compressed snapshots of the raw segments for offline analysis.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/s2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pcpkit/shmstats/store"
)

const version = "1.0.0"

var (
	keyFilePath string
	identifier  string
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shmdump <name>",
		Short: "Dump a shared-memory metrics store",
		Long: `shmdump attaches the index and data segments of a metrics store
read-only and prints the header plus every published entry.

Examples:
  shmdump soapxml                      # dump /var/tmp/soapxml.metrics
  shmdump --path /run/metrics soapxml  # custom rendezvous directory
  shmdump snapshot soapxml --out /tmp  # archive raw segments`,
		Args:    cobra.ExactArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0])
		},
	}

	rootCmd.PersistentFlags().StringVar(&keyFilePath, "path", "/var/tmp", "Directory holding the rendezvous file")
	rootCmd.PersistentFlags().StringVar(&identifier, "identifier", "metrics", "Rendezvous file suffix")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug output")

	viper.SetEnvPrefix("SHMDUMP")
	viper.AutomaticEnv()

	rootCmd.AddCommand(newSnapshotCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

func openStore(name string) (*store.Store, error) {
	return store.Open(store.Config{
		Path:     filepath.Join(keyFilePath, name+"."+identifier),
		Version:  1,
		ReadOnly: true,
		Logger:   newLogger(),
	})
}

func runDump(cmd *cobra.Command, name string) error {
	s, err := openStore(name)
	if err != nil {
		return err
	}
	defer s.Close()

	header, err := s.Header()
	if err != nil {
		return err
	}

	cmd.Printf("Store     = %s\n", s.Path())
	cmd.Printf("Version   = %d\n", header.Version)
	cmd.Printf("Entries   = %d (next index offset %d)\n", header.EntryCount(), header.NextIndexOffset)
	cmd.Printf("Data used = %d bytes\n\n", header.NextDataOffset)

	entries, err := s.Entries()
	if err != nil {
		return err
	}

	for i, entry := range entries {
		value, err := s.ReadValue(entry)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		cmd.Printf("[%3d] cluster=%d item=%d instance=%d type=%c offset=%d length=%d value=%d\n",
			i, entry.Cluster, entry.Item, entry.Instance, entry.TypeCode, entry.Offset, entry.Length, value)
	}

	return nil
}

func newSnapshotCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "snapshot <name>",
		Short: "Write s2-compressed snapshots of both raw segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd, args[0], outDir)
		},
	}

	cmd.Flags().StringVar(&outDir, "out", ".", "Directory to write snapshot files into")

	return cmd
}

func runSnapshot(cmd *cobra.Command, name string, outDir string) error {
	s, err := openStore(name)
	if err != nil {
		return err
	}
	defer s.Close()

	index, data, err := s.Snapshot()
	if err != nil {
		return err
	}

	for _, part := range []struct {
		suffix string
		raw    []byte
	}{
		{"index", index},
		{"data", data},
	} {
		path := filepath.Join(outDir, fmt.Sprintf("%s.%s.s2", name, part.suffix))
		if err := writeCompressed(path, part.raw); err != nil {
			return err
		}
		cmd.Printf("wrote %s (%d bytes raw)\n", path, len(part.raw))
	}

	return nil
}

func writeCompressed(path string, raw []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := s2.NewWriter(f)
	if _, err := w.Write(raw); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
