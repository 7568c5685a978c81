package main

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/spboyer/qbatch/internal/store"
)

func newExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <batch-id>",
		Short: "Export a stored batch as a tar.gz archive",
		Long: `Export writes a batch snapshot as a gzip-compressed tar archive holding
meta.json, entries.json and one logs/ file per captured wave, then marks
the batch downloaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := args[0]
			db, err := openStore()
			if err != nil {
				return err
			}
			snap, err := db.Get(cmd.Context(), batchID)
			if err != nil {
				return err
			}

			if output == "" {
				output = batchID + ".tar.gz"
			}
			if err := writeArchive(output, snap); err != nil {
				return err
			}
			if err := db.MarkDownloaded(cmd.Context(), batchID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Archive path (default <batch-id>.tar.gz)")
	return cmd
}

func writeArchive(path string, snap *store.Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	addJSON := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		return addFile(tw, name, data)
	}

	if err := addJSON("meta.json", snap.Meta); err != nil {
		return err
	}
	if err := addJSON("entries.json", snap.Entries); err != nil {
		return err
	}
	for _, rec := range snap.Logs {
		if err := addFile(tw, "logs/"+rec.FileName, []byte(rec.Content)); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

func addFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
