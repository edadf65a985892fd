package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/export"
)

var exportOutPath string

var exportCmd = &cobra.Command{
	Use:   "export <box-id>",
	Short: "Write a box risk report as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		boxID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		path := exportOutPath
		if path == "" {
			name := fmt.Sprintf("risk-%s-%s.xlsx", boxID, time.Now().UTC().Format("2006-01-02"))
			path = filepath.Join(cfg.Export.Dir, name)
		}

		if err := export.NewExporter(st).WriteBoxReport(ctx, boxID, path); err != nil {
			return eris.Wrap(err, "export box report")
		}

		zap.L().Info("export complete",
			zap.String("box", boxID),
			zap.String("path", path),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOutPath, "out", "", "output path (default <export.dir>/risk-<box>-<date>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
