package main

import (
	"context"
	"fmt"

	"github.com/common-nighthawk/go-figure"
	paros "github.com/parosapp/paros-go"
	"github.com/parosapp/paros-go/docstore"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the document backend's tables",
	Long:  `Bootstrap the paros_* tables on the configured document backend. Running it against existing tables is harmless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		displayBanner()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := paros.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = b.Close(context.Background()) }()

		doc, ok := b.(*docstore.Backend)
		if !ok {
			return errors.Errorf("init applies to the document backend, the configured kind is %q", b.Kind())
		}
		if err := doc.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Println("schema ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func displayBanner() {
	figure.NewFigure("paros", "cybermedium", true).Print()
	fmt.Println()
}
