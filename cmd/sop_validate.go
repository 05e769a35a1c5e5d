package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/klarlabs/klar/internal/config"
	"github.com/klarlabs/klar/internal/sop"
)

func sopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sop",
		Short: "Inspect the troubleshooting catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Load the SOP catalog and check step graph consistency",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			runSOPValidate(path)
		},
	})
	return cmd
}

func runSOPValidate(path string) {
	if path == "" {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			fmt.Printf("config load failed: %s\n", err)
			os.Exit(1)
		}
		path = cfg.Storage.SOPPath
	}

	cat, err := sop.Load(path)
	if err != nil {
		fmt.Printf("%s: load failed: %s\n", path, err)
		os.Exit(1)
	}
	if err := cat.Validate(); err != nil {
		fmt.Printf("%s: INVALID: %s\n", path, err)
		os.Exit(1)
	}

	ids := cat.IntentIDs()
	fmt.Printf("%s: OK (%d intents: %s)\n", path, len(ids), strings.Join(ids, ", "))
	for _, id := range ids {
		flow := cat.Flow(id)
		fmt.Printf("  %-8s %d steps\n", id, len(flow.Steps))
	}
}
