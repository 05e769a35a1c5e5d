package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/klarlabs/klar/internal/config"
	"github.com/klarlabs/klar/internal/retriever"
	"github.com/klarlabs/klar/internal/sop"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration and upstream connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("klar doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  SOP catalog:")
	fmt.Printf("    %-12s %s", "Path:", cfg.Storage.SOPPath)
	if cat, loadErr := sop.Load(cfg.Storage.SOPPath); loadErr != nil {
		fmt.Printf(" (LOAD FAILED: %s)\n", loadErr)
	} else if valErr := cat.Validate(); valErr != nil {
		fmt.Printf(" (INVALID: %s)\n", valErr)
	} else {
		fmt.Printf(" (OK, %d intents)\n", len(cat.IntentIDs()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Upstreams:")
	checkHTTP(ctx, "Ollama", cfg.Ollama.Host+"/api/tags")
	checkHTTP(ctx, "Node server", cfg.Node.BaseURL+"/health")

	fmt.Printf("    %-12s", "Qdrant:")
	r := retriever.New(cfg.Qdrant.URL, cfg.Qdrant.EmbedModel, nil, nil)
	if !r.Enabled() {
		fmt.Println(" not configured")
	} else if pingErr := r.Ping(ctx); pingErr != nil {
		fmt.Printf(" UNREACHABLE (%s)\n", pingErr)
	} else {
		fmt.Printf(" OK (%s)\n", cfg.Qdrant.URL)
	}
}

func checkHTTP(ctx context.Context, name, url string) {
	fmt.Printf("    %-12s", name+":")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf(" BAD URL (%s)\n", err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf(" UNREACHABLE (%s)\n", err)
		return
	}
	resp.Body.Close()
	fmt.Printf(" OK (%s, http %d)\n", url, resp.StatusCode)
}
