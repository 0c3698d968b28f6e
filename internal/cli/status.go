package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator status",
	RunE:  runStatus,
}

type statusResponse struct {
	SubAgents []struct {
		ID     string `json:"id"`
		Task   string `json:"task"`
		Repo   string `json:"repo"`
		Status string `json:"status"`
	} `json:"subAgents"`
	ParallelQueue queue.Snapshot `json:"parallelQueue"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	printHeader("voxd status")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/status", cfg.Server.Port)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Server.Secret)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Println("Orchestrator: " + color.RedString("not running") + " (" + url + ")")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Orchestrator: %s (HTTP %d)\n", color.RedString("error"), resp.StatusCode)
		return nil
	}

	var st statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Println("Orchestrator: " + color.GreenString("running"))
	fmt.Printf("Queued tasks: %d\n", st.ParallelQueue.TotalQueued)
	fmt.Printf("Active repos: %d / %d\n", st.ParallelQueue.ActiveRepos, st.ParallelQueue.MaxConcurrentRepos)
	for _, repo := range st.ParallelQueue.ProcessingRepos {
		fmt.Println("  processing: " + color.YellowString(repo))
	}
	for _, rq := range st.ParallelQueue.RepoQueues {
		if rq.Queued > 0 {
			fmt.Printf("  %s: %d queued\n", rq.RepoKey, rq.Queued)
		}
	}
	if len(st.SubAgents) > 0 {
		fmt.Println("Sessions:")
		for _, sa := range st.SubAgents {
			fmt.Printf("  %s  %s\n", sa.Repo, sa.Status)
		}
	}
	return nil
}
