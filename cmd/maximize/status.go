package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwbudde/maximizer/internal/server"
	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Query server status or specific run",
	Long: `Queries the server for run status information.
If no run-id is provided, lists all runs.
If run-id is provided, shows detailed status for that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if len(args) == 0 {
		return listJobs(w, fmt.Sprintf("%s/api/v1/runs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(w, fmt.Sprintf("%s/api/v1/runs/%s", serverURL, jobID), jobID)
}

// getJSON fetches url and decodes the response into v
func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(w io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return nil
	}

	fmt.Fprintf(w, "Found %d run(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(w, "Run ID: %s\n", job.ID)
		fmt.Fprintf(w, "  State: %s\n", job.State)
		fmt.Fprintf(w, "  Params: %d\n", len(job.Config.Model.Params))
		fmt.Fprintf(w, "  Attempts: %d\n", job.Attempts)
		if job.Maximum != nil {
			fmt.Fprintf(w, "  Maximum: %g (%s)\n", job.Maximum.Value(), job.Maximum.Kind)
		}
		fmt.Fprintln(w)
	}

	return nil
}

// jobStatus mirrors the server's status response
type jobStatus struct {
	server.Job
	Elapsed float64 `json:"elapsed"`
}

func getJobStatus(w io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("run not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	// Display status
	fmt.Fprintf(w, "Run: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	fmt.Fprintln(w)

	cfg := status.Config
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Params: %d\n", len(cfg.Model.Params))
	fmt.Fprintf(w, "  Likelihoods: %d\n", len(cfg.Model.Likelihoods))
	fmt.Fprintf(w, "  Method: %s\n", cfg.Sampler.Method)
	fmt.Fprintf(w, "  Max tries: %d\n", cfg.Sampler.MaxTries)
	fmt.Fprintf(w, "  Participants: %d\n", cfg.Parallel.Participants)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Attempts: %d\n", status.Attempts)
	if status.Attempts > 0 {
		fmt.Fprintf(w, "  Last objective: %g\n", float64(status.LastObjective))
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Maximum != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "log%s maximized at %g\n", status.Maximum.Kind, status.Maximum.Value())
		for i, name := range status.Maximum.ParamNames {
			fmt.Fprintf(w, "  %s = %g\n", name, status.Maximum.X[i])
		}
		fmt.Fprintf(w, "Directory: %s\n", status.RunDir)
	}

	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}

	return nil
}
