// Package main is the jobsync command: the backend-for-frontend server and
// its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jobsync",
	Short: "Job seeker interaction state service",
	Long:  "jobsync keeps saved and applied state for job seekers in sync with the marketplace API and serves the views the job pages render.",
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
