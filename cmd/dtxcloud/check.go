package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/goodtune/dtxcloud/internal/rollout"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	checkUser       string
	checkFirmware   string
	checkPercentage int
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check rollout decisions interactively",
	Long:  `Check what decisions dtxcloud would make without touching any storage.`,
}

var checkCohortCmd = &cobra.Command{
	Use:   "cohort",
	Short: "Check whether a user falls inside a rollout",
	Long:  `Compute the stable rollout bucket of a user for a firmware version and whether the given percentage admits them.`,
	Example: `  dtxcloud check cohort --user 3f0c... --firmware 9a1b... --percentage 25
  dtxcloud check cohort --user 3f0c... --firmware 9a1b...`,
	Args: cobra.NoArgs,
	RunE: runCheckCohort,
}

func init() {
	checkCohortCmd.Flags().StringVar(&checkUser, "user", "", "User ID (required)")
	checkCohortCmd.Flags().StringVar(&checkFirmware, "firmware", "", "Firmware version ID (required)")
	checkCohortCmd.Flags().IntVar(&checkPercentage, "percentage", 100, "Rollout target percentage (1-100)")
	_ = checkCohortCmd.MarkFlagRequired("user")
	_ = checkCohortCmd.MarkFlagRequired("firmware")

	checkCmd.AddCommand(checkCohortCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckCohort(cmd *cobra.Command, args []string) error {
	if checkPercentage < 1 || checkPercentage > 100 {
		return fmt.Errorf("percentage must be between 1 and 100, got %d", checkPercentage)
	}

	// IDs are hashed verbatim, so a typo silently moves the user.
	for name, id := range map[string]string{"user": checkUser, "firmware": checkFirmware} {
		if _, err := uuid.Parse(id); err != nil {
			color.New(color.FgYellow).Printf("Warning: %s %q is not a UUID\n", name, id)
		}
	}

	bucket := rollout.Bucket(checkUser, checkFirmware)
	printCohortResult(checkUser, checkFirmware, checkPercentage, bucket, rollout.Admitted(checkUser, checkFirmware, checkPercentage))

	return nil
}

// printCohortResult prints the cohort check result with colors
func printCohortResult(userID, firmwareID string, percentage, bucket int, admitted bool) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	_, _ = cyan.Println("ROLLOUT COHORT CHECK")
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("User:       %s\n", userID)
	fmt.Printf("Firmware:   %s\n", firmwareID)
	fmt.Printf("Percentage: %d%%\n", percentage)
	fmt.Printf("Bucket:     %d\n", bucket)
	fmt.Println()

	_, _ = cyan.Print("Decision:   ")
	if admitted {
		_, _ = green.Println("ADMITTED")
		fmt.Println("            → Update offered while the rollout is active")
	} else {
		_, _ = red.Println("EXCLUDED")
		fmt.Printf("            → Admitted once the percentage exceeds %d\n", bucket)
	}

	fmt.Println()
	_, _ = cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
