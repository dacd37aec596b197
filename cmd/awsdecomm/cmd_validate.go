package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the handler settings without contacting any service",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	settings, profile, err := loadProfile()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "settings section %q is valid\n", profile.Name)
	_, _ = fmt.Fprintf(out, "  monitoring API: %s\n", settings.API.URL())
	for _, account := range profile.AWS {
		_, _ = fmt.Fprintf(out, "  aws account:    %s (%s)\n", account.Label, account.Region)
	}
	for _, org := range profile.Chef {
		_, _ = fmt.Fprintf(out, "  chef org:       %s\n", org.ServerURL)
	}
	_, _ = fmt.Fprintf(out, "  mail:           %s -> %v via %s:%d\n",
		profile.MailFrom, profile.Recipients(), profile.SMTPAddress, profile.SMTPPort)
	_, _ = fmt.Fprintf(out, "  retry:          %d attempt(s), %s apart\n", profile.Retry.Attempts, profile.Retry.Delay)
	return nil
}
