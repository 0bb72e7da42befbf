package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamd/internal/provider"
	"github.com/opencode-ai/streamd/internal/session"
)

var (
	sessionDir    string
	sessionTitle  string
	sessionModel  string
	sessionFormat string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workDir, err := GetWorkDir(sessionDir)
		if err != nil {
			return err
		}
		a, err := newApp(workDir, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		sessions, err := a.service.List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if sessionFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tMODEL\tUPDATED")
		for _, s := range sessions {
			updated := time.UnixMilli(s.Time.Updated).Format(time.DateTime)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Title, s.Model(), updated)
		}
		return tw.Flush()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and print its id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workDir, err := GetWorkDir(sessionDir)
		if err != nil {
			return err
		}
		a, err := newApp(workDir, appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		params := session.CreateParams{Directory: workDir, Title: sessionTitle}
		if sessionModel != "" {
			params.ProviderID, params.ModelID = provider.ParseModelString(sessionModel)
			if params.ProviderID == "" {
				return fmt.Errorf("model must be provider/model, got %q", sessionModel)
			}
		}

		s, err := a.service.Create(cmd.Context(), params)
		if err != nil {
			return err
		}
		if sessionFormat == "json" {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(s)
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.ID)
		return nil
	},
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&sessionDir, "directory", "", "Working directory")
	sessionCmd.PersistentFlags().StringVar(&sessionFormat, "format", "default", "Output format (default|json)")
	sessionCreateCmd.Flags().StringVar(&sessionTitle, "title", "", "Session title")
	sessionCreateCmd.Flags().StringVarP(&sessionModel, "model", "m", "", "Model to use (provider/model format)")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
}
