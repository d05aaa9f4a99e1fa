package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/threateye/internal/api/client"
)

func apiClient() *client.APIClient {
	baseURL := viper.GetString("api_url")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return client.New(baseURL, viper.GetString("token"))
}

// NewLoginCommand authenticates against the API and stores the token.
func NewLoginCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to the ThreatEye API",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")

			token, err := apiClient().Login(username, password)
			if err != nil {
				return fmt.Errorf("login failed: %v", err)
			}
			viper.Set("token", token)
			if err := viper.WriteConfig(); err != nil {
				fmt.Printf("Warning: failed to save token: %v\n", err)
			}
			fmt.Println("Login successful")
			return nil
		},
	}
	cmd.Flags().String("username", "", "username")
	cmd.Flags().String("password", "", "password")
	return cmd
}

// NewAlertsCommand lists alert events.
func NewAlertsCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alert events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := apiClient().ListAlerts(status)
			if err != nil {
				return fmt.Errorf("error getting alerts: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tTYPE\tPRIORITY\tSTATUS\tCREATED\t")
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t\n",
					e.ID, e.EventType, e.Priority, e.Status,
					e.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

// NewEscalationsCommand lists and acts on escalations.
func NewEscalationsCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "escalations",
		Short: "List and manage escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			escalations, err := apiClient().ListEscalations(status)
			if err != nil {
				return fmt.Errorf("error getting escalations: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tEVENT\tLEVEL\tSTATUS\tLAST ESCALATED\t")
			for _, e := range escalations {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t\n",
					e.ID, e.AlertEventID, e.CurrentLevel, e.Status,
					e.LastEscalatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")

	var notes string
	ackCmd := &cobra.Command{
		Use:   "ack [id]",
		Short: "Acknowledge an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uint
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid escalation id %q", args[0])
			}
			return apiClient().AcknowledgeEscalation(id)
		},
	}
	resolveCmd := &cobra.Command{
		Use:   "resolve [id]",
		Short: "Resolve an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id uint
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid escalation id %q", args[0])
			}
			return apiClient().ResolveEscalation(id, notes)
		},
	}
	resolveCmd.Flags().StringVar(&notes, "notes", "", "resolution notes")

	cmd.AddCommand(ackCmd, resolveCmd)
	return cmd
}
