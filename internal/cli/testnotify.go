package cli

import (
	"github.com/spf13/cobra"
)

var testNotificationCmd = &cobra.Command{
	Use:   "test-notification",
	Short: "Send a test push to all active device tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestNotification(cmd.Context())
	},
}
