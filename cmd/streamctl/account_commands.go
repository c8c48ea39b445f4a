package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

const stampLayout = "2006-01-02 15:04:05 MST"

func newAccountCommand(ctx *commandContext) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect and manage account lockout and device sessions",
	}
	accountCmd.AddCommand(newAccountStatusCommand(ctx))
	accountCmd.AddCommand(newAccountUnlockCommand(ctx))
	accountCmd.AddCommand(newAccountSessionsCommand(ctx))
	accountCmd.AddCommand(newAccountSweepCommand(ctx))
	return accountCmd
}

func newAccountStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <email>",
		Short: "Show failed attempts and lock state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openAccounts(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.Accounts.StatusByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			until := "-"
			if st.LockedUntil != nil {
				until = st.LockedUntil.Local().Format(stampLayout)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Account", "Email", "Failed", "Locked", "Until"},
				[][]string{{strconv.FormatInt(st.AccountID, 10), st.Email, strconv.Itoa(st.FailedAttempts), strconv.FormatBool(st.Locked), until}},
			))
			return nil
		},
	}
}

func newAccountUnlockCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <email>",
		Short: "Clear the failure counter and any lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openAccounts(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.Accounts.StatusByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.Accounts.Unlock(cmd.Context(), st.AccountID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s\n", st.Email)
			return nil
		},
	}
}

func newAccountSessionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <email>",
		Short: "List active device sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openAccounts(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.Accounts.StatusByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sessions, err := a.Accounts.Sessions(cmd.Context(), st.AccountID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active sessions")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				rows = append(rows, []string{s.ID, s.DeviceID, string(s.DeviceType), s.DeviceName, s.LastActivity.Local().Format(stampLayout)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%d of %d slots in use\n",
				renderTable([]string{"Session", "Device", "Type", "Name", "Last activity"}, rows),
				len(sessions), a.Policy.Sessions.MaxSessions)
			return nil
		},
	}
}

func newAccountSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Clear locks that have already expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openAccounts(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.Accounts.SweepExpiredLocks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d expired lock(s)\n", n)
			return nil
		},
	}
}
