package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/identity"
)

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage handle to private address registrations",
	}
	cmd.AddCommand(identityListCmd())
	cmd.AddCommand(identityRegisterCmd())
	return cmd
}

func identityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered handles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			st, closeState, err := offlineState(cfg)
			if err != nil {
				return err
			}
			defer closeState()

			reg, err := identity.NewStoreRegistry(st)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HANDLE\tADDRESS\tREGISTERED")
			for _, e := range reg.Entries() {
				fmt.Fprintf(w, "@%s\t%d\t%s\n", e.Handle, e.Address, e.RegisteredAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func identityRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <handle> <address>",
		Short: "Register a handle's private address",
		Long: `Register a handle's private address in the configured store.

A running server caches registrations; use the identity.register RPC
method while serve is running.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("address must be a number: %w", err)
			}
			if chat.Address(addr).IsGroup() || addr == 0 {
				return fmt.Errorf("address %d is not a private conversation", addr)
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			st, closeState, err := offlineState(cfg)
			if err != nil {
				return err
			}
			defer closeState()

			reg, err := identity.NewStoreRegistry(st)
			if err != nil {
				return err
			}
			handle := identity.Normalize(args[0])
			if handle == "" {
				return fmt.Errorf("handle is empty")
			}
			if err := reg.Register(handle, chat.Address(addr)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered @%s -> %d\n", handle, addr)
			return nil
		},
	}
}
