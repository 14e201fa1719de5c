package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/taskbot/chat"
	"github.com/vinayprograms/taskbot/tasks"
)

func tasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect stored tasks",
	}
	cmd.AddCommand(tasksListCmd())
	return cmd
}

func tasksListCmd() *cobra.Command {
	var (
		conversation int64
		active       bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks from the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			st, closeState, err := offlineState(cfg)
			if err != nil {
				return err
			}
			defer closeState()

			store := tasks.NewStore(st, tasks.WithStoreLogger(logger))
			if err := store.Load(); err != nil {
				return err
			}

			f := tasks.Filter{ActiveOnly: active}
			if cmd.Flags().Changed("conversation") {
				addr := chat.Address(conversation)
				f.Conversation = &addr
			}
			list := store.List(f)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if list == nil {
					list = []*tasks.Task{}
				}
				return enc.Encode(list)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tDEADLINE\tRESPONSIBLE\tTITLE")
			for _, t := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Status, deadlineText(t.Deadline, loc), responsible(t), t.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&conversation, "conversation", 0, "only tasks created in this conversation")
	cmd.Flags().BoolVar(&active, "active", false, "only new and claimed tasks")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func deadlineText(d *time.Time, loc *time.Location) string {
	if d == nil {
		return "-"
	}
	return d.In(loc).Format("02.01 15:04")
}

func responsible(t *tasks.Task) string {
	if c, ok := t.Claimant(); ok {
		if c.Handle != "" {
			return "@" + c.Handle
		}
		return c.Name
	}
	if t.MentionedHandle != "" {
		return "@" + t.MentionedHandle
	}
	return "-"
}
