package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"tradebook/service"
)

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Rebuild state from the snapshot and journal and print an audit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			x, err := service.New(a.cfg.ExchangeOptions(), service.Deps{Log: a.log})
			if err != nil {
				return err
			}
			applied, err := x.Recover(a.cfg.SnapshotDir(), a.cfg.JournalDir())
			if err != nil {
				return err
			}
			report, auditErr := x.Audit()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				Replayed int `json:"replayed"`
				service.AuditReport
			}{applied, report}); err != nil {
				return err
			}
			return auditErr
		},
	}
}
