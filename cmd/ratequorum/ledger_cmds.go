package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"RateQuorum/internal/ledger"
	"RateQuorum/internal/permission"
)

// parseSlot decodes a slot index argument.
func parseSlot(s string) (int, error) {
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parse slot %q:\n%w", s, err)
	}
	return index, nil
}

func (c *cli) proposeCmd() *cobra.Command {
	var isHex bool

	cmd := &cobra.Command{
		Use:   "propose SLOT VALUE",
		Short: "Propose a new value for a slot",
		Args:  cobra.ExactArgs(2),
	}
	as := callerFlag(cmd)
	cmd.Flags().BoolVar(&isHex, "hex", false, "decode VALUE as hex")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		caller, err := parseCaller(*as)
		if err != nil {
			return err
		}
		index, err := parseSlot(args[0])
		if err != nil {
			return err
		}

		value := []byte(args[1])
		if isHex {
			if value, err = hex.DecodeString(args[1]); err != nil {
				return fmt.Errorf("decode value:\n%w", err)
			}
		}

		return c.withLedger(func(l *ledger.Ledger) error {
			rev, err := l.Propose(caller, index, value)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "slot %d revision %d\n", index, rev)
			return nil
		})
	}

	return cmd
}

func (c *cli) attestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attest SLOT REVISION",
		Short: "Attest the current revision of a slot",
		Args:  cobra.ExactArgs(2),
	}
	as := callerFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		caller, err := parseCaller(*as)
		if err != nil {
			return err
		}
		index, err := parseSlot(args[0])
		if err != nil {
			return err
		}
		revision, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse revision:\n%w", err)
		}

		return c.withLedger(func(l *ledger.Ledger) error {
			finalized, err := l.Attest(caller, index, revision)
			if err != nil {
				return err
			}

			tr, err := l.Tracking(index)
			if err != nil {
				return err
			}

			state := "pending"
			if finalized {
				state = "finalized"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slot %d revision %d attestors %d/%d %s\n",
				index, revision, tr.AttestorCount, len(l.Operators()), state)

			return nil
		})
	}

	return cmd
}

func (c *cli) trackingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tracking SLOT",
		Short: "Show the value, revision and attestors of a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseSlot(args[0])
			if err != nil {
				return err
			}

			return c.withLedger(func(l *ledger.Ledger) error {
				tr, finalized, err := l.Finalized(index)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "slot:      %d\n", tr.Index)
				fmt.Fprintf(out, "revision:  %d\n", tr.Revision)
				fmt.Fprintf(out, "finalized: %t\n", finalized)
				fmt.Fprintf(out, "digest:    %x\n", tr.Digest)
				fmt.Fprintf(out, "value:     %x\n", tr.Value)
				fmt.Fprintf(out, "attestors: %d\n", tr.AttestorCount)
				for _, a := range tr.Attestors {
					fmt.Fprintf(out, "  %s\n", a)
				}

				return nil
			})
		},
	}
}

// groupCmd builds the add, remove and list commands of one group.
func (c *cli) groupCmd(name, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
	}

	type groupOps struct {
		add    func(l *ledger.Ledger, caller, id permission.Identity) error
		remove func(l *ledger.Ledger, caller, id permission.Identity) error
		list   func(l *ledger.Ledger) []permission.Identity
	}

	ops := groupOps{
		add:    (*ledger.Ledger).AddOperator,
		remove: (*ledger.Ledger).RemoveOperator,
		list:   (*ledger.Ledger).Operators,
	}
	if name == "alerter" {
		ops = groupOps{
			add:    (*ledger.Ledger).AddAlerter,
			remove: (*ledger.Ledger).RemoveAlerter,
			list:   (*ledger.Ledger).Alerters,
		}
	}

	change := func(use, short string, fn func(l *ledger.Ledger, caller, id permission.Identity) error) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
		}
		as := callerFlag(sub)

		sub.RunE = func(cmd *cobra.Command, args []string) error {
			caller, err := parseCaller(*as)
			if err != nil {
				return err
			}
			id, err := permission.ParseIdentity(args[0])
			if err != nil {
				return err
			}

			return c.withLedger(func(l *ledger.Ledger) error {
				if err := fn(l, caller, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", name, use, id)
				return nil
			})
		}

		return sub
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the members in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(func(l *ledger.Ledger) error {
				for _, id := range ops.list(l) {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(
		change("add", "Add a member (admin only)", ops.add),
		change("remove", "Remove a member (admin only)", ops.remove),
		list,
	)

	return cmd
}

func (c *cli) adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Show or transfer the admin",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the admin and pending admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(func(l *ledger.Ledger) error {
				fmt.Fprintf(cmd.OutOrStdout(), "admin:   %s\n", l.Admin())
				if pending := l.PendingAdmin(); !pending.IsZero() {
					fmt.Fprintf(cmd.OutOrStdout(), "pending: %s\n", pending)
				}
				return nil
			})
		},
	}

	transfer := func(use, short string, fn func(l *ledger.Ledger, caller, id permission.Identity) error) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " NEW_ADMIN",
			Short: short,
			Args:  cobra.ExactArgs(1),
		}
		as := callerFlag(sub)

		sub.RunE = func(cmd *cobra.Command, args []string) error {
			caller, err := parseCaller(*as)
			if err != nil {
				return err
			}
			next, err := permission.ParseIdentity(args[0])
			if err != nil {
				return err
			}

			return c.withLedger(func(l *ledger.Ledger) error {
				return fn(l, caller, next)
			})
		}

		return sub
	}

	claim := &cobra.Command{
		Use:   "claim",
		Short: "Claim a pending admin transfer",
		Args:  cobra.NoArgs,
	}
	as := callerFlag(claim)
	claim.RunE = func(cmd *cobra.Command, args []string) error {
		caller, err := parseCaller(*as)
		if err != nil {
			return err
		}
		return c.withLedger(func(l *ledger.Ledger) error {
			return l.ClaimAdmin(caller)
		})
	}

	cmd.AddCommand(
		show,
		transfer("transfer", "Nominate a new admin who must claim", (*ledger.Ledger).TransferAdmin),
		transfer("transfer-quickly", "Hand admin over immediately", (*ledger.Ledger).TransferAdminQuickly),
		claim,
	)

	return cmd
}

func (c *cli) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the full ledger state",
	}

	export := &cobra.Command{
		Use:   "export FILE",
		Short: "Write a compressed snapshot to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withLedger(func(l *ledger.Ledger) error {
				data, err := l.Export()
				if err != nil {
					return err
				}
				if err := os.WriteFile(args[0], data, 0o644); err != nil {
					return fmt.Errorf("write snapshot:\n%w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d bytes\n", len(data))
				return nil
			})
		},
	}

	imp := &cobra.Command{
		Use:   "import FILE",
		Short: "Replace the ledger state with a snapshot (admin only)",
		Args:  cobra.ExactArgs(1),
	}
	as := callerFlag(imp)
	imp.RunE = func(cmd *cobra.Command, args []string) error {
		caller, err := parseCaller(*as)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read snapshot:\n%w", err)
		}
		return c.withLedger(func(l *ledger.Ledger) error {
			return l.Import(caller, data)
		})
	}

	cmd.AddCommand(export, imp)

	return cmd
}
