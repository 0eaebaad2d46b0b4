package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"RateQuorum/internal/ledger"
	"RateQuorum/internal/permission"
	"RateQuorum/internal/reserve"
	"RateQuorum/internal/sanity"
	"RateQuorum/internal/storage"
)

// parseEntries decodes TOKEN=AMOUNT arguments.
func parseEntries(args []string) ([]reserve.Entry, error) {
	entries := make([]reserve.Entry, len(args))

	for i, arg := range args {
		tokenStr, amountStr, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not TOKEN=AMOUNT", arg)
		}

		token, err := sanity.ParseToken(tokenStr)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(amountStr)
		if err != nil {
			return nil, err
		}

		entries[i] = reserve.Entry{Token: token, Amount: *amount}
	}

	return entries, nil
}

// withReserve opens the ledger and a reserve over it sharing its storage.
func (c *cli) withReserve(fn func(r *reserve.Reserve) error) error {
	return c.withStore(func(db *storage.Storage, l *ledger.Ledger) error {
		r, err := reserve.Open(l, db)
		if err != nil {
			return err
		}
		return fn(r)
	})
}

func (c *cli) reserveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve",
		Short: "Publish sanity rates through the ledger and query them",
		Long: `Slot 0 holds sanity rates (token to native, scaled by 10^18) and slot 1
holds reasonable differences in basis points. Values take effect once
finalized; attest them with the attest command.`,
	}

	propose := func(use, short string, fn func(r *reserve.Reserve, caller permission.Identity, entries []reserve.Entry) (uint64, error)) *cobra.Command {
		sub := &cobra.Command{
			Use:   use + " TOKEN=AMOUNT...",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
		}
		as := callerFlag(sub)

		sub.RunE = func(cmd *cobra.Command, args []string) error {
			caller, err := parseCaller(*as)
			if err != nil {
				return err
			}
			entries, err := parseEntries(args)
			if err != nil {
				return err
			}

			return c.withReserve(func(r *reserve.Reserve) error {
				rev, err := fn(r, caller, entries)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revision %d\n", rev)
				return nil
			})
		}

		return sub
	}

	sanityRate := &cobra.Command{
		Use:   "sanity-rate SRC DST",
		Short: "Highest plausible rate from SRC to DST (0 if unbounded)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sanity.ParseToken(args[0])
			if err != nil {
				return err
			}
			dst, err := sanity.ParseToken(args[1])
			if err != nil {
				return err
			}

			return c.withReserve(func(r *reserve.Reserve) error {
				bound := r.Table().SanityRate(src, dst)
				fmt.Fprintln(cmd.OutOrStdout(), bound.String())
				return nil
			})
		},
	}

	listToken := &cobra.Command{
		Use:   "list-token TOKEN DECIMALS",
		Short: "Record the decimal precision of a token (admin only)",
		Args:  cobra.ExactArgs(2),
	}
	listAs := callerFlag(listToken)
	listToken.RunE = func(cmd *cobra.Command, args []string) error {
		caller, err := parseCaller(*listAs)
		if err != nil {
			return err
		}
		token, err := sanity.ParseToken(args[0])
		if err != nil {
			return err
		}
		decimals, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("parse decimals:\n%w", err)
		}

		return c.withReserve(func(r *reserve.Reserve) error {
			if err := r.ListToken(caller, token, uint(decimals)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listed %s decimals %d\n", token, decimals)
			return nil
		})
	}

	var quoteRate string
	quote := &cobra.Command{
		Use:   "quote SRC DST SRC_QTY",
		Short: "Destination quantity for SRC_QTY at --rate, bounded by the sanity rate",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := sanity.ParseToken(args[0])
			if err != nil {
				return err
			}
			dst, err := sanity.ParseToken(args[1])
			if err != nil {
				return err
			}
			qty, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			r, err := parseAmount(quoteRate)
			if err != nil {
				return err
			}

			return c.withReserve(func(res *reserve.Reserve) error {
				out, err := res.Quote(src, dst, qty, r)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out.String())
				return nil
			})
		},
	}
	quote.Flags().StringVar(&quoteRate, "rate", "", "rate scaled by 10^18")
	cobra.CheckErr(quote.MarkFlagRequired("rate"))

	cmd.AddCommand(
		listToken,
		quote,
		propose("propose-rates", "Propose sanity rates", (*reserve.Reserve).ProposeSanityRates),
		propose("propose-diffs", "Propose reasonable differences in bps", (*reserve.Reserve).ProposeReasonableDiffs),
		sanityRate,
	)

	return cmd
}
