package main

import (
	"fmt"
	"math/big"

	"github.com/decred/dcrd/math/uint256"
	"github.com/spf13/cobra"

	"RateQuorum/internal/rate"
)

// parseAmount decodes a non-negative decimal integer of at most 256 bits.
func parseAmount(s string) (*uint256.Uint256, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if b.Sign() < 0 || b.BitLen() > 256 {
		return nil, fmt.Errorf("amount %q out of range", s)
	}

	return new(uint256.Uint256).SetBig(b), nil
}

// convertCmd builds the stateless converter commands.
func convertCmd() *cobra.Command {
	var srcDecimals, dstDecimals uint
	var rateArg string

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert quantities between decimal precisions",
	}
	cmd.PersistentFlags().UintVar(&srcDecimals, "src-decimals", rate.NativeDecimals, "decimals of the source asset")
	cmd.PersistentFlags().UintVar(&dstDecimals, "dst-decimals", rate.NativeDecimals, "decimals of the destination asset")

	dst := &cobra.Command{
		Use:   "dst SRC_QTY",
		Short: "Destination quantity bought by SRC_QTY at --rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			r, err := parseAmount(rateArg)
			if err != nil {
				return err
			}

			out, err := rate.DestinationQty(qty, srcDecimals, dstDecimals, r)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	dst.Flags().StringVar(&rateArg, "rate", "", "rate scaled by 10^18")

	var roundUp bool
	src := &cobra.Command{
		Use:   "src DST_QTY",
		Short: "Source quantity needed to buy DST_QTY at --rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			r, err := parseAmount(rateArg)
			if err != nil {
				return err
			}

			convert := rate.SourceQty
			if roundUp {
				convert = rate.SourceQtyRoundUp
			}

			out, err := convert(qty, srcDecimals, dstDecimals, r)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	src.Flags().StringVar(&rateArg, "rate", "", "rate scaled by 10^18")
	src.Flags().BoolVar(&roundUp, "round-up", false, "round the result up instead of truncating")

	implied := &cobra.Command{
		Use:   "rate SRC_QTY DST_QTY",
		Short: "Rate implied by trading SRC_QTY for DST_QTY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srcQty, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			dstQty, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			out, err := rate.RateFromQty(srcQty, dstQty, srcDecimals, dstDecimals)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}

	inverse := &cobra.Command{
		Use:   "inverse RATE",
		Short: "Rate of the opposite direction, 10^36 / RATE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseAmount(args[0])
			if err != nil {
				return err
			}

			out, err := rate.InverseRate(r)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.String())
			return nil
		},
	}

	for _, sub := range []*cobra.Command{dst, src} {
		cobra.CheckErr(sub.MarkFlagRequired("rate"))
	}

	cmd.AddCommand(dst, src, implied, inverse)

	return cmd
}
