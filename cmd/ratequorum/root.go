package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"RateQuorum/internal/ledger"
	"RateQuorum/internal/logger"
	"RateQuorum/internal/permission"
	"RateQuorum/internal/storage"
)

// cli carries the state shared by every command.
type cli struct {
	v       *viper.Viper // v resolves flags, environment and config file
	cfgFile string       // cfgFile is the value of --config
	cfg     *Config      // cfg is loaded before any command runs
}

// newRootCmd builds the full command tree.
func newRootCmd() *cobra.Command {
	c := &cli{v: newViper()}

	root := &cobra.Command{
		Use:   "ratequorum",
		Short: "Operate a consensus ledger of rate data and convert quantities.",
		Long: `ratequorum keeps a fixed set of data slots that operators propose into
and attest. A revision is finalized once every operator attested it.

It also converts quantities between assets of different decimal precision
using a fixed-point rate scaled by 10^18.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger.InitWithWriter(cmd.ErrOrStderr())

			if c.cfgFile != "" {
				if err := readConfigFile(c.v, c.cfgFile); err != nil {
					return err
				}
			}

			cfg, err := loadConfig(c.v)
			if err != nil {
				return fmt.Errorf("load config:\n%w", err)
			}
			c.cfg = cfg

			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("data-dir", "./data", "ledger database directory")
	flags.Int("slots", 2, "number of slots of a new ledger")
	flags.String("admin", "", "admin identity (hex) of a new ledger")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	for _, name := range []string{"data-dir", "slots", "admin", "log-level"} {
		cobra.CheckErr(c.v.BindPFlag(name, flags.Lookup(name)))
	}

	root.AddCommand(
		c.proposeCmd(),
		c.attestCmd(),
		c.trackingCmd(),
		c.groupCmd("operator", "Manage the operator group"),
		c.groupCmd("alerter", "Manage the alerter group"),
		c.adminCmd(),
		c.snapshotCmd(),
		c.reserveCmd(),
		convertCmd(),
	)

	return root
}

// withLedger opens the ledger, runs fn and closes the storage.
func (c *cli) withLedger(fn func(l *ledger.Ledger) error) error {
	return c.withStore(func(_ *storage.Storage, l *ledger.Ledger) error {
		return fn(l)
	})
}

// withStore opens the storage and the ledger in it, runs fn and closes the storage.
func (c *cli) withStore(fn func(db *storage.Storage, l *ledger.Ledger) error) (err error) {
	db, err := storage.New(c.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage %s:\n%w", c.cfg.DataDir, err)
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	l, err := ledger.Open(db, c.cfg.Slots, c.cfg.Admin)
	if err != nil {
		return fmt.Errorf("open ledger:\n%w", err)
	}

	return fn(db, l)
}

// callerFlag registers the --as flag on cmd and returns its value holder.
func callerFlag(cmd *cobra.Command) *string {
	as := cmd.Flags().String("as", "", "identity (hex) of the caller")
	cobra.CheckErr(cmd.MarkFlagRequired("as"))
	return as
}

// parseCaller decodes the --as flag.
func parseCaller(as string) (permission.Identity, error) {
	id, err := permission.ParseIdentity(as)
	if err != nil {
		return id, fmt.Errorf("parse --as:\n%w", err)
	}
	return id, nil
}
