package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fortiblox/pythsim/internal/config"
	"github.com/fortiblox/pythsim/internal/logging"
	"github.com/fortiblox/pythsim/internal/types"
	"github.com/fortiblox/pythsim/pkg/sandbox"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries state shared by subcommands.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "pythsim",
		Short:         "Local Pyth price oracle sandbox",
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (yaml or toml)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("storage", "memory", "state storage: memory, disk, temp")
	flags.String("data-dir", "", "state directory for disk storage")
	flags.String("keypair", "", "payer keyfile")

	for key, name := range map[string]string{
		"log.level":        "log-level",
		"storage.mode":     "storage",
		"storage.data_dir": "data-dir",
		"keypair":          "keypair",
	} {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newServeCmd(a),
		newDemoCmd(a),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies its logging settings.
func (a *app) load() error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) openSandbox() (*sandbox.Sandbox, error) {
	sbCfg, err := a.cfg.Sandbox()
	if err != nil {
		return nil, err
	}
	return sandbox.New(sbCfg)
}

// payer loads the configured keyfile, creating it when missing. Without a
// keyfile a fresh keypair is used.
func (a *app) payer() (*sandbox.Actor, error) {
	path := a.cfg.Keypair
	if path == "" {
		return sandbox.NewActor()
	}
	actor, err := sandbox.LoadActor(path)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	actor, err = sandbox.NewActor()
	if err != nil {
		return nil, err
	}
	if err := actor.SaveKeyfile(path); err != nil {
		return nil, err
	}
	logging.WithComponent("cli").WithField("path", path).Info("created payer keyfile")
	return actor, nil
}

func newKeygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a keypair file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := types.NewKeypair()
			if err != nil {
				return err
			}
			if err := types.WriteKeypairFile(kp, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pubkey: %s\n", kp.Pubkey())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "outfile", "o", "keypair.json", "output path")
	return cmd
}
