// Package cli holds the clipctl commands.
package cli

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipzy/clipzy-server/internal/client"
)

const defaultServer = "http://localhost:8080"

var configFile string

var rootCmd = &cobra.Command{
	Use:          "clipctl",
	Short:        "Share end-to-end encrypted pastes and send text or files to devices on your network",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(configFile); err != nil {
			return err
		}
		setupLogging(viper.GetBool("debug"))
		return nil
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $HOME/.config/clipzy/clipctl.yaml)")
	rootCmd.PersistentFlags().String("server", defaultServer, "paste server base URL")
	rootCmd.PersistentFlags().Bool("debug", false, "print debugging information")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(putCmd, getCmd, lanCmd)
}

// initConfig layers the environment (CLIPZY_*) over an optional config
// file. A missing default file is not an error; a missing explicit one is.
func initConfig(file string) error {
	viper.SetEnvPrefix("clipzy")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("clipctl")
		viper.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir + "/clipzy")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	log.Debug().Str("file", viper.ConfigFileUsed()).Msg("using config file")
	return nil
}

func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
}

func newClient() *client.Client {
	return client.New(viper.GetString("server"), nil)
}
