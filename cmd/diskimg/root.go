package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var defaultLogFormatter = &log.TextFormatter{}

// infoFormatter overrides the default format for Info() log events to
// provide an easier to read output
type infoFormatter struct {
}

func (f *infoFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Level == log.InfoLevel {
		return append([]byte(entry.Message), '\n'), nil
	}
	return defaultLogFormatter.Format(entry)
}

var rootCmd = &cobra.Command{
	Use:   "diskimg",
	Short: "Inspect and build GPT-partitioned disk images with FAT file systems",
	Long: `diskimg reads GUID partition tables and FAT12/16/32 volumes out of
disk images or block devices, extracts files from them, and creates
new images from a YAML layout description.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFormatter(new(infoFormatter))
		log.SetLevel(log.InfoLevel)
		if viper.GetBool("verbose") {
			log.SetFormatter(defaultLogFormatter)
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute runs the root command and exits nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	viper.SetEnvPrefix("diskimg")
	viper.AutomaticEnv()
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Optional config file, e.g. ~/.config/diskimg/config.yml.
	viper.SetConfigName("config")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home + "/.config/diskimg")
	}
	viper.ReadInConfig()
}
