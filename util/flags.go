package util

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// SetFlagsFromEnvVars overrides unset persistent flags from environment
// variables. E.g. log-level -> CLAWDESK_LOG_LEVEL. Explicit command line
// values always win.
func SetFlagsFromEnvVars(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		envName := "CLAWDESK_" + flagNameToUpper(f.Name)
		value, present := os.LookupEnv(envName)
		if !present {
			return
		}
		if err := flags.Set(f.Name, value); err != nil {
			log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, envName, err)
		}
	})
}

// flagNameToUpper converts a flag name to its corresponding base env name
// replacing dashes by underscores and making the result uppercase
// E.g. log-level -> LOG_LEVEL
func flagNameToUpper(cmdFlag string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdFlag, "-", "_"))
}
