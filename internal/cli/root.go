package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	veleroflag "github.com/vmware-tanzu/velero/pkg/cmd/util/flag"

	"github.com/aman-churiwal/velero-api/internal/config"
	"github.com/aman-churiwal/velero-api/internal/logging"
)

// globalOptions are shared by every subcommand. Flags override the
// environment.
type globalOptions struct {
	config    *config.Config
	logLevel  *veleroflag.Enum
	logFormat *veleroflag.Enum
}

func (o *globalOptions) logger() *logrus.Logger {
	return logging.New(o.logLevel.String(), o.logFormat.String())
}

func NewCommand(name string) *cobra.Command {
	cfg := config.FromEnv()

	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	o := &globalOptions{
		config:    cfg,
		logLevel:  veleroflag.NewEnum(cfg.Log.Level, levels...),
		logFormat: veleroflag.NewEnum(cfg.Log.Format, string(logging.FormatText), string(logging.FormatJSON)),
	}

	c := &cobra.Command{
		Use:   name,
		Short: "Serve Velero resources over HTTP, WebSocket and a Redis request bus.",
		Long: `velero-api exposes the Velero custom resources of one cluster as a rate limited
REST API. Refresh jobs re-read the resources on a schedule and push the results to
WebSocket clients and bus subscribers.`,
		SilenceUsage: true,
	}

	c.PersistentFlags().Var(o.logLevel, "log-level", fmt.Sprintf("The level at which to log. Valid values are %s.", strings.Join(o.logLevel.AllowedValues(), ", ")))
	c.PersistentFlags().Var(o.logFormat, "log-format", fmt.Sprintf("The format for log output. Valid values are %s.", strings.Join(o.logFormat.AllowedValues(), ", ")))

	c.AddCommand(
		newServerCommand(o),
		newTokenCommand(o),
		newBusRequestCommand(o),
	)

	return c
}
