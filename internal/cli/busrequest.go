package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	veleroflag "github.com/vmware-tanzu/velero/pkg/cmd/util/flag"

	"github.com/aman-churiwal/velero-api/internal/bus"
	"github.com/aman-churiwal/velero-api/internal/storage"
)

func newBusRequestCommand(o *globalOptions) *cobra.Command {
	var (
		method  = http.MethodGet
		path    string
		user    string
		subject = o.config.Bus.Subject
		timeout = 10 * time.Second
		params  = veleroflag.NewMap()
	)

	c := &cobra.Command{
		Use:   "bus-request",
		Short: "Send one operation request over the bus and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if path == "" {
				return errors.New("--path is required")
			}

			client, err := storage.NewRedis(o.config.Redis.GetRedisAddr(), o.config.Redis.Password, o.config.Redis.DB)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(c.Context(), timeout)
			defer cancel()

			reply, err := bus.Request(ctx, client, subject, bus.Message{
				Method: strings.ToUpper(method),
				Path:   path,
				Params: params.Data(),
				User:   user,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(c.OutOrStdout(), string(reply))
			return nil
		},
	}

	c.Flags().StringVar(&method, "method", method, "HTTP method of the operation")
	c.Flags().StringVar(&path, "path", "", "Path of the operation, for example /api/v1/backups")
	c.Flags().Var(&params, "param", "Operation parameters as key=value pairs, comma separated")
	c.Flags().StringVar(&user, "user", "", "User the request is made on behalf of")
	c.Flags().StringVar(&subject, "subject", subject, "Bus subject the relay listens on")
	c.Flags().DurationVar(&timeout, "timeout", timeout, "How long to wait for the reply")

	return c
}
