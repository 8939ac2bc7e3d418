package cmd

import (
	"github.com/spigell/doc-reviewer/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the review API over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		log, config, svc, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if !viper.GetBool("debug") {
			gin.SetMode(gin.ReleaseMode)
		}

		log.Info("starting the doc-reviewer", zap.String("version", version))

		return server.New(config.Server, svc, version, log).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", server.DefaultAddr, "address to listen on")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}
