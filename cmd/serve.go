package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "github.com/ziadkadry99/automind/internal/mcp"
)

var serveSubmit bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long: `Starts a Model Context Protocol (MCP) server on stdio, exposing automation
requests, clarification answers and suggestions as tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		engine, err := a.newEngine(serveSubmit)
		if err != nil {
			return err
		}
		go engine.Sessions().Run(ctx)

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		indexed := 0
		if a.index != nil {
			indexed = a.index.Count()
		}
		a.logger.Info("automind MCP server started on stdio", zap.Int("indexed_entities", indexed))

		srv := mcpserver.NewServer(engine, a.index)
		return srv.Serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveSubmit, "submit", false, "deploy generated automations to Home Assistant")
	rootCmd.AddCommand(serveCmd)
}
