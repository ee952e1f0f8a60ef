package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/config"
	"github.com/StoreStation/AnvilCraft/pkg/logging"
	"github.com/StoreStation/AnvilCraft/pkg/server"
)

var serveFlags struct {
	configPath   string
	address      string
	motd         string
	maxPlayers   int
	world        string
	seed         int64
	generator    string
	viewDistance int
	dataDir      string
	encryption   bool
	logLevel     string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		f := cmd.Flags()
		f.StringVarP(&serveFlags.configPath, "config", "c", "", "YAML configuration file")
		f.StringVar(&serveFlags.address, "address", "", "Address to listen on")
		f.StringVar(&serveFlags.motd, "motd", "", "Server list message")
		f.IntVar(&serveFlags.maxPlayers, "max-players", 0, "Maximum number of players")
		f.StringVar(&serveFlags.world, "world", "", "World name")
		f.Int64Var(&serveFlags.seed, "seed", 0, "World seed")
		f.StringVar(&serveFlags.generator, "generator", "", "Terrain generator (noise, flat)")
		f.IntVar(&serveFlags.viewDistance, "view-distance", 0, "View distance in chunks")
		f.StringVar(&serveFlags.dataDir, "data", "", "Directory holding world data")
		f.BoolVar(&serveFlags.encryption, "encryption", false, "Encrypt connections")
		f.StringVar(&serveFlags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	}
	rootCmd.AddCommand(serveCmd)
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("address", func() { cfg.Server.Address = serveFlags.address })
	set("motd", func() { cfg.Server.MOTD = serveFlags.motd })
	set("max-players", func() { cfg.Server.MaxPlayers = serveFlags.maxPlayers })
	set("world", func() { cfg.World.Name = serveFlags.world })
	set("seed", func() { cfg.World.Seed = serveFlags.seed })
	set("generator", func() { cfg.World.Generator = serveFlags.generator })
	set("view-distance", func() { cfg.World.ViewDistance = serveFlags.viewDistance })
	set("data", func() { cfg.Storage.Dir = serveFlags.dataDir })
	set("encryption", func() { cfg.Server.Encryption = serveFlags.encryption })
	set("log-level", func() { cfg.Log.Level = serveFlags.logLevel })
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveFlags.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer log.Sync()

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("anvilcraft started",
		zap.String("version", Version),
		zap.String("minecraft", "1.8.9"),
		zap.Int("max_players", cfg.Server.MaxPlayers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.Stringer("signal", sig))
	case <-srv.StopChan():
		log.Info("shutting down (internal)")
	}

	if err := srv.Stop(); err != nil {
		log.Error("shutdown incomplete", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
