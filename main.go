package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"srtla-rec/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "srtla-rec",
		Usage: "SRTLA bonding receiver: terminate bonded client uplinks and forward a recombined SRT stream",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "srtla_port", Value: 5000, Usage: "UDP port clients connect to"},
			&cli.StringFlag{Name: "srt_hostname", Value: "127.0.0.1", Usage: "downstream SRT server hostname"},
			&cli.IntFlag{Name: "srt_port", Value: 4001, Usage: "downstream SRT server port"},
			&cli.StringFlag{Name: "log_level", Value: "info", Usage: "trace|debug|info|warn|error|critical"},
			&cli.StringFlag{Name: "config", Usage: "path to a JSON config file; when set, every other flag is ignored"},
			&cli.StringFlag{Name: "admin_addr", Value: ":8088", Usage: "admin dashboard listen address"},
			&cli.BoolFlag{Name: "enable_admin", Value: true, Usage: "serve the admin dashboard and Prometheus metrics"},
			&cli.StringFlag{Name: "mysql_dsn", Usage: "MySQL DSN for the audit trail; omit to disable"},
			&cli.StringFlag{Name: "redis_addr", Usage: "Redis address for the live quality cache"},
			&cli.BoolFlag{Name: "enable_redis", Usage: "publish quality snapshots to Redis"},
			&cli.BoolFlag{Name: "enable_pcap", Usage: "capture raw SRTLA/SRT datagrams to a PCAP file"},
			&cli.StringFlag{Name: "pcap_path", Value: "/tmp/srtla-rec.pcap", Usage: "PCAP output path"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(c *cli.Context) error {
	log.Println("🚀 Starting SRTLA receiver...")

	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	server := NewReceiverServer(cfg)
	if err := server.Start(); err != nil {
		return err
	}

	log.Println("✅ SRTLA receiver ready")
	server.WaitForShutdown()
	log.Println("🛑 SRTLA receiver has shut down")
	return nil
}

func buildConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}

	cfg := config.Default()
	cfg.SRTLAPort = c.Int("srtla_port")
	cfg.SRTHostname = c.String("srt_hostname")
	cfg.SRTPort = c.Int("srt_port")
	cfg.LogLevel = c.String("log_level")
	cfg.Admin.Enabled = c.Bool("enable_admin")
	cfg.Admin.Addr = c.String("admin_addr")
	cfg.Database.MySQLDSN = c.String("mysql_dsn")
	cfg.Database.RedisEnabled = c.Bool("enable_redis")
	cfg.Database.RedisAddr = c.String("redis_addr")
	cfg.Database.RedisCleanupInterval = 30
	cfg.Debug.EnablePCAP = c.Bool("enable_pcap")
	cfg.Debug.PCAPPath = c.String("pcap_path")

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
