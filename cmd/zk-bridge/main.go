package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zkconnect/zkconnect-bridge/internal/api"
	"github.com/zkconnect/zkconnect-bridge/internal/bus"
	"github.com/zkconnect/zkconnect-bridge/internal/config"
	"github.com/zkconnect/zkconnect-bridge/internal/device"
	"github.com/zkconnect/zkconnect-bridge/internal/ingest"
	"github.com/zkconnect/zkconnect-bridge/internal/models"
	"github.com/zkconnect/zkconnect-bridge/internal/monitor"
	"github.com/zkconnect/zkconnect-bridge/internal/storage"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 when the session ends at the day
// boundary so the supervisor restarts it against a fresh log file, 1 on any
// fatal failure.
func run() int {
	// 命令行参数
	var configFile string
	flag.StringVar(&configFile, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	// 设置日志
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// 加载配置
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	// 设置日志级别
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Console plus the transaction log file. The file name carries the date
	// when splitting is enabled, which is what the rollover restart refreshes.
	logFile, err := os.OpenFile(cfg.LogFileName(time.Now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Error().Err(err).Msg("failed to open log file")
		return 1
	}
	defer logFile.Close()

	var writer io.Writer = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr}, logFile)
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()

	log.Info().Str("config", configFile).Msg("ZKConnect Bridge starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identity := models.DeviceIdentity{
		Host:      cfg.Device.Host,
		Port:      cfg.Device.Port,
		MachineID: cfg.Device.MachineID,
	}

	// 设备连接
	link := device.NewZKLink(identity, cfg.Device.CommKey, cfg.Device.Timeout, cfg.Device.IdleInterval, log.Logger)

	// 远程接口客户端
	client := ingest.NewClient(ingest.Options{
		BaseURL:        cfg.Endpoint.BaseURL,
		AuthPath:       cfg.Endpoint.AuthPath,
		IngestPath:     cfg.Endpoint.IngestPath,
		Login:          cfg.Endpoint.Login,
		Password:       cfg.Endpoint.Password,
		DB:             cfg.Endpoint.DB,
		Timeout:        cfg.Endpoint.Timeout,
		SendAttempts:   cfg.Retry.SendAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Logger:         log.Logger,
	})

	stats := monitor.NewStats()
	opts := monitor.Options{
		Link:            link,
		Auth:            client,
		Sender:          client,
		Identity:        identity,
		Transmission:    cfg.TransmissionEnabled(),
		ConnectAttempts: cfg.Retry.ConnectAttempts,
		InitialBackoff:  cfg.Retry.InitialBackoff,
		MaxBackoff:      cfg.Retry.MaxBackoff,
		Stats:           stats,
		Logger:          log.Logger,
	}

	// 可选的打卡归档数据库
	var store storage.Store
	if cfg.Database.Enabled {
		pg, err := storage.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to database")
			return 1
		}
		defer pg.Close()

		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error().Err(err).Msg("failed to ensure schema")
			return 1
		}

		store = pg
		opts.Archiver = pg
		log.Info().Msg("punch archive enabled")
	}

	// 可选的 NATS 事件总线
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("zkconnect-bridge"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
		)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect to NATS")
			return 1
		}
		defer nc.Close()

		publisher := bus.NewPublisher(nc, cfg.Device.MachineID, cfg.NATS.SubjectPrefix, log.Logger)
		opts.Publisher = publisher
		log.Info().Str("subject", publisher.Subject()).Msg("event bus enabled")
	}

	// 可选的状态 API
	if cfg.API.Enabled {
		server := api.NewServer(&cfg.API, stats, store, log.Logger)
		go func() {
			if err := server.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("status API stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("status API shutdown failed")
			}
		}()
	}

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("signal received, shutting down...")
		cancel()
	}()

	loop := monitor.New(opts)
	reason, err := loop.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("monitoring ended with error")
	}

	if reason == monitor.StopRollover {
		log.Info().Msg("day boundary reached, exiting for restart")
		return 0
	}

	return 1
}
