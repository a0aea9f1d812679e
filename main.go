package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"zproxy/internal/config"
	apperrors "zproxy/internal/errors"
	"zproxy/internal/handler"
	"zproxy/internal/initapp"
	"zproxy/internal/metrics"
	"zproxy/internal/utils"
	"zproxy/pkg/sync"
)

const shutdownGrace = 10 * time.Second

var options = config.DefaultOptions()

var rootCommand = &cobra.Command{
	Use:           "zproxy (--forward <backend> | --serve <dir>)",
	Short:         "HTTP gateway with zstd/gzip compression, static serving and WebSocket tunnelling",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := options.Build()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	config.BindFlags(rootCommand.Flags(), &options)
}

func main() {
	// 初始化日志与 .env
	if err := initapp.Init(); err != nil {
		logrus.Fatalf("[Init] %v", err)
	}

	if err := rootCommand.ExecuteContext(context.Background()); err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrInvalidConfig {
			logrus.Errorf("%v", err)
			rootCommand.Usage()
			os.Exit(2)
		}
		logrus.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	if cfg.S3Sync {
		if _, err := sync.PullFromEnv(ctx, cfg.Root); err != nil {
			return apperrors.New(apperrors.ErrIO, "s3 sync failed", err)
		}
	}

	collector := metrics.NewCollector()
	dispatcher, err := handler.NewDispatcher(cfg, collector)
	if err != nil {
		return err
	}

	health := handler.NewHealthHandler(cfg, dispatcher.Artifacts())
	metricsServer, err := metrics.Serve(cfg.MetricsListen, collector, health)
	if err != nil {
		return apperrors.New(apperrors.ErrBind, "metrics listener", err)
	}

	server := handler.NewServer(cfg, collector, dispatcher)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return apperrors.New(apperrors.ErrBind, "cannot listen on "+cfg.ListenAddr(), err)
	}

	// 优雅关闭处理
	done := make(chan struct{})
	utils.SetupCloseHandler(func() {
		defer close(done)
		logrus.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("[Server] Shutdown: %v", err)
			server.Close()
		}
	})

	logrus.Infof("Starting %s mode on %s -> %s", cfg.Mode, ln.Addr(), cfg.Target())
	if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	logrus.Info("Server stopped")
	return nil
}
