package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/lexfrei/kube-ingress-proxy/internal/controller"
	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/logging"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	maxPort                = 65535
)

//nolint:gochecknoglobals // maps flag names to KIP_* variables
var envKeyReplacer = strings.NewReplacer("-", "_")

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "kube-ingress-proxy",
	Short: "HTTP reverse proxy routing by Kubernetes Ingress resources",
	Long: `An HTTP reverse proxy that watches Kubernetes Ingress resources and routes
incoming requests by host and path to the backend services they declare.`,
	RunE:          runProxy,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.Flags().String("ingress-class", ingress.DefaultIngressClass, "Ingress class served by this proxy")
	rootCmd.Flags().String("namespace", "", "Namespace to watch (defaults to all namespaces)")
	rootCmd.Flags().String("label-selector", "control-class=pingora", "Label selector for watched Ingresses")
	rootCmd.Flags().Int32("port", 0, "Listen port (0 takes the port named http from the Pod)")
	rootCmd.Flags().String("metrics-addr", ":8080", "Address for metrics endpoint")
	rootCmd.Flags().String("health-addr", ":8081", "Address for health probe endpoint")
	rootCmd.Flags().Duration("shutdown-timeout", defaultShutdownTimeout, "Graceful shutdown timeout")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("KIP")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	viper.SetDefault("ingress-class", ingress.DefaultIngressClass)
	viper.SetDefault("label-selector", "control-class=pingora")
	viper.SetDefault("metrics-addr", ":8080")
	viper.SetDefault("health-addr", ":8081")
	viper.SetDefault("shutdown-timeout", defaultShutdownTimeout)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger(level *slog.LevelVar) *slog.Logger {
	parsed, _ := logging.ParseLevel(viper.GetString("log-level"))
	level.Set(parsed)

	return logging.New(os.Stdout, viper.GetString("log-format"), level)
}

//nolint:noinlineerr // inline error handling is fine here
func runProxy(_ *cobra.Command, _ []string) error {
	level := &slog.LevelVar{}

	logger := setupLogger(level)
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting kube-ingress-proxy",
		"version", version,
		"gitsha", gitsha,
	)

	port := viper.GetInt32("port")
	if port < 0 || port > maxPort {
		return errors.Newf("port %d is out of range", port)
	}

	cfg := controller.Config{
		IngressClass:    viper.GetString("ingress-class"),
		Namespace:       viper.GetString("namespace"),
		LabelSelector:   viper.GetString("label-selector"),
		Port:            port,
		MetricsAddr:     viper.GetString("metrics-addr"),
		HealthAddr:      viper.GetString("health-addr"),
		ShutdownTimeout: viper.GetDuration("shutdown-timeout"),
		LogLevel:        level,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := controller.Run(ctx, &cfg); err != nil {
		return errors.Wrap(err, "failed to run proxy")
	}

	return nil
}
