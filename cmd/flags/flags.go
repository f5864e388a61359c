package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/config"
)

// SetupLogger builds the process logger from the log flags. Flags override
// the [log] section of the configuration file.
func SetupLogger(cCtx *cli.Context, cfg *config.Config) (log *slog.Logger) {
	logJSON := cfg.Log.JSON
	if cCtx.IsSet(LogJsonFlag.Name) {
		logJSON = cCtx.Bool(LogJsonFlag.Name)
	}
	logDebug := cfg.Log.Debug
	if cCtx.IsSet(LogDebugFlag.Name) {
		logDebug = cCtx.Bool(LogDebugFlag.Name)
	}
	logUID := cfg.Log.UID
	if cCtx.IsSet(LogUidFlag.Name) {
		logUID = cCtx.Bool(LogUidFlag.Name)
	}

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig reads the file named by --config, or the defaults without one,
// and applies the flags that were set explicitly.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFlag.Name))
	if err != nil {
		return nil, err
	}

	if cCtx.IsSet(ListenAddrFlag.Name) {
		cfg.Server.ListenAddr = cCtx.String(ListenAddrFlag.Name)
	}
	if cCtx.IsSet(MetricsAddrFlag.Name) {
		cfg.Server.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(PprofFlag.Name) {
		cfg.Server.EnablePprof = cCtx.Bool(PprofFlag.Name)
	}
	if cCtx.IsSet(DrainFlag.Name) {
		cfg.Server.DrainDuration = config.Duration{Duration: cCtx.Duration(DrainFlag.Name)}
	}
	if cCtx.IsSet(CatalogTypeFlag.Name) {
		cfg.Catalog.Type = cCtx.String(CatalogTypeFlag.Name)
	}
	if cCtx.IsSet(CatalogURLFlag.Name) {
		cfg.Catalog.URL = cCtx.String(CatalogURLFlag.Name)
	}
	if cCtx.IsSet(CatalogPathFlag.Name) {
		cfg.Catalog.Path = cCtx.String(CatalogPathFlag.Name)
	}
	if cCtx.IsSet(CatalogAPIKeyFlag.Name) {
		cfg.Catalog.APIKey = cCtx.String(CatalogAPIKeyFlag.Name)
	}
	if cCtx.IsSet(DurableTypeFlag.Name) {
		cfg.Durable.Type = cCtx.String(DurableTypeFlag.Name)
	}
	if cCtx.IsSet(DurablePathFlag.Name) {
		cfg.Durable.Path = cCtx.String(DurablePathFlag.Name)
	}
	if cCtx.IsSet(PublishFlag.Name) {
		cfg.Upload.Publishers = cCtx.StringSlice(PublishFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	EnvVars: []string{"EBIZIMBA_CONFIG"},
	Usage:   "TOML configuration file; defaults are used without one",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: []string{"EBIZIMBA_LISTEN_ADDR"},
	Usage:   "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	EnvVars: []string{"EBIZIMBA_METRICS_ADDR"},
	Usage:   "address to listen on for Prometheus metrics",
}

var CatalogTypeFlag = &cli.StringFlag{
	Name:    "catalog",
	EnvVars: []string{"EBIZIMBA_CATALOG"},
	Usage:   "descriptor catalog: memory, http, sqlite or yaml",
}

var CatalogURLFlag = &cli.StringFlag{
	Name:    "catalog-url",
	EnvVars: []string{"EBIZIMBA_CATALOG_URL"},
	Usage:   "REST endpoint of the http catalog",
}

var CatalogPathFlag = &cli.StringFlag{
	Name:    "catalog-path",
	EnvVars: []string{"EBIZIMBA_CATALOG_PATH"},
	Usage:   "sqlite database or yaml seed file",
}

var CatalogAPIKeyFlag = &cli.StringFlag{
	Name:    "catalog-api-key",
	EnvVars: []string{"EBIZIMBA_CATALOG_API_KEY"},
	Usage:   "API key sent to the http catalog",
}

var DurableTypeFlag = &cli.StringFlag{
	Name:    "durable",
	EnvVars: []string{"EBIZIMBA_DURABLE"},
	Usage:   "durable storage: none, file or badger",
}

var DurablePathFlag = &cli.StringFlag{
	Name:    "durable-path",
	EnvVars: []string{"EBIZIMBA_DURABLE_PATH"},
	Usage:   "directory of the durable storage",
}

var PublishFlag = &cli.StringSliceFlag{
	Name:    "publish",
	EnvVars: []string{"EBIZIMBA_PUBLISH"},
	Usage:   "upload target URI (file://, s3://, ipfs://); repeatable",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	EnvVars: []string{"EBIZIMBA_LOG_JSON"},
	Usage:   "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	EnvVars: []string{"EBIZIMBA_LOG_DEBUG"},
	Usage:   "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "ebizimba-content",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainFlag = &cli.DurationFlag{
	Name:  "drain",
	Value: 45 * time.Second,
	Usage: "time to wait after marking the server not ready on shutdown",
}

// LogFlags are accepted by every binary.
var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

// StackFlags select the catalog, durable storage and publish targets.
var StackFlags = []cli.Flag{
	ConfigFlag,
	CatalogTypeFlag,
	CatalogURLFlag,
	CatalogPathFlag,
	CatalogAPIKeyFlag,
	DurableTypeFlag,
	DurablePathFlag,
	PublishFlag,
}

// ServerFlags configure the HTTP listeners.
var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	MetricsAddrFlag,
	PprofFlag,
	DrainFlag,
}
