package main

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/LJTian/SectorPulse/internal/aggregator"
	"github.com/LJTian/SectorPulse/internal/api"
	"github.com/LJTian/SectorPulse/internal/collector"
	"github.com/LJTian/SectorPulse/internal/config"
	"github.com/LJTian/SectorPulse/internal/logging"
	"github.com/LJTian/SectorPulse/internal/scheduler"
	"github.com/LJTian/SectorPulse/internal/sector"
	"github.com/LJTian/SectorPulse/internal/social"
	"github.com/LJTian/SectorPulse/internal/storage"
)

func main() {
	log := logging.New()
	cfg := config.Load(log)
	entry := log.WithField("service", "api")

	catalog := sector.Default()
	if cfg.SectorsFile != "" {
		c, err := sector.Load(cfg.SectorsFile)
		if err != nil {
			entry.WithError(err).Fatal("load sectors file failed")
		}
		catalog = c
	}

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, entry)
	if err != nil {
		entry.WithError(err).Fatal("init store failed")
	}

	// 上游客户端在第一次请求时才创建；缺少凭据时接口返回 401
	creds := social.Credentials{
		Token:        cfg.SocialToken,
		Username:     cfg.SocialUsername,
		Password:     cfg.SocialPassword,
		ClientID:     cfg.SocialClientID,
		ClientSecret: cfg.SocialClientSecret,
	}
	provider := social.NewProvider(creds, func(c social.Credentials) *social.Client {
		return social.NewClient(cfg.SocialBaseURL, c,
			social.WithPageDelay(cfg.FetchDelay),
			social.WithLogger(entry.WithField("source", "social")),
		)
	})
	if !cfg.HasSocialCredentials() {
		entry.Warn("no social credentials configured, sector post endpoints will answer 401")
	}

	// 配置了 EXPORT_CRON 时，在 API 进程内同时跑定时导出
	if cfg.ExportCron != "" {
		startExportScheduler(cfg, store, entry)
	}

	aggOpts := aggregator.DefaultOptions()
	aggOpts.Delay = cfg.FetchDelay
	aggOpts.HoursBack = cfg.HoursBack

	r := gin.Default()
	// 若配置了全局访问密码，则启用 Basic Auth 保护（/health 仍然免认证）
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPass != "" {
		r.Use(basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass))
	}

	apiServer := api.NewServer(catalog, provider, store,
		api.WithAggregatorOptions(aggOpts),
		api.WithCacheTTL(cfg.CacheTTL),
		api.WithLogger(entry),
	)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	entry.WithField("addr", addr).Info("starting api server...")
	if err := r.Run(addr); err != nil {
		entry.WithError(err).Fatal("server exit")
	}
}

func startExportScheduler(cfg *config.Config, store *storage.Store, log *logrus.Entry) {
	fetchers := []collector.Fetcher{
		&collector.StockNewsFetcher{Tickers: cfg.StockTickers, Log: log},
		&collector.GDELTFetcher{DaysBack: cfg.GDELTDaysBack, Log: log},
	}
	opts := []scheduler.Option{scheduler.WithLogger(log.WithField("job", "export"))}
	if store.DB != nil {
		opts = append(opts, scheduler.WithStore(store))
	}
	s := scheduler.New(fetchers, cfg.ExportDir, opts...)
	if err := s.Schedule(cfg.ExportCron); err != nil {
		log.WithError(err).Fatal("invalid EXPORT_CRON")
	}
	s.Start()
}

// basicAuthMiddleware 为整个站点增加一个简单的 Basic Auth 访问密码。
// 仅当配置了 APP_BASIC_USER / APP_BASIC_PASS 时启用。
// /health 与 OPTIONS 预检请求不做认证。
func basicAuthMiddleware(user, pass string) gin.HandlerFunc {
	const realm = "Restricted"
	uBytes := []byte(user)
	pBytes := []byte(pass)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		u, p, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), uBytes) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), pBytes) != 1 {
			c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
