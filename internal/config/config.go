package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	AppPort string

	// 社交平台（Mastodon 兼容接口）访问凭证，token 优先，其次用户名/密码
	SocialBaseURL      string
	SocialToken        string
	SocialUsername     string
	SocialPassword     string
	SocialClientID     string
	SocialClientSecret string

	// 同一数据源连续调用之间的固定间隔
	FetchDelay time.Duration
	HoursBack  int

	SectorsFile string

	RedisAddr   string
	CacheTTL    time.Duration
	PostgresDSN string

	BasicAuthUser string
	BasicAuthPass string

	ExportDir     string
	GDELTDaysBack int
	StockTickers  []string
	ExportCron    string
}

func Load(log *logrus.Logger) *Config {
	loadDotEnv(log)

	cfg := &Config{
		AppPort:            getEnv("APP_PORT", "8000"),
		SocialBaseURL:      strings.TrimRight(getEnv("TRUTHSOCIAL_BASE_URL", "https://truthsocial.com"), "/"),
		SocialToken:        os.Getenv("TRUTHSOCIAL_TOKEN"),
		SocialUsername:     os.Getenv("TRUTHSOCIAL_USERNAME"),
		SocialPassword:     os.Getenv("TRUTHSOCIAL_PASSWORD"),
		SocialClientID:     os.Getenv("TRUTHSOCIAL_CLIENT_ID"),
		SocialClientSecret: os.Getenv("TRUTHSOCIAL_CLIENT_SECRET"),
		FetchDelay:         getEnvDuration("FETCH_DELAY", 500*time.Millisecond),
		HoursBack:          getEnvInt("HOURS_BACK", 72),
		SectorsFile:        os.Getenv("SECTORS_FILE"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		CacheTTL:           getEnvDuration("CACHE_TTL", 2*time.Minute),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		BasicAuthUser:      os.Getenv("APP_BASIC_USER"),
		BasicAuthPass:      os.Getenv("APP_BASIC_PASS"),
		ExportDir:          getEnv("EXPORT_DIR", "."),
		GDELTDaysBack:      getEnvInt("GDELT_DAYS_BACK", 3),
		StockTickers:       splitList(getEnv("STOCK_TICKERS", "SPY,QQQ,GLD")),
		ExportCron:         os.Getenv("EXPORT_CRON"),
	}

	if log != nil {
		log.WithFields(logrus.Fields{
			"port":        cfg.AppPort,
			"social_base": cfg.SocialBaseURL,
			"fetch_delay": cfg.FetchDelay.String(),
			"redis":       cfg.RedisAddr != "",
			"postgres":    cfg.PostgresDSN != "",
		}).Info("config loaded")
	}
	return cfg
}

// HasSocialCredentials 是否配置了任意一种可用的登录方式
func (c *Config) HasSocialCredentials() bool {
	return c.SocialToken != "" || (c.SocialUsername != "" && c.SocialPassword != "")
}

// loadDotEnv 依次尝试可执行文件目录与当前目录下的 .env，找不到时仅依赖进程环境变量
func loadDotEnv(log *logrus.Logger) {
	candidates := []string{filepath.Join(filepath.Dir(os.Args[0]), ".env")}
	if dir, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if log != nil {
				log.WithError(err).Warnf("load %s failed", f)
			}
			continue
		}
		if log != nil {
			log.Debugf("loaded env file %s", f)
		}
		return
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getEnvDuration 同时接受 "750ms" 这类时长与纯数字秒数（"0.5"）
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
