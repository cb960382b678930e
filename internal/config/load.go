package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 HNCRAWLER_CRAWL_MAXARTICLES
const EnvPrefix = "HNCRAWLER"

// Load 按 默认值 < 配置文件 < 环境变量 < 命令行 的优先级加载配置。
// file 为空时在当前目录查找可选的 config.yaml。
func Load(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v, NewConfig())

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("oracle.apiKey", EnvPrefix+"_ORACLE_APIKEY", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := NewConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("version", c.Version)

	v.SetDefault("browser.devtoolsUrl", c.Browser.DevToolsURL)
	v.SetDefault("browser.launch", c.Browser.Launch)
	v.SetDefault("browser.execPath", c.Browser.ExecPath)
	v.SetDefault("browser.headless", c.Browser.Headless)
	v.SetDefault("browser.startupTimeout", c.Browser.StartupTimeout)
	v.SetDefault("browser.actionTimeout", c.Browser.ActionTimeout)

	v.SetDefault("crawl.startUrl", c.Crawl.StartURL)
	v.SetDefault("crawl.linkSelector", c.Crawl.LinkSelector)
	v.SetDefault("crawl.maxArticles", c.Crawl.MaxArticles)
	v.SetDefault("crawl.settleDelay", c.Crawl.SettleDelay)
	v.SetDefault("crawl.skipExisting", c.Crawl.SkipExisting)

	v.SetDefault("oracle.baseUrl", c.Oracle.BaseURL)
	v.SetDefault("oracle.model", c.Oracle.Model)
	v.SetDefault("oracle.timeout", c.Oracle.Timeout)
	v.SetDefault("oracle.retries", c.Oracle.Retries)
	v.SetDefault("oracle.retryInterval", c.Oracle.RetryInterval)
	v.SetDefault("oracle.history", c.Oracle.History)

	v.SetDefault("sqlite.dsn", c.Sqlite.Dsn)
	v.SetDefault("sqlite.prefix", c.Sqlite.Prefix)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.writer", c.Log.Writer)
	v.SetDefault("log.file", c.Log.File)
}
