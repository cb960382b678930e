package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	Browser struct {
		DevToolsURL    string        `yaml:"devtoolsUrl" mapstructure:"devtoolsUrl"`
		Launch         bool          `yaml:"launch" mapstructure:"launch"`
		ExecPath       string        `yaml:"execPath" mapstructure:"execPath"`
		Headless       bool          `yaml:"headless" mapstructure:"headless"`
		StartupTimeout time.Duration `yaml:"startupTimeout" mapstructure:"startupTimeout"`
		ActionTimeout  time.Duration `yaml:"actionTimeout" mapstructure:"actionTimeout"`
	} `yaml:"browser" mapstructure:"browser"`

	Crawl struct {
		StartURL     string        `yaml:"startUrl" mapstructure:"startUrl"`
		LinkSelector string        `yaml:"linkSelector" mapstructure:"linkSelector"`
		MaxArticles  int           `yaml:"maxArticles" mapstructure:"maxArticles"`
		SettleDelay  time.Duration `yaml:"settleDelay" mapstructure:"settleDelay"`
		SkipExisting bool          `yaml:"skipExisting" mapstructure:"skipExisting"`
	} `yaml:"crawl" mapstructure:"crawl"`

	Oracle struct {
		BaseURL       string        `yaml:"baseUrl" mapstructure:"baseUrl"`
		Model         string        `yaml:"model" mapstructure:"model"`
		APIKey        string        `yaml:"apiKey" mapstructure:"apiKey"`
		Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
		Retries       int           `yaml:"retries" mapstructure:"retries"`
		RetryInterval time.Duration `yaml:"retryInterval" mapstructure:"retryInterval"` // 首次重试前的等待，之后指数增长
		History       int           `yaml:"history" mapstructure:"history"`
	} `yaml:"oracle" mapstructure:"oracle"`

	Sqlite struct {
		Dsn    string `yaml:"dsn" mapstructure:"dsn"`
		Prefix string `yaml:"prefix" mapstructure:"prefix"`
	} `yaml:"sqlite" mapstructure:"sqlite"`

	Log struct {
		Level  string   `yaml:"level" mapstructure:"level"`
		Writer []string `yaml:"writer" mapstructure:"writer"`
		File   string   `yaml:"file" mapstructure:"file"`
	} `yaml:"log" mapstructure:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}

	c.Browser.DevToolsURL = "http://127.0.0.1:9222"
	c.Browser.Launch = true
	c.Browser.ExecPath = "chromium"
	c.Browser.StartupTimeout = 30 * time.Second
	c.Browser.ActionTimeout = 10 * time.Second

	c.Crawl.StartURL = "https://news.ycombinator.com/"
	c.Crawl.LinkSelector = ".titleline > a"
	c.Crawl.MaxArticles = 5
	c.Crawl.SettleDelay = 2 * time.Second

	c.Oracle.BaseURL = "https://api.openai.com"
	c.Oracle.Model = "gpt-4o"
	c.Oracle.Timeout = 30 * time.Second
	c.Oracle.RetryInterval = 500 * time.Millisecond
	c.Oracle.History = 10

	c.Sqlite.Dsn = "crawler.db"

	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "crawler.log"
	return c
}

// Validate 校验配置，control 为 true 时要求语言模型凭据
func (c *Config) Validate(control bool) error {
	var errs []error
	if err := CheckLoopback(c.Browser.DevToolsURL); err != nil {
		errs = append(errs, err)
	}
	if c.Browser.ActionTimeout <= 0 {
		errs = append(errs, errors.New("browser.actionTimeout 必须大于 0"))
	}
	if c.Browser.StartupTimeout <= 0 {
		errs = append(errs, errors.New("browser.startupTimeout 必须大于 0"))
	}
	if c.Crawl.MaxArticles < 1 || c.Crawl.MaxArticles > 5 {
		errs = append(errs, fmt.Errorf("crawl.maxArticles 必须在 1..5 之间，当前 %d", c.Crawl.MaxArticles))
	}
	if c.Crawl.SettleDelay < 0 {
		errs = append(errs, errors.New("crawl.settleDelay 不能为负"))
	}
	if c.Sqlite.Dsn == "" {
		errs = append(errs, errors.New("sqlite.dsn 不能为空"))
	}
	if control {
		if c.Oracle.APIKey == "" {
			errs = append(errs, errors.New("控制模式需要语言模型 API Key (OPENAI_API_KEY)"))
		}
		if c.Oracle.Timeout <= 0 {
			errs = append(errs, errors.New("oracle.timeout 必须大于 0"))
		}
		if c.Oracle.Retries < 0 {
			errs = append(errs, errors.New("oracle.retries 不能为负"))
		}
		if c.Oracle.RetryInterval < 0 {
			errs = append(errs, errors.New("oracle.retryInterval 不能为负"))
		}
	}
	return errors.Join(errs...)
}

// CheckLoopback 确认调试端点只监听本地回环地址
func CheckLoopback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("调试端点地址非法: %q", raw)
	}
	switch u.Scheme {
	case "http", "ws":
	default:
		return fmt.Errorf("调试端点协议非法: %s", u.Scheme)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("调试端点必须是本地回环地址，当前 %s", host)
	}
	return nil
}
