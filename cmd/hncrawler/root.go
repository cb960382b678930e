package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"hncrawler/internal/config"
	"hncrawler/internal/logger"
	"hncrawler/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys 命令行参数与配置键的对应关系
var flagKeys = map[string]string{
	"devtools":     "browser.devtoolsUrl",
	"headless":     "browser.headless",
	"db":           "sqlite.dsn",
	"start-url":    "crawl.startUrl",
	"max-articles": "crawl.maxArticles",
	"log-level":    "log.level",
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		cfgFile string
		control bool
	)

	cmd := &cobra.Command{
		Use:   "hncrawler",
		Short: "通过 Chrome DevTools 协议抓取 Hacker News 文章，或用自然语言控制浏览器",
		Long: `默认以自动模式运行：打开列表页，抓取前 5 篇文章写入 SQLite。
--control 进入交互模式：逐行读取自然语言指令，经语言模型翻译为浏览器动作后执行，
输入 exit 或 quit 退出。控制模式需要 OPENAI_API_KEY。`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(control); err != nil {
				return err
			}

			var logOut io.Writer
			if w := cmd.ErrOrStderr(); w != os.Stderr {
				logOut = w
			}
			l, err := logger.New(logger.Options{Level: cfg.Log.Level, Writer: cfg.Log.Writer, File: cfg.Log.File, Out: logOut})
			if err != nil {
				return err
			}

			svc, err := api.NewService(cfg, control, l)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					l.Err(err, "关闭服务失败")
				}
			}()

			if control {
				return ignoreCanceled(svc.Control(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()))
			}
			rep, err := svc.Crawl(cmd.Context())
			printReport(cmd.OutOrStdout(), rep)
			return ignoreCanceled(err)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "配置文件路径 (默认 ./config.yaml)")
	f.BoolVar(&control, "control", false, "交互控制模式")
	f.String("devtools", "", "浏览器调试端点，仅限本地回环地址")
	f.Bool("headless", false, "以无头模式启动浏览器")
	f.String("db", "", "SQLite 数据库路径")
	f.String("start-url", "", "列表页地址")
	f.Int("max-articles", 0, "抓取文章数 (1-5)")
	f.String("log-level", "", "日志级别 debug|info|warn|error")
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func printReport(out io.Writer, rep api.Report) {
	fmt.Fprintf(out, "抓取完成: 尝试 %d, 入库 %d, 失败 %d, 跳过 %d\n", rep.Attempted, rep.Stored, rep.Failed, rep.Skipped)
	for _, u := range rep.URLs {
		fmt.Fprintf(out, "  %s\n", u)
	}
}

// ignoreCanceled 中断信号导致的退出不算失败
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
