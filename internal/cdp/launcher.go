package cdp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"hncrawler/internal/logger"

	"github.com/mafredri/cdp/devtool"
)

// LaunchOptions 浏览器进程启动参数
type LaunchOptions struct {
	ExecPath string
	Port     string
	Headless bool
}

// Process 由本程序启动的浏览器进程
type Process struct {
	cmd     *exec.Cmd
	dataDir string
	once    sync.Once
	log     logger.Logger
}

// Args 返回启动参数，调试端口只绑定到回环地址
func (o LaunchOptions) Args(dataDir string) []string {
	args := []string{
		"--remote-debugging-address=127.0.0.1",
		"--remote-debugging-port=" + o.Port,
		"--remote-allow-origins=http://127.0.0.1:" + o.Port,
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if o.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, "about:blank")
}

// Launch 启动浏览器进程
func Launch(opts LaunchOptions, l logger.Logger) (*Process, error) {
	if l == nil {
		l = logger.NewNop()
	}
	dataDir, err := os.MkdirTemp("", "hncrawler-profile-")
	if err != nil {
		return nil, fmt.Errorf("创建浏览器用户目录失败: %w", err)
	}
	cmd := exec.Command(opts.ExecPath, opts.Args(dataDir)...)
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}
	l.Info("浏览器进程已启动", "exec", opts.ExecPath, "pid", cmd.Process.Pid, "port", opts.Port)
	return &Process{cmd: cmd, dataDir: dataDir, log: l}, nil
}

// Stop 终止进程并清理用户目录，可重复调用
func (p *Process) Stop() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
			_ = p.cmd.Wait()
		}
		_ = os.RemoveAll(p.dataDir)
		p.log.Info("浏览器进程已退出")
	})
}

// Ready 探测调试端点是否可用
func Ready(ctx context.Context, devtoolsURL string) error {
	_, err := devtool.New(devtoolsURL).Version(ctx)
	return err
}

// WaitReady 轮询调试端点直到可用或超时
func WaitReady(ctx context.Context, devtoolsURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		probe, stop := context.WithTimeout(ctx, time.Second)
		err := Ready(probe, devtoolsURL)
		stop()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("等待调试端点 %s 超时: %w", devtoolsURL, err)
		case <-tick.C:
		}
	}
}
