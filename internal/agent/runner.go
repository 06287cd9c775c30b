// Package agent runs the acquisition pipeline as a standalone process,
// without the EdgeX device service around it.
package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_plotter_go/internal/driver"
)

// RunPlotterAgent 启动独立采集 Agent，并拦截 SIGINT/SIGTERM，在收到信号时优雅关闭。
// 它会阻塞直到收到退出信号或串口链路故障。
func RunPlotterAgent(cfgPath, logLevel string) error {
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	lc := logger.NewClient("plotter-agent", logLevel)

	// 1. 检查配置文件是否存在
	if _, err := os.Stat(cfgPath); err != nil {
		return fmt.Errorf("无法访问配置文件 '%s': %w", cfgPath, err)
	}

	// 2. 组装采集链路
	failed := make(chan error, 1)
	p, err := driver.InitializePipeline(cfgPath, lc, func(err error) {
		failed <- err
	})
	if err != nil {
		return err
	}

	return Run(sigCtx, p, failed, lc)
}

// Run starts acquisition on p and blocks until ctx is cancelled or a link
// failure arrives on failed. The pipeline is shut down before it returns.
func Run(ctx context.Context, p *driver.Pipeline, failed <-chan error, lc logger.LoggingClient) error {
	if err := p.Start(); err != nil {
		_ = p.Shutdown()
		return err
	}
	if err := p.Session.Start(); err != nil {
		_ = p.Shutdown()
		return err
	}
	lc.Infof("Plotter Agent 已启动: %s", p.Port.Name())

	var runErr error
	select {
	case <-ctx.Done():
		lc.Info("收到终止信号，正在关闭 Plotter Agent...")
	case runErr = <-failed:
		lc.Errorf("串口链路故障，Plotter Agent 退出: %v", runErr)
	}

	if err := p.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	lc.Info("Plotter Agent 已退出")
	return runErr
}
