package plugins

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	pkg "github.com/peteski22/plugin-hooks/pkg/contract/plugin"
)

const (
	processStartTimeout = 10 * time.Second
	processExitTimeout  = 2 * time.Second
)

// pluginProcess is a plugin binary launched by the host.
// The host keeps control of the process and can kill it at any time.
type pluginProcess struct {
	cmd     *exec.Cmd
	address string
	network string
	logger  hclog.Logger
}

// launchPlugin starts the binary named by remote.Command and waits for it to
// listen on the socket the host picked for it.
func launchPlugin(ctx context.Context, logger hclog.Logger, name string, remote *pkg.RemoteConfig) (*pluginProcess, error) {
	address, network := generateAddress(name)
	logger.Debug("transport selected", "network", network, "address", address)

	args := append([]string{"--address", address, "--network", network}, remote.Args...)

	// Not CommandContext: the process outlives the start-up context and is ended by stop.
	cmd := exec.Command(remote.Command, args...)
	cmd.Stdout = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})
	cmd.Stderr = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	logger.Debug("plugin process started", "pid", cmd.Process.Pid, "address", address)

	p := &pluginProcess{cmd: cmd, address: address, network: network, logger: logger}

	waitCtx, cancel := context.WithTimeout(ctx, processStartTimeout)
	defer cancel()

	if err := waitForSocket(waitCtx, network, address); err != nil {
		p.kill()
		return nil, fmt.Errorf("plugin didn't start in time: %w", err)
	}

	return p, nil
}

// target is the gRPC dial target for the process.
func (p *pluginProcess) target() string {
	if p.network == "unix" {
		return "unix://" + p.address
	}
	return p.address
}

// stop waits briefly for the process to exit after a graceful stop request,
// then force-kills it and removes its socket.
func (p *pluginProcess) stop() error {
	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	var err error
	select {
	case <-time.After(processExitTimeout):
		p.logger.Warn("plugin didn't exit, force killing", "pid", p.cmd.Process.Pid)
		if killErr := p.cmd.Process.Kill(); killErr != nil {
			err = fmt.Errorf("failed to kill process: %w", killErr)
		}
		<-done
	case waitErr := <-done:
		if waitErr != nil {
			p.logger.Debug("plugin process exited with error", "error", waitErr)
		}
	}

	p.removeSocket()

	return err
}

func (p *pluginProcess) kill() {
	if err := p.cmd.Process.Kill(); err != nil {
		p.logger.Warn("failed to kill plugin process", "error", err)
	}
	_ = p.cmd.Wait()
	p.removeSocket()
}

func (p *pluginProcess) removeSocket() {
	if p.network != "unix" {
		return
	}
	if err := os.Remove(p.address); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("failed to remove socket file", "path", p.address, "error", err)
	}
}

func generateAddress(pluginName string) (address string, network string) {
	switch runtime.GOOS {
	case "windows":
		port := 50000 + (time.Now().UnixNano() % 10000)
		return fmt.Sprintf("localhost:%d", port), "tcp"
	default:
		sockPath := filepath.Join(os.TempDir(), fmt.Sprintf("plugin-%s-%d.sock",
			strings.ReplaceAll(pluginName, " ", "-"),
			time.Now().UnixNano()%1000000))
		return sockPath, "unix"
	}
}

func waitForSocket(ctx context.Context, network, address string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			conn, err := net.DialTimeout(network, address, 100*time.Millisecond)
			if err == nil {
				_ = conn.Close()
				return nil
			}
		}
	}
}
