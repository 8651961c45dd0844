// internal/response/block.go
package response

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/signalnine/auspex/internal/config"
)

// blockTimeout bounds every blocking invocation. A command still running
// after this is killed and counted as failure.
const blockTimeout = 30 * time.Second

// Blocker applies a network block for a single address.
type Blocker interface {
	Block(ctx context.Context, addr string) error
}

// NewBlocker selects the platform blocking mechanism by configuration tag.
func NewBlocker(platform, blockScript string) Blocker {
	switch strings.ToLower(platform) {
	case "windows":
		return windowsBlocker{}
	case "macos":
		return macosBlocker{}
	case "linux":
		return linuxBlocker{}
	default:
		return scriptBlocker{script: blockScript}
	}
}

type linuxBlocker struct{}

func (linuxBlocker) Block(ctx context.Context, addr string) error {
	return runBlockCommand(exec.CommandContext(ctx, "iptables", "-A", "INPUT", "-s", addr, "-j", "DROP"))
}

type windowsBlocker struct{}

func (windowsBlocker) Block(ctx context.Context, addr string) error {
	ruleName := "AUSPEX_BLOCK_" + strings.ReplaceAll(addr, ".", "_")
	return runBlockCommand(exec.CommandContext(ctx, "netsh", "advfirewall", "firewall", "add", "rule",
		"name="+ruleName, "dir=in", "action=block", "remoteip="+addr))
}

type macosBlocker struct{}

func (macosBlocker) Block(ctx context.Context, addr string) error {
	rule := fmt.Sprintf("echo 'block in from %s to any' | pfctl -ef -", addr)
	return runBlockCommand(exec.CommandContext(ctx, "sh", "-c", rule))
}

// scriptBlocker executes a configured fallback script with the address as
// its sole argument. Exit code 0 means blocked.
type scriptBlocker struct {
	script string
}

func (b scriptBlocker) Block(ctx context.Context, addr string) error {
	if b.script == "" {
		return fmt.Errorf("no block script configured")
	}
	return runBlockCommand(exec.CommandContext(ctx, b.script, addr))
}

func runBlockCommand(cmd *exec.Cmd) error {
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", cmd.Path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Firewall wraps a Blocker with the lifetime idempotency table. The table is
// private to the response side; nothing else coordinates on it, and it is
// never persisted or expired.
type Firewall struct {
	enabled bool
	blocker Blocker
	log     *zap.Logger

	mu      sync.Mutex
	blocked map[string]time.Time     // address -> first blocked
	pending map[string]chan struct{} // address -> in-flight attempt, closed on completion
}

// NewFirewall creates a firewall manager from configuration.
func NewFirewall(cfg config.BlockConfig, log *zap.Logger) *Firewall {
	return &Firewall{
		enabled: cfg.Enabled,
		blocker: NewBlocker(cfg.Platform, cfg.BlockScript),
		log:     log,
		blocked: make(map[string]time.Time),
		pending: make(map[string]chan struct{}),
	}
}

// NewFirewallWith creates a firewall manager around an explicit Blocker.
func NewFirewallWith(blocker Blocker, log *zap.Logger) *Firewall {
	return &Firewall{
		enabled: true,
		blocker: blocker,
		log:     log,
		blocked: make(map[string]time.Time),
		pending: make(map[string]chan struct{}),
	}
}

// BlockAddress blocks an address, short-circuiting to success if it was
// already blocked this process lifetime. The second return reports whether
// this call made the fresh blocking attempt. Concurrent callers for the same
// address coalesce onto one attempt: at most one Blocker invocation ever runs
// per address, and the others wait for its outcome.
func (f *Firewall) BlockAddress(ctx context.Context, addr string) (ok bool, fresh bool) {
	if !f.enabled {
		f.log.Debug("network blocking disabled in configuration")
		return false, false
	}

	f.mu.Lock()
	if _, already := f.blocked[addr]; already {
		f.mu.Unlock()
		f.log.Info("address already blocked", zap.String("addr", addr))
		return true, false
	}
	if inflight, busy := f.pending[addr]; busy {
		f.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return false, false
		}
		f.mu.Lock()
		_, blocked := f.blocked[addr]
		f.mu.Unlock()
		return blocked, false
	}
	done := make(chan struct{})
	f.pending[addr] = done
	f.mu.Unlock()

	blockCtx, cancel := context.WithTimeout(ctx, blockTimeout)
	defer cancel()

	err := f.blocker.Block(blockCtx, addr)

	f.mu.Lock()
	delete(f.pending, addr)
	if err == nil {
		f.blocked[addr] = time.Now()
	}
	close(done)
	f.mu.Unlock()

	if err != nil {
		f.log.Warn("block failed", zap.String("addr", addr), zap.Error(err))
		return false, true
	}
	f.log.Info("address blocked", zap.String("addr", addr))
	return true, true
}

// IsBlocked reports whether an address is in the block table.
func (f *Firewall) IsBlocked(addr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blocked[addr]
	return ok
}

// BlockedAddresses returns a copy of the block table.
func (f *Firewall) BlockedAddresses() map[string]time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time, len(f.blocked))
	for k, v := range f.blocked {
		out[k] = v
	}
	return out
}
