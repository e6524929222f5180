package reclaim

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"cifleet/internal/store"
)

// CommandUninstaller runs a local command that cleans up a machine, for
// example an ssh wrapper around the product's uninstall script. The
// placeholders {node} and {ip} in the arguments are replaced per call.
type CommandUninstaller struct {
	Command []string
	Timeout time.Duration
}

// NewCommandUninstaller splits command on whitespace. An empty command
// makes Uninstall a no-op.
func NewCommandUninstaller(command string, timeout time.Duration) *CommandUninstaller {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CommandUninstaller{Command: strings.Fields(command), Timeout: timeout}
}

func (c *CommandUninstaller) Uninstall(ctx context.Context, node store.Node) error {
	if len(c.Command) == 0 {
		slog.WarnContext(ctx, "no uninstall command configured, skipping", "node", node.Name)
		return nil
	}

	ip := node.IP
	if ip == "" {
		_, ip = SplitNodeName(node.Name)
	}
	replacer := strings.NewReplacer("{node}", node.Name, "{ip}", ip)

	args := make([]string, len(c.Command))
	for i, a := range c.Command {
		args[i] = replacer.Replace(a)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("uninstall on %s: %w: %s", node.Name, err, strings.TrimSpace(tail(out.String(), 512)))
	}

	slog.InfoContext(ctx, "uninstalled node", "node", node.Name, "duration", time.Since(start))
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
