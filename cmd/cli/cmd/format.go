package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cifleet/pkg/api"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "SUCCESS", "online":
		return colorGreen + "✓" + colorReset
	case "FAILURE", "offline":
		return colorRed + "✗" + colorReset
	case "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "ABORTED":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "SUCCESS", "online":
		return icon + " " + colorGreen + status + colorReset
	case "FAILURE", "offline":
		return icon + " " + colorRed + status + colorReset
	case "RUNNING":
		return icon + " " + colorYellow + status + colorReset
	case "ABORTED":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func printJob(cmd *cobra.Command, job *api.Job) {
	cmd.Printf("%s %s%s job %d%s\n", statusIcon(job.Status), colorBold, job.Kind, job.ID, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	if job.LogDir != "" {
		cmd.Printf("%sLog dir:%s     %s\n", colorDim, colorReset, job.LogDir)
	}
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(job.StartT))

	if job.StartT != nil && job.EndT != nil {
		duration := job.EndT.Sub(*job.StartT)
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.EndT),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(job.EndT))
	}

	if job.DebugStatus && job.DebugEnd != nil {
		cmd.Printf("%sDebugging:%s   %suntil %s (%s left)%s\n", colorDim, colorReset,
			colorYellow, job.DebugEnd.Format("Mon, 02 Jan 2006 15:04:05 MST"),
			formatDuration(time.Until(*job.DebugEnd)), colorReset)
	} else {
		cmd.Printf("%sDebugging:%s   no\n", colorDim, colorReset)
	}

	if job.SkipBuild != "" {
		cmd.Printf("%sSkip build:%s  %s\n", colorDim, colorReset, job.SkipBuild)
	}
	if job.ArtifactPath != "" {
		cmd.Printf("%sArtifact:%s    %s\n", colorDim, colorReset, job.ArtifactPath)
	}
}

func printNode(cmd *cobra.Command, node *api.Node) {
	cmd.Printf("%s %s%s%s (%s)\n", statusIcon(node.Status), colorBold, node.Name, colorReset, node.IP)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(node.Status))
	if node.OfflineMessage != "" {
		cmd.Printf("%sMessage:%s     %s\n", colorDim, colorReset, node.OfflineMessage)
	}
	if node.BoundJob != 0 {
		cmd.Printf("%sBound job:%s   %d\n", colorDim, colorReset, node.BoundJob)
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
