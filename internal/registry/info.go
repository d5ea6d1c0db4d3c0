package registry

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// versionProbeTimeout bounds the `tool --version` probe. Some security
// tools hang or prompt when probed; the deadline keeps Describe cheap.
const versionProbeTimeout = 5 * time.Second

// Info is the resolved metadata for one tool.
type Info struct {
	Entry
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Describe resolves name and probes it for a version string. The probe is
// best-effort: tools that do not support --version, exit non-zero, or time
// out simply yield an empty Version.
func (r *Registry) Describe(ctx context.Context, name string) (*Info, error) {
	entry, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return &Info{
		Entry:   *entry,
		Version: r.probeVersion(ctx, entry.Path),
	}, nil
}

// DescribeAll resolves and probes every allow-listed tool. Unavailable
// tools are listed without path or version.
func (r *Registry) DescribeAll(ctx context.Context) []Info {
	infos := make([]Info, 0, r.Len())
	for _, name := range r.Names() {
		info, err := r.Describe(ctx, name)
		if err != nil {
			infos = append(infos, Info{Entry: Entry{Name: name}})
			continue
		}
		infos = append(infos, *info)
	}
	return infos
}

// probeVersion runs `path --version` and returns the first line of its
// combined output, or "" when the probe fails for any reason.
func (r *Registry) probeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil && len(out) == 0 {
		r.logger.Debug("version probe failed",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return ""
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
