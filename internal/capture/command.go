package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandCamera runs an external still-capture program that writes the
// encoded image to stdout, e.g. `libcamera-still -n -o - -e jpg`.
type CommandCamera struct {
	Path        string
	Args        []string
	ContentType string
}

func (c *CommandCamera) Name() string { return "command:" + c.Path }

func (c *CommandCamera) Capture(ctx context.Context, _ Overlay) (Image, error) {
	if strings.TrimSpace(c.Path) == "" {
		return Image{}, fmt.Errorf("camera command is empty")
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Image{}, fmt.Errorf("%s: %w", c.Path, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[len(msg)-200:]
		}
		if msg != "" {
			return Image{}, fmt.Errorf("%s: %w: %s", c.Path, err, msg)
		}
		return Image{}, fmt.Errorf("%s: %w", c.Path, err)
	}
	ct := c.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return Image{Data: stdout.Bytes(), ContentType: ct}, nil
}
