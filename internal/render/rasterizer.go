package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Rasterizer turns a composed SVG document into PNG bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg []byte) ([]byte, error)
}

// Backend names accepted by NewRasterizer.
const (
	BackendBuiltin = "builtin"
	BackendCommand = "command"
)

// NewRasterizer returns the backend named by kind.
func NewRasterizer(kind string, command []string) (Rasterizer, error) {
	switch kind {
	case "", BackendBuiltin:
		return SVGRasterizer{}, nil
	case BackendCommand:
		if len(command) == 0 || command[0] == "" {
			return nil, errors.New("command rasterizer needs a command")
		}
		return &CommandRasterizer{Command: command}, nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", kind)
	}
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// CommandRasterizer pipes the SVG through an external converter, one process
// per call. The command reads SVG on stdin and writes PNG on stdout, e.g.
// rsvg-convert --format=png.
type CommandRasterizer struct {
	Command []string
}

func (c *CommandRasterizer) Rasterize(ctx context.Context, svg []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdin = bytes.NewReader(svg)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", c.Command[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", c.Command[0], err)
	}
	out := stdout.Bytes()
	if !bytes.HasPrefix(out, pngSignature) {
		return nil, fmt.Errorf("%s: output is not a PNG", c.Command[0])
	}
	return out, nil
}
