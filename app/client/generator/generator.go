package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"vizlive/app/config"

	"github.com/samber/do"
)

// Client spawns the external visualization generator process. The generator
// takes a topic via --topic, optionally a doubt payload on stdin behind the
// --doubt flag, and prints graph JSON to stdout. Exit code 0 with non-empty
// stdout is the only success shape.
type Client struct {
	cfg *config.Config
}

// DoubtPayload is written to the generator's stdin for doubt requests.
type DoubtPayload struct {
	Topic        string          `json:"topic"`
	Doubt        string          `json:"doubt"`
	CurrentState json.RawMessage `json:"current_state,omitempty"`
	CurrentTime  float64         `json:"current_time,omitempty"`
}

func NewClient(di *do.Injector) (*Client, error) {
	return &Client{
		cfg: do.MustInvoke[*config.Config](di),
	}, nil
}

func (c *Client) Generate(ctx context.Context, topic string, doubt *DoubtPayload) ([]byte, error) {
	args := buildArgs(c.cfg.Generator.Command, topic, doubt)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	slog.Debug("Running generator", "cmd", strings.Join(args, " "))

	if doubt != nil {
		payload, err := json.Marshal(doubt)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal doubt payload: %w", err)
		}

		cmd.Stdin = bytes.NewReader(payload)
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start generator: %w", err)
	}

	logStderr(stderr)

	if err = cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("generator did not finish in time: %w", ctxErr)
		}

		return nil, fmt.Errorf("generator failed: %w", err)
	}

	return stdout.Bytes(), nil
}

func buildArgs(command []string, topic string, doubt *DoubtPayload) []string {
	args := make([]string, 0, len(command)+3)
	args = append(args, command...)
	args = append(args, "--topic", topic)

	if doubt != nil {
		args = append(args, "--doubt")
	}

	return args
}

func logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		slog.Debug("generator", "stderr", scanner.Text())
	}
}
