// Command relayprobe checks a running lens relay end to end. It opens a host
// connection and a web connection, pairs them through a fresh session, sends
// a few telemetry samples and reports each step. It exits non-zero on the
// first failed step.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "relayprobe",
		Usage: "run the host/web pairing scenario against a relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "ws://localhost:8080/ws",
				Usage:   "relay websocket URL",
				Sources: cli.EnvVars("RELAYPROBE_URL"),
			},
			&cli.StringFlag{
				Name:  "key",
				Usage: "session key (random when empty)",
			},
			&cli.StringFlag{
				Name:  "suffix",
				Value: "A",
				Usage: "participant suffix to register",
			},
			&cli.IntFlag{
				Name:  "samples",
				Value: 3,
				Usage: "telemetry samples to send",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Second,
				Usage: "per-step read timeout",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			key := cmd.String("key")
			if key == "" {
				key = uuid.NewString()
			}
			return runProbe(ctx, Options{
				URL:        cmd.String("url"),
				SessionKey: key,
				Suffix:     cmd.String("suffix"),
				Samples:    cmd.Int("samples"),
				Timeout:    cmd.Duration("timeout"),
			}, os.Stdout)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("probe failed: %v", err)
	}
}
