package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus"
	"github.com/fyrsmithlabs/orchestrd/internal/nodes"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
)

type workerOptions struct {
	node    string
	command string
	natsURL string
	token   string
	prefix  string
	workDir string
	timeout time.Duration
}

func newWorkerCmd() *cobra.Command {
	opts := workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve a node to a remote daemon",
		Long: `Answer node requests from an orchestrd daemon over NATS by running a local
command. The command reads the request JSON on stdin and prints the reply JSON
on stdout. Several workers for the same node share the load.`,
		Example: `  orchestrd worker --node reviewer --exec ./review.sh
  orchestrd worker --node coder --exec "python3 coder.py" --nats-url nats://build:4222`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				opts.token = os.Getenv("ORCHESTRD_NATS_TOKEN")
			}
			logger, err := logging.NewLoggerTo(logging.NewDefaultConfig(), zapcore.AddSync(os.Stderr), nil)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runWorker(cmd.Context(), opts, logger.Underlying())
		},
	}
	cmd.Flags().StringVar(&opts.node, "node", "", "node id to serve (required)")
	cmd.Flags().StringVar(&opts.command, "exec", "", "command that runs the node (required)")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", nats.DefaultURL, "NATS server URL")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "orchestrd", "subject prefix used by the daemon")
	cmd.Flags().StringVar(&opts.workDir, "workdir", "", "working directory for the command")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "per-request command timeout")
	_ = cmd.MarkFlagRequired("node")
	_ = cmd.MarkFlagRequired("exec")
	return cmd
}

// runWorker serves opts.node until ctx ends, then drains the subscription so
// in-flight requests still get a reply.
func runWorker(ctx context.Context, opts workerOptions, logger *zap.Logger) error {
	id := orchestrator.NodeID(opts.node)
	if id == orchestrator.NodeAggregator || id == orchestrator.NodeApproval {
		return fmt.Errorf("%s is run by the engine itself", opts.node)
	}
	node, err := nodes.NewExec(id, opts.command,
		nodes.WithWorkDir(opts.workDir),
		nodes.WithExecTimeout(opts.timeout),
	)
	if err != nil {
		return err
	}

	var natsOpts []nats.Option
	if opts.token != "" {
		natsOpts = append(natsOpts, nats.Token(opts.token))
	}
	nc, err := natsbus.Connect(opts.natsURL, "orchestrd-worker-"+opts.node, logger.Named("nats"), natsOpts...)
	if err != nil {
		return err
	}
	defer nc.Close()

	subject := natsbus.Subjects{Prefix: opts.prefix}.Node(opts.node)
	sub, err := nodes.ServeRemote(nc, subject, node, logger.Named("worker"))
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	logger.Info("worker ready", zap.String("node", opts.node), zap.String("subject", subject))

	<-ctx.Done()
	logger.Info("worker stopping", zap.String("node", opts.node))
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nc.Drain()
}
