// Package transport carries instructions to the external executor and
// completion signals back, over NATS subjects. An embedded server backs
// single-binary deployments and tests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/engine"
	"github.com/fyrsmithlabs/conductord/internal/review"
	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// Subjects.
const (
	// SubjectInstructions carries instruction requests; the worker name is
	// appended so executors subscribe per worker.
	SubjectInstructions = "conductord.instructions"
	// SubjectSignals carries completion signals; the namespace is appended.
	SubjectSignals = "conductord.signals"
	// SubjectRevisions is the request/reply subject for gate remediation.
	SubjectRevisions = "conductord.revisions"
)

// Config selects the server and timeouts.
type Config struct {
	// URL is the server to connect to. Ignored when Embedded is set.
	URL string
	// Embedded starts an in-process server on a random port.
	Embedded bool
	// RequestTimeout bounds remediation round-trips.
	RequestTimeout time.Duration
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Transport owns the NATS connection and, optionally, an embedded server.
// It implements engine.InstructionSink and review.Remediator.
type Transport struct {
	conn   *nats.Conn
	srv    *server.Server
	config Config
	logger *zap.Logger
}

// New connects to NATS, starting an embedded server first when configured.
func New(config Config, logger *zap.Logger) (*Transport, error) {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Transport{config: config, logger: logger}

	url := config.URL
	if config.Embedded {
		srv, err := server.NewServer(&server.Options{
			Port:                  -1,
			DisableShortFirstPing: true,
		})
		if err != nil {
			return nil, fmt.Errorf("transport: building embedded server: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(10 * time.Second) {
			srv.Shutdown()
			return nil, errors.New("transport: embedded server did not become ready")
		}
		t.srv = srv
		url = srv.ClientURL()
		logger.Info("transport: embedded server started", zap.String("url", url))
	}

	conn, err := nats.Connect(url,
		nats.Name("conductord"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		if t.srv != nil {
			t.srv.Shutdown()
		}
		return nil, fmt.Errorf("transport: connecting to %s: %w", url, err)
	}
	t.conn = conn
	return t, nil
}

// Publish sends one instruction request to its worker's subject.
func (t *Transport) Publish(ctx context.Context, req engine.InstructionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transport: encoding instruction: %w", err)
	}
	subject := SubjectInstructions + "." + req.WorkerName
	if err := t.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("transport: publishing instruction: %w", err)
	}
	t.logger.Debug("transport: instruction published",
		zap.String("subject", subject),
		zap.String("namespace", req.Namespace),
		zap.String("phase", string(req.Phase)))
	return nil
}

// SubscribeSignals delivers every completion signal to the handler.
// Malformed payloads are logged and dropped.
func (t *Transport) SubscribeSignals(handler func(engine.CompletionSignal)) (*nats.Subscription, error) {
	subject := SubjectSignals + ".>"
	sub, err := t.conn.Subscribe(subject, func(msg *nats.Msg) {
		var signal engine.CompletionSignal
		if err := json.Unmarshal(msg.Data, &signal); err != nil {
			t.logger.Warn("transport: dropping malformed signal",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		handler(signal)
	})
	if err != nil {
		return nil, fmt.Errorf("transport: subscribing to signals: %w", err)
	}
	return sub, nil
}

// revisionRequest is the remediation request payload.
type revisionRequest struct {
	Fix      review.FixInstruction `json:"fix"`
	Artifact triangulate.Artifact  `json:"artifact"`
}

// Remediate forwards a fix instruction to the executor and waits for the
// revised artifact on the reply.
func (t *Transport) Remediate(ctx context.Context, fix review.FixInstruction, artifact triangulate.Artifact) (triangulate.Artifact, error) {
	data, err := json.Marshal(revisionRequest{Fix: fix, Artifact: artifact})
	if err != nil {
		return triangulate.Artifact{}, fmt.Errorf("transport: encoding revision request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
	defer cancel()

	msg, err := t.conn.RequestWithContext(ctx, SubjectRevisions, data)
	if err != nil {
		return triangulate.Artifact{}, fmt.Errorf("transport: requesting revision: %w", err)
	}

	var revised triangulate.Artifact
	if err := json.Unmarshal(msg.Data, &revised); err != nil {
		return triangulate.Artifact{}, fmt.Errorf("transport: decoding revised artifact: %w", err)
	}
	if err := revised.Validate(); err != nil {
		return triangulate.Artifact{}, err
	}
	return revised, nil
}

// Conn exposes the underlying connection for focused publishers.
func (t *Transport) Conn() *nats.Conn {
	return t.conn
}

// Close drains the connection and stops the embedded server if one is
// running.
func (t *Transport) Close() error {
	var errs []error
	if t.conn != nil {
		if err := t.conn.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.srv != nil {
		t.srv.Shutdown()
		t.srv.WaitForShutdown()
	}
	return errors.Join(errs...)
}
