// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
)

// Status is the state a Node reports while handling input.
type Status int

const (
	// StatusClear means the last message was sent with a valid token.
	StatusClear Status = iota
	// StatusRefreshing means the owner's access token is being refreshed.
	StatusRefreshing
	// StatusFailed means the last refresh failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusClear:
		return "clear"
	case StatusRefreshing:
		return "refreshing"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StatusFunc receives every status change of a Node.
type StatusFunc func(Status)

// SendFunc forwards a message to the next stage of the pipeline.
type SendFunc func(*Message)

// TokenSource hands out valid access tokens for an owner. *oidc.Manager is
// the usual implementation.
type TokenSource interface {
	Token(ctx context.Context, ownerID string, opt ...oidc.Option) (*oidc.GuardResult, error)
	Store() oidc.CredentialStore
}

var _ TokenSource = (*oidc.Manager)(nil)

// Node attaches an owner's access token to every message it handles,
// refreshing the token first when needed.
type Node struct {
	tokens  TokenSource
	ownerID string
	send    SendFunc
	status  StatusFunc
	logger  hclog.Logger
}

// NewNode creates a Node for the owner that forwards messages with send. A
// warning is logged when the owner has not completed an authorization yet;
// messages are still handled and fail until it does.
//
// Supported options: WithLogger, WithStatusFunc
func NewNode(ctx context.Context, tokens TokenSource, ownerID string, send SendFunc, opt ...oidc.Option) (*Node, error) {
	const op = "pipeline.NewNode"
	switch {
	case tokens == nil:
		return nil, fmt.Errorf("%s: token source is nil: %w", op, oidc.ErrNilParameter)
	case ownerID == "":
		return nil, fmt.Errorf("%s: owner id is empty: %w", op, oidc.ErrInvalidParameter)
	case send == nil:
		return nil, fmt.Errorf("%s: send func is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getNodeOpts(opt...)
	n := &Node{
		tokens:  tokens,
		ownerID: ownerID,
		send:    send,
		status:  opts.withStatusFunc,
		logger:  opts.withLogger.With("owner_id", ownerID),
	}

	r, err := tokens.Store().Get(ctx, ownerID)
	switch {
	case errors.Is(err, oidc.ErrNotFound):
		n.logger.Warn("missing credentials")
	case err != nil:
		n.logger.Warn("unable to read credentials", "error", err)
	case r.AccessToken == "":
		n.logger.Warn("missing credentials")
	}
	return n, nil
}

// HandleInput makes sure the owner has a valid access token and sends the
// message on with the token attached. When the token cannot be refreshed the
// message is sent on marked as failed instead; the refresh is not retried
// for this message.
func (n *Node) HandleInput(ctx context.Context, msg *Message) {
	res, err := n.tokens.Token(ctx, n.ownerID, oidc.WithStateObserver(n.observe))
	if err != nil {
		var refreshErr *oidc.RefreshError
		if !errors.As(err, &refreshErr) {
			// the guard never ran so the status has not been reported yet
			n.setStatus(StatusFailed)
		}
		n.logger.Error("refresh failed", "error", err)
		n.send(MarkFailed(msg, err))
		return
	}
	n.setStatus(StatusClear)
	n.send(Attach(msg, res.AccessToken))
}

// Run handles every message received on in until it is closed or ctx is
// done. Messages are handled concurrently; Run returns once all in-flight
// messages have been sent.
func (n *Node) Run(ctx context.Context, in <-chan *Message) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				n.HandleInput(ctx, msg)
			}()
		}
	}
}

func (n *Node) observe(s oidc.GuardState) {
	switch s {
	case oidc.StateRefreshing:
		n.setStatus(StatusRefreshing)
	case oidc.StateFailed:
		n.setStatus(StatusFailed)
	}
}

func (n *Node) setStatus(s Status) {
	if n.status != nil {
		n.status(s)
	}
}

// WithLogger provides an optional logger for: NewNode
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*nodeOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithStatusFunc provides an optional func which receives status changes,
// for: NewNode
func WithStatusFunc(fn StatusFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*nodeOptions); ok {
			o.withStatusFunc = fn
		}
	}
}

// nodeOptions is the set of available options for Node functions
type nodeOptions struct {
	withLogger     hclog.Logger
	withStatusFunc StatusFunc
}

// nodeDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func nodeDefaults() nodeOptions {
	return nodeOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getNodeOpts gets the node defaults and applies the opt overrides passed in
func getNodeOpts(opt ...oidc.Option) nodeOptions {
	opts := nodeDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}
