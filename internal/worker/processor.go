package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"s3syncdash/internal/api"
	"s3syncdash/internal/broker"
	"s3syncdash/internal/transfer"
)

// OpenFunc opens a local file for reading
type OpenFunc func(path string) (io.ReadCloser, error)

// Processor performs one authorization + transfer attempt for a task
type Processor struct {
	broker     broker.Broker
	transferer transfer.Transferer
	cred       api.Credential
	open       OpenFunc
	logger     *zap.Logger
}

// NewProcessor creates a processor bound to the caller's credential
func NewProcessor(b broker.Broker, t transfer.Transferer, cred api.Credential, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		broker:     b,
		transferer: t,
		cred:       cred,
		open:       func(path string) (io.ReadCloser, error) { return os.Open(path) },
		logger:     logger,
	}
}

// WithOpener replaces the function used to open local files
func (p *Processor) WithOpener(open OpenFunc) *Processor {
	p.open = open
	return p
}

// Attempt implements AttemptFunc. A fresh authorization is requested on every attempt
// since grants are single-use. Errors are *broker.AuthorizationError or *transfer.TransferError.
func (p *Processor) Attempt(ctx context.Context, task Task) error {
	auth, err := p.broker.RequestAuthorization(ctx, p.cred, task.SessionID, task.Key)
	if err != nil {
		var authErr *broker.AuthorizationError
		if errors.As(err, &authErr) {
			return err
		}
		return &broker.AuthorizationError{SessionID: task.SessionID, Key: task.Key, Err: err}
	}

	f, err := p.open(task.File.LocalPath)
	if err != nil {
		return &transfer.TransferError{Key: task.Key, Err: fmt.Errorf("%w: open %s: %w", transfer.ErrLocalFile, task.File.LocalPath, err)}
	}
	defer f.Close()

	p.logger.Debug("Transferring file",
		zap.String("key", task.Key),
		zap.String("destination", auth.FullKey),
		zap.Int64("size", task.File.Size),
	)

	if err := p.transferer.Transfer(ctx, auth.URL, f, task.File.Size); err != nil {
		var te *transfer.TransferError
		if errors.As(err, &te) {
			te.Key = task.Key
			return te
		}
		return &transfer.TransferError{Key: task.Key, Err: err}
	}

	return nil
}
