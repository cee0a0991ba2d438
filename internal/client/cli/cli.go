package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/template"

	"github.com/iudanet/peersync/internal/client/iocli"
	"github.com/iudanet/peersync/pkg/api"
)

//go:generate moq -out control_mock.go . ControlAPI

// ControlAPI API управления локального узла (api.Client)
type ControlAPI interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	Pairing(ctx context.Context) (*api.PairingResponse, error)
	AcceptPairing(ctx context.Context, token string) (*api.PeerResponse, error)
	Peers(ctx context.Context) ([]api.PeerResponse, error)
	Untrust(ctx context.Context, deviceID string) error
	Grant(ctx context.Context, deviceID, capability string, req api.GrantRequest) (*api.PeerResponse, error)
	Revoke(ctx context.Context, deviceID, capability string) (*api.PeerResponse, error)
	Documents(ctx context.Context, docType string) ([]api.DocumentResponse, error)
	Document(ctx context.Context, id string) (*api.DocumentResponse, error)
	PutDocument(ctx context.Context, id string, req api.PutDocumentRequest) (*api.OperationResponse, error)
	DeleteDocument(ctx context.Context, id string) (*api.OperationResponse, error)
}

// ErrUnknownCommand неизвестная команда
var ErrUnknownCommand = errors.New("unknown command")

// IsUnknownCommand сообщает, что err вызвана неизвестной командой
func IsUnknownCommand(err error) bool {
	return errors.Is(err, ErrUnknownCommand)
}

type Cli struct {
	io  iocli.IO
	api ControlAPI
}

func New(io iocli.IO, client ControlAPI) *Cli {
	return &Cli{
		io:  io,
		api: client,
	}
}

// Run выполняет команду. args[0] - имя команды.
func (c *Cli) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command")
	}

	command, rest := args[0], args[1:]
	switch command {
	case "status":
		return c.runStatus(ctx)
	case "identity":
		return c.runIdentity(ctx)
	case "pair":
		return c.runPair(ctx, rest)
	case "peers":
		return c.runPeers(ctx)
	case "untrust":
		return c.runUntrust(ctx, rest)
	case "grant":
		return c.runGrant(ctx, rest)
	case "revoke":
		return c.runRevoke(ctx, rest)
	case "put":
		return c.runPut(ctx, rest)
	case "get":
		return c.runGet(ctx, rest)
	case "docs":
		return c.runDocs(ctx, rest)
	case "delete":
		return c.runDelete(ctx, rest)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

// PrintUsage печатает справку
func PrintUsage(w io.Writer) {
	_, _ = io.WriteString(w, usageTemplate)
}

// render выводит данные по шаблону
func (c *Cli) render(tmpl *template.Template, data any) error {
	if err := tmpl.Execute(c.io, data); err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}
	return nil
}
