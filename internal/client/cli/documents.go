package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iudanet/peersync/internal/client/api"
	"github.com/iudanet/peersync/internal/models"
	papi "github.com/iudanet/peersync/pkg/api"
)

const putUsage = "Usage: peersync put <doc-id> <type> [--create] key=value..."

func (c *Cli) runPut(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("missing arguments. %s", putUsage)
	}

	id, docType := args[0], args[1]
	if _, err := models.ParseDocumentType(docType); err != nil {
		return err
	}

	req := papi.PutDocumentRequest{
		Type:    docType,
		Content: make(map[string]any),
	}
	for _, arg := range args[2:] {
		if arg == "--create" {
			req.Operation = string(models.OperationCreate)
			continue
		}
		key, value, err := parseField(arg)
		if err != nil {
			return fmt.Errorf("%w. %s", err, putUsage)
		}
		req.Content[key] = value
	}

	op, err := c.api.PutDocument(ctx, id, req)
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return c.render(opTmpl, op)
}

func (c *Cli) runGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("missing document ID. Usage: peersync get <doc-id>")
	}

	doc, err := c.api.Document(ctx, args[0])
	if err != nil {
		if api.IsNotFound(err) {
			return fmt.Errorf("document not found with ID: %s", args[0])
		}
		return fmt.Errorf("failed to get document: %w", err)
	}
	return c.render(documentTmpl, doc)
}

func (c *Cli) runDocs(ctx context.Context, args []string) error {
	var docType string
	if len(args) > 0 {
		if _, err := models.ParseDocumentType(args[0]); err != nil {
			return err
		}
		docType = args[0]
	}

	docs, err := c.api.Documents(ctx, docType)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	return c.render(docsTmpl, docs)
}

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("missing document ID. Usage: peersync delete <doc-id>")
	}

	op, err := c.api.DeleteDocument(ctx, args[0])
	if err != nil {
		if api.IsNotFound(err) {
			return fmt.Errorf("document not found with ID: %s", args[0])
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return c.render(opTmpl, op)
}

// parseField разбирает key=value. Значение, которое читается как JSON
// (число, bool, массив, объект, строка в кавычках), сохраняется с типом, иначе как строка.
func parseField(arg string) (string, any, error) {
	key, raw, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid field %q, expected key=value", arg)
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil && value != nil {
		return key, value, nil
	}
	return key, raw, nil
}
