package cli

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/iudanet/peersync/internal/models"
)

var funcs = template.FuncMap{
	"clock": formatClock,
	"json":  formatJSON,
	"time":  formatTime,
	"join":  strings.Join,
}

var (
	statusTmpl   = template.Must(template.New("status").Funcs(funcs).Parse(statusTemplate))
	identityTmpl = template.Must(template.New("identity").Funcs(funcs).Parse(identityTemplate))
	pairingTmpl  = template.Must(template.New("pairing").Funcs(funcs).Parse(pairingTemplate))
	peerTmpl     = template.Must(template.New("peer").Funcs(funcs).Parse(peerTemplate))
	peersTmpl    = template.Must(template.New("peers").Funcs(funcs).Parse(peersTemplate + `{{define "peer"}}` + peerTemplate + `{{end}}`))
	documentTmpl = template.Must(template.New("document").Funcs(funcs).Parse(documentTemplate))
	docsTmpl     = template.Must(template.New("docs").Funcs(funcs).Parse(docsTemplate))
	opTmpl       = template.Must(template.New("op").Funcs(funcs).Parse(operationTemplate))
)

const statusTemplate = `=== Node Status ===

Device ID:  {{.DeviceID}}
State:      {{.State}}
Documents:  {{.DocumentCount}}
Clock:      {{clock .VectorClock}}
{{- if .ConnectedPeers}}
Connected:  {{join .ConnectedPeers ", "}}
{{- else}}
Connected:  none
{{- end}}
`

const identityTemplate = `=== Device Identity ===

Device ID:       {{.DeviceID}}
Encryption key:  {{.EncryptionPublicKey}}
Signing key:     {{.SigningPublicKey}}
`

const pairingTemplate = `=== Pairing Token ===

Device ID:  {{.Materials.DeviceID}}
Expires:    {{time .ExpiresAt}}

{{.Token}}

On the other device run: peersync pair accept <token>
`

const peerTemplate = `{{.DeviceID}}  {{if .Name}}{{.Name}}{{else}}-{{end}} ({{.Type}})
   Active:     {{.IsActive}}   Connected: {{.Connected}}
   Trusted:    {{time .TrustedAt}}
   Last seen:  {{time .LastSeen}}
{{- range $cap, $p := .Permissions}}
   {{printf "%-14s" $cap}} {{$p.Level}}{{if $p.ExpiresAt}} until {{time $p.ExpiresAt}}{{end}}
{{- end}}
`

const peersTemplate = `=== Trusted Devices ===
{{if not .}}
No trusted devices. Use 'peersync pair accept <token>' to add one.
{{else}}
{{range .}}{{template "peer" .}}
{{end}}{{end}}`

const documentTemplate = `=== Document {{.ID}} ===

Type:        {{.Type}}
Created by:  {{.CreatedBy}}
Modified:    {{time .LastModified}}
Clock:       {{clock .VectorClock}}

{{json .Content}}
`

const docsTemplate = `=== Documents ===
{{if not .}}
No documents.
{{else}}
{{range .}}{{printf "%-32s" .ID}} {{printf "%-10s" .Type}} {{clock .VectorClock}}
{{end}}{{end}}`

const operationTemplate = `{{.Type}} {{.DocumentID}}: operation {{.OperationID}}, clock {{clock .VectorClock}}
`

const usageTemplate = `
peersync - control a local sync node

Usage:
  peersync [OPTIONS] COMMAND [ARGS]

Options:
  -api URL       Control API of the node (default: http://127.0.0.1:8002)
  -token TOKEN   Control API token (or PEERSYNC_CONTROL_TOKEN)
  -version       Show version information

Commands:
  status                                Show sync engine state
  identity                              Show device id and public keys
  pair show                             Issue a pairing token for this device
  pair accept <token>                   Trust the device that issued the token
  peers                                 List trusted devices
  untrust <device-id>                   Remove a device from the trusted set
  grant <device-id> <cap> <level> [ttl] Grant a capability (none, read, write, admin)
  revoke <device-id> <cap>              Revoke a capability
  put <doc-id> <type> [--create] k=v... Write a document (note, reminder, preference, memory)
  get <doc-id>                          Show a document
  docs [type]                           List documents
  delete <doc-id>                       Delete a document

Examples:
  peersync pair show
  peersync pair accept eyJhbGciOiJFZERTQSJ9...
  peersync grant 3f9a0c1b2d4e5f60 camera read 1h
  peersync put shopping note title="Groceries" items='["milk","eggs"]'
  peersync docs note
`

// formatClock печатает векторные часы в стабильном порядке
func formatClock(vc models.VectorClock) string {
	if len(vc) == 0 {
		return "{}"
	}
	ids := make([]string, 0, len(vc))
	for id := range vc {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("{")
	for i, id := range ids {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(id)
		b.WriteString(":")
		b.WriteString(strconv.FormatUint(vc[id], 10))
	}
	b.WriteString("}")
	return b.String()
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// formatTime принимает time.Time или *time.Time
func formatTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format(time.RFC3339)
	case *time.Time:
		if t == nil {
			return "-"
		}
		return formatTime(*t)
	default:
		return "-"
	}
}
