package iocli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// promptIO отвечает на ReadPassword заданной строкой
type promptIO struct {
	Stdio
	err    error
	answer string
	asked  int
}

func (p *promptIO) ReadPassword(string) (string, error) {
	p.asked++
	return p.answer, p.err
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func writePassphraseFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passphrase")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadPassphrase_Priority(t *testing.T) {
	file := writePassphraseFile(t, "from-file-passphrase\n")

	tests := []struct {
		name  string
		src   PassphraseSource
		want  string
		asked int
	}{
		{
			name: "env wins",
			src: PassphraseSource{
				Getenv:   env(map[string]string{PassphraseEnv: "from-env-passphrase"}),
				File:     file,
				Terminal: true,
			},
			want: "from-env-passphrase",
		},
		{
			name: "file trimmed",
			src: PassphraseSource{
				Getenv:   env(nil),
				File:     file,
				Terminal: true,
			},
			want: "from-file-passphrase",
		},
		{
			name: "prompt on terminal",
			src: PassphraseSource{
				Getenv:   env(nil),
				Terminal: true,
			},
			want:  "typed-passphrase",
			asked: 1,
		},
		{
			name: "no source leaves key unsealed",
			src: PassphraseSource{
				Getenv: env(nil),
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			io := &promptIO{answer: "typed-passphrase"}
			tt.src.IO = io

			got, err := ReadPassphrase(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.asked, io.asked)
		})
	}
}

func TestReadPassphrase_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    PassphraseSource
		errMsg string
	}{
		{
			name:   "missing file",
			src:    PassphraseSource{Getenv: env(nil), File: filepath.Join(t.TempDir(), "nope")},
			errMsg: "failed to read passphrase file",
		},
		{
			name:   "empty file",
			src:    PassphraseSource{Getenv: env(nil), File: writePassphraseFile(t, "  \n")},
			errMsg: "passphrase file is empty",
		},
		{
			name:   "too short",
			src:    PassphraseSource{Getenv: env(map[string]string{PassphraseEnv: "short"})},
			errMsg: "invalid passphrase",
		},
		{
			name:   "prompt fails",
			src:    PassphraseSource{Getenv: env(nil), Terminal: true, IO: &promptIO{err: errors.New("eof")}},
			errMsg: "failed to read passphrase from stdin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadPassphrase(tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
