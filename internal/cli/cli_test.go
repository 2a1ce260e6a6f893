package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gopkg.in/yaml.v3"

	"github.com/glinharesb/sekeys/internal/audit"
	"github.com/glinharesb/sekeys/internal/hsm"
	"github.com/glinharesb/sekeys/internal/interceptor"
	"github.com/glinharesb/sekeys/internal/keystore"
	"github.com/glinharesb/sekeys/internal/server"
)

const testToken = "cli-token"

func startServer(t *testing.T) grpc.DialOption {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	h, err := hsm.NewSoftwareHSM(keystore.NewMemoryStore(), hsm.WithLogger(logger))
	require.NoError(t, err)
	auditLog := audit.NewLogger(audit.Config{Logger: logger})

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(interceptor.AuthUnary(testToken)),
		grpc.StreamInterceptor(interceptor.AuthStream(testToken)),
	)
	server.NewServices(server.NewRegistry(h, logger), auditLog).Register(srv)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		srv.Stop()
		auditLog.Close()
	})

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func run(t *testing.T, dialer grpc.DialOption, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out, dialer)
	cmd.SetArgs(append([]string{"--addr", "passthrough:///bufnet", "--token", testToken}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateTextOutput(t *testing.T) {
	dialer := startServer(t)

	out, err := run(t, dialer, "generate", "--slot", "0xe0f1", "--curve", "secp384r1", "--usage", "signature,authentication")
	require.NoError(t, err)
	assert.Contains(t, out, "curve: secp384r1\n")
	assert.Contains(t, out, "kind: ecc\n")
	assert.Contains(t, out, "slot: 0xe0f1\n")
	assert.Contains(t, out, "usage: authentication, signature\n")
}

func TestGenerateRSAJSON(t *testing.T) {
	dialer := startServer(t)

	out, err := run(t, dialer, "-o", "json", "generate", "--slot", "0xe0fd", "--key-size", "2048")
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "rsa", resp["kind"])
	assert.Equal(t, float64(2048), resp["key_size"])
}

func TestSignAndListYAML(t *testing.T) {
	dialer := startServer(t)
	_, err := run(t, dialer, "generate", "--slot", "0xe0f0")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "msg.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	out, err := run(t, dialer, "-o", "yaml", "sign", "--slot", "0xe0f0", "--in", path)
	require.NoError(t, err)
	var sig map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &sig))
	assert.Equal(t, "sha256_ecdsa", sig["algorithm"])
	assert.NotEmpty(t, sig["signature"])

	out, err = run(t, dialer, "-o", "yaml", "list")
	require.NoError(t, err)
	var listed struct {
		Keys []map[string]any `yaml:"keys"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Keys, 1)
	assert.Equal(t, "0xe0f0", listed.Keys[0]["slot"])
}

func TestSignStdin(t *testing.T) {
	dialer := startServer(t)
	_, err := run(t, dialer, "generate", "--slot", "0xe0fc")
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := NewRootCommand(&out, dialer)
	cmd.SetIn(strings.NewReader("from stdin"))
	cmd.SetArgs([]string{"--addr", "passthrough:///bufnet", "--token", testToken, "sign", "--slot", "0xe0fc", "--in", "-", "--hash", "sha384"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "algorithm: sha384_rsa\n")
}

func TestSignFlagValidation(t *testing.T) {
	dialer := startServer(t)

	_, err := run(t, dialer, "sign", "--slot", "0xe0f0")
	assert.ErrorContains(t, err, "--text or --in")

	_, err = run(t, dialer, "sign", "--slot", "0xe0f0", "--text", "a", "--in", "-")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = run(t, dialer, "sign", "--text", "a")
	assert.ErrorContains(t, err, "slot")
}

func TestServerErrorsSurface(t *testing.T) {
	dialer := startServer(t)

	_, err := run(t, dialer, "pubkey", "--slot", "0xe0f2")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = run(t, dialer, "random", "--length", "4")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	var out bytes.Buffer
	cmd := NewRootCommand(&out, dialer)
	cmd.SetArgs([]string{"--addr", "passthrough:///bufnet", "--token", "wrong", "list"})
	assert.Equal(t, codes.Unauthenticated, status.Code(cmd.Execute()))
}

func TestRandomAndAudit(t *testing.T) {
	dialer := startServer(t)

	out, err := run(t, dialer, "-o", "json", "random", "--length", "16", "--trng=false")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp["random"])

	require.Eventually(t, func() bool {
		out, err := run(t, dialer, "-o", "json", "audit", "--operation", "GetRandom")
		if err != nil {
			return false
		}
		var listed map[string][]map[string]any
		if json.Unmarshal([]byte(out), &listed) != nil || len(listed["entries"]) != 1 {
			return false
		}
		return listed["entries"][0]["metadata"].(map[string]any)["source"] == "drng"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownOutputFormat(t *testing.T) {
	dialer := startServer(t)
	_, err := run(t, dialer, "-o", "table", "list")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestPrinterText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(OutputFormatText, &buf)
	require.NoError(t, p.Print(map[string]any{
		"keys": []any{
			map[string]any{"slot": "0xe0f0", "key_size": float64(1024)},
			map[string]any{"slot": "0xe0f1"},
		},
		"empty": []any{},
	}))
	assert.Equal(t, "empty: (none)\nkey_size: 1024\nslot: 0xe0f0\n\nslot: 0xe0f1\n", buf.String())
}

func TestDeleteFreesSlot(t *testing.T) {
	dialer := startServer(t)
	_, err := run(t, dialer, "generate", "--slot", "0xe0f3")
	require.NoError(t, err)

	out, err := run(t, dialer, "-o", "json", "delete", "--slot", "0xe0f3")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, true, resp["deleted"])
	assert.Equal(t, "0xe0f3", resp["slot"])

	_, err = run(t, dialer, "pubkey", "--slot", "0xe0f3")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = run(t, dialer, "delete", "--slot", "0xe0f3")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = run(t, dialer, "delete")
	assert.ErrorContains(t, err, "slot")
}
