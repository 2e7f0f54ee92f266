package common_test

import (
	"io"
	"os"
	"testing"

	"custody-wallet-go/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestPrintField(t *testing.T) {
	out := captureStdout(t, func() {
		common.PrintField("Provider Tx", "%s (%s)", "tx-1", "SUBMITTED")
		common.PrintField("Idempotency Key", "%s", "abc")
	})
	assert.Equal(t, "Provider Tx:       tx-1 (SUBMITTED)\nIdempotency Key:   abc\n", out)
}

func TestPrintHeader(t *testing.T) {
	out := captureStdout(t, func() {
		common.PrintHeader("TRANSFER", 4)
	})
	assert.Equal(t, "\n====\nTRANSFER\n====\n", out)
}
