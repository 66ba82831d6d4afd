package thor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken = common.HexToAddress("0x5ef79995FE8a89e0812330E4378eB2660ceDe699")
	testAddr  = common.HexToAddress("0x8d5fb3e576bbe08279a3a64194c01b36d4bbb0c9")
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(srv.URL, testToken, 18, nil, logger)
	c.signRetryDelay = 10 * time.Millisecond
	return c, srv
}

func TestGetBalance_DecodesAndScales(t *testing.T) {
	// 50 tokens at 18 decimals.
	raw, _ := new(big.Int).SetString("50000000000000000000", 10)
	word := make([]byte, 32)
	raw.FillBytes(word)

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/accounts/*", r.URL.Path)

		var body struct {
			Clauses []struct {
				To   string `json:"to"`
				Data string `json:"data"`
			} `json:"clauses"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Clauses, 1)
		assert.Equal(t, testToken.Hex(), body.Clauses[0].To)
		// balanceOf selector followed by the padded owner address.
		assert.Contains(t, body.Clauses[0].Data, hex.EncodeToString(balanceOfSelector))

		json.NewEncoder(w).Encode([]map[string]any{
			{"data": "0x" + hex.EncodeToString(word), "reverted": false, "vmError": ""},
		})
	}))

	snapshot, err := c.GetBalance(context.Background(), testAddr)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, raw, snapshot.Raw)
	assert.Equal(t, "50.00", snapshot.Display)
	assert.Equal(t, testAddr, snapshot.Address)
	assert.False(t, snapshot.FetchedAt.IsZero())
}

func TestGetBalance_UnknownAccountIsNilNotZero(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"data": "0x", "reverted": false, "vmError": ""},
		})
	}))

	snapshot, err := c.GetBalance(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestGetBalance_TransportErrorRecovered(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	snapshot, err := c.GetBalance(context.Background(), testAddr)
	assert.Error(t, err)
	assert.Nil(t, snapshot)
}

func TestGetAccountEnergy(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		json.NewEncoder(w).Encode(map[string]any{
			"balance": "0x0",
			"energy":  "0x1bc16d674ec80000", // 2 VTHO
			"hasCode": false,
		})
	}))

	snapshot, err := c.GetAccountEnergy(context.Background(), testAddr)
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "2.00", snapshot.Display)
}

func TestGetReceipt_NilWhileUnmined(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("null"))
	}))

	receipt, err := c.GetReceipt(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestGetReceipt_StableOnceMined(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/0xabc/receipt", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"gasUsed":  36582,
			"reverted": true,
			"meta": map[string]any{
				"blockID":     "0x00b1...",
				"blockNumber": 1234,
			},
		})
	}))

	first, err := c.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.GetReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.Reverted, second.Reverted)
	assert.Equal(t, uint64(1234), first.BlockNumber)
}

// mockSigner fails a configurable number of times before succeeding.
type mockSigner struct {
	failures int32
	calls    int32
	raw      string
}

func (m *mockSigner) SignTransfer(ctx context.Context, tx *TransferTx) (string, error) {
	n := atomic.AddInt32(&m.calls, 1)
	if n <= atomic.LoadInt32(&m.failures) {
		return "", errors.New("signer temporarily unavailable")
	}
	return m.raw, nil
}

func TestSubmitTransfer_Success(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions", r.URL.Path)
		var body struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xsigned", body.Raw)
		json.NewEncoder(w).Encode(map[string]string{"id": "0xtx1"})
	}))

	signer := &mockSigner{raw: "0xsigned"}
	txID, err := c.SubmitTransfer(context.Background(), signer, testAddr, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "0xtx1", txID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&signer.calls))
}

func TestSubmitTransfer_RetriesSignerOnce(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "0xtx2"})
	}))

	signer := &mockSigner{failures: 1, raw: "0xsigned"}
	txID, err := c.SubmitTransfer(context.Background(), signer, testAddr, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "0xtx2", txID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&signer.calls))
}

func TestSubmitTransfer_SecondSignerFailureIsTerminal(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("node should not be reached when signing fails")
	}))

	signer := &mockSigner{failures: 2}
	_, err := c.SubmitTransfer(context.Background(), signer, testAddr, big.NewInt(1000))
	require.Error(t, err)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(&signer.calls))
}

func TestSubmitTransfer_OverflowFailsBeforeSigning(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("node should not be reached")
	}))

	signer := &mockSigner{raw: "0xsigned"}
	overflow := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := c.SubmitTransfer(context.Background(), signer, testAddr, overflow)

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, int32(0), atomic.LoadInt32(&signer.calls), "signer must not be invoked")
}

func TestSubmitTransfer_NodeUnreachable(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	signer := &mockSigner{raw: "0xsigned"}
	_, err := c.SubmitTransfer(context.Background(), signer, testAddr, big.NewInt(1))

	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Contains(t, subErr.Reason, "chain node")
}
