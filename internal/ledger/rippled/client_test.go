package rippled

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"loanflow/internal/ledger"
	"loanflow/pkg/errors"
	"loanflow/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(req map[string]interface{}) (map[string]interface{}, string)

type fakeRippled struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	requests []map[string]interface{}
}

func newFakeRippled() *fakeRippled {
	return &fakeRippled{handlers: map[string]handlerFunc{}}
}

func (f *fakeRippled) on(command string, h handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[command] = h
}

func (f *fakeRippled) lastRequest(command string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		if f.requests[i]["command"] == command {
			return f.requests[i]
		}
	}
	return nil
}

func (f *fakeRippled) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// An unsolicited stream message must be ignored by the client.
	_ = conn.WriteJSON(map[string]interface{}{"type": "ledgerClosed", "ledger_index": 1})

	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		command, _ := req["command"].(string)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		h := f.handlers[command]
		f.mu.Unlock()

		resp := map[string]interface{}{"id": req["id"], "type": "response"}
		if h == nil {
			resp["status"] = "error"
			resp["error"] = "unknownCmd"
		} else if result, code := h(req); code != "" {
			resp["status"] = "error"
			resp["error"] = code
		} else {
			resp["status"] = "success"
			resp["result"] = result
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func dialFake(t *testing.T, f *fakeRippled) *Client {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(context.Background(), url, Options{PollInterval: 5 * time.Millisecond}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAutofill_BatchSequencesAndFee(t *testing.T) {
	f := newFakeRippled()
	f.on("account_info", func(map[string]interface{}) (map[string]interface{}, string) {
		return map[string]interface{}{"account_data": map[string]interface{}{
			"Account": "rIssuer", "Balance": "100000000", "Sequence": 7,
		}}, ""
	})
	f.on("fee", func(map[string]interface{}) (map[string]interface{}, string) {
		return map[string]interface{}{"drafts": map[string]interface{}{"base_fee": "10", "open_ledger_fee": "12"}}, ""
	})
	f.on("ledger_current", func(map[string]interface{}) (map[string]interface{}, string) {
		return map[string]interface{}{"ledger_current_index": 100}, ""
	})
	c := dialFake(t, f)

	inner := func(dest string) map[string]interface{} {
		return map[string]interface{}{"RawTransaction": map[string]interface{}{
			"TransactionType": "Payment", "Account": "rIssuer", "Destination": dest,
		}}
	}
	tx := ledger.Transaction{
		"TransactionType": ledger.TxBatch,
		"Account":         "rIssuer",
		"RawTransactions": []interface{}{inner("rA"), inner("rB")},
	}

	out, err := c.Autofill(context.Background(), tx, ledger.AutofillOptions{})
	require.NoError(t, err)

	assert.Equal(t, uint32(7), out.Uint("Sequence"))
	assert.Equal(t, "48", out["Fee"])
	assert.Equal(t, uint32(120), out.Uint("LastLedgerSequence"))

	raws := out["RawTransactions"].([]interface{})
	first := raws[0].(map[string]interface{})["RawTransaction"].(map[string]interface{})
	second := raws[1].(map[string]interface{})["RawTransaction"].(map[string]interface{})
	assert.Equal(t, uint32(8), ledger.Transaction(first).Uint("Sequence"))
	assert.Equal(t, uint32(9), ledger.Transaction(second).Uint("Sequence"))
	_, touched := tx["Sequence"]
	assert.False(t, touched, "input transaction must not be modified")
}

func TestSubmit_WaitsForValidation(t *testing.T) {
	f := newFakeRippled()
	f.on("submit", func(map[string]interface{}) (map[string]interface{}, string) {
		return map[string]interface{}{
			"engine_result": "tesSUCCESS",
			"tx_json":       map[string]interface{}{"hash": "H1"},
		}, ""
	})
	var calls int
	var mu sync.Mutex
	f.on("tx", func(map[string]interface{}) (map[string]interface{}, string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, "txnNotFound"
		}
		return map[string]interface{}{
			"hash":         "H1",
			"ledger_index": 55,
			"validated":    true,
			"Fee":          "12",
			"meta": map[string]interface{}{
				"TransactionResult": "tesSUCCESS",
				"AffectedNodes": []interface{}{
					map[string]interface{}{"CreatedNode": map[string]interface{}{
						"LedgerEntryType": "Vault", "LedgerIndex": "VAULT1",
					}},
				},
			},
		}, ""
	})
	c := dialFake(t, f)

	res, err := c.Submit(context.Background(), &ledger.Signed{
		Tx:   ledger.Transaction{"TransactionType": ledger.TxVaultCreate, "LastLedgerSequence": 80},
		Blob: "DEADBEEF",
	})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.True(t, res.Validated)
	assert.Equal(t, uint32(55), res.LedgerIndex)
	id, ok := ledger.CreatedID(res.AffectedNodes, ledger.EntryVault)
	assert.True(t, ok)
	assert.Equal(t, "VAULT1", id)
	assert.Equal(t, "DEADBEEF", f.lastRequest("submit")["tx_blob"])
}

func TestSubmit_MalformedReturnsWithoutWaiting(t *testing.T) {
	f := newFakeRippled()
	f.on("submit_multisigned", func(map[string]interface{}) (map[string]interface{}, string) {
		return map[string]interface{}{
			"engine_result": "temDISABLED",
			"tx_json":       map[string]interface{}{"hash": "H2"},
		}, ""
	})
	c := dialFake(t, f)

	res, err := c.Submit(context.Background(), &ledger.Signed{
		Tx: ledger.Transaction{"TransactionType": ledger.TxBatch, "SigningPubKey": ""},
	})
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "temDISABLED", res.Code)
	assert.Nil(t, f.lastRequest("tx"))
}

func TestLedgerEntry_NotFound(t *testing.T) {
	f := newFakeRippled()
	f.on("ledger_entry", func(map[string]interface{}) (map[string]interface{}, string) {
		return nil, "entryNotFound"
	})
	c := dialFake(t, f)

	_, err := c.LedgerEntry(context.Background(), "LOAN1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEntryNotFound))
}

func TestSignCounterparty_TargetsCounterpartyField(t *testing.T) {
	f := newFakeRippled()
	f.on("sign", func(req map[string]interface{}) (map[string]interface{}, string) {
		tx := req["tx_json"].(map[string]interface{})
		tx["CounterpartySignature"] = map[string]interface{}{"SigningPubKey": "ED01", "TxnSignature": "S"}
		tx["hash"] = "H3"
		return map[string]interface{}{"tx_blob": "BLOB", "tx_json": tx}, ""
	})
	c := dialFake(t, f)

	signed, err := c.SignCounterparty(context.Background(),
		ledger.Transaction{"TransactionType": ledger.TxLoanSet, "TxnSignature": "PRIMARY"},
		&ledger.Wallet{Address: "rBorrower", Seed: "sBorrower"})
	require.NoError(t, err)

	req := f.lastRequest("sign")
	assert.Equal(t, "CounterpartySignature", req["signature_target"])
	assert.Equal(t, true, req["offline"])
	assert.Equal(t, "BLOB", signed.Blob)
	assert.Equal(t, "H3", signed.Hash)
	assert.Equal(t, "PRIMARY", signed.Tx["TxnSignature"])
	key, ok := ledger.CounterpartySigner(signed.Tx)
	assert.True(t, ok)
	assert.Equal(t, "ED01", key)
}

func TestRequest_ContextCancelled(t *testing.T) {
	f := newFakeRippled()
	block := make(chan struct{})
	f.on("account_info", func(map[string]interface{}) (map[string]interface{}, string) {
		<-block
		return nil, "actNotFound"
	})
	c := dialFake(t, f)
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.AccountInfo(ctx, "rNobody")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
