package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"OpenWallet-Chain/internal/approval"
	xerrors "OpenWallet-Chain/internal/errors"
	"OpenWallet-Chain/internal/gateway"
	"OpenWallet-Chain/internal/policy"
	"OpenWallet-Chain/internal/storage/mysql"
	"OpenWallet-Chain/internal/vault"
)

func testServer(t *testing.T) (*Server, *vault.Service, *approval.Coordinator) {
	t.Helper()
	store, err := mysql.NewMemoryCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	vaultSvc := vault.NewService(store)
	coordinator := approval.NewCoordinator()
	gw := gateway.NewService(
		policy.New(),
		vaultSvc,
		nil,
		nil,
		coordinator,
		approval.NewMemoryDelivery(),
		"test-passphrase",
	)
	return NewServer(":0", gw, vaultSvc, nil), vaultSvc, coordinator
}

func TestHandleChains(t *testing.T) {
	server, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil)
	rec := httptest.NewRecorder()
	server.handleChains(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}
	var body struct {
		Chains []string `json:"chains"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Chains) == 0 {
		t.Fatal("chain list is empty")
	}
}

func TestHandleActionsRejectsBadRequests(t *testing.T) {
	server, _, _ := testServer(t)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/actions", nil)
		rec := httptest.NewRecorder()
		server.handleActions(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		server.handleActions(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})

	t.Run("missing action", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(`{"user_id": 1}`))
		rec := httptest.NewRecorder()
		server.handleActions(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})
}

func TestHandleActionsReadOnlyPassThrough(t *testing.T) {
	server, _, _ := testServer(t)

	body := `{"user_id": 1, "action": "get_positions", "input": {"protocol": "uniswap"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.handleActions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d body %s", rec.Code, rec.Body.String())
	}
	var resp gateway.ActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Decision != "allow" {
		t.Fatalf("unexpected decision: %q", resp.Decision)
	}
	if resp.Input["protocol"] != "uniswap" {
		t.Fatalf("input not passed through: %+v", resp.Input)
	}
}

func TestHandleApprovalCallback(t *testing.T) {
	server, _, coordinator := testServer(t)

	t.Run("unknown correlation id", func(t *testing.T) {
		body := `{"correlation_id": "missing", "choice": "approve"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/callback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.handleApprovalCallback(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})

	t.Run("missing correlation id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/callback", strings.NewReader(`{"choice": "approve"}`))
		rec := httptest.NewRecorder()
		server.handleApprovalCallback(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})

	t.Run("duplicate callback conflicts", func(t *testing.T) {
		id := coordinator.Request(1, "transfer_native")
		body := `{"correlation_id": "` + id + `", "choice": "deny"}`

		req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/callback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.handleApprovalCallback(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("first callback failed: %d %s", rec.Code, rec.Body.String())
		}

		req = httptest.NewRequest(http.MethodPost, "/api/v1/approvals/callback", strings.NewReader(body))
		rec = httptest.NewRecorder()
		server.handleApprovalCallback(rec, req)
		if rec.Code != http.StatusConflict {
			t.Fatalf("unexpected status for duplicate: %d", rec.Code)
		}
	})
}

func TestHandleApprovalsSnapshot(t *testing.T) {
	server, _, coordinator := testServer(t)
	id := coordinator.Request(7, "execute_transactions")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/approvals", nil)
	rec := httptest.NewRecorder()
	server.handleApprovals(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Pending []approval.PendingInfo `json:"pending"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Pending) != 1 || body.Pending[0].CorrelationID != id {
		t.Fatalf("unexpected pending snapshot: %+v", body.Pending)
	}
}

func TestHandleCredentialInspect(t *testing.T) {
	server, vaultSvc, _ := testServer(t)

	t.Run("missing user", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/inspect", strings.NewReader(`{"user_id": 404}`))
		rec := httptest.NewRecorder()
		server.handleCredentialInspect(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
	})

	t.Run("addresses only without passphrase", func(t *testing.T) {
		created, err := vaultSvc.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), 21, "test-passphrase")
		if err != nil {
			t.Fatalf("create credential: %v", err)
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/inspect", strings.NewReader(`{"user_id": 21}`))
		rec := httptest.NewRecorder()
		server.handleCredentialInspect(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
		}

		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["evm_address"] != created.EVMAddress {
			t.Fatalf("unexpected evm address: %v", body["evm_address"])
		}
		if strings.Contains(rec.Body.String(), created.EVMPrivateKey) {
			t.Fatal("response leaked key material without passphrase")
		}
	})

	t.Run("keys with correct passphrase", func(t *testing.T) {
		created, err := vaultSvc.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), 22, "test-passphrase")
		if err != nil {
			t.Fatalf("create credential: %v", err)
		}

		body := `{"user_id": 22, "passphrase": "test-passphrase"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/inspect", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.handleCredentialInspect(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
		}

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["evm_private_key"] != created.EVMPrivateKey {
			t.Fatal("evm private key missing from operator response")
		}
		if resp["solana_private_key"] != created.SolanaPrivateKey {
			t.Fatal("solana private key missing from operator response")
		}
	})

	t.Run("wrong passphrase forbidden", func(t *testing.T) {
		body := `{"user_id": 22, "passphrase": "wrong"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credentials/inspect", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.handleCredentialInspect(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
		}
	})
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{"INVALID_ARGUMENT", http.StatusBadRequest},
		{"UNSUPPORTED_CHAIN", http.StatusBadRequest},
		{"NOT_FOUND", http.StatusNotFound},
		{"DUPLICATE_USER", http.StatusConflict},
		{"ALREADY_RESOLVED", http.StatusConflict},
		{"APPROVAL_DENIED", http.StatusForbidden},
		{"DECRYPTION_FAILED", http.StatusForbidden},
		{"TIMEOUT", http.StatusGatewayTimeout},
		{"STORAGE_FAILURE", http.StatusInternalServerError},
		{"UNKNOWN", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(xerrors.Code(tc.code)); got != tc.status {
			t.Fatalf("%s: got %d want %d", tc.code, got, tc.status)
		}
	}
}
