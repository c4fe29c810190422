package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-ledger/encryption"
	"identity-ledger/logger"
	"identity-ledger/otp"
	"identity-ledger/ratelimit"
	"identity-ledger/registry"
	"identity-ledger/service"
	"identity-ledger/storage"
)

type smsCapture struct {
	mu   sync.Mutex
	last string
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (s *smsCapture) Send(_ context.Context, _, message string) (otp.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = codePattern.FindString(message)
	return otp.DeliveryReceipt{ID: "test"}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func newTestServer(t *testing.T, withQueue bool) (*Server, *smsCapture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Silence()

	reg, err := registry.New(nil)
	require.NoError(t, err)
	snapshots, err := storage.NewSnapshotStore(t.TempDir(), 2)
	require.NoError(t, err)
	sms := &smsCapture{}

	svc, err := service.NewIdentityService(service.Dependencies{
		Provider:  encryption.NewEd25519Provider(),
		Limiter:   ratelimit.New(ratelimit.DefaultWindow, ratelimit.DefaultThreshold),
		Registry:  reg,
		Store:     storage.NewMemoryStore(),
		OTP:       otp.NewService(otp.NewMemoryStore(time.Now), sms),
		Snapshots: snapshots,
		Vault:     encryption.NewVault(encryption.WithArgon2Params(1, 8*1024, 1)),
	})
	require.NoError(t, err)

	var queue *service.QueueProcessor
	if withQueue {
		queue = service.NewQueueProcessor(svc, 16, 2)
		queue.Start()
		t.Cleanup(queue.Stop)
	}
	return NewServer(svc, queue, Options{Debug: true}), sms
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func register(t *testing.T, s *Server) string {
	t.Helper()
	pub, _ := registerWithToken(t, s)
	return pub
}

func registerWithToken(t *testing.T, s *Server) (string, string) {
	t.Helper()
	rec, env := do(t, s, http.MethodPost, "/api/identity/register", gin.H{"id_number": "ID-1", "selfie": "img"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var receipt struct {
		PublicKey     string `json:"public_key"`
		IdentityToken string `json:"identity_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	require.NotEmpty(t, receipt.PublicKey)
	return receipt.PublicKey, receipt.IdentityToken
}

func kycBody(pub string) gin.H {
	return gin.H{
		"public_key":    pub,
		"full_name":     "Asha Menon",
		"date_of_birth": "1992-03-14",
		"id_number":     "1234-5678-9012",
		"gender":        "female",
		"phone_number":  "+919876543210",
	}
}

func TestRegisterRequiresFields(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec, env := do(t, s, http.MethodPost, "/api/identity/register", gin.H{"id_number": "ID-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Equal(t, "selfie", env.Error.Details["field"])
	assert.NotEmpty(t, env.RequestID)
}

func TestMalformedBody(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/transactions", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestTransactionsAreRateLimited(t *testing.T) {
	for _, withQueue := range []bool{false, true} {
		name := "inline"
		if withQueue {
			name = "queued"
		}
		t.Run(name, func(t *testing.T) {
			s, _ := newTestServer(t, withQueue)
			pub := register(t, s)

			body := gin.H{"sender": pub, "recipient": "merchant", "amount": "12.50"}
			for i := 0; i < 2; i++ {
				rec, env := do(t, s, http.MethodPost, "/api/transactions", body)
				require.Equal(t, http.StatusCreated, rec.Code, env.Error.Message)
			}

			rec, env := do(t, s, http.MethodPost, "/api/transactions", body)
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			assert.Contains(t, env.Error.Details, "retry_after_ms")

			rec, env = do(t, s, http.MethodGet, "/api/transactions/"+pub, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			var history struct {
				Count int `json:"count"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &history))
			assert.Equal(t, 3, history.Count)
		})
	}
}

func TestUnknownSenderIsNotVerified(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec, env := do(t, s, http.MethodPost, "/api/transactions", gin.H{"sender": "abc", "recipient": "x", "amount": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_VERIFIED", env.Error.Code)
}

func TestVerificationAndBadgeFlow(t *testing.T) {
	s, _ := newTestServer(t, false)
	pub := register(t, s)

	rec, env := do(t, s, http.MethodPost, "/api/badges", gin.H{"owner": pub, "name": "Early adopter"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_VERIFIED", env.Error.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/kyc", kycBody(pub))
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s, http.MethodPost, "/api/photo", gin.H{"public_key": pub, "photo_ref": "selfie-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/api/verification/"+pub, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		FullyVerified bool `json:"fully_verified"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.FullyVerified)

	rec, _ = do(t, s, http.MethodPost, "/api/badges", gin.H{"owner": pub, "name": "Early adopter"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/api/badges/"+pub, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Badges []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"badges"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Badges, 1)
	assert.Equal(t, "Early adopter", list.Badges[0].Name)
	assert.Equal(t, "Active", list.Badges[0].Status)
}

func TestKYCFormatError(t *testing.T) {
	s, _ := newTestServer(t, false)
	pub := register(t, s)

	body := kycBody(pub)
	body["id_number"] = "1234"
	rec, env := do(t, s, http.MethodPost, "/api/kyc", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FORMAT_ERROR", env.Error.Code)
}

func TestPhoneVerificationOverHTTP(t *testing.T) {
	s, sms := newTestServer(t, false)
	pub := register(t, s)

	rec, _ := do(t, s, http.MethodPost, "/api/phone/send", gin.H{"public_key": pub, "phone_number": "+91 98765 43210"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/phone/verify", gin.H{"public_key": pub, "code": "000000x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sms.mu.Lock()
	code := sms.last
	sms.mu.Unlock()
	rec, env := do(t, s, http.MethodPost, "/api/phone/verify", gin.H{"public_key": pub, "code": code})
	require.Equal(t, http.StatusOK, rec.Code, env.Error.Message)
	var record struct {
		PhoneVerified bool `json:"phone_verified"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &record))
	assert.True(t, record.PhoneVerified)
}

func TestChainEndpoints(t *testing.T) {
	s, _ := newTestServer(t, false)
	register(t, s)

	rec, env := do(t, s, http.MethodGet, "/api/chain", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		BlockCount  int `json:"block_count"`
		LatestBlock struct {
			Hash string `json:"hash"`
		} `json:"latest_block"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, 2, info.BlockCount)

	rec, _ = do(t, s, http.MethodGet, "/api/chain/validate", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, http.MethodGet, "/api/chain/block/"+info.LatestBlock.Hash, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details struct {
		HashMatch bool `json:"hash_match"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &details))
	assert.True(t, details.HashMatch)

	rec, _ = do(t, s, http.MethodGet, "/api/chain/block/deadbeef", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/chain/snapshot", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestChainExportImport(t *testing.T) {
	source, _ := newTestServer(t, false)
	register(t, source)

	rec, env := do(t, source, http.MethodGet, "/api/chain/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var exported struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exported))

	target, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/chain/import",
		bytes.NewBufferString(`{"blocks":`+string(exported.Blocks)+`}`))
	req.Header.Set("Content-Type", "application/json")
	out := httptest.NewRecorder()
	target.Router().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())

	rec, _ = do(t, target, http.MethodPost, "/api/chain/import", gin.H{"blocks": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletExportImport(t *testing.T) {
	s, _ := newTestServer(t, false)
	pub, token := registerWithToken(t, s)

	rec, _ := do(t, s, http.MethodPost, "/api/kyc", kycBody(pub))
	require.Equal(t, http.StatusOK, rec.Code)

	body := kycBody(pub)
	body["identity_token"] = token
	body["passphrase"] = "correct horse"
	rec, env := do(t, s, http.MethodPost, "/api/wallet/export", body)
	require.Equal(t, http.StatusOK, rec.Code, env.Error.Message)
	sealed := env.Data

	req := httptest.NewRequest(http.MethodPost, "/api/wallet/import",
		bytes.NewBufferString(`{"sealed":`+string(sealed)+`,"passphrase":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/wallet/import",
		bytes.NewBufferString(`{"sealed":`+string(sealed)+`,"passphrase":"correct horse"}`))
	req.Header.Set("Content-Type", "application/json")
	out = httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)
	assert.Equal(t, http.StatusConflict, out.Code)
}

func TestWalletExportRefusesStrangers(t *testing.T) {
	s, _ := newTestServer(t, false)
	pub, token := registerWithToken(t, s)
	rec, _ := do(t, s, http.MethodPost, "/api/kyc", kycBody(pub))
	require.Equal(t, http.StatusOK, rec.Code)

	// knows the public key and a guessed token, but not the KYC details
	body := kycBody(pub)
	body["full_name"] = "Somebody Else"
	body["identity_token"] = token
	body["passphrase"] = "chosen"
	rec, env := do(t, s, http.MethodPost, "/api/wallet/export", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_VERIFIED", env.Error.Code)

	body = kycBody(pub)
	body["identity_token"] = "not-the-token"
	body["passphrase"] = "chosen"
	rec, env = do(t, s, http.MethodPost, "/api/wallet/export", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "NOT_VERIFIED", env.Error.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/wallet/export", gin.H{"public_key": pub, "passphrase": "chosen"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChainImportRefusesToShrinkLedger(t *testing.T) {
	s, _ := newTestServer(t, false)
	pub := register(t, s)
	rec, _ := do(t, s, http.MethodPost, "/api/transactions", gin.H{"sender": pub, "recipient": "R1", "amount": 5})
	require.Equal(t, http.StatusCreated, rec.Code)

	_, env := do(t, s, http.MethodGet, "/api/chain/export", nil)
	var exported struct {
		Blocks []json.RawMessage `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &exported))
	require.Len(t, exported.Blocks, 3)

	req := httptest.NewRequest(http.MethodPost, "/api/chain/import",
		bytes.NewBufferString(`{"blocks":[`+string(exported.Blocks[0])+`]}`))
	req.Header.Set("Content-Type", "application/json")
	out := httptest.NewRecorder()
	s.Router().ServeHTTP(out, req)
	assert.Equal(t, http.StatusConflict, out.Code)

	rec, env = do(t, s, http.MethodGet, "/api/transactions/"+pub, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Equal(t, 2, history.Count)
}

func TestQueuedRegistrationOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, true)
	pub, token := registerWithToken(t, s)
	assert.NotEmpty(t, pub)
	assert.NotEmpty(t, token)

	rec, env := do(t, s, http.MethodPost, "/api/identity/register", gin.H{"id_number": " ", "selfie": "img"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestQueueTimeoutTellsClientToReconcile(t *testing.T) {
	base, _ := newTestServer(t, false)
	pub := register(t, base)

	queue := service.NewQueueProcessor(base.svc, 4, 1)
	s := NewServer(base.svc, queue, Options{Debug: true, QueueWait: 20 * time.Millisecond})

	rec, env := do(t, s, http.MethodPost, "/api/transactions", gin.H{"sender": pub, "recipient": "late", "amount": 1})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, env.Error.Message, "may still be committed")
	assert.Contains(t, env.Error.Message, "/api/transactions/"+pub)
	assert.Equal(t, true, env.Error.Details["may_be_committed"])

	// the job was accepted and seals once a worker picks it up
	queue.Start()
	t.Cleanup(queue.Stop)
	require.Eventually(t, func() bool {
		return len(base.svc.History(pub)) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, false)
	register(t, s)

	rec, env := do(t, s, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m service.MetricsResponse
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, 1, m.Registration.Count)
	assert.Equal(t, 1, m.BlocksPersisted)
}
