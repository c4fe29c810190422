package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"identity-ledger/apperrors"
	"identity-ledger/encryption"
	"identity-ledger/models"
	"identity-ledger/service"
)

type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id"`
}

func respond(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: time.Now(),
		RequestID: c.GetString(requestIDKey),
	})
}

type registerRequest struct {
	IDNumber string `json:"id_number" binding:"required"`
	Selfie   string `json:"selfie" binding:"required"`
}

type kycRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	models.KYCFields
}

type photoRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	PhotoRef  string `json:"photo_ref" binding:"required"`
}

type phoneSendRequest struct {
	PublicKey   string `json:"public_key" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

type phoneVerifyRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	Code      string `json:"code" binding:"required"`
}

type transactionRequest struct {
	Sender    string          `json:"sender" binding:"required"`
	Recipient string          `json:"recipient" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type mintRequest struct {
	Owner       string `json:"owner" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type walletExportRequest struct {
	PublicKey     string `json:"public_key" binding:"required"`
	IdentityToken string `json:"identity_token" binding:"required"`
	Passphrase    string `json:"passphrase" binding:"required"`
	models.KYCFields
}

type walletImportRequest struct {
	Sealed     *encryption.SealedSecret `json:"sealed" binding:"required"`
	Passphrase string                   `json:"passphrase" binding:"required"`
}

type chainImportRequest struct {
	Blocks []models.Block `json:"blocks" binding:"required"`
}

func (s *Server) handleRegisterIdentity(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	receipt, err := s.register(c, models.RegistrationRequest{IDNumber: req.IDNumber, Selfie: req.Selfie})
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusCreated, receipt, "identity registered")
}

func (s *Server) handleRotateToken(c *gin.Context) {
	var req kycRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	receipt, err := s.svc.RotateIdentityToken(req.PublicKey, req.KYCFields)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, receipt, "identity token rotated")
}

func (s *Server) handleVerifyKYC(c *gin.Context) {
	var req kycRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	rec, err := s.svc.SubmitKYC(req.PublicKey, req.KYCFields)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, rec, "")
}

func (s *Server) handleSavePhoto(c *gin.Context) {
	var req photoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	rec, err := s.svc.SavePhoto(req.PublicKey, req.PhotoRef)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, rec, "")
}

func (s *Server) handleSendPhoneCode(c *gin.Context) {
	var req phoneSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	receipt, err := s.svc.StartPhoneVerification(c.Request.Context(), req.PublicKey, req.PhoneNumber)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusAccepted, receipt, "verification code sent")
}

func (s *Server) handleConfirmPhone(c *gin.Context) {
	var req phoneVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	rec, err := s.svc.ConfirmPhone(c.Request.Context(), req.PublicKey, req.Code)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, rec, "phone verified")
}

func (s *Server) handleGetVerification(c *gin.Context) {
	rec, verified, err := s.svc.VerificationStatus(c.Param("publicKey"))
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"record": rec, "fully_verified": verified}, "")
}

func (s *Server) handleSubmitTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	receipt, err := s.submit(c, req)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusCreated, receipt, "transaction recorded")
}

// register goes through the queue when one is configured.
func (s *Server) register(c *gin.Context, req models.RegistrationRequest) (*models.Receipt, error) {
	if s.queue == nil {
		return s.svc.RegisterIdentity(req)
	}
	return s.await(c, s.queue.QueueRegistration(req), "registration",
		"the identity may still be registered")
}

// submit goes through the queue when one is configured.
func (s *Server) submit(c *gin.Context, req transactionRequest) (*models.Receipt, error) {
	if s.queue == nil {
		return s.svc.SubmitTransaction(req.Sender, req.Recipient, req.Amount)
	}
	return s.await(c, s.queue.QueueTransaction(req.Sender, req.Recipient, req.Amount), "transaction",
		"the transaction may still be committed, check /api/transactions/"+req.Sender)
}

// await waits for a queued job. A job that outlives the wait keeps running,
// so a timeout tells the client how to reconcile.
func (s *Server) await(c *gin.Context, resultCh <-chan *service.ProcessingResult, kind, reconcile string) (*models.Receipt, error) {
	select {
	case res := <-resultCh:
		if res.Err != nil {
			if errors.Is(res.Err, service.ErrQueueFull) {
				return nil, apperrors.NewRateLimitError(kind+" queue", time.Second)
			}
			return nil, res.Err
		}
		return res.Receipt, nil
	case <-time.After(s.opts.QueueWait):
		return nil, apperrors.New(apperrors.ErrCodeInternal, "timed out waiting for the "+kind+" queue; "+reconcile).
			WithDetail("may_be_committed", true).
			WithDetail("request_id", c.GetString(requestIDKey))
	case <-c.Request.Context().Done():
		return nil, apperrors.Wrap(c.Request.Context().Err(), apperrors.ErrCodeInternal, "request cancelled; "+reconcile).
			WithDetail("may_be_committed", true)
	}
}

func (s *Server) handleGetHistory(c *gin.Context) {
	history := s.svc.History(c.Param("publicKey"))
	respond(c, http.StatusOK, gin.H{"transactions": history, "count": len(history)}, "")
}

func (s *Server) handleMintBadge(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	b, err := s.svc.MintBadge(req.Owner, req.Name, req.Description)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusCreated, b, "badge minted")
}

func (s *Server) handleListBadges(c *gin.Context) {
	badges := s.svc.Badges(c.Param("owner"))
	respond(c, http.StatusOK, gin.H{"badges": badges, "count": len(badges)}, "")
}

func (s *Server) handleExportWallet(c *gin.Context) {
	var req walletExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	sealed, err := s.svc.ExportWallet(req.PublicKey, req.IdentityToken, req.Passphrase, req.KYCFields)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, sealed, "")
}

func (s *Server) handleImportWallet(c *gin.Context) {
	var req walletImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	w, err := s.svc.ImportWallet(req.Sealed, req.Passphrase)
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusCreated, w, "wallet imported")
}

func (s *Server) handleGetChainInfo(c *gin.Context) {
	respond(c, http.StatusOK, s.svc.ChainInfo(), "")
}

func (s *Server) handleExportChain(c *gin.Context) {
	blocks := s.svc.ExportChain()
	respond(c, http.StatusOK, gin.H{"blocks": blocks, "count": len(blocks)}, "")
}

func (s *Server) handleImportChain(c *gin.Context) {
	var req chainImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, bindError(err))
		return
	}

	if err := s.svc.ImportChain(req.Blocks); err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, s.svc.ChainInfo(), "chain imported")
}

func (s *Server) handleValidateChain(c *gin.Context) {
	if err := s.svc.ValidateChain(); err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"valid": true}, "")
}

func (s *Server) handleSnapshot(c *gin.Context) {
	path, err := s.svc.Snapshot()
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"path": path}, "snapshot written")
}

func (s *Server) handleGetBlockDetails(c *gin.Context) {
	details, err := s.svc.BlockDetails(c.Param("hash"))
	if err != nil {
		renderError(c, err)
		return
	}
	respond(c, http.StatusOK, details, "")
}

func (s *Server) handleGetMetrics(c *gin.Context) {
	respond(c, http.StatusOK, s.svc.Metrics(), "")
}

func (s *Server) handleHealth(c *gin.Context) {
	info := s.svc.ChainInfo()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"blocks": info.BlockCount,
		"time":   time.Now(),
	})
}
