package service

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"identity-ledger/apperrors"
	"identity-ledger/models"
)

// ErrQueueFull is reported when a request cannot be queued without blocking.
var ErrQueueFull = errors.New("queue is full")

// QueueProcessor runs registrations and transactions on a fixed pool of
// workers. Results are delivered on a per-request channel.
type QueueProcessor struct {
	service        *IdentityService
	registrationCh chan *RegistrationJob
	transactionCh  chan *TransactionJob
	workers        int
	processingWg   sync.WaitGroup
	shutdownCh     chan struct{}
	stopOnce       sync.Once
}

type RegistrationJob struct {
	Request  models.RegistrationRequest
	ResultCh chan<- *ProcessingResult
}

type TransactionJob struct {
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	ResultCh  chan<- *ProcessingResult
}

// ProcessingResult contains the result of an asynchronous operation
type ProcessingResult struct {
	Success      bool
	Receipt      *models.Receipt
	Err          error
	ErrorMessage string
}

func NewQueueProcessor(service *IdentityService, queueSize, workers int) *QueueProcessor {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &QueueProcessor{
		service:        service,
		registrationCh: make(chan *RegistrationJob, queueSize),
		transactionCh:  make(chan *TransactionJob, queueSize),
		workers:        workers,
		shutdownCh:     make(chan struct{}),
	}
}

func (qp *QueueProcessor) Start() {
	for i := 0; i < qp.workers; i++ {
		qp.processingWg.Add(1)
		go qp.worker()
	}
	log.Info().Int("workers", qp.workers).Msg("Queue processor started")
}

// Stop waits for in-flight jobs. Jobs still queued are answered with a
// shutdown error.
func (qp *QueueProcessor) Stop() {
	qp.stopOnce.Do(func() {
		close(qp.shutdownCh)
		qp.processingWg.Wait()
		qp.drain()
	})
}

func (qp *QueueProcessor) QueueRegistration(req models.RegistrationRequest) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	select {
	case qp.registrationCh <- &RegistrationJob{Request: req, ResultCh: resultCh}:
	default:
		resultCh <- failed(ErrQueueFull)
		close(resultCh)
	}
	return resultCh
}

func (qp *QueueProcessor) QueueTransaction(sender, recipient string, amount decimal.Decimal) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	select {
	case qp.transactionCh <- &TransactionJob{Sender: sender, Recipient: recipient, Amount: amount, ResultCh: resultCh}:
	default:
		log.Warn().Str("sender", sender).Msg("Transaction queue is full, request dropped")
		resultCh <- failed(ErrQueueFull)
		close(resultCh)
	}
	return resultCh
}

func (qp *QueueProcessor) worker() {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case job := <-qp.registrationCh:
			receipt, err := qp.service.RegisterIdentity(job.Request)
			job.ResultCh <- result(receipt, err)
			close(job.ResultCh)
		case job := <-qp.transactionCh:
			receipt, err := qp.service.SubmitTransaction(job.Sender, job.Recipient, job.Amount)
			job.ResultCh <- result(receipt, err)
			close(job.ResultCh)
		}
	}
}

func (qp *QueueProcessor) drain() {
	shutdown := apperrors.New(apperrors.ErrCodeInternal, "queue processor stopped")
	for {
		select {
		case job := <-qp.registrationCh:
			job.ResultCh <- failed(shutdown)
			close(job.ResultCh)
		case job := <-qp.transactionCh:
			job.ResultCh <- failed(shutdown)
			close(job.ResultCh)
		default:
			return
		}
	}
}

func result(receipt *models.Receipt, err error) *ProcessingResult {
	if err != nil {
		return failed(err)
	}
	return &ProcessingResult{Success: true, Receipt: receipt}
}

func failed(err error) *ProcessingResult {
	return &ProcessingResult{Success: false, Err: err, ErrorMessage: err.Error()}
}
