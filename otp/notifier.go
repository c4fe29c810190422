package otp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type DeliveryReceipt struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier delivers a text message to a phone number.
type Notifier interface {
	Send(ctx context.Context, phone, message string) (DeliveryReceipt, error)
}

// LogNotifier writes messages to the log instead of a carrier. Development
// only: the code is visible in the output.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, phone, message string) (DeliveryReceipt, error) {
	if err := ctx.Err(); err != nil {
		return DeliveryReceipt{}, err
	}
	receipt := DeliveryReceipt{ID: uuid.NewString(), SentAt: time.Now()}
	log.Debug().Str("phone", maskPhone(phone)).Str("delivery_id", receipt.ID).Msg(message)
	return receipt, nil
}
