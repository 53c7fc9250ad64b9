// Package spending — списания за использование: скачивание файлов
// и сообщения в AI-чате.
package spending

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/pricing"
)

// Processor — обработчик транзакций.
type Processor interface {
	ProcessTransaction(ctx context.Context, req ledger.Request) (ledger.Result, error)
}

// Charge — итог списания.
type Charge struct {
	Cost        int64               `json:"cost"`
	Transaction *ledger.Transaction `json:"transaction,omitempty"`
	Balance     int64               `json:"balance"`
	// Duplicate — за этот ресурс или сообщение уже заплачено
	Duplicate bool `json:"duplicate"`
	// Free — цена 0, транзакция не записывалась
	Free bool `json:"free"`
}

// Service списывает кредиты по ценам pricing.Calculator.
type Service struct {
	processor Processor
	pricing   *pricing.Calculator
}

// NewService создаёт сервис списаний.
func NewService(processor Processor, calc *pricing.Calculator) *Service {
	return &Service{processor: processor, pricing: calc}
}

// ChargeDownload списывает стоимость скачивания файла размером sizeBytes.
// Платится один раз на ресурс: повторные скачивания бесплатны.
//
// Возвращает ErrInsufficientCredits, если баланса не хватает — тогда
// скачивание выдавать нельзя.
func (s *Service) ChargeDownload(ctx context.Context, accountID, resourceID string, sizeBytes int64) (Charge, error) {
	if err := common.ValidateIdentifier("resource_id", resourceID); err != nil {
		return Charge{}, err
	}
	if sizeBytes < 0 {
		return Charge{}, fmt.Errorf("%w: size_bytes=%d", common.ErrInvalidAmount, sizeBytes)
	}

	cost := s.pricing.DownloadCost(sizeBytes)
	return s.charge(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       cost,
		Kind:         ledger.KindSpend,
		Category:     ledger.CategoryFileDownload,
		Description:  "Скачивание файла",
		ReferenceKey: "download:" + resourceID,
		Metadata: map[string]string{
			"resource_id": resourceID,
			"size_bytes":  fmt.Sprint(sizeBytes),
		},
	})
}

// ChargeChatMessage списывает стоимость одного сообщения в AI-чате.
func (s *Service) ChargeChatMessage(ctx context.Context, accountID, messageID string) (Charge, error) {
	if err := common.ValidateIdentifier("message_id", messageID); err != nil {
		return Charge{}, err
	}
	return s.charge(ctx, ledger.Request{
		AccountID:    accountID,
		Amount:       s.pricing.ChatMessageCost(),
		Kind:         ledger.KindSpend,
		Category:     ledger.CategoryChatMessage,
		Description:  "Сообщение в AI-чате",
		ReferenceKey: "chat:" + messageID,
		Metadata:     map[string]string{"message_id": messageID},
	})
}

func (s *Service) charge(ctx context.Context, req ledger.Request) (Charge, error) {
	if req.Amount == 0 {
		if err := common.ValidateIdentifier("account_id", req.AccountID); err != nil {
			return Charge{}, err
		}
		return Charge{Free: true}, nil
	}

	res, err := s.processor.ProcessTransaction(ctx, req)
	if err != nil {
		return Charge{}, err
	}

	tx := res.Transaction
	if !res.Duplicate {
		log.WithFields(log.Fields{
			"account":  req.AccountID,
			"category": req.Category,
			"cost":     tx.Amount,
		}).Debug("Списание проведено")
	}
	return Charge{
		Cost:        tx.Amount,
		Transaction: &tx,
		Balance:     res.Balance,
		Duplicate:   res.Duplicate,
	}, nil
}
