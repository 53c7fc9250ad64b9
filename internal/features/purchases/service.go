// Package purchases — service.go проводит покупки и восстанавливает их из журнала.
package purchases

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/config"
	"serotonyl.ru/credit-engine/internal/features/ledger"
	"serotonyl.ru/credit-engine/internal/features/pricing"
	"serotonyl.ru/credit-engine/internal/metrics"
	"serotonyl.ru/credit-engine/internal/notify"
)

// Ledger — операции журнала, нужные покупкам.
type Ledger interface {
	ProcessBatch(ctx context.Context, reqs []ledger.Request) ([]ledger.Result, error)
	FindByReference(ctx context.Context, accountID, referenceKey string) (ledger.Transaction, error)
	History(ctx context.Context, accountID string, filter ledger.ListFilter) ([]ledger.Transaction, error)
}

// Service проводит покупки ресурсов.
type Service struct {
	ledger   Ledger
	pricing  *pricing.Calculator
	cfg      config.Pricing
	notifier notify.Notifier
}

// NewService создаёт сервис покупок.
func NewService(l Ledger, calc *pricing.Calculator, cfg config.Pricing, notifier notify.Notifier) *Service {
	return &Service{ledger: l, pricing: calc, cfg: cfg, notifier: notifier}
}

// Purchase покупает ресурс по цене из таблицы цен и с комиссией из конфигурации.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (Receipt, error) {
	if req.SizeBytes < 0 {
		return Receipt{}, fmt.Errorf("%w: size_bytes=%d", common.ErrInvalidAmount, req.SizeBytes)
	}
	return s.Settle(ctx, SettleRequest{
		BuyerID:        req.BuyerID,
		ResourceID:     req.ResourceID,
		OwnerID:        req.OwnerID,
		Cost:           s.pricing.PurchaseCost(req.SizeBytes, req.Stored),
		CommissionRate: s.cfg.CommissionRate,
	})
}

// Settle проводит покупку: списание с покупателя и комиссию автору
// одной атомарной пачкой.
//
// Шаги:
//  1. Проверка идентификаторов и запрета покупки у самого себя
//  2. Ресурс уже куплен этим покупателем — ErrAlreadyPurchased
//  3. Цена 0 — чек без записей в журнале
//  4. Пачка: Spend покупателя + Earn автора (если комиссия > 0) с общим correlation_id
//
// Возвращает ErrInsufficientCredits, если у покупателя не хватает кредитов;
// в этом случае не записывается ничего.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (Receipt, error) {
	// Шаг 1: проверки
	if err := validateParties(req.BuyerID, req.OwnerID, req.ResourceID); err != nil {
		return Receipt{}, err
	}
	if req.BuyerID == req.OwnerID && !s.cfg.AllowSelfPurchase {
		return Receipt{}, common.ErrSelfPurchase
	}
	if req.Cost < 0 {
		return Receipt{}, fmt.Errorf("%w: cost=%d", common.ErrInvalidAmount, req.Cost)
	}

	// Шаг 2: повторная покупка
	_, err := s.ledger.FindByReference(ctx, req.BuyerID, purchaseKey(req.ResourceID))
	if err == nil {
		metrics.RecordPurchase(metrics.ResultDuplicate)
		return Receipt{}, fmt.Errorf("%w: %s", common.ErrAlreadyPurchased, req.ResourceID)
	}
	if !errors.Is(err, common.ErrTransactionNotFound) {
		return Receipt{}, err
	}

	receipt := Receipt{
		BuyerID:    req.BuyerID,
		OwnerID:    req.OwnerID,
		ResourceID: req.ResourceID,
	}

	// Шаг 3: бесплатный ресурс
	if req.Cost == 0 {
		return receipt, nil
	}

	// Шаг 4: атомарная пачка
	commission := pricing.Commission(req.Cost, req.CommissionRate)
	correlationID := uuid.NewString()
	meta := map[string]string{
		metaResourceID:    req.ResourceID,
		metaOwnerID:       req.OwnerID,
		metaBuyerID:       req.BuyerID,
		metaCorrelationID: correlationID,
		metaCommission:    strconv.FormatInt(commission, 10),
	}

	reqs := []ledger.Request{{
		AccountID:    req.BuyerID,
		Amount:       req.Cost,
		Kind:         ledger.KindSpend,
		Category:     ledger.CategoryResourcePurchase,
		Description:  "Покупка ресурса " + req.ResourceID,
		ReferenceKey: purchaseKey(req.ResourceID),
		Metadata:     meta,
	}}
	if commission > 0 {
		reqs = append(reqs, ledger.Request{
			AccountID:    req.OwnerID,
			Amount:       commission,
			Kind:         ledger.KindEarn,
			Category:     ledger.CategoryResourceCommission,
			Description:  "Комиссия за продажу ресурса " + req.ResourceID,
			ReferenceKey: commissionKey(req.ResourceID, req.BuyerID),
			Metadata:     meta,
		})
	}

	results, err := s.ledger.ProcessBatch(ctx, reqs)
	// Запись покупателя уже есть, а комиссия новая: параллельная покупка
	// с другим автором или первая покупка без комиссии
	if errors.Is(err, common.ErrDuplicateReference) {
		metrics.RecordPurchase(metrics.ResultDuplicate)
		return Receipt{}, fmt.Errorf("%w: %s", common.ErrAlreadyPurchased, req.ResourceID)
	}
	if err != nil {
		metrics.RecordPurchase(metrics.ResultRejected)
		return Receipt{}, err
	}
	// Параллельная покупка того же ресурса успела раньше
	if results[0].Duplicate {
		metrics.RecordPurchase(metrics.ResultDuplicate)
		return Receipt{}, fmt.Errorf("%w: %s", common.ErrAlreadyPurchased, req.ResourceID)
	}

	purchaseTx := results[0].Transaction
	receipt.CorrelationID = correlationID
	receipt.Cost = req.Cost
	receipt.Commission = commission
	receipt.BuyerBalance = results[0].Balance
	receipt.Purchase = &purchaseTx
	receipt.PurchasedAt = purchaseTx.CreatedAt
	if len(results) > 1 {
		commissionTx := results[1].Transaction
		receipt.CommissionTx = &commissionTx
		// При разрешённой покупке у себя баланс — после обеих записей
		if req.BuyerID == req.OwnerID {
			receipt.BuyerBalance = results[1].Balance
		}
	}

	metrics.RecordPurchase(metrics.ResultApplied)
	log.WithFields(log.Fields{
		"buyer":       req.BuyerID,
		"owner":       req.OwnerID,
		"resource":    req.ResourceID,
		"cost":        req.Cost,
		"commission":  commission,
		"correlation": correlationID,
	}).Info("Покупка проведена")

	s.notifyParties(ctx, receipt)
	return receipt, nil
}

// GetPurchase восстанавливает покупку ресурса покупателем.
func (s *Service) GetPurchase(ctx context.Context, buyerID, resourceID string) (Record, error) {
	if err := common.ValidateIdentifier("buyer_id", buyerID); err != nil {
		return Record{}, err
	}
	if err := common.ValidateIdentifier("resource_id", resourceID); err != nil {
		return Record{}, err
	}

	tx, err := s.ledger.FindByReference(ctx, buyerID, purchaseKey(resourceID))
	if errors.Is(err, common.ErrTransactionNotFound) {
		return Record{}, fmt.Errorf("%w: %s", common.ErrPurchaseNotFound, resourceID)
	}
	if err != nil {
		return Record{}, err
	}

	rec := recordFromTransaction(tx)
	// Сумму комиссии берём из записи автора, если она есть
	if rec.OwnerID != "" {
		commissionTx, err := s.ledger.FindByReference(ctx, rec.OwnerID, commissionKey(resourceID, buyerID))
		if err == nil {
			rec.Commission = commissionTx.Amount
		}
	}
	return rec, nil
}

// ListPurchases возвращает последние покупки покупателя.
func (s *Service) ListPurchases(ctx context.Context, buyerID string, limit int) ([]Record, error) {
	txs, err := s.ledger.History(ctx, buyerID, ledger.ListFilter{
		Category: ledger.CategoryResourcePurchase,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(txs))
	for _, tx := range txs {
		records = append(records, recordFromTransaction(tx))
	}
	return records, nil
}

func (s *Service) notifyParties(ctx context.Context, r Receipt) {
	notify.Send(ctx, s.notifier, notify.Event{
		Type:      notify.EventPurchaseReceipt,
		AccountID: r.BuyerID,
		Message: fmt.Sprintf("Покупка %s: %s. Баланс: %s",
			r.ResourceID, common.FormatCreditsAmount(-r.Cost), common.FormatBalance(r.BuyerBalance)),
		Data: map[string]string{
			metaResourceID:    r.ResourceID,
			metaCorrelationID: r.CorrelationID,
			"cost":            strconv.FormatInt(r.Cost, 10),
		},
	})
	if r.Commission > 0 {
		notify.Send(ctx, s.notifier, notify.Event{
			Type:      notify.EventCommission,
			AccountID: r.OwnerID,
			Message: fmt.Sprintf("Ваш ресурс %s купили: %s",
				r.ResourceID, common.FormatCreditsAmount(r.Commission)),
			Data: map[string]string{
				metaResourceID:    r.ResourceID,
				metaCorrelationID: r.CorrelationID,
				metaCommission:    strconv.FormatInt(r.Commission, 10),
			},
		})
	}
}

func validateParties(buyerID, ownerID, resourceID string) error {
	if err := common.ValidateIdentifier("buyer_id", buyerID); err != nil {
		return err
	}
	if err := common.ValidateIdentifier("owner_id", ownerID); err != nil {
		return err
	}
	return common.ValidateIdentifier("resource_id", resourceID)
}

func recordFromTransaction(tx ledger.Transaction) Record {
	commission, _ := strconv.ParseInt(tx.Metadata[metaCommission], 10, 64)
	return Record{
		CorrelationID: tx.Metadata[metaCorrelationID],
		BuyerID:       tx.AccountID,
		OwnerID:       tx.Metadata[metaOwnerID],
		ResourceID:    tx.Metadata[metaResourceID],
		Cost:          tx.Amount,
		Commission:    commission,
		PurchasedAt:   tx.CreatedAt,
	}
}
