package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-engine/internal/common"
	"serotonyl.ru/credit-engine/internal/config"
)

const (
	reconnectDelay    = 5 * time.Second
	maxReconnectDelay = time.Minute
	handleTimeout     = 30 * time.Second
)

// Consumer читает события наград из очереди и передаёт их диспетчеру.
// Сообщение подтверждается после применения награды (или постановки
// её в очередь повторов). Битые сообщения отбрасываются без повтора.
type Consumer struct {
	url        string
	queue      string
	prefetch   int
	workers    int
	dispatcher *Dispatcher

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewConsumer создаёт потребителя. Подключение происходит в Run.
func NewConsumer(cfg *config.Config, dispatcher *Dispatcher) *Consumer {
	return &Consumer{
		url:        cfg.AMQPURL,
		queue:      cfg.AMQPRewardQueue,
		prefetch:   cfg.AMQPPrefetch,
		workers:    cfg.AMQPWorkers,
		dispatcher: dispatcher,
	}
}

// Run читает очередь до отмены ctx. При обрыве соединения
// переподключается с растущей задержкой.
func (c *Consumer) Run(ctx context.Context) {
	attempt := 0
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			log.Info("Потребитель событий наград остановлен")
			return
		}

		attempt++
		delay := reconnectDelay * time.Duration(attempt)
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		log.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Соединение с RabbitMQ потеряно, переподключение")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// consume держит одно соединение: объявляет очередь, запускает воркеров
// и ждёт закрытия соединения или отмены ctx.
func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("ошибка подключения к RabbitMQ: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("ошибка объявления очереди: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("ошибка установки QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("ошибка запуска потребления: %w", err)
	}

	log.WithFields(log.Fields{
		"queue":   c.queue,
		"workers": c.workers,
	}).Info("Подключено к RabbitMQ, читаем события наград")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, msgs, workerID)
		}(i)
	}

	var result error
	select {
	case <-ctx.Done():
	case amqpErr := <-closed:
		if amqpErr != nil {
			result = amqpErr
		} else {
			result = errors.New("соединение закрыто")
		}
	}

	// Закрытие канала завершает msgs, воркеры выходят
	ch.Close()
	wg.Wait()
	return result
}

func (c *Consumer) worker(ctx context.Context, msgs <-chan amqp.Delivery, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.handle(ctx, msg, workerID)
		}
	}
}

// handle применяет одно сообщение и подтверждает его.
//
//   - битое тело, неизвестный тип, ошибка клиента — Nack без повтора
//   - временный сбой хранилища — Nack с возвратом в очередь
//   - успех — Ack
func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery, workerID int) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	fields := log.Fields{"worker_id": workerID, "message_id": msg.MessageId}

	ev, err := DecodeEvent(msg.Body)
	if err != nil {
		log.WithError(err).WithFields(fields).WithField("body", string(msg.Body)).Error("Отброшено битое сообщение")
		c.nack(msg, false)
		return
	}
	fields["type"] = ev.Type
	fields["account"] = ev.AccountID

	out, err := c.dispatcher.Dispatch(ctx, ev)
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			log.WithError(err).WithFields(fields).Warn("Не удалось подтвердить сообщение")
		}
		log.WithFields(fields).WithFields(log.Fields{
			"amount":    out.Amount,
			"duplicate": out.Duplicate,
			"queued":    out.Queued,
		}).Debug("Событие награды обработано")

	case common.IsRetryable(err):
		log.WithError(err).WithFields(fields).Warn("Хранилище недоступно, сообщение возвращено в очередь")
		c.nack(msg, true)

	default:
		log.WithError(err).WithFields(fields).Error("Событие награды отклонено")
		c.nack(msg, false)
	}
}

func (c *Consumer) nack(msg amqp.Delivery, requeue bool) {
	if err := msg.Nack(false, requeue); err != nil {
		log.WithError(err).Warn("Не удалось отклонить сообщение")
	}
}

// Close закрывает текущее соединение. Run после этого переподключится,
// поэтому сначала отменяют его контекст.
func (c *Consumer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}
}
