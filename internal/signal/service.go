package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/wip/internal/domain"
	"github.com/shaiso/wip/internal/repo"
	"github.com/shaiso/wip/internal/telemetry"
)

// CallbackPath — путь callback в API (к нему добавляется id сигнала).
const CallbackPath = "/api/v1/signals/"

// Callback — зарегистрированный адрес для внешней системы.
type Callback struct {
	ID     uuid.UUID
	TaskID int64
	Type   domain.SignalType
	URL    string
}

// Notifier сообщает воркерам о полученном сигнале.
type Notifier interface {
	NotifySignal(ctx context.Context, sig *domain.Signal) error
}

// Config — конфигурация Service.
type Config struct {
	Store Store

	// BaseURL — внешний адрес API, например "http://wip-api:8080".
	BaseURL string

	// Notifier — необязательное уведомление воркеров через MQ.
	Notifier Notifier

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Service — операции над сигналами.
type Service struct {
	store    Store
	baseURL  string
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService создаёт Service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:    cfg.Store,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// URL возвращает адрес callback для id.
func (s *Service) URL(id uuid.UUID) string {
	return s.baseURL + CallbackPath + id.String()
}

// Register регистрирует callback для task.
func (s *Service) Register(ctx context.Context, taskID int64, typ domain.SignalType) (Callback, error) {
	if taskID <= 0 {
		return Callback{}, fmt.Errorf("%w: %d", ErrInvalidTaskID, taskID)
	}
	if !typ.IsValid() {
		return Callback{}, fmt.Errorf("%w: %s", ErrInvalidType, typ)
	}
	sig := &domain.Signal{
		ID:        uuid.New(),
		TaskID:    taskID,
		Type:      typ,
		Status:    domain.SignalStatusRegistered,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, sig); err != nil {
		return Callback{}, err
	}
	telemetry.SignalEvent(string(typ), "registered")
	s.logger.Debug("callback registered", "task_id", taskID, "signal_id", sig.ID, "type", typ)
	return Callback{ID: sig.ID, TaskID: taskID, Type: typ, URL: s.URL(sig.ID)}, nil
}

// Post принимает сигнал по id callback.
func (s *Service) Post(ctx context.Context, id uuid.UUID, payload map[string]any) (*domain.Signal, error) {
	sig, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, id)
	}
	if err != nil {
		return nil, err
	}

	switch sig.Status {
	case domain.SignalStatusConsumed:
		telemetry.SignalEvent(string(sig.Type), "rejected")
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, id)
	case domain.SignalStatusReceived:
		telemetry.SignalEvent(string(sig.Type), "rejected")
		return nil, fmt.Errorf("%w: %s", ErrAlreadyReceived, id)
	}

	now := s.now()
	ok, err := s.store.MarkReceived(ctx, id, payload, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// параллельный post успел раньше
		return nil, fmt.Errorf("%w: %s", ErrAlreadyReceived, id)
	}
	sig.Status = domain.SignalStatusReceived
	sig.Payload = payload
	sig.ReceivedAt = &now

	telemetry.SignalEvent(string(sig.Type), "received")
	s.logger.Info("signal received", "task_id", sig.TaskID, "signal_id", id, "type", sig.Type)
	s.notify(ctx, sig)
	return sig, nil
}

func (s *Service) notify(ctx context.Context, sig *domain.Signal) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifySignal(ctx, sig); err != nil {
		// воркер всё равно увидит task при следующем опросе
		s.logger.Warn("notify signal failed", "signal_id", sig.ID, "error", err)
	}
}

// Resolve потребляет полученный сигнал по id.
//
// ErrSignalPending — сигнал ещё не пришёл; ErrUnknownSignal — сигнала нет
// или он уже потреблён.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	sig, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, id)
	}
	if err != nil {
		return nil, err
	}

	switch sig.Status {
	case domain.SignalStatusRegistered:
		return nil, ErrSignalPending
	case domain.SignalStatusConsumed:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, id)
	}
	return s.consume(ctx, sig)
}

func (s *Service) consume(ctx context.Context, sig *domain.Signal) (*domain.Signal, error) {
	now := s.now()
	ok, err := s.store.MarkConsumed(ctx, sig.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSignal, sig.ID)
	}
	sig.Status = domain.SignalStatusConsumed
	sig.ConsumedAt = &now
	telemetry.SignalEvent(string(sig.Type), "consumed")
	return sig, nil
}

// ConsumeNext потребляет самый ранний полученный сигнал типа typ для task.
func (s *Service) ConsumeNext(ctx context.Context, taskID int64, typ domain.SignalType) (*domain.Signal, error) {
	for {
		sig, err := s.store.NextReceived(ctx, taskID, typ)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoSignal
		}
		if err != nil {
			return nil, err
		}
		got, err := s.consume(ctx, sig)
		if errors.Is(err, ErrUnknownSignal) {
			// потреблён параллельно, берём следующий
			continue
		}
		return got, err
	}
}

// RequestCleanup записывает запрос на освобождение ресурса.
// Запрос переживает завершение task; повторный запрос для того же
// ресурса возвращает существующий.
func (s *Service) RequestCleanup(ctx context.Context, taskID int64, resource string, payload map[string]any) (*domain.Signal, error) {
	if taskID <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTaskID, taskID)
	}
	pending, err := s.pendingFor(ctx, taskID, resource)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending[0], nil
	}

	now := s.now()
	sig := &domain.Signal{
		ID:         uuid.New(),
		TaskID:     taskID,
		Type:       domain.SignalCleanupRequest,
		Status:     domain.SignalStatusReceived,
		Resource:   resource,
		Payload:    payload,
		CreatedAt:  now,
		ReceivedAt: &now,
	}
	if err := s.store.Create(ctx, sig); err != nil {
		return nil, err
	}
	s.logger.Debug("cleanup requested", "task_id", taskID, "resource", resource)
	return sig, nil
}

// CancelCleanup отменяет запросы на освобождение ресурса.
// Отмена записывается сигналом cleanup-cancel. Возвращает число отменённых запросов.
func (s *Service) CancelCleanup(ctx context.Context, taskID int64, resource string) (int, error) {
	pending, err := s.pendingFor(ctx, taskID, resource)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, sig := range pending {
		if _, err := s.consume(ctx, sig); err != nil {
			if errors.Is(err, ErrUnknownSignal) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	if cancelled == 0 {
		return 0, nil
	}

	now := s.now()
	audit := &domain.Signal{
		ID:         uuid.New(),
		TaskID:     taskID,
		Type:       domain.SignalCleanupCancel,
		Status:     domain.SignalStatusConsumed,
		Resource:   resource,
		CreatedAt:  now,
		ReceivedAt: &now,
		ConsumedAt: &now,
	}
	if err := s.store.Create(ctx, audit); err != nil {
		return cancelled, err
	}
	return cancelled, nil
}

func (s *Service) pendingFor(ctx context.Context, taskID int64, resource string) ([]*domain.Signal, error) {
	all, err := s.store.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Signal
	for _, sig := range all {
		if sig.Type == domain.SignalCleanupRequest && sig.Status == domain.SignalStatusReceived && sig.Resource == resource {
			out = append(out, sig)
		}
	}
	return out, nil
}

// PendingCleanups возвращает все необработанные запросы на освобождение.
func (s *Service) PendingCleanups(ctx context.Context) ([]*domain.Signal, error) {
	return s.store.ListReceived(ctx, domain.SignalCleanupRequest)
}

// CompleteCleanup отмечает запрос на освобождение обработанным.
func (s *Service) CompleteCleanup(ctx context.Context, sig *domain.Signal) error {
	_, err := s.consume(ctx, sig)
	return err
}

// ClearTask удаляет регистрации и непотреблённые сигналы завершённого task.
// Необработанные запросы на освобождение сохраняются.
func (s *Service) ClearTask(ctx context.Context, taskID int64) (int64, error) {
	return s.store.DeleteForTask(ctx, taskID, domain.SignalCleanupRequest)
}

// Purge удаляет потреблённые сигналы старше before.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.DeleteConsumedBefore(ctx, before)
}

// List возвращает сигналы task.
func (s *Service) List(ctx context.Context, taskID int64) ([]*domain.Signal, error) {
	return s.store.ListByTask(ctx, taskID)
}
