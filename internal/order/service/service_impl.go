package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paycore/internal/audit/domain"
	"github.com/smallbiznis/paycore/internal/clock"
	obsmetrics "github.com/smallbiznis/paycore/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/paycore/internal/order/domain"
	"github.com/smallbiznis/paycore/internal/retry"
	taxdomain "github.com/smallbiznis/paycore/internal/tax/domain"
	pkgdb "github.com/smallbiznis/paycore/pkg/db"
	"github.com/smallbiznis/paycore/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      orderdomain.Repository
	Tax       taxdomain.Service
	Audit     auditdomain.Service
	Queue     *retry.Queue
	Scheduler *retry.Scheduler
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      orderdomain.Repository
	tax       taxdomain.Service
	audit     auditdomain.Service
	queue     *retry.Queue
	scheduler *retry.Scheduler
	metrics   *obsmetrics.Metrics
	validate  *validation.Validator
}

func NewService(p Params) orderdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("order.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		tax:       p.Tax,
		audit:     p.Audit,
		queue:     p.Queue,
		scheduler: p.Scheduler,
		metrics:   p.Metrics,
		validate:  validation.New(),
	}
}

// CreateOrder prices the cart and stores the order with its pending payment.
func (s *Service) CreateOrder(ctx context.Context, req orderdomain.CreateOrderRequest) (*orderdomain.CreateOrderResponse, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.PaymentIntentID = strings.TrimSpace(req.PaymentIntentID)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	quote, err := s.tax.Quote(ctx, taxdomain.QuoteRequest{
		Items:        req.Items,
		Jurisdiction: req.Jurisdiction,
		PromoCode:    req.PromoCode,
		Currency:     req.Currency,
	})
	if err != nil {
		return nil, err
	}

	breakdown, err := json.Marshal(quote.Breakdown.Lines)
	if err != nil {
		return nil, fmt.Errorf("encode tax breakdown: %w", err)
	}

	now := s.clock.Now().UTC()
	order := orderdomain.Order{
		ID:             s.genID.Generate(),
		CustomerEmail:  req.CustomerEmail,
		Currency:       req.Currency,
		Jurisdiction:   string(quote.Breakdown.Jurisdiction),
		Subtotal:       quote.Subtotal,
		DiscountAmount: quote.DiscountAmount,
		TaxAmount:      quote.TaxAmount,
		TotalAmount:    quote.Total,
		TaxBreakdown:   datatypes.JSON(breakdown),
		Status:         orderdomain.OrderStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if quote.PromoCode != "" {
		code := quote.PromoCode
		order.PromoCode = &code
	}
	payment := orderdomain.Payment{
		ID:                     s.genID.Generate(),
		OrderID:                order.ID,
		GatewayPaymentIntentID: req.PaymentIntentID,
		Amount:                 order.TotalAmount,
		Currency:               order.Currency,
		Status:                 orderdomain.PaymentStatusPending,
		AttemptCount:           1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertOrder(ctx, tx, &order); err != nil {
			return err
		}
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return orderdomain.ErrDuplicatePayment
			}
			return err
		}
		for _, assetID := range req.AssetIDs {
			if err := s.repo.InsertDownloadAccess(ctx, tx, &orderdomain.DownloadAccess{
				ID:            s.genID.Generate(),
				OrderID:       order.ID,
				AssetID:       strings.TrimSpace(assetID),
				CustomerEmail: order.CustomerEmail,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("jurisdiction", order.Jurisdiction),
		zap.Int64("total", order.TotalAmount),
	)
	return &orderdomain.CreateOrderResponse{Order: order, Payment: payment}, nil
}

func (s *Service) GetOrder(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*orderdomain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, orderdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) SucceededPayment(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*orderdomain.Payment, error) {
	payment, err := s.repo.FindSucceededPayment(ctx, s.conn(tx), orderID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, orderdomain.ErrNoSucceededPayment
	}
	return payment, nil
}

func (s *Service) LockOrder(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.repo.FindOrderByIDForUpdate(ctx, s.conn(tx), orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}

// ApplyRefund reserves amount against the order's remaining balance. The
// caller's tx must stay open until the refund row is written.
func (s *Service) ApplyRefund(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, amount int64) (*orderdomain.Order, error) {
	if amount <= 0 {
		return nil, orderdomain.ErrInvalidRefundAmount
	}
	order, err := s.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if amount > order.Remaining() {
		return nil, orderdomain.ErrRefundExceedsBalance
	}

	target := orderdomain.OrderStatusPartiallyRefunded
	if order.RefundedAmount+amount == order.TotalAmount {
		target = orderdomain.OrderStatusRefunded
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, orderdomain.ErrInvalidTransition
	}

	order.RefundedAmount += amount
	order.Status = target
	order.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateOrderState(ctx, tx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ReleaseRefund returns a reservation taken by ApplyRefund after the gateway
// rejected the refund. It restores the status the remaining refunds imply.
func (s *Service) ReleaseRefund(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, amount int64) (*orderdomain.Order, error) {
	if amount <= 0 {
		return nil, orderdomain.ErrInvalidRefundAmount
	}
	order, err := s.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if amount > order.RefundedAmount {
		return nil, orderdomain.ErrInvalidRefundAmount
	}
	if order.Status != orderdomain.OrderStatusPartiallyRefunded && order.Status != orderdomain.OrderStatusRefunded {
		return nil, orderdomain.ErrInvalidTransition
	}

	order.RefundedAmount -= amount
	if order.RefundedAmount == 0 {
		order.Status = orderdomain.OrderStatusCompleted
	} else {
		order.Status = orderdomain.OrderStatusPartiallyRefunded
	}
	order.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateOrderState(ctx, tx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) RevokeDownloadAccess(ctx context.Context, tx *gorm.DB, orderID snowflake.ID) (int64, error) {
	revoked, err := s.repo.RevokeDownloadAccess(ctx, s.conn(tx), orderID, s.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	if revoked > 0 {
		s.log.Info("download access revoked", zap.String("order_id", orderID.String()), zap.Int64("count", revoked))
	}
	return revoked, nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
